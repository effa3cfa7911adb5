package protocol

import (
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// TypeChannelID derives a channel id from the Go type T: the bare type name
// followed by a short hash of its fully qualified name, e.g. "Counter#1a2b3c4d".
// Same-named types from different packages get different ids.
func TypeChannelID[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	name := t.Name()
	if name == "" {
		name = t.Kind().String()
	}
	full := t.String()
	if t.PkgPath() != "" {
		full = t.PkgPath() + "." + name
	}
	return fmt.Sprintf("%s#%08x", name, uint32(xxhash.Sum64String(full)))
}

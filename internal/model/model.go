// Package model holds the values the demo server mirrors to its clients.
package model

import (
	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/diff/delta"
)

// Channel ids used by the demo host.
const (
	CounterChannel  = "counter"
	PresenceChannel = "presence"
)

// Counter is a per-connection tick counter.
type Counter struct {
	Value int64 `json:"value"`
}

// Presence is shared by every connection.
type Presence struct {
	Clients int64    `json:"clients"`
	Peers   []string `json:"peers"`
}

// Join adds id to the peer list.
func (p *Presence) Join(id string) {
	p.Peers = append(p.Peers, id)
	p.Clients = int64(len(p.Peers))
}

// Leave removes id from the peer list, keeping the order of the others.
func (p *Presence) Leave(id string) {
	for i, peer := range p.Peers {
		if peer == id {
			p.Peers = append(p.Peers[:i:i], p.Peers[i+1:]...)
			break
		}
	}
	p.Clients = int64(len(p.Peers))
}

type CounterDiffer struct{}

func (CounterDiffer) Clone(c Counter) Counter { return c }

func (CounterDiffer) Diff(a, b Counter) (delta.Delta, error) {
	return delta.NewBuilder().Int(1, a.Value, b.Value).Build()
}

func (CounterDiffer) Apply(c *Counter, d delta.Delta) error {
	for _, f := range d.Fields {
		var err error
		switch f.Index {
		case 1:
			err = delta.ApplyInt(f, &c.Value)
		default:
			err = delta.UnknownField(f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type PresenceDiffer struct{}

func (PresenceDiffer) Clone(p Presence) Presence {
	p.Peers = append([]string(nil), p.Peers...)
	return p
}

func (PresenceDiffer) Diff(a, b Presence) (delta.Delta, error) {
	bld := delta.NewBuilder().Int(1, a.Clients, b.Clients)
	delta.Slice(bld, 2, a.Peers, b.Peers, delta.StringElem())
	return bld.Build()
}

func (PresenceDiffer) Apply(p *Presence, d delta.Delta) error {
	for _, f := range d.Fields {
		var err error
		switch f.Index {
		case 1:
			err = delta.ApplyInt(f, &p.Clients)
		case 2:
			err = delta.ApplySlice(f, &p.Peers, delta.StringElem())
		default:
			err = delta.UnknownField(f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CounterCodec returns the Counter codec for a diff variant.
func CounterCodec(variant string) (diff.Codec[Counter], error) {
	return diff.ByName[Counter](variant, CounterDiffer{})
}

// PresenceCodec returns the Presence codec for a diff variant.
func PresenceCodec(variant string) (diff.Codec[Presence], error) {
	return diff.ByName[Presence](variant, PresenceDiffer{})
}

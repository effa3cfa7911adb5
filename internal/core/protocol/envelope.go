package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope tags a diff payload with the channel it belongs to.
type Envelope struct {
	ChannelID string
	Payload   []byte
}

// Codec frames envelopes for the wire. Decode never panics on arbitrary input;
// every rejection wraps ErrMalformedEnvelope or ErrMessageTooLarge.
type Codec interface {
	Name() string
	// Binary reports whether encoded envelopes are arbitrary bytes rather
	// than UTF-8 text.
	Binary() bool
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

const (
	CodecJSON   = "json"
	CodecBinary = "binary"
)

// CodecByName resolves an envelope codec from configuration.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSONCodec{}, nil
	case CodecBinary:
		return BinaryCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

func checkChannel(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty channel id", ErrMalformedEnvelope)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: channel id is not UTF-8", ErrMalformedEnvelope)
	}
	return nil
}

func checkSize(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty frame", ErrMalformedEnvelope)
	}
	if n > MaxEnvelopeSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	return nil
}

// JSONCodec is the text frame {"name": id, "patch": payload}. Payloads that
// are not JSON travel base64 encoded under "data" instead.
type JSONCodec struct{}

type jsonEnvelope struct {
	Name  string          `json:"name"`
	Patch json.RawMessage `json:"patch,omitempty"`
	Data  *string         `json:"data,omitempty"`
}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	if err := checkChannel(env.ChannelID); err != nil {
		return nil, err
	}
	out := jsonEnvelope{Name: env.ChannelID}
	if len(env.Payload) > 0 && json.Valid(env.Payload) {
		out.Patch = env.Payload
	} else {
		data := base64.StdEncoding.EncodeToString(env.Payload)
		out.Data = &data
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, &SerializationError{Channel: env.ChannelID, Op: "envelope", Err: err}
	}
	if len(raw) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(raw))
	}
	return raw, nil
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	if err := checkSize(len(data)); err != nil {
		return Envelope{}, err
	}
	var in jsonEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := checkChannel(in.Name); err != nil {
		return Envelope{}, err
	}

	switch {
	case in.Patch != nil && in.Data != nil:
		return Envelope{}, fmt.Errorf("%w: both patch and data set", ErrMalformedEnvelope)
	case in.Patch != nil:
		return Envelope{ChannelID: in.Name, Payload: []byte(in.Patch)}, nil
	case in.Data != nil:
		payload, err := base64.StdEncoding.DecodeString(*in.Data)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
		}
		return Envelope{ChannelID: in.Name, Payload: payload}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: no payload", ErrMalformedEnvelope)
	}
}

// BinaryCodec is a protobuf-compatible message: field 1 is the channel id,
// field 2 the payload. Unknown fields are skipped.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return CodecBinary }
func (BinaryCodec) Binary() bool { return true }

func (BinaryCodec) Encode(env Envelope) ([]byte, error) {
	if err := checkChannel(env.ChannelID); err != nil {
		return nil, err
	}
	size := protowire.SizeTag(1) + protowire.SizeBytes(len(env.ChannelID)) +
		protowire.SizeTag(2) + protowire.SizeBytes(len(env.Payload))
	if size > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}
	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, env.ChannelID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Payload)
	return b, nil
}

func (BinaryCodec) Decode(data []byte) (Envelope, error) {
	if err := checkSize(len(data)); err != nil {
		return Envelope{}, err
	}
	var (
		env        Envelope
		hasChannel bool
		hasPayload bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: channel id: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			env.ChannelID, hasChannel = v, true
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			env.Payload, hasPayload = append([]byte{}, v...), true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: field %d: %v", ErrMalformedEnvelope, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !hasChannel {
		return Envelope{}, fmt.Errorf("%w: missing channel id", ErrMalformedEnvelope)
	}
	if !hasPayload {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	if err := checkChannel(env.ChannelID); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

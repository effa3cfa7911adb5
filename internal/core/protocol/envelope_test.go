package protocol

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func allCodecs() []Codec {
	return []Codec{JSONCodec{}, BinaryCodec{}}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"json patch":  []byte(`[{"op":"replace","path":"/value","value":3}]`),
		"empty patch": []byte(`[]`),
		"binary":      {0x0a, 0x00, 0xff, 0x10},
		"empty":       {},
	}
	for _, codec := range allCodecs() {
		for name, payload := range payloads {
			t.Run(codec.Name()+"/"+name, func(t *testing.T) {
				env := Envelope{ChannelID: "counter", Payload: payload}
				raw, err := codec.Encode(env)
				require.NoError(t, err)

				got, err := codec.Decode(raw)
				require.NoError(t, err)
				require.Equal(t, env.ChannelID, got.ChannelID)
				require.Equal(t, len(payload), len(got.Payload))
				if len(payload) > 0 {
					require.Equal(t, payload, got.Payload)
				}
			})
		}
	}
}

func TestJSONEnvelopeShape(t *testing.T) {
	raw, err := JSONCodec{}.Encode(Envelope{ChannelID: "counter", Payload: []byte(`[{"op":"replace","path":"/value","value":1}]`)})
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.JSONEq(t, `"counter"`, string(frame["name"]))
	assert.JSONEq(t, `[{"op":"replace","path":"/value","value":1}]`, string(frame["patch"]))
	assert.NotContains(t, frame, "data")

	raw, err = JSONCodec{}.Encode(Envelope{ChannelID: "counter", Payload: []byte{0xff}})
	require.NoError(t, err)
	frame = nil
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.JSONEq(t, `"/w=="`, string(frame["data"]))
	assert.NotContains(t, frame, "patch")
}

func TestEncodeRejectsBadChannel(t *testing.T) {
	for _, codec := range allCodecs() {
		_, err := codec.Encode(Envelope{Payload: []byte(`[]`)})
		require.ErrorIs(t, err, ErrMalformedEnvelope, codec.Name())

		_, err = codec.Encode(Envelope{ChannelID: "bad\xff", Payload: []byte(`[]`)})
		require.ErrorIs(t, err, ErrMalformedEnvelope, codec.Name())
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	jsonCases := []string{
		``,
		`{`,
		`null`,
		`[]`,
		`{"patch":[]}`,
		`{"name":"","patch":[]}`,
		`{"name":7,"patch":[]}`,
		`{"name":"counter"}`,
		`{"name":"counter","data":"***"}`,
		`{"name":"counter","patch":[],"data":""}`,
		`{"name":"counter","patch":[]} trailing`,
	}
	for _, raw := range jsonCases {
		_, err := JSONCodec{}.Decode([]byte(raw))
		require.ErrorIs(t, err, ErrMalformedEnvelope, raw)
	}

	var noChannel []byte
	noChannel = protowire.AppendTag(noChannel, 2, protowire.BytesType)
	noChannel = protowire.AppendBytes(noChannel, []byte("x"))

	var badUTF8 []byte
	badUTF8 = protowire.AppendTag(badUTF8, 1, protowire.BytesType)
	badUTF8 = protowire.AppendString(badUTF8, "\xff\xfe")

	binaryCases := [][]byte{
		{},
		{0xff},
		{0x0a, 0x05, 'a'},
		noChannel,
		badUTF8,
	}
	for _, raw := range binaryCases {
		_, err := BinaryCodec{}.Decode(raw)
		require.ErrorIs(t, err, ErrMalformedEnvelope, "%x", raw)
	}
}

func TestDecodeTruncated(t *testing.T) {
	env := Envelope{ChannelID: "presence", Payload: []byte(`[{"op":"add","path":"/peers/0","value":"a"}]`)}
	for _, codec := range allCodecs() {
		raw, err := codec.Encode(env)
		require.NoError(t, err)
		for i := 0; i < len(raw); i++ {
			_, err := codec.Decode(raw[:i])
			require.Error(t, err, "%s cut at %d", codec.Name(), i)
		}
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		raw := make([]byte, rng.Intn(64))
		rng.Read(raw)
		for _, codec := range allCodecs() {
			require.NotPanics(t, func() { _, _ = codec.Decode(raw) })
		}
	}
}

func TestDecodeSize(t *testing.T) {
	big := []byte(`{"name":"x","data":"` + strings.Repeat("A", MaxEnvelopeSize) + `"}`)
	_, err := JSONCodec{}.Decode(big)
	require.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = BinaryCodec{}.Encode(Envelope{ChannelID: "x", Payload: make([]byte, MaxEnvelopeSize)})
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestBinarySkipsUnknownFields(t *testing.T) {
	raw, err := BinaryCodec{}.Encode(Envelope{ChannelID: "counter", Payload: []byte{1, 2}})
	require.NoError(t, err)
	raw = protowire.AppendTag(raw, 9, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 42)

	env, err := BinaryCodec{}.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, Envelope{ChannelID: "counter", Payload: []byte{1, 2}}, env)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("json")
	require.NoError(t, err)
	require.False(t, c.Binary())

	c, err = CodecByName("binary")
	require.NoError(t, err)
	require.True(t, c.Binary())

	_, err = CodecByName("xml")
	require.ErrorIs(t, err, ErrUnknownCodec)
}

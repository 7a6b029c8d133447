package frame

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecDecode_Binary(t *testing.T) {
	codec := MustCodec()

	f := codec.Decode(Binary, []byte{0x01, 0x02, 0x03})

	chunk, ok := f.(AudioChunk)
	require.True(t, ok, "expected AudioChunk, got %T", f)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, chunk.Data)
	assert.Equal(t, InputSampleRate, chunk.SampleRate)
	assert.Equal(t, EncodingPCM16LE, chunk.Encoding)
}

func TestCodecDecode_Text(t *testing.T) {
	codec := MustCodec()

	f := codec.Decode(Text, []byte(`{"type":"text","text":"hi"}`))

	assert.Equal(t, TextMessage{Text: "hi"}, f)
}

func TestCodecDecode_Image(t *testing.T) {
	codec := MustCodec()
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	t.Run("padded base64", func(t *testing.T) {
		payload := `{"type":"image","mimeType":"image/png","data":"` + base64.StdEncoding.EncodeToString(raw) + `"}`
		f := codec.Decode(Text, []byte(payload))

		img, ok := f.(ImageFrame)
		require.True(t, ok, "expected ImageFrame, got %T", f)
		assert.Equal(t, raw, img.Data)
		assert.Equal(t, "image/png", img.MimeType)
	})

	t.Run("unpadded base64", func(t *testing.T) {
		payload := `{"type":"image","mimeType":"image/jpeg","data":"` + base64.RawStdEncoding.EncodeToString([]byte("jpeg")) + `"}`
		f := codec.Decode(Text, []byte(payload))

		img, ok := f.(ImageFrame)
		require.True(t, ok, "expected ImageFrame, got %T", f)
		assert.Equal(t, []byte("jpeg"), img.Data)
	})
}

func TestCodecDecode_Malformed(t *testing.T) {
	codec := MustCodec()

	tests := []struct {
		name   string
		input  string
		reason Reason
	}{
		{name: "not json", input: `hello`, reason: ReasonInvalidJSON},
		{name: "array", input: `[1,2]`, reason: ReasonInvalidJSON},
		{name: "unknown type", input: `{"type":"video","data":"AAAA"}`, reason: ReasonUnknownType},
		{name: "missing type", input: `{"text":"hi"}`, reason: ReasonUnknownType},
		{name: "text without text", input: `{"type":"text"}`, reason: ReasonSchema},
		{name: "text with number", input: `{"type":"text","text":42}`, reason: ReasonInvalidJSON},
		{name: "image without mime", input: `{"type":"image","data":"AAAA"}`, reason: ReasonSchema},
		{name: "image with bad mime", input: `{"type":"image","mimeType":"text/plain","data":"AAAA"}`, reason: ReasonSchema},
		{name: "image bad base64", input: `{"type":"image","mimeType":"image/png","data":"***"}`, reason: ReasonBadBase64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := codec.Decode(Text, []byte(tt.input))

			m, ok := f.(Malformed)
			require.True(t, ok, "expected Malformed, got %T", f)
			assert.Equal(t, tt.reason, m.Reason)
			assert.Equal(t, []byte(tt.input), m.Raw)
			assert.Error(t, m.Err)
			assert.True(t, IsMalformed(f))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Run("audio is forwarded verbatim", func(t *testing.T) {
		mt, payload, ok, err := Encode(AudioOutput{Data: []byte{0x00, 0x01}})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Binary, mt)
		assert.Equal(t, []byte{0x00, 0x01}, payload)
	})

	t.Run("transcription is structured text", func(t *testing.T) {
		mt, payload, ok, err := Encode(Transcription{Direction: DirectionOutput, Text: "hello", IsFinal: true})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Text, mt)
		assert.JSONEq(t, `{"direction":"output","text":"hello","isFinal":true}`, string(payload))
	})

	t.Run("other is dropped", func(t *testing.T) {
		_, payload, ok, err := Encode(Other{Type: "turn_complete"})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, payload)
	})
}

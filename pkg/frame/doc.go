// Package frame is the wire codec between tutoring clients and the gateway.
//
// Invariants:
// - Binary messages always decode to AudioChunk (16 kHz, 16-bit PCM LE, mono).
// - Structured-text messages decode to TextMessage or ImageFrame, or to
//   Malformed with a Reason; decoding never fails with an error.
// - Only AudioOutput and Transcription events produce outbound messages.
//
// Usage:
//
//	codec := frame.MustCodec()
//	f := codec.Decode(frame.Text, []byte(`{"type":"text","text":"hi"}`))
//	mt, payload, ok, _ := frame.Encode(frame.AudioOutput{Data: pcm})
package frame

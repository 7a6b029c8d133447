package frame

// MessageType is the framing of one transport message.
type MessageType int

const (
	// Text is a structured-text (JSON) message.
	Text MessageType = iota + 1
	// Binary is a raw byte message.
	Binary
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

// Inbound audio is fixed-format; the client never negotiates it.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	EncodingPCM16LE  = "pcm_s16le"
	InputAudioMIME   = "audio/pcm;rate=16000"
)

// Kind identifies the variant of an inbound Frame.
type Kind string

const (
	KindAudio     Kind = "audio"
	KindImage     Kind = "image"
	KindText      Kind = "text"
	KindContext   Kind = "context"
	KindMalformed Kind = "malformed"
)

// Frame is one decoded unit of inbound client data. The set of variants is
// closed: AudioChunk, ImageFrame, TextMessage, ContextFrame and Malformed.
type Frame interface {
	Kind() Kind
	isFrame()
}

// AudioChunk carries raw microphone audio, forwarded without transformation.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Encoding   string
}

// ImageFrame carries one decoded image (camera or screen share).
type ImageFrame struct {
	Data     []byte
	MimeType string
}

// TextMessage is a typed user message.
type TextMessage struct {
	Text string
}

// ContextFrame is the synthetic note injected by the gateway ahead of any
// user content. Clients cannot produce it.
type ContextFrame struct {
	Text string
}

// Malformed is a structured-text payload that could not be decoded. It is
// logged and dropped, never enqueued.
type Malformed struct {
	Raw    []byte
	Reason Reason
	Err    error
}

func (AudioChunk) Kind() Kind   { return KindAudio }
func (ImageFrame) Kind() Kind   { return KindImage }
func (TextMessage) Kind() Kind  { return KindText }
func (ContextFrame) Kind() Kind { return KindContext }
func (Malformed) Kind() Kind    { return KindMalformed }

func (AudioChunk) isFrame()   {}
func (ImageFrame) isFrame()   {}
func (TextMessage) isFrame()  {}
func (ContextFrame) isFrame() {}
func (Malformed) isFrame()    {}

// NewAudioChunk wraps raw PCM bytes in the fixed inbound format.
func NewAudioChunk(data []byte) AudioChunk {
	return AudioChunk{
		Data:       data,
		SampleRate: InputSampleRate,
		Encoding:   EncodingPCM16LE,
	}
}

// IsMalformed reports whether f is the Malformed variant.
func IsMalformed(f Frame) bool {
	_, ok := f.(Malformed)
	return ok
}

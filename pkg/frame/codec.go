package frame

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Reason classifies why a structured-text payload was rejected.
type Reason string

const (
	ReasonInvalidJSON Reason = "invalid_json"
	ReasonUnknownType Reason = "unknown_type"
	ReasonSchema      Reason = "schema"
	ReasonBadBase64   Reason = "bad_base64"
)

// Envelope types accepted from clients.
const (
	EnvelopeText  = "text"
	EnvelopeImage = "image"
)

// envelopeSchema is the contract for inbound structured-text messages.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "oneOf": [
    {
      "properties": {
        "type": {"const": "text"},
        "text": {"type": "string"}
      },
      "required": ["text"]
    },
    {
      "properties": {
        "type": {"const": "image"},
        "mimeType": {"type": "string", "pattern": "^image/[A-Za-z0-9.+-]+$"},
        "data": {"type": "string", "minLength": 1}
      },
      "required": ["mimeType", "data"]
    }
  ]
}`

var errEmptyImage = errors.New("image payload decoded to zero bytes")

// envelope is the discriminated union sent by clients as structured text.
type envelope struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Codec turns transport messages into Frames. It is safe for concurrent use.
type Codec struct {
	schema *gojsonschema.Schema
}

// NewCodec compiles the envelope schema.
func NewCodec() (*Codec, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return &Codec{schema: schema}, nil
}

// MustCodec is NewCodec for package-level initialisation and tests.
func MustCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// Decode maps one transport message to a Frame. Binary payloads are always
// audio. Structured-text payloads that fail any check come back as Malformed.
func (c *Codec) Decode(mt MessageType, data []byte) Frame {
	if mt == Binary {
		return NewAudioChunk(data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Malformed{Raw: data, Reason: ReasonInvalidJSON, Err: err}
	}

	switch env.Type {
	case EnvelopeText, EnvelopeImage:
	default:
		return Malformed{
			Raw:    data,
			Reason: ReasonUnknownType,
			Err:    fmt.Errorf("unrecognized envelope type %q", env.Type),
		}
	}

	if err := c.validate(data); err != nil {
		return Malformed{Raw: data, Reason: ReasonSchema, Err: err}
	}

	switch env.Type {
	case EnvelopeText:
		return TextMessage{Text: env.Text}
	default:
		img, err := decodeBase64(env.Data)
		if err != nil {
			return Malformed{Raw: data, Reason: ReasonBadBase64, Err: err}
		}
		return ImageFrame{Data: img, MimeType: env.MimeType}
	}
}

func (c *Codec) validate(data []byte) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
}

// decodeBase64 accepts padded and unpadded standard encodings.
func decodeBase64(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		out, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	if len(out) == 0 {
		return nil, errEmptyImage
	}
	return out, nil
}

package frame

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the variant of an AgentEvent.
type EventKind string

const (
	EventAudio         EventKind = "audio"
	EventTranscription EventKind = "transcription"
	EventOther         EventKind = "other"
)

// Direction tells whose speech a transcription belongs to.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// AgentEvent is one unit of runtime output: AudioOutput, Transcription or Other.
type AgentEvent interface {
	EventKind() EventKind
	isEvent()
}

// AudioOutput is synthesized speech (24 kHz, 16-bit PCM mono), forwarded verbatim.
type AudioOutput struct {
	Data []byte
}

// Transcription is a speech-to-text record for either side of the conversation.
type Transcription struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
}

// Other is any runtime event the gateway does not forward.
type Other struct {
	Type string
}

func (AudioOutput) EventKind() EventKind   { return EventAudio }
func (Transcription) EventKind() EventKind { return EventTranscription }
func (Other) EventKind() EventKind         { return EventOther }

func (AudioOutput) isEvent()   {}
func (Transcription) isEvent() {}
func (Other) isEvent()         {}

// Encode maps an AgentEvent to its outbound transport framing. ok is false
// for events that are not forwarded.
func Encode(ev AgentEvent) (mt MessageType, payload []byte, ok bool, err error) {
	switch e := ev.(type) {
	case AudioOutput:
		return Binary, e.Data, true, nil
	case Transcription:
		payload, err := json.Marshal(e)
		if err != nil {
			return 0, nil, false, fmt.Errorf("failed to encode transcription: %w", err)
		}
		return Text, payload, true, nil
	default:
		return 0, nil, false, nil
	}
}

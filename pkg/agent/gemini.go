package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGeminiEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultGeminiModel    = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice          = "Puck"

	defaultDialTimeout    = 45 * time.Second
	defaultSetupTimeout   = 10 * time.Second
	defaultMaxMessageSize = 16 * 1024 * 1024
	eventBuffer           = 64
	closeWriteTimeout     = time.Second
)

// GeminiConfig configures the Gemini Live connector.
type GeminiConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Voice          string
	Persona        Persona
	DialTimeout    time.Duration
	SetupTimeout   time.Duration
	MaxMessageSize int64
	Logger         *zerolog.Logger
	Dialer         *websocket.Dialer
}

// GeminiConnector opens one Gemini Live socket per tutoring connection.
type GeminiConnector struct {
	cfg    GeminiConfig
	logger zerolog.Logger
}

// NewGeminiConnector fills defaults and checks that an API key is present.
func NewGeminiConnector(cfg GeminiConfig) (*GeminiConnector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Persona.Instruction == "" {
		cfg.Persona = DefaultPersona()
	}
	if cfg.Voice == "" {
		cfg.Voice = cfg.Persona.Voice
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = defaultSetupTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &GeminiConnector{
		cfg:    cfg,
		logger: logger.With().Str("component", "agent").Str("provider", ProviderGemini).Logger(),
	}, nil
}

func (c *GeminiConnector) Name() string {
	return ProviderGemini
}

// Connect dials the Live API, completes the setup handshake and starts
// forwarding input.
func (c *GeminiConnector) Connect(ctx context.Context, h session.Handle, input Source) (Runtime, error) {
	logger := c.logger.With().Str("user_id", h.UserID).Str("session_id", h.SessionID).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("x-goog-api-key", c.cfg.APIKey)

	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gemini live (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial gemini live: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	rctx, rcancel := context.WithCancel(context.Background())
	rt := &geminiRuntime{
		conn:   conn,
		ctx:    rctx,
		cancel: rcancel,
		events: make(chan frame.AgentEvent, eventBuffer),
		logger: logger,
	}

	rt.wg.Add(2)
	go func() {
		defer rt.wg.Done()
		rt.readLoop()
	}()
	go func() {
		defer rt.wg.Done()
		if err := Forward(rctx, input, rt); err != nil {
			rt.fail(err)
		}
	}()

	logger.Info().Str("model", c.cfg.Model).Str("voice", c.cfg.Voice).Msg("Gemini live session established")
	return rt, nil
}

func (c *GeminiConnector) setupMessage() clientMessage {
	setup := &setupConfig{
		Model: modelPath(c.cfg.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice}},
				LanguageCode: c.cfg.Persona.LanguageCode,
			},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
		SessionResumption:        &sessionResumption{},
	}
	if c.cfg.Persona.Instruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: c.cfg.Persona.Instruction}}}
	}
	return clientMessage{Setup: setup}
}

func (c *GeminiConnector) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.SetupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(c.setupMessage()); err != nil {
		return fmt.Errorf("failed to send setup message: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to receive setup response: %w", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse setup response: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("invalid setup response: setupComplete not received")
	}
	return nil
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

type geminiRuntime struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events     chan frame.AgentEvent
	subscribed atomic.Bool
	closing    atomic.Bool
	closeOnce  sync.Once

	errMu sync.Mutex
	err   error

	logger zerolog.Logger
}

// Push translates one request frame into a Live API client message.
func (r *geminiRuntime) Push(ctx context.Context, f frame.Frame) error {
	if r.closing.Load() {
		return ErrRuntimeClosed
	}

	var msg clientMessage
	switch v := f.(type) {
	case frame.AudioChunk:
		msg.RealtimeInput = &realtimeInput{Audio: &blob{
			MimeType: frame.InputAudioMIME,
			Data:     base64.StdEncoding.EncodeToString(v.Data),
		}}
	case frame.ImageFrame:
		msg.RealtimeInput = &realtimeInput{Video: &blob{
			MimeType: v.MimeType,
			Data:     base64.StdEncoding.EncodeToString(v.Data),
		}}
	case frame.TextMessage:
		msg.ClientContent = userTurn(v.Text)
	case frame.ContextFrame:
		msg.ClientContent = userTurn(v.Text)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFrame, f.Kind())
	}

	return r.write(ctx, msg)
}

func userTurn(text string) *clientContent {
	return &clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}
}

func (r *geminiRuntime) write(ctx context.Context, msg clientMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		r.conn.SetWriteDeadline(d)
		defer r.conn.SetWriteDeadline(time.Time{})
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		if r.closing.Load() {
			return ErrRuntimeClosed
		}
		return fmt.Errorf("failed to write to gemini live: %w", err)
	}
	return nil
}

func (r *geminiRuntime) Subscribe(ctx context.Context) (Stream, error) {
	if r.closing.Load() {
		return nil, ErrRuntimeClosed
	}
	if !r.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	return &chanStream{events: r.events, end: r.endErr}, nil
}

func (r *geminiRuntime) readLoop() {
	defer close(r.events)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if r.closing.Load() || r.failed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug().Err(err).Msg("Gemini live stream ended")
				return
			}
			r.fail(fmt.Errorf("failed to read from gemini live: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Skipping unparseable server message")
			continue
		}

		r.observe(msg)

		for _, ev := range toEvents(msg) {
			select {
			case r.events <- ev:
			case <-r.ctx.Done():
				return
			}
		}
	}
}

func (r *geminiRuntime) observe(msg serverMessage) {
	if msg.GoAway != nil {
		r.logger.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("Gemini live server is going away")
	}
	if u := msg.SessionResumptionUpdate; u != nil && u.Resumable {
		r.logger.Debug().Str("handle", u.NewHandle).Msg("Session resumption handle updated")
	}
}

// toEvents maps one server message to AgentEvents in wire order: audio
// parts, then transcriptions. Messages carrying neither map to one Other.
func toEvents(msg serverMessage) []frame.AgentEvent {
	var events []frame.AgentEvent

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/pcm"):
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						events = append(events, frame.Other{Type: "invalid_audio"})
						continue
					}
					events = append(events, frame.AudioOutput{Data: data})
				case p.Text != "":
					events = append(events, frame.Other{Type: "text"})
				}
			}
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			events = append(events, frame.Transcription{
				Direction: frame.DirectionInput,
				Text:      t.Text,
				IsFinal:   t.Finished,
			})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			events = append(events, frame.Transcription{
				Direction: frame.DirectionOutput,
				Text:      t.Text,
				IsFinal:   t.Finished || sc.TurnComplete,
			})
		}
		if len(events) > 0 {
			return events
		}
		switch {
		case sc.Interrupted:
			return []frame.AgentEvent{frame.Other{Type: "interrupted"}}
		case sc.TurnComplete:
			return []frame.AgentEvent{frame.Other{Type: "turn_complete"}}
		case sc.GenerationComplete:
			return []frame.AgentEvent{frame.Other{Type: "generation_complete"}}
		}
		return []frame.AgentEvent{frame.Other{Type: "server_content"}}
	}

	switch {
	case msg.ToolCall != nil:
		return []frame.AgentEvent{frame.Other{Type: "tool_call"}}
	case msg.UsageMetadata != nil:
		return []frame.AgentEvent{frame.Other{Type: "usage_metadata"}}
	case msg.GoAway != nil:
		return []frame.AgentEvent{frame.Other{Type: "go_away"}}
	case msg.SessionResumptionUpdate != nil:
		return []frame.AgentEvent{frame.Other{Type: "session_resumption_update"}}
	}
	return []frame.AgentEvent{frame.Other{Type: "unknown"}}
}

func (r *geminiRuntime) fail(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()

	r.logger.Error().Err(err).Msg("Gemini live runtime failed")
	// Unblock the reader so the stream ends with this error.
	r.conn.Close()
}

func (r *geminiRuntime) failed() bool {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err != nil
}

func (r *geminiRuntime) endErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.closing.Load() {
		return ErrRuntimeClosed
	}
	return io.EOF
}

// Close ends the Live API session. It is idempotent.
func (r *geminiRuntime) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.closing.Store(true)
		r.cancel()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			r.logger.Debug().Err(err).Msg("Failed to send close frame")
		}

		if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = fmt.Errorf("failed to close gemini live connection: %w", err)
		}
		r.wg.Wait()
		r.logger.Debug().Msg("Gemini live runtime closed")
	})
	return closeErr
}

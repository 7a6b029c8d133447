package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLive is a scripted Gemini Live server.
type fakeLive struct {
	t        *testing.T
	setup    string
	received chan map[string]json.RawMessage
	script   func(conn *websocket.Conn)
	apiKey   chan string
}

func newFakeLive(t *testing.T, setupReply string, script func(conn *websocket.Conn)) (*fakeLive, *httptest.Server) {
	f := &fakeLive{
		t:        t,
		setup:    setupReply,
		received: make(chan map[string]json.RawMessage, 16),
		script:   script,
		apiKey:   make(chan string, 1),
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.apiKey <- r.Header.Get("x-goog-api-key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]json.RawMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		f.received <- setup

		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(f.setup)); err != nil {
			return
		}

		if f.script != nil {
			go f.script(conn)
		}

		for {
			var msg map[string]json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLive) next(t *testing.T) map[string]json.RawMessage {
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("fake live server received nothing")
		return nil
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGemini_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply := make(chan struct{})
	live, srv := newFakeLive(t, `{"setupComplete":{}}`, func(conn *websocket.Conn) {
		<-reply
		audio := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"`+audio+`"}}]},"outputTranscription":{"text":"hello"},"turnComplete":true}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	connector, err := NewGeminiConnector(GeminiConfig{
		Endpoint: wsURL(srv),
		APIKey:   "test-key",
		Model:    "test-model",
		Persona:  Persona{Name: "t", Instruction: "Teach."},
	})
	require.NoError(t, err)

	q := requestqueue.New(requestqueue.Options{})
	defer q.Close()

	rt, err := connector.Connect(ctx, session.Handle{UserID: "U1", SessionID: "S1"}, q)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, "test-key", <-live.apiKey)

	setup := live.next(t)
	var cfg setupConfig
	require.NoError(t, json.Unmarshal(setup["setup"], &cfg))
	assert.Equal(t, "models/test-model", cfg.Model)
	assert.Equal(t, []string{"AUDIO"}, cfg.GenerationConfig.ResponseModalities)
	assert.Equal(t, DefaultVoice, cfg.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.NotNil(t, cfg.InputAudioTranscription)
	assert.NotNil(t, cfg.OutputAudioTranscription)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "Teach.", cfg.SystemInstruction.Parts[0].Text)

	stream, err := rt.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Push(ctx, frame.ContextFrame{Text: "System Note: hi"}))
	require.NoError(t, q.Push(ctx, frame.NewAudioChunk([]byte{0x01, 0x02})))
	require.NoError(t, q.Push(ctx, frame.ImageFrame{Data: []byte{0x89}, MimeType: "image/png"}))

	var cc clientContent
	require.NoError(t, json.Unmarshal(live.next(t)["clientContent"], &cc))
	assert.True(t, cc.TurnComplete)
	assert.Equal(t, "user", cc.Turns[0].Role)
	assert.Equal(t, "System Note: hi", cc.Turns[0].Parts[0].Text)

	var ri realtimeInput
	require.NoError(t, json.Unmarshal(live.next(t)["realtimeInput"], &ri))
	require.NotNil(t, ri.Audio)
	assert.Equal(t, frame.InputAudioMIME, ri.Audio.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), ri.Audio.Data)

	ri = realtimeInput{}
	require.NoError(t, json.Unmarshal(live.next(t)["realtimeInput"], &ri))
	require.NotNil(t, ri.Video)
	assert.Equal(t, "image/png", ri.Video.MimeType)

	close(reply)

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame.AudioOutput{Data: []byte{0x00, 0x01}}, ev)

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame.Transcription{Direction: frame.DirectionOutput, Text: "hello", IsFinal: true}, ev)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGemini_SetupRejected(t *testing.T) {
	_, srv := newFakeLive(t, `{"serverContent":{"turnComplete":true}}`, nil)

	connector, err := NewGeminiConnector(GeminiConfig{Endpoint: wsURL(srv), APIKey: "k", SetupTimeout: time.Second})
	require.NoError(t, err)

	q := requestqueue.New(requestqueue.Options{})
	defer q.Close()

	_, err = connector.Connect(context.Background(), session.Handle{UserID: "U1", SessionID: "S1"}, q)
	assert.ErrorContains(t, err, "setupComplete")
}

func TestGemini_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	connector, err := NewGeminiConnector(GeminiConfig{Endpoint: wsURL(srv), APIKey: "k"})
	require.NoError(t, err)

	q := requestqueue.New(requestqueue.Options{})
	defer q.Close()

	_, err = connector.Connect(context.Background(), session.Handle{}, q)
	assert.ErrorContains(t, err, "status 403")
}

func TestGemini_CloseUnblocksNext(t *testing.T) {
	_, srv := newFakeLive(t, `{"setupComplete":{}}`, nil)

	connector, err := NewGeminiConnector(GeminiConfig{Endpoint: wsURL(srv), APIKey: "k"})
	require.NoError(t, err)

	q := requestqueue.New(requestqueue.Options{})
	defer q.Close()

	rt, err := connector.Connect(context.Background(), session.Handle{}, q)
	require.NoError(t, err)
	stream, err := rt.Subscribe(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrRuntimeClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	assert.ErrorIs(t, rt.Push(context.Background(), frame.TextMessage{Text: "late"}), ErrRuntimeClosed)
}

func TestToEvents(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{0x0a, 0x0b})

	tests := []struct {
		name string
		raw  string
		want []frame.AgentEvent
	}{
		{
			name: "audio then transcriptions",
			raw:  `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}}]},"inputTranscription":{"text":"what is x","finished":true},"outputTranscription":{"text":"x is"}}}`,
			want: []frame.AgentEvent{
				frame.AudioOutput{Data: []byte{0x0a, 0x0b}},
				frame.Transcription{Direction: frame.DirectionInput, Text: "what is x", IsFinal: true},
				frame.Transcription{Direction: frame.DirectionOutput, Text: "x is", IsFinal: false},
			},
		},
		{
			name: "non audio inline data is ignored",
			raw:  `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"image/png","data":"AA=="}}]}}}`,
			want: []frame.AgentEvent{frame.Other{Type: "server_content"}},
		},
		{
			name: "text part",
			raw:  `{"serverContent":{"modelTurn":{"parts":[{"text":"thinking"}]}}}`,
			want: []frame.AgentEvent{frame.Other{Type: "text"}},
		},
		{
			name: "interrupted",
			raw:  `{"serverContent":{"interrupted":true}}`,
			want: []frame.AgentEvent{frame.Other{Type: "interrupted"}},
		},
		{
			name: "turn complete",
			raw:  `{"serverContent":{"turnComplete":true}}`,
			want: []frame.AgentEvent{frame.Other{Type: "turn_complete"}},
		},
		{
			name: "go away",
			raw:  `{"goAway":{"timeLeft":"10s"}}`,
			want: []frame.AgentEvent{frame.Other{Type: "go_away"}},
		},
		{
			name: "resumption update",
			raw:  `{"sessionResumptionUpdate":{"newHandle":"h","resumable":true}}`,
			want: []frame.AgentEvent{frame.Other{Type: "session_resumption_update"}},
		},
		{
			name: "empty",
			raw:  `{}`,
			want: []frame.AgentEvent{frame.Other{Type: "unknown"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg serverMessage
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.want, toEvents(msg))
		})
	}
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, "models/x", modelPath("x"))
	assert.Equal(t, "models/x", modelPath("models/x"))
}

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport defaults.
const (
	DefaultReadLimit    int64 = 4 << 20
	DefaultWriteTimeout       = 10 * time.Second
	DefaultPingInterval       = 20 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Message is one WebSocket message in either direction.
type Message struct {
	Type frame.MessageType
	Data []byte
}

// Transport is a full-duplex client connection. Receive returns io.EOF when
// the client closes normally and ErrTransportClosed after a local Close.
// Send and Receive may be called from different goroutines; Close is
// idempotent and unblocks both.
type Transport interface {
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, msg Message) error
	Close() error
}

// TransportConfig tunes a WebSocket transport.
type TransportConfig struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
	// IdleTimeout closes the connection when no message or pong arrives in
	// time. Zero disables it.
	IdleTimeout time.Duration
	Logger      zerolog.Logger
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	return c
}

// WebSocketTransport adapts a gorilla connection to Transport.
type WebSocketTransport struct {
	conn   *websocket.Conn
	cfg    TransportConfig
	logger zerolog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocketTransport wraps conn and starts its keepalive loop.
func NewWebSocketTransport(conn *websocket.Conn, cfg TransportConfig) *WebSocketTransport {
	cfg = cfg.withDefaults()
	t := &WebSocketTransport{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "ws_transport").Logger(),
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(cfg.ReadLimit)
	t.extendDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendDeadline()
		return nil
	})

	t.wg.Add(1)
	go t.keepalive()

	return t
}

func (t *WebSocketTransport) extendDeadline() {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.IdleTimeout))
}

func (t *WebSocketTransport) keepalive() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !t.closed.Load() {
					t.logger.Debug().Err(err).Msg("Ping failed")
				}
				return
			}
		}
	}
}

// Receive blocks until the next data message arrives.
func (t *WebSocketTransport) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if t.closed.Load() {
		return Message{}, ErrTransportClosed
	}

	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		return Message{}, t.readError(err)
	}
	t.extendDeadline()

	if mt == websocket.BinaryMessage {
		return Message{Type: frame.Binary, Data: data}, nil
	}
	return Message{Type: frame.Text, Data: data}, nil
}

func (t *WebSocketTransport) readError(err error) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrIdleTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrTransportClosed
	}
	return err
}

// Send writes one message, bounded by the write timeout or ctx's deadline.
func (t *WebSocketTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrTransportClosed
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	mt := websocket.TextMessage
	if msg.Type == frame.Binary {
		mt = websocket.BinaryMessage
	}
	if err := t.conn.WriteMessage(mt, msg.Data); err != nil {
		if t.closed.Load() {
			return ErrTransportClosed
		}
		return err
	}
	return nil
}

// Close sends a normal close frame and releases the connection.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, deadline)

		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = err
		}
		t.wg.Wait()
	})
	return t.closeErr
}

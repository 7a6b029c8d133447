package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ai-educate/livetutor/pkg/agent"
	"github.com/ai-educate/livetutor/pkg/frame"
	"github.com/ai-educate/livetutor/pkg/requestqueue"
	"github.com/ai-educate/livetutor/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// inbound is one scripted Receive result.
type inbound struct {
	msg Message
	err error
}

type fakeTransport struct {
	in         chan inbound
	out        chan Message
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan inbound, 16),
		out:    make(chan Message, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) sendText(s string) {
	f.in <- inbound{msg: Message{Type: frame.Text, Data: []byte(s)}}
}

func (f *fakeTransport) sendBinary(b []byte) {
	f.in <- inbound{msg: Message{Type: frame.Binary, Data: b}}
}

func (f *fakeTransport) fail(err error) {
	f.in <- inbound{err: err}
}

// hangUp simulates a normal client close.
func (f *fakeTransport) hangUp() {
	close(f.in)
}

func (f *fakeTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-f.closed:
		return Message{}, ErrTransportClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case item, ok := <-f.in:
		if !ok {
			return Message{}, io.EOF
		}
		return item.msg, item.err
	}
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	select {
	case <-f.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case f.out <- msg:
		return nil
	case <-f.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-f.out:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no outbound message")
		return Message{}
	}
}

// recordingQueue counts pushes and closes on a real request queue.
type recordingQueue struct {
	*requestqueue.Queue

	mu         sync.Mutex
	pushed     []frame.Frame
	closeCalls atomic.Int32
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{Queue: requestqueue.New(requestqueue.Options{Capacity: 16})}
}

func (q *recordingQueue) Push(ctx context.Context, f frame.Frame) error {
	if err := q.Queue.Push(ctx, f); err != nil {
		return err
	}
	q.mu.Lock()
	q.pushed = append(q.pushed, f)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) Close() {
	q.closeCalls.Add(1)
	q.Queue.Close()
}

func (q *recordingQueue) frames() []frame.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]frame.Frame(nil), q.pushed...)
}

// scriptedRuntime records consumed frames and emits whatever the test feeds it.
type scriptedRuntime struct {
	received     chan frame.Frame
	events       chan frame.AgentEvent
	failures     chan error
	subscribeErr error
	onPush       func(rt *scriptedRuntime, f frame.Frame)

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
	wg         sync.WaitGroup
}

func newScriptedRuntime() *scriptedRuntime {
	return &scriptedRuntime{
		received: make(chan frame.Frame, 64),
		events:   make(chan frame.AgentEvent, 16),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (r *scriptedRuntime) Push(ctx context.Context, f frame.Frame) error {
	r.received <- f
	if r.onPush != nil {
		r.onPush(r, f)
	}
	return nil
}

func (r *scriptedRuntime) Subscribe(ctx context.Context) (agent.Stream, error) {
	if r.subscribeErr != nil {
		return nil, r.subscribeErr
	}
	return r, nil
}

func (r *scriptedRuntime) Next(ctx context.Context) (frame.AgentEvent, error) {
	select {
	case ev, ok := <-r.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case err := <-r.failures:
		return nil, err
	case <-r.closed:
		return nil, agent.ErrRuntimeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *scriptedRuntime) Close() error {
	r.closeCalls.Add(1)
	r.closeOnce.Do(func() { close(r.closed) })
	r.wg.Wait()
	return nil
}

func (r *scriptedRuntime) nextReceived(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case f := <-r.received:
		return f
	case <-time.After(waitFor):
		t.Fatal("runtime received nothing")
		return nil
	}
}

type scriptedConnector struct {
	runtime    *scriptedRuntime
	connectErr error
	calls      atomic.Int32
}

func (c *scriptedConnector) Name() string { return "scripted" }

func (c *scriptedConnector) Connect(ctx context.Context, h session.Handle, input agent.Source) (agent.Runtime, error) {
	c.calls.Add(1)
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	rt := c.runtime
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		fctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-rt.closed:
				cancel()
			case <-fctx.Done():
			}
		}()
		_ = agent.Forward(fctx, input, rt)
	}()
	return rt, nil
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string, string) (session.Handle, error) {
	return session.Handle{}, r.err
}

// harness wires a Handler to fakes.
type harness struct {
	handler   *Handler
	transport *fakeTransport
	queue     *recordingQueue
	runtime   *scriptedRuntime
	connector *scriptedConnector

	mu          sync.Mutex
	transitions []State
	cause       chan Cause
}

type harnessOption func(*HandlerConfig)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		queue:     newRecordingQueue(),
		runtime:   newScriptedRuntime(),
		cause:     make(chan Cause, 1),
	}
	h.connector = &scriptedConnector{runtime: h.runtime}

	cfg := HandlerConfig{
		Resolver:  session.NewMemoryStore(session.DefaultAppName, nil),
		Connector: h.connector,
		NewQueue:  func() Queue { return h.queue },
		OnStateChange: func(_ string, _, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		},
		OnClosed: func(_ string, cause Cause) { h.cause <- cause },
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler, err := NewHandler(cfg)
	require.NoError(t, err)
	h.handler = handler
	return h
}

// serve runs Serve in the background and returns its result channel.
func (h *harness) serve(ctx context.Context, userID, sessionID string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.handler.Serve(ctx, h.transport, userID, sessionID)
	}()
	return errCh
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.transitions...)
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
		return errors.New("unreachable")
	}
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}

func sessionHandle() session.Handle {
	return session.Handle{AppName: session.DefaultAppName, UserID: "U1", SessionID: "S1"}
}

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}

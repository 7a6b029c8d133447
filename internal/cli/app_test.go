package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ai-educate/livetutor/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Gateway.ExposeSessions = true
	cfg.Gateway.ShutdownTimeout = 2 * time.Second
	cfg.Agent.Provider = "loopback"
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(cfg.DataDir, "sessions.db")
	return cfg
}

func TestAppServesLoopbackSession(t *testing.T) {
	a, err := newApp(loopbackConfig(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.start())

	addr := a.server.Addr()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws/U1/S1", addr), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	report, err := fetchHealth(addr)
	require.NoError(t, err)
	assert.Equal(t, "ok", report.Status)

	sessions, err := fetchSessions(addr)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "U1", sessions[0].UserID)

	count, err := a.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, a.stop(context.Background()))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Run("overflow policy", func(t *testing.T) {
		cfg := loopbackConfig(t)
		cfg.Queue.Overflow = "spill"
		_, err := newApp(cfg, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("gemini without key", func(t *testing.T) {
		cfg := loopbackConfig(t)
		cfg.Agent.Provider = "gemini"
		_, err := newApp(cfg, zerolog.Nop())
		assert.ErrorContains(t, err, "api key")
	})

	t.Run("missing persona file", func(t *testing.T) {
		cfg := loopbackConfig(t)
		cfg.Agent.PersonaFile = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := newApp(cfg, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("schedule", func(t *testing.T) {
		cfg := loopbackConfig(t)
		cfg.Store.Driver = "memory"
		cfg.Store.SweepSchedule = "whenever"
		_, err := newApp(cfg, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestSessionsSweepCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	path := writeConfig(t, fmt.Sprintf(`{"agent": {"provider": "loopback"}, "store": {"driver": "sqlite", "path": %q}}`, dbPath))

	out, err := execute(t, nil, "sessions", "sweep", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 session(s), 0 remaining")

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestStatusCommandStopped(t *testing.T) {
	path := writeConfig(t, `{"agent": {"provider": "loopback"}}`)

	out, err := execute(t, nil, "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: stopped")
}

func TestStopCommandNotRunning(t *testing.T) {
	path := writeConfig(t, `{"agent": {"provider": "loopback"}}`)

	_, err := execute(t, nil, "stop", "--config", path)
	assert.ErrorContains(t, err, "not running")
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, isRunning(filepath.Join(dir, "missing.pid")))

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not-a-pid"), 0644))
	assert.False(t, isRunning(garbage))

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, writePIDFile(self))
	assert.True(t, isRunning(self))

	pid, err := readPID(self)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strconv.Itoa(pid))
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8004", localAddr("0.0.0.0", 8004))
	assert.Equal(t, "127.0.0.1:8004", localAddr("", 8004))
	assert.Equal(t, "10.0.0.5:9000", localAddr("10.0.0.5", 9000))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

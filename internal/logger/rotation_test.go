package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter_CreatesDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "livetutor.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "livetutor.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("session opened\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "session opened\n", string(content))
}

func TestRotatingWriter_RotatesWhenFull(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "livetutor.log")

	// Zero MB forces a rotation before every write to a non-empty file.
	rw, err := NewRotatingWriter(logFile, 0, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second\n"))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(old))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(current))
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "livetutor.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rw.Write([]byte("line\n"))
		}()
	}
	wg.Wait()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(string(content), "line\n"))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "livetutor.log"), 10, 7, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "livetutor.log.1")
	require.NoError(t, os.WriteFile(testFile, []byte("rotated content"), 0644))

	require.NoError(t, compressFile(testFile))

	_, err := os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(testFile + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "rotated content", string(data))
}

func TestCleanup_RemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "livetutor.log")

	oldFile := logFile + ".20200101-120000"
	freshFile := logFile + ".20990101-120000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(freshFile, []byte("fresh"), 0644))
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	rw := &RotatingWriter{filename: logFile, maxAge: 7}
	rw.cleanup()

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}

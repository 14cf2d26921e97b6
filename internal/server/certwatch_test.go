package server

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCertWatcher_ReportsWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(certPath, []byte("v1"), 0o600))

	var calls atomic.Int32
	w, err := newCertWatcher(zap.NewNop(), 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()
	w.Watch(certPath)

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// a burst of writes is coalesced
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(certPath, []byte("v2"), 0o600))
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCertWatcher_ReplacedByRename(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certPath, []byte("v1"), 0o600))

	var calls atomic.Int32
	w, err := newCertWatcher(zap.NewNop(), 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()
	w.Watch(certPath)

	tmp := filepath.Join(dir, "cert.pem.new")
	require.NoError(t, os.WriteFile(tmp, []byte("v2"), 0o600))
	require.NoError(t, os.Rename(tmp, certPath))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCertWatcher_UnwatchStopsReports(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certPath, []byte("v1"), 0o600))

	var calls atomic.Int32
	w, err := newCertWatcher(zap.NewNop(), 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	w.Watch(certPath)
	w.Watch()

	require.NoError(t, os.WriteFile(certPath, []byte("v2"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	assert.NoError(t, w.Close())
	// second close is harmless
	_ = w.Close()
}

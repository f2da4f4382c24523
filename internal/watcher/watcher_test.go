package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/renew/internal/watcher"
)

func TestWatchFile_DebouncesWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.db")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var calls atomic.Int32
	err := watcher.WatchFile(ctx, path, func() { calls.Add(1) }, watcher.WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	// a burst of writes settles into one callback
	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte{byte('1' + i)}, 0o600))
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestWatchFile_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.db")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var calls atomic.Int32
	err := watcher.WatchFile(ctx, path, func() { calls.Add(1) }, watcher.WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	// unrelated files in the same directory don't count
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, calls.Load())

	// sidecar files do
	require.NoError(t, os.WriteFile(path+"-wal", []byte("x"), 0o600))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFile_MissingDirectory(t *testing.T) {
	t.Parallel()

	err := watcher.WatchFile(context.Background(), filepath.Join(t.TempDir(), "gone", "session.db"), func() {})
	require.Error(t, err)
}

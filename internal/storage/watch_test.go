package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFilesystem_DetectsChangeUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	f := NewFilesystemAdapter(dir, "depl1", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	origDelay := debounceDelay
	debounceDelay = 10 * time.Millisecond
	defer func() { debounceDelay = origDelay }()

	w, err := f.WatchFilesystem(ctx, func(path string) { changed <- path })
	require.NoError(t, err)
	defer w.Stop()

	target := filepath.Join(dir, "touched.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	select {
	case path := <-changed:
		assert.Equal(t, target, path)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a filesystem change notification")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	f := NewFilesystemAdapter(dir, "depl1", 0, nil)

	w, err := f.WatchFilesystem(context.Background(), func(path string) {})
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}

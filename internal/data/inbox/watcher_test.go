package inbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 50 * time.Millisecond

func waitReady(t *testing.T, w *Watcher) string {
	t.Helper()
	select {
	case path := <-w.Ready():
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("no package became ready")
		return ""
	}
}

func TestNewWatcherRejectsBadInput(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), "[", settle)
	assert.Error(t, err)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "absent"), "*.zip", settle)
	assert.Error(t, err)
}

func TestWatcherExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.zip", "a.zip", "notes.txt", ".hidden.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.zip"), 0755))

	w, err := NewWatcher(dir, "*.zip", settle)
	require.NoError(t, err)
	defer w.Close()

	existing, err := w.Existing()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.zip"), filepath.Join(dir, "b.zip")}, existing)
}

func TestWatcherReportsSettledPackage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, "*.zip", settle)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644))
	pkg := filepath.Join(dir, "upload.zip")
	require.NoError(t, os.WriteFile(pkg, []byte("part one"), 0644))
	f, err := os.OpenFile(pkg, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(" part two")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, pkg, waitReady(t, w))

	// Several writes settle into a single report.
	select {
	case extra := <-w.Ready():
		t.Fatalf("unexpected second report for %s", extra)
	case <-time.After(4 * settle):
	}
}

func TestWatcherDropsRemovedPackage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, "*.zip", time.Second)
	require.NoError(t, err)
	defer w.Close()

	pkg := filepath.Join(dir, "gone.zip")
	require.NoError(t, os.WriteFile(pkg, []byte("x"), 0644))
	require.NoError(t, os.Remove(pkg))

	select {
	case path := <-w.Ready():
		t.Fatalf("removed package reported: %s", path)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), "*.zip", settle)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

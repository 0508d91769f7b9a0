package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionID = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"

func collect(t *testing.T, w *Watcher, want func(FileEvent) bool) FileEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("event channel closed before expected event")
			}
			if want(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for watcher event")
		}
	}
}

func TestWatcherDetectsCreateAndModify(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "-home-dev-src-app")
	require.NoError(t, os.Mkdir(project, 0o755))

	w, err := New([]string{root})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(project, testSessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","uuid":"u-1"}`+"\n"), 0o644))

	ev := collect(t, w, func(ev FileEvent) bool { return ev.Path == path && ev.Op == OpCreate })
	assert.Equal(t, testSessionID, ev.SessionID)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"user","uuid":"u-2"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	collect(t, w, func(ev FileEvent) bool { return ev.Path == path && ev.Op == OpModify })
}

func TestWatcherDetectsDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, testSessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	w, err := New([]string{root})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	ev := collect(t, w, func(ev FileEvent) bool { return ev.Path == path && ev.Op == OpDelete })
	// The session id survives deletion because it comes from the filename.
	assert.Equal(t, testSessionID, ev.SessionID)
}

func TestWatcherIgnoresNonTranscriptFiles(t *testing.T) {
	root := t.TempDir()

	w, err := New([]string{root})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	jsonlPath := filepath.Join(root, testSessionID+".jsonl")
	require.NoError(t, os.WriteFile(jsonlPath, []byte("{}\n"), 0o644))

	ev := collect(t, w, func(ev FileEvent) bool { return ev.Op == OpCreate })
	assert.Equal(t, jsonlPath, ev.Path)
}

func TestWatcherPicksUpNewProjectDirectory(t *testing.T) {
	root := t.TempDir()

	w, err := New([]string{root})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	project := filepath.Join(root, "-home-dev-src-newproj")
	require.NoError(t, os.Mkdir(project, 0o755))

	// Give the loop a moment to register the new directory watch.
	path := filepath.Join(project, testSessionID+".jsonl")
	assert.Eventually(t, func() bool {
		os.Remove(path)
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			return false
		}
		select {
		case ev := <-w.Events():
			return ev.Path == path && ev.Op == OpCreate
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherStopClosesChannel(t *testing.T) {
	w, err := New([]string{t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after Stop")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		op     fsnotify.Op
		want   Op
		wantOK bool
	}{
		{name: "create", op: fsnotify.Create, want: OpCreate, wantOK: true},
		{name: "write", op: fsnotify.Write, want: OpModify, wantOK: true},
		{name: "rename", op: fsnotify.Rename, want: OpRename, wantOK: true},
		{name: "remove", op: fsnotify.Remove, want: OpDelete, wantOK: true},
		{name: "chmod dropped", op: fsnotify.Chmod, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classify(tt.op)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

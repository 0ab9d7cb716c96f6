package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/recorder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatched(t *testing.T) (*recorder.Recorder, string) {
	t.Helper()
	root := t.TempDir()
	rec := recorder.New(testLogger())

	w := New(rec, root, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return rec, root
}

func TestWatcherFeedsRecorder(t *testing.T) {
	rec, root := startWatched(t)
	_, err := rec.Start("watched session", recorder.StartOptions{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	// The change lands in the session's path sets as soon as the event
	// is delivered, visible through a snapshot's outcome.
	require.Eventually(t, func() bool {
		doc, err := rec.Snapshot(nil)
		if err != nil {
			return false
		}
		return doc.Outcome.FilesCreated+doc.Outcome.FilesModified > 0
	}, 3*time.Second, 50*time.Millisecond)

	// Flushing at the next prompt turns the buffer into one action step.
	require.NoError(t, rec.AddPrompt("what changed so far", nil, ""))
	doc, err := rec.Stop()
	require.NoError(t, err)

	var actions int
	for _, s := range doc.Steps {
		if s.Type == model.StepAction {
			actions++
			assert.Contains(t, append(s.Created, s.Modified...), "main.go")
		}
	}
	assert.Equal(t, 1, actions)
}

func TestWatcherIgnoresExcludedDirs(t *testing.T) {
	rec, root := startWatched(t)
	_, err := rec.Start("s", recorder.StartOptions{})
	require.NoError(t, err)

	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref"), 0o644))

	time.Sleep(300 * time.Millisecond)
	doc, err := rec.Stop()
	require.NoError(t, err)
	for _, s := range doc.Steps {
		assert.NotEqual(t, model.StepAction, s.Type)
	}
}

func TestWatcherIdleRecorderIsFine(t *testing.T) {
	_, root := startWatched(t)

	// No session: events are dropped without errors or panics.
	require.NoError(t, os.WriteFile(filepath.Join(root, "drop.go"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	rec, root := startWatched(t)
	_, err := rec.Start("s", recorder.StartOptions{})
	require.NoError(t, err)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg\n"), 0o644))

	require.Eventually(t, func() bool {
		doc, err := rec.Snapshot(nil)
		if err != nil {
			return false
		}
		return doc.Outcome.FilesCreated > 0
	}, 3*time.Second, 50*time.Millisecond)
}

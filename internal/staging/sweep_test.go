package staging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agedDir(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(path, 0755))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func TestSweepRemovesAgedDirectories(t *testing.T) {
	root := t.TempDir()
	aged := agedDir(t, root, "batch-old", 48*time.Hour)
	fresh := agedDir(t, root, "batch-new", time.Minute)

	s := NewSweeper(root, 24*time.Hour, time.Hour, false, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	removed := s.SweepOnce(context.Background())

	assert.Equal(t, 1, removed)
	_, err := os.Stat(aged)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSweepSkipsActiveJobs(t *testing.T) {
	root := t.TempDir()
	aged := agedDir(t, root, "batch-running", 48*time.Hour)

	isActive := func(batchID string) bool { return batchID == "batch-running" }
	s := NewSweeper(root, 24*time.Hour, time.Hour, false, isActive, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, 0, s.SweepOnce(context.Background()))
	_, err := os.Stat(aged)
	assert.NoError(t, err)
}

func TestSweepDryRun(t *testing.T) {
	root := t.TempDir()
	aged := agedDir(t, root, "batch-old", 48*time.Hour)

	s := NewSweeper(root, 24*time.Hour, time.Hour, true, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, 0, s.SweepOnce(context.Background()))
	_, err := os.Stat(aged)
	assert.NoError(t, err)
}

func TestSweepStartStop(t *testing.T) {
	root := t.TempDir()
	agedDir(t, root, "batch-old", 48*time.Hour)

	s := NewSweeper(root, 24*time.Hour, 10*time.Millisecond, false, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(root, "batch-old")); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper never removed the aged directory")
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLocal(t *testing.T, s *Local, country, name, edition, update string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(s.DataRoot(), country, name, edition, update)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for fname, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fname), []byte(content), 0644))
	}
}

func TestLocalSearch(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	seedLocal(t, s, "GB", "GB123456", "3", "0", map[string]string{"GB123456.000": "base"})
	seedLocal(t, s, "GB", "GB123456", "3", "1", map[string]string{"GB123456.001": "upd1"})
	seedLocal(t, s, "GB", "GB123456", "3", "2", map[string]string{"GB123456.002": "upd2"})

	attrs := ProductAttributes{
		Name: "GB123456", CountryCode: "GB", EditionNumber: 3, UpdateNumbers: []int{0, 1},
	}
	batches, err := s.Search(context.Background(), attrs)
	require.NoError(t, err)

	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].UpdateNumber)
	assert.Equal(t, 1, batches[1].UpdateNumber)
	require.Len(t, batches[0].Files, 1)
	assert.Equal(t, filepath.Join("GB", "GB123456", "3", "0", "GB123456.000"), batches[0].Files[0].RelPath)
	assert.Equal(t, int64(4), batches[0].Files[0].Size)
}

func TestLocalSearchUnknownEdition(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), ProductAttributes{
		Name: "GB000000", CountryCode: "GB", EditionNumber: 9,
	})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalDownload(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	seedLocal(t, s, "FR", "FR000001", "1", "0", map[string]string{"FR000001.000": "bonjour"})

	batches, err := s.Search(context.Background(), ProductAttributes{
		Name: "FR000001", CountryCode: "FR", EditionNumber: 1,
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	dest := filepath.Join(t.TempDir(), "nested", "FR000001.000")
	require.NoError(t, s.Download(context.Background(), batches[0].Files[0], dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", string(data))
}

func TestLocalDownloadMissingFile(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = s.Download(context.Background(), FileRef{Key: filepath.Join(s.DataRoot(), "missing")}, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalBatchLifecycle(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	h, err := s.CreateBatch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	status, err := s.GetBatchStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	// Upload out of order; commit must assemble by part number.
	b2, err := s.UploadBlock(ctx, h, 2, []byte("world"))
	require.NoError(t, err)
	b1, err := s.UploadBlock(ctx, h, 1, []byte("hello "))
	require.NoError(t, err)

	require.NoError(t, s.CommitBatch(ctx, h, []BlockRef{b2, b1}))

	status, err = s.GetBatchStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, status)

	data, err := os.ReadFile(h.Key)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.Equal(t, "file://"+h.Key, s.BatchURL(h))
}

func TestLocalBatchStatusFailedAfterAbandon(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	// A handle for a session this store never opened.
	status, err := s.GetBatchStatus(context.Background(), BatchHandle{ID: "gone", Key: filepath.Join(t.TempDir(), "gone.zip")})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestLocalUploadBlockUnknownBatch(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = s.UploadBlock(context.Background(), BatchHandle{ID: "nope"}, 1, []byte("x"))
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestLocalCommitUnknownBlock(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	h, err := s.CreateBatch(ctx)
	require.NoError(t, err)
	_, err = s.UploadBlock(ctx, h, 1, []byte("x"))
	require.NoError(t, err)

	err = s.CommitBatch(ctx, h, []BlockRef{{PartNumber: 7}})
	require.Error(t, err)

	// A failed commit leaves the session open.
	status, err := s.GetBatchStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tidecraft/exchangeset/pkg/checksum"
)

// Local is a filesystem-backed FileStore for development and tests. Source
// files live under data/<country>/<product>/<edition>/<update>/; publish
// batches are assembled under batches/.
type Local struct {
	root string

	mu      sync.Mutex
	batches map[string]*localBatch
}

type localBatch struct {
	dir    string
	blocks map[int32]string // part number -> block file
}

// NewLocal creates a local store rooted at root.
func NewLocal(root string) (*Local, error) {
	for _, dir := range []string{"data", "batches"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return &Local{
		root:    root,
		batches: make(map[string]*localBatch),
	}, nil
}

// DataRoot returns the directory source files are read from.
func (s *Local) DataRoot() string {
	return filepath.Join(s.root, "data")
}

// Search returns one batch descriptor per update directory present for the
// product, ascending by update number.
func (s *Local) Search(ctx context.Context, attrs ProductAttributes) ([]BatchDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	editionDir := filepath.Join(s.DataRoot(), attrs.CountryCode, attrs.Name, strconv.Itoa(attrs.EditionNumber))
	entries, err := os.ReadDir(editionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s edition %d", ErrFileNotFound, attrs.Name, attrs.EditionNumber)
		}
		return nil, err
	}

	wanted := make(map[int]bool, len(attrs.UpdateNumbers))
	for _, u := range attrs.UpdateNumbers {
		wanted[u] = true
	}

	var batches []BatchDescriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		update, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if len(wanted) > 0 && !wanted[update] {
			continue
		}

		updateDir := filepath.Join(editionDir, e.Name())
		files, err := os.ReadDir(updateDir)
		if err != nil {
			return nil, err
		}

		desc := BatchDescriptor{
			ProductName:   attrs.Name,
			EditionNumber: attrs.EditionNumber,
			UpdateNumber:  update,
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return nil, err
			}
			rel := filepath.Join(attrs.CountryCode, attrs.Name, strconv.Itoa(attrs.EditionNumber), e.Name(), f.Name())
			desc.Files = append(desc.Files, FileRef{
				Key:     filepath.Join(updateDir, f.Name()),
				RelPath: rel,
				Size:    info.Size(),
			})
		}
		batches = append(batches, desc)
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].UpdateNumber < batches[j].UpdateNumber })
	return batches, nil
}

// Download copies the referenced file to dest.
func (s *Local) Download(ctx context.Context, ref FileRef, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(ref.Key)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, ref.Key)
		}
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", ref.Key, err)
	}
	return out.Sync()
}

// CreateBatch opens a new batch session.
func (s *Local) CreateBatch(ctx context.Context) (BatchHandle, error) {
	if err := ctx.Err(); err != nil {
		return BatchHandle{}, err
	}

	id := uuid.New().String()
	dir := filepath.Join(s.root, "batches", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BatchHandle{}, fmt.Errorf("creating batch directory: %w", err)
	}

	s.mu.Lock()
	s.batches[id] = &localBatch{dir: dir, blocks: make(map[int32]string)}
	s.mu.Unlock()

	return BatchHandle{ID: id, Key: dir + ".zip"}, nil
}

// UploadBlock writes one block into the batch session.
func (s *Local) UploadBlock(ctx context.Context, h BatchHandle, partNumber int32, data []byte) (BlockRef, error) {
	if err := ctx.Err(); err != nil {
		return BlockRef{}, err
	}

	s.mu.Lock()
	batch, ok := s.batches[h.ID]
	s.mu.Unlock()
	if !ok {
		return BlockRef{}, ErrBatchNotFound
	}

	path := filepath.Join(batch.dir, fmt.Sprintf("block-%05d", partNumber))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return BlockRef{}, fmt.Errorf("writing block %d: %w", partNumber, err)
	}

	s.mu.Lock()
	batch.blocks[partNumber] = path
	s.mu.Unlock()

	return BlockRef{PartNumber: partNumber, ETag: checksum.FromBytes(data).String()}, nil
}

// CommitBatch concatenates the uploaded blocks into the final artifact with
// an atomic rename, then discards the session.
func (s *Local) CommitBatch(ctx context.Context, h BatchHandle, blocks []BlockRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	batch, ok := s.batches[h.ID]
	s.mu.Unlock()
	if !ok {
		return ErrBatchNotFound
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.Key), ".commit-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	sorted := append([]BlockRef(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	for _, ref := range sorted {
		path, ok := batch.blocks[ref.PartNumber]
		if !ok {
			return fmt.Errorf("commit references unknown block %d", ref.PartNumber)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tmp, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("assembling block %d: %w", ref.PartNumber, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing batch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, h.Key); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.mu.Lock()
	delete(s.batches, h.ID)
	s.mu.Unlock()
	os.RemoveAll(batch.dir)

	return nil
}

// GetBatchStatus reports committed once the final artifact exists, pending
// while the session is still open, failed otherwise.
func (s *Local) GetBatchStatus(ctx context.Context, h BatchHandle) (BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := os.Stat(h.Key); err == nil {
		return StatusCommitted, nil
	}

	s.mu.Lock()
	_, open := s.batches[h.ID]
	s.mu.Unlock()
	if open {
		return StatusPending, nil
	}
	return StatusFailed, nil
}

// BatchURL returns the filesystem location of the committed artifact.
func (s *Local) BatchURL(h BatchHandle) string {
	return "file://" + h.Key
}

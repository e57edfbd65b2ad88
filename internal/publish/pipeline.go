package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidecraft/exchangeset/internal/partition"
	"github.com/tidecraft/exchangeset/internal/staging"
	"github.com/tidecraft/exchangeset/internal/store"
)

// Errors
var (
	ErrPublishFailed = errors.New("publish failed")
	ErrCommitTimeout = errors.New("commit wait budget exceeded")
)

// CommitStatus is the terminal view of one volume's publish.
type CommitStatus string

const (
	CommitPending   CommitStatus = "pending"
	CommitCommitted CommitStatus = "committed"
	CommitFailed    CommitStatus = "failed"
	CommitTimedOut  CommitStatus = "timedOut"
)

// Artifact is one published volume.
type Artifact struct {
	VolumeName string
	ZipPath    string
	Handle     store.BatchHandle
	Status     CommitStatus
}

// Pipeline zips, uploads and commits volume folders. A job succeeds only if
// every volume reaches committed; failed volumes' remote batches are
// abandoned, not cleaned up synchronously.
type Pipeline struct {
	Store        store.FileStore
	BlockSize    int64
	PollInterval time.Duration
	WaitBudget   time.Duration
	Workers      int
	Logger       *slog.Logger
}

// Publish packages and publishes every volume, bounded-parallel across
// volumes. Each volume's folder must be fully built (ancillary files
// included) before Publish is called. Returned artifacts are in volume
// order; any volume's terminal failure fails the whole publish.
func (p *Pipeline) Publish(ctx context.Context, tree staging.Tree, volumes []partition.Volume) ([]Artifact, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}

	artifacts := make([]Artifact, len(volumes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, vol := range volumes {
		i, vol := i, vol
		g.Go(func() error {
			art, err := p.publishVolume(ctx, tree, vol)
			artifacts[i] = art
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return artifacts, err
	}
	return artifacts, nil
}

func (p *Pipeline) publishVolume(ctx context.Context, tree staging.Tree, vol partition.Volume) (Artifact, error) {
	art := Artifact{
		VolumeName: vol.Name,
		ZipPath:    filepath.Join(tree.Root(), vol.Name+".zip"),
		Status:     CommitPending,
	}

	if err := ZipFolder(tree.VolumeDir(vol.Name), art.ZipPath); err != nil {
		art.Status = CommitFailed
		return art, fmt.Errorf("%w: volume %s: %v", ErrPublishFailed, vol.Name, err)
	}

	handle, err := p.Store.CreateBatch(ctx)
	if err != nil {
		art.Status = CommitFailed
		return art, fmt.Errorf("%w: volume %s: %v", ErrPublishFailed, vol.Name, err)
	}
	art.Handle = handle

	blocks, err := p.uploadBlocks(ctx, handle, art.ZipPath)
	if err != nil {
		art.Status = CommitFailed
		return art, fmt.Errorf("%w: volume %s: %v", ErrPublishFailed, vol.Name, err)
	}

	if err := p.Store.CommitBatch(ctx, handle, blocks); err != nil {
		art.Status = CommitFailed
		return art, fmt.Errorf("%w: volume %s: %v", ErrPublishFailed, vol.Name, err)
	}

	status, err := p.awaitCommit(ctx, handle)
	art.Status = status
	if err != nil {
		return art, fmt.Errorf("volume %s: %w", vol.Name, err)
	}

	p.Logger.InfoContext(ctx, "volume committed",
		"volume", vol.Name, "batch", handle.ID, "blocks", len(blocks))
	return art, nil
}

// uploadBlocks streams the zip to the store in fixed-size blocks.
func (p *Pipeline) uploadBlocks(ctx context.Context, handle store.BatchHandle, zipPath string) ([]store.BlockRef, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	blockSize := p.BlockSize
	if blockSize <= 0 {
		blockSize = 4 * 1024 * 1024
	}

	var blocks []store.BlockRef
	buf := make([]byte, blockSize)
	part := int32(1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ref, uerr := p.Store.UploadBlock(ctx, handle, part, data)
			if uerr != nil {
				return nil, uerr
			}
			blocks = append(blocks, ref)
			part++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(blocks) == 0 {
		// A zip is never empty, but guard the degenerate case: commit
		// protocols reject zero-block batches.
		ref, err := p.Store.UploadBlock(ctx, handle, 1, nil)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, ref)
	}

	return blocks, nil
}

// awaitCommit polls batch status on a fixed interval under the wait budget,
// observing cancellation between polls. Pending → Committed | Failed |
// TimedOut.
func (p *Pipeline) awaitCommit(ctx context.Context, handle store.BatchHandle) (CommitStatus, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	budget := p.WaitBudget
	if budget <= 0 {
		budget = 10 * time.Minute
	}

	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := p.Store.GetBatchStatus(ctx, handle)
		if err != nil {
			return CommitFailed, fmt.Errorf("%w: polling batch %s: %v", ErrPublishFailed, handle.ID, err)
		}
		switch status {
		case store.StatusCommitted:
			return CommitCommitted, nil
		case store.StatusFailed:
			return CommitFailed, fmt.Errorf("%w: batch %s failed on the remote store", ErrPublishFailed, handle.ID)
		}

		if time.Now().After(deadline) {
			return CommitTimedOut, fmt.Errorf("%w: batch %s", ErrCommitTimeout, handle.ID)
		}

		select {
		case <-ctx.Done():
			return CommitFailed, ctx.Err()
		case <-ticker.C:
		}
	}
}

package store

import (
	"context"
	"errors"
)

// BatchStatus is the remote store's view of a publish batch.
type BatchStatus string

const (
	StatusPending   BatchStatus = "pending"
	StatusCommitted BatchStatus = "committed"
	StatusFailed    BatchStatus = "failed"
)

// Errors
var (
	ErrFileNotFound  = errors.New("file not found in store")
	ErrBatchNotFound = errors.New("batch not found")
)

// ProductAttributes identify one product version's file set in the store.
type ProductAttributes struct {
	Name          string
	CountryCode   string
	EditionNumber int
	UpdateNumbers []int
}

// FileRef points at one stored file.
type FileRef struct {
	Key     string // store-native key
	RelPath string // path relative to the data root: country/name/edition/update/file
	Size    int64
}

// BatchDescriptor is one product version's published file batch.
type BatchDescriptor struct {
	ProductName   string
	EditionNumber int
	UpdateNumber  int
	Files         []FileRef
}

// BatchHandle identifies an open publish batch.
type BatchHandle struct {
	ID       string
	Key      string
	UploadID string // implementation detail for multipart-style stores
}

// BlockRef identifies one uploaded block inside a batch.
type BlockRef struct {
	PartNumber int32
	ETag       string
}

// FileStore is the remote file store contract the pipeline consumes. Search
// and Download feed retrieval; the batch operations carry publish.
type FileStore interface {
	Search(ctx context.Context, attrs ProductAttributes) ([]BatchDescriptor, error)
	Download(ctx context.Context, ref FileRef, dest string) error

	CreateBatch(ctx context.Context) (BatchHandle, error)
	UploadBlock(ctx context.Context, h BatchHandle, partNumber int32, data []byte) (BlockRef, error)
	CommitBatch(ctx context.Context, h BatchHandle, blocks []BlockRef) error
	GetBatchStatus(ctx context.Context, h BatchHandle) (BatchStatus, error)

	// BatchURL returns the externally retrievable location of a committed batch.
	BatchURL(h BatchHandle) string
}

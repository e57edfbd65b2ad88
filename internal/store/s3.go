package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
)

// S3 implements FileStore against an S3 bucket. Source files live under
// <prefix>data/<country>/<product>/<edition>/<update>/; publish batches are
// S3 multipart uploads under <prefix>batches/.
type S3 struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3 creates an S3-backed file store. The prefix is optional and will be
// prepended to all keys.
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *S3) dataPrefix() string {
	return s.Prefix + "data/"
}

// Search lists the product's objects and groups them into one batch
// descriptor per update number, ascending.
func (s *S3) Search(ctx context.Context, attrs ProductAttributes) ([]BatchDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keyPrefix := s.dataPrefix() + path.Join(attrs.CountryCode, attrs.Name, strconv.Itoa(attrs.EditionNumber)) + "/"

	wanted := make(map[int]bool, len(attrs.UpdateNumbers))
	for _, u := range attrs.UpdateNumbers {
		wanted[u] = true
	}

	byUpdate := make(map[int]*BatchDescriptor)

	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", keyPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, s.dataPrefix())
			parts := strings.Split(rel, "/")
			if len(parts) != 5 {
				continue
			}
			update, err := strconv.Atoi(parts[3])
			if err != nil {
				continue
			}
			if len(wanted) > 0 && !wanted[update] {
				continue
			}

			desc, ok := byUpdate[update]
			if !ok {
				desc = &BatchDescriptor{
					ProductName:   attrs.Name,
					EditionNumber: attrs.EditionNumber,
					UpdateNumber:  update,
				}
				byUpdate[update] = desc
			}
			desc.Files = append(desc.Files, FileRef{
				Key:     key,
				RelPath: filepath.FromSlash(rel),
				Size:    aws.ToInt64(obj.Size),
			})
		}
	}

	if len(byUpdate) == 0 {
		return nil, fmt.Errorf("%w: %s edition %d", ErrFileNotFound, attrs.Name, attrs.EditionNumber)
	}

	batches := make([]BatchDescriptor, 0, len(byUpdate))
	for _, desc := range byUpdate {
		batches = append(batches, *desc)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].UpdateNumber < batches[j].UpdateNumber })
	return batches, nil
}

// Download retrieves the object and writes it to dest.
func (s *S3) Download(ctx context.Context, ref FileRef, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, ref.Key)
		}
		return fmt.Errorf("get object %s: %w", ref.Key, err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, result.Body); err != nil {
		return fmt.Errorf("download object %s: %w", ref.Key, err)
	}
	return file.Sync()
}

// CreateBatch opens a multipart upload for the batch artifact.
func (s *S3) CreateBatch(ctx context.Context) (BatchHandle, error) {
	if err := ctx.Err(); err != nil {
		return BatchHandle{}, err
	}

	id := uuid.New().String()
	key := s.Prefix + "batches/" + id + ".zip"

	result, err := s.Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return BatchHandle{}, fmt.Errorf("creating batch %s: %w", id, err)
	}

	return BatchHandle{ID: id, Key: key, UploadID: aws.ToString(result.UploadId)}, nil
}

// UploadBlock uploads one block as a multipart part.
func (s *S3) UploadBlock(ctx context.Context, h BatchHandle, partNumber int32, data []byte) (BlockRef, error) {
	if err := ctx.Err(); err != nil {
		return BlockRef{}, err
	}

	result, err := s.Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.Bucket),
		Key:        aws.String(h.Key),
		UploadId:   aws.String(h.UploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return BlockRef{}, fmt.Errorf("uploading block %d of batch %s: %w", partNumber, h.ID, err)
	}

	return BlockRef{PartNumber: partNumber, ETag: aws.ToString(result.ETag)}, nil
}

// CommitBatch completes the multipart upload.
func (s *S3) CommitBatch(ctx context.Context, h BatchHandle, blocks []BlockRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := append([]BlockRef(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	parts := make([]types.CompletedPart, len(sorted))
	for i, ref := range sorted {
		parts[i] = types.CompletedPart{
			PartNumber: aws.Int32(ref.PartNumber),
			ETag:       aws.String(ref.ETag),
		}
	}

	_, err := s.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.Bucket),
		Key:             aws.String(h.Key),
		UploadId:        aws.String(h.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("committing batch %s: %w", h.ID, err)
	}
	return nil
}

// GetBatchStatus reports committed once the artifact object exists, pending
// while the multipart upload is still open, failed otherwise.
func (s *S3) GetBatchStatus(ctx context.Context, h BatchHandle) (BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(h.Key),
	})
	if err == nil {
		return StatusCommitted, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("head batch %s: %w", h.ID, err)
	}

	_, err = s.Client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(s.Bucket),
		Key:      aws.String(h.Key),
		UploadId: aws.String(h.UploadID),
	})
	if err == nil {
		return StatusPending, nil
	}
	return StatusFailed, nil
}

// BatchURL returns the S3 location of the committed artifact.
func (s *S3) BatchURL(h BatchHandle) string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, h.Key)
}

// isNotFound unwraps the assorted shapes S3 "no such key" errors arrive in.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

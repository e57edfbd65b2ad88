package store

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "exchangeset-test"

func startFakeS3(t *testing.T) *s3.Client {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)

	cfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(server.URL)
	})

	_, err = client.CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(testBucket)})
	require.NoError(t, err)
	return client
}

func putObject(t *testing.T, client *s3.Client, key, content string) {
	t.Helper()
	_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader([]byte(content)),
	})
	require.NoError(t, err)
}

func TestS3SearchGroupsByUpdate(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "fss")

	putObject(t, client, "fss/data/GB/GB123456/3/0/GB123456.000", "base")
	putObject(t, client, "fss/data/GB/GB123456/3/0/GB123456.TXT", "meta")
	putObject(t, client, "fss/data/GB/GB123456/3/1/GB123456.001", "update")
	putObject(t, client, "fss/data/GB/GB123456/2/0/GB123456.000", "old edition")

	batches, err := s.Search(context.Background(), ProductAttributes{
		Name: "GB123456", CountryCode: "GB", EditionNumber: 3,
	})
	require.NoError(t, err)

	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].UpdateNumber)
	assert.Len(t, batches[0].Files, 2)
	assert.Equal(t, 1, batches[1].UpdateNumber)
	assert.Len(t, batches[1].Files, 1)
	assert.Equal(t, filepath.Join("GB", "GB123456", "3", "1", "GB123456.001"), batches[1].Files[0].RelPath)
}

func TestS3SearchFiltersUpdates(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "")

	putObject(t, client, "data/GB/GB000001/1/0/GB000001.000", "base")
	putObject(t, client, "data/GB/GB000001/1/1/GB000001.001", "u1")
	putObject(t, client, "data/GB/GB000001/1/2/GB000001.002", "u2")

	batches, err := s.Search(context.Background(), ProductAttributes{
		Name: "GB000001", CountryCode: "GB", EditionNumber: 1, UpdateNumbers: []int{0, 2},
	})
	require.NoError(t, err)

	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].UpdateNumber)
	assert.Equal(t, 2, batches[1].UpdateNumber)
}

func TestS3SearchNotFound(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "")

	_, err := s.Search(context.Background(), ProductAttributes{
		Name: "ZZ000000", CountryCode: "ZZ", EditionNumber: 1,
	})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestS3Download(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "")

	putObject(t, client, "data/FR/FR000001/1/0/FR000001.000", "bonjour")

	dest := filepath.Join(t.TempDir(), "nested", "FR000001.000")
	err := s.Download(context.Background(), FileRef{Key: "data/FR/FR000001/1/0/FR000001.000"}, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", string(data))
}

func TestS3DownloadMissingObject(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "")

	err := s.Download(context.Background(), FileRef{Key: "data/XX/missing"}, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestS3BatchLifecycle(t *testing.T) {
	client := startFakeS3(t)
	s := NewS3(client, testBucket, "fss")
	ctx := context.Background()

	h, err := s.CreateBatch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h.UploadID)
	assert.Contains(t, h.Key, "fss/batches/")

	status, err := s.GetBatchStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	// S3 multipart parts must be at least 5 MiB except the last.
	part1 := bytes.Repeat([]byte("a"), 5*1024*1024)
	b1, err := s.UploadBlock(ctx, h, 1, part1)
	require.NoError(t, err)
	b2, err := s.UploadBlock(ctx, h, 2, []byte("tail"))
	require.NoError(t, err)

	require.NoError(t, s.CommitBatch(ctx, h, []BlockRef{b2, b1}))

	status, err = s.GetBatchStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, status)

	got, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(h.Key),
	})
	require.NoError(t, err)
	defer got.Body.Close()
	assert.Equal(t, int64(len(part1)+4), aws.ToInt64(got.ContentLength))

	assert.Equal(t, "s3://"+testBucket+"/"+h.Key, s.BatchURL(h))
}

// Package storage mirrors published chapter text to S3-compatible object
// storage, so a book can be re-ingested without the database.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"chapterwise/pkg/domain"
)

// ObjectStore is the subset of object storage the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements ObjectStore for MinIO and S3.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and creates the bucket when missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if _, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Archive lays chapters out as books/<book>/chapters/<order>.txt.
type Archive struct {
	objects ObjectStore
}

func NewArchive(objects ObjectStore) *Archive {
	return &Archive{objects: objects}
}

// ChapterKey zero-pads the order so keys list in reading order.
func ChapterKey(bookID string, order int) string {
	return fmt.Sprintf("books/%s/chapters/%04d.txt", url.PathEscape(bookID), order)
}

// SaveChapter writes the chapter title on the first line, then the text.
func (a *Archive) SaveChapter(ctx context.Context, ch domain.Chapter) error {
	body := strings.TrimSpace(ch.Name) + "\n\n" + ch.Content
	return a.objects.Put(ctx, ChapterKey(ch.BookID, ch.Order), strings.NewReader(body), int64(len(body)), "text/plain; charset=utf-8")
}

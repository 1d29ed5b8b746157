package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/contextbank/internal/logger"
)

// Archive stores database snapshots and exported summaries in object
// storage, keeping them out of the live store's retention path.
type Archive struct {
	mc     *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func NewArchive(cfg Config) (*Archive, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "contextbank-archive"
	}

	return &Archive{mc: mc, bucket: bucket}, nil
}

// Init creates the archive bucket if it does not exist.
func (a *Archive) Init(ctx context.Context) error {
	exists, err := a.mc.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}

	if !exists {
		if err := a.mc.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
		logger.Info("archive bucket created", "bucket", a.bucket)
	}

	return nil
}

func (a *Archive) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.mc.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", a.bucket, name, err)
	}

	logger.Debug("archived", "bucket", a.bucket, "name", name, "size", len(data))
	return nil
}

func (a *Archive) Download(ctx context.Context, name string) ([]byte, error) {
	obj, err := a.mc.GetObject(ctx, a.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", a.bucket, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", a.bucket, name, err)
	}

	return data, nil
}

// Healthy checks if the archive backend is reachable.
func (a *Archive) Healthy(ctx context.Context) bool {
	_, err := a.mc.BucketExists(ctx, a.bucket)
	return err == nil
}

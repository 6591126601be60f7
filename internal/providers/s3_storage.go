package providers

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Storage wraps MinIO/S3 access for image reads and result archives.
type S3Storage struct {
	client *minio.Client
}

func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Storage{client: client}, nil
}

func (s *S3Storage) Fetch(ctx context.Context, bucket, key string, limit int64) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(bucket, key, err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		return nil, classifyS3Error(bucket, key, err)
	}
	return readLimited(obj, limit)
}

func (s *S3Storage) Put(ctx context.Context, bucket, key, contentType string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func classifyS3Error(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: s3://%s/%s", ErrImageNotFound, bucket, key)
	}
	return fmt.Errorf("%w: s3://%s/%s: %v", ErrImageUnreadable, bucket, key, err)
}

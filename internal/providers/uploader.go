package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafeObjectPath is returned for object paths that would land outside
// the uploader's root.
var ErrUnsafeObjectPath = errors.New("object path escapes upload root")

// Uploader stores result archives and returns where they landed.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	dst, err := u.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		return "", err
	}
	abs, _ := filepath.Abs(dst)
	return "file://" + abs, nil
}

func (u *localUploader) resolve(objectPath string) (string, error) {
	root, err := filepath.Abs(u.rootDir)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(root, filepath.FromSlash(objectPath))
	rel, err := filepath.Rel(root, dst)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeObjectPath, objectPath)
	}
	return dst, nil
}

type s3Uploader struct {
	storage *S3Storage
	bucket  string
	prefix  string
}

func NewS3Uploader(storage *S3Storage, bucket, prefix string) Uploader {
	return &s3Uploader{storage: storage, bucket: bucket, prefix: prefix}
}

func (u *s3Uploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || clean != "/"+objectPath {
		return "", fmt.Errorf("%w: %q", ErrUnsafeObjectPath, objectPath)
	}
	key := path.Join(u.prefix, objectPath)
	if err := u.storage.Put(ctx, u.bucket, key, contentType, data); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ortaieb/image-checker/pkg/domain"
)

const (
	baseDirPlaceholder = "$image_base_dir/"
	DefaultMaxBytes    = 20 << 20
)

var (
	// ErrImageNotFound means the reference resolved to nothing. The coordinator
	// turns it into a "cannot locate image" rejection.
	ErrImageNotFound = errors.New("image not found")
	// ErrImageUnreadable means the image exists but cannot be used.
	ErrImageUnreadable = errors.New("image unreadable")
	// ErrUnsupportedReference is returned at admission for references this
	// service cannot resolve at all.
	ErrUnsupportedReference = errors.New("unsupported image reference")
)

type Image struct {
	Data     []byte
	MIMEType string
	Source   string
}

type ImageSource interface {
	// Validate checks the reference syntax without touching storage.
	Validate(req domain.ValidationRequest) error
	Load(ctx context.Context, req domain.ValidationRequest) (*Image, error)
}

// ObjectStore fetches objects from remote storage. Implementations return
// ErrImageNotFound for missing objects.
type ObjectStore interface {
	Fetch(ctx context.Context, bucket, key string, limit int64) ([]byte, error)
}

type imageLoader struct {
	baseDir  string
	maxBytes int64
	objects  ObjectStore
}

// NewImageLoader resolves image references against baseDir. objects may be
// nil, in which case s3:// references are rejected.
func NewImageLoader(baseDir string, maxBytes int64, objects ObjectStore) ImageSource {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &imageLoader{baseDir: filepath.Clean(baseDir), maxBytes: maxBytes, objects: objects}
}

type reference struct {
	path   string
	bucket string
	key    string
}

func (l *imageLoader) Validate(req domain.ValidationRequest) error {
	hasPath := req.HasImagePath()
	hasInline := len(req.Image) > 0
	if hasPath == hasInline {
		return fmt.Errorf("%w: exactly one of image-path and image is required", ErrUnsupportedReference)
	}
	if hasInline {
		return nil
	}
	_, err := l.resolve(req.ImagePath)
	return err
}

func (l *imageLoader) Load(ctx context.Context, req domain.ValidationRequest) (*Image, error) {
	if len(req.Image) > 0 {
		if int64(len(req.Image)) > l.maxBytes {
			return nil, fmt.Errorf("%w: inline image exceeds %d bytes", ErrImageUnreadable, l.maxBytes)
		}
		return sniff(req.Image, "inline")
	}
	ref, err := l.resolve(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageNotFound, err)
	}
	if ref.bucket != "" {
		if l.objects == nil {
			return nil, fmt.Errorf("%w: object storage is not configured", ErrImageNotFound)
		}
		data, err := l.objects.Fetch(ctx, ref.bucket, ref.key, l.maxBytes)
		if err != nil {
			return nil, err
		}
		return sniff(data, "s3://"+ref.bucket+"/"+ref.key)
	}
	data, err := l.readFile(ctx, ref.path)
	if err != nil {
		return nil, err
	}
	return sniff(data, ref.path)
}

func (l *imageLoader) resolve(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return reference{}, fmt.Errorf("%w: malformed s3 reference %q", ErrUnsupportedReference, raw)
		}
		if l.objects == nil {
			return reference{}, fmt.Errorf("%w: s3 references require object storage", ErrUnsupportedReference)
		}
		return reference{bucket: u.Host, key: strings.TrimPrefix(u.Path, "/")}, nil
	case strings.HasPrefix(raw, "file://"):
		u, err := url.Parse(raw)
		if err != nil || (u.Host != "" && u.Host != "localhost") || !filepath.IsAbs(u.Path) {
			return reference{}, fmt.Errorf("%w: file URI must be absolute: %q", ErrUnsupportedReference, raw)
		}
		return reference{path: filepath.Clean(u.Path)}, nil
	case strings.Contains(raw, "://"):
		return reference{}, fmt.Errorf("%w: unsupported URI scheme in %q", ErrUnsupportedReference, raw)
	case strings.HasPrefix(raw, baseDirPlaceholder):
		return l.underBase(strings.TrimPrefix(raw, baseDirPlaceholder))
	case filepath.IsAbs(raw):
		return reference{path: filepath.Clean(raw)}, nil
	default:
		return l.underBase(raw)
	}
}

func (l *imageLoader) underBase(rel string) (reference, error) {
	p := filepath.Join(l.baseDir, rel)
	r, err := filepath.Rel(l.baseDir, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return reference{}, fmt.Errorf("%w: %q escapes the image base directory", ErrUnsupportedReference, rel)
	}
	return reference{path: p}, nil
}

func (l *imageLoader) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrImageNotFound, path)
	}
	return readLimited(f, l.maxBytes)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrImageUnreadable, limit)
	}
	return data, nil
}

func sniff(data []byte, source string) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrImageUnreadable, source)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is %s, not an image", ErrImageUnreadable, source, mt.String())
	}
	return &Image{Data: data, MIMEType: mt.String(), Source: source}, nil
}

package storage

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

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const (
	defaultMaxImageBytes  int64 = 5 << 20
	defaultObjectPrefix         = "products/"
	defaultLocalURLPrefix       = "/images"
	imageCacheControl           = "public, max-age=86400"
)

// ErrImageTooLarge is returned when an upload exceeds the configured size limit.
var ErrImageTooLarge = errors.New("storage: image exceeds size limit")

// ImageOption customises an image backend.
type ImageOption func(*imageOptions)

type imageOptions struct {
	newID     func() string
	maxBytes  int64
	prefix    string
	publicURL string
}

// WithIDGenerator overrides the id used to make stored filenames unique.
func WithIDGenerator(fn func() string) ImageOption {
	return func(o *imageOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithMaxImageBytes caps the number of bytes accepted per upload.
func WithMaxImageBytes(n int64) ImageOption {
	return func(o *imageOptions) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithObjectPrefix sets the bucket prefix objects are written under.
func WithObjectPrefix(prefix string) ImageOption {
	return func(o *imageOptions) {
		prefix = strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix == "" {
			o.prefix = ""
			return
		}
		o.prefix = prefix + "/"
	}
}

// WithPublicBaseURL sets the URL prefix returned by PublicURL.
func WithPublicBaseURL(base string) ImageOption {
	return func(o *imageOptions) {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			o.publicURL = base
		}
	}
}

func buildImageOptions(opts []ImageOption) imageOptions {
	o := imageOptions{
		newID:    func() string { return strings.ToLower(ulid.Make().String()) },
		maxBytes: defaultMaxImageBytes,
		prefix:   defaultObjectPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// copyLimited copies at most limit bytes and reports ErrImageTooLarge when body holds more.
func copyLimited(dst io.Writer, body io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(dst, io.LimitReader(body, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrImageTooLarge
	}
	return n, nil
}

// GCSImageStorage stores product images in a Cloud Storage bucket.
type GCSImageStorage struct {
	bucket     *gcs.BucketHandle
	bucketName string
	opts       imageOptions
}

// NewGCSImageStorage constructs a bucket-backed image store.
func NewGCSImageStorage(client *gcs.Client, bucket string, opts ...ImageOption) (*GCSImageStorage, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	o := buildImageOptions(opts)
	if o.publicURL == "" {
		o.publicURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSImageStorage{
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		opts:       o,
	}, nil
}

// SaveImage uploads body and returns the stored filename.
func (s *GCSImageStorage) SaveImage(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	filename, err := BuildImageFilename(s.opts.newID(), name)
	if err != nil {
		return "", err
	}

	// Cancelling the writer context aborts the upload without committing the object.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(s.opts.prefix + filename).NewWriter(writeCtx)
	w.ContentType = contentType
	w.CacheControl = imageCacheControl
	if _, err := copyLimited(w, body, s.opts.maxBytes); err != nil {
		cancel()
		_ = w.Close()
		if errors.Is(err, ErrImageTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("storage: upload %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize %s: %w", filename, err)
	}
	return filename, nil
}

// DeleteImage removes the object. Missing objects are not an error.
func (s *GCSImageStorage) DeleteImage(ctx context.Context, filename string) error {
	filename, err := validateFileName(filename)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(s.opts.prefix + filename).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("storage: delete %s: %w", filename, err)
	}
	return nil
}

// PublicURL returns the public address of a stored image.
func (s *GCSImageStorage) PublicURL(filename string) string {
	return s.opts.publicURL + "/" + s.opts.prefix + url.PathEscape(filename)
}

// LocalImageStorage stores product images in a directory on disk.
type LocalImageStorage struct {
	dir  string
	opts imageOptions
}

// NewLocalImageStorage creates dir if needed and returns a disk-backed image store.
func NewLocalImageStorage(dir string, opts ...ImageOption) (*LocalImageStorage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: local directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	o := buildImageOptions(opts)
	if o.publicURL == "" {
		o.publicURL = defaultLocalURLPrefix
	}
	return &LocalImageStorage{dir: dir, opts: o}, nil
}

// Dir returns the directory images are written to.
func (s *LocalImageStorage) Dir() string {
	return s.dir
}

// SaveImage writes body to a new file and returns its name.
func (s *LocalImageStorage) SaveImage(_ context.Context, name, _ string, body io.Reader) (string, error) {
	filename, err := BuildImageFilename(s.opts.newID(), name)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", filename, err)
	}
	if _, err := copyLimited(f, body, s.opts.maxBytes); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		if errors.Is(err, ErrImageTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("storage: write %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("storage: close %s: %w", filename, err)
	}
	return filename, nil
}

// DeleteImage removes the file. Missing files are not an error.
func (s *LocalImageStorage) DeleteImage(_ context.Context, filename string) error {
	filename, err := validateFileName(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", filename, err)
	}
	return nil
}

// PublicURL returns the path the image is served under.
func (s *LocalImageStorage) PublicURL(filename string) string {
	return s.opts.publicURL + "/" + url.PathEscape(filename)
}

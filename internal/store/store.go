package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrInvalidKey is returned for keys that would escape the output root.
var ErrInvalidKey = errors.New("store: invalid key")

// Writer persists a byte stream under a key.
//
// Write must consume r fully. An existing object at key is replaced; a failed
// write may leave a partial object behind.
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// WriteError wraps a local persistence failure.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Open returns a Writer for location. Locations containing "://" are
// opened as gocloud bucket URLs; anything else is a local directory.
func Open(ctx context.Context, location string) (Writer, error) {
	if strings.Contains(location, "://") {
		bkt, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
		return NewBucketWriter(bkt, true), nil
	}
	return NewDirWriter(location)
}

// DirWriter writes files below a root directory.
type DirWriter struct {
	root string
}

// NewDirWriter creates root (and its parents) and returns a writer for it.
// Keys may not contain directories, so this is the only MkdirAll.
func NewDirWriter(root string) (*DirWriter, error) {
	if root == "" {
		return nil, errors.New("store: output directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirWriter{root: root}, nil
}

// Root returns the output directory.
func (w *DirWriter) Root() string {
	return w.root
}

// Path returns the file path for key.
func (w *DirWriter) Path(key string) string {
	return filepath.Join(w.root, key)
}

// Write copies r into the file for key, truncating any previous content.
func (w *DirWriter) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, &WriteError{Key: key, Err: err}
	}

	f, err := os.Create(w.Path(key))
	if err != nil {
		return 0, &WriteError{Key: key, Err: err}
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return n, &WriteError{Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return n, &WriteError{Key: key, Err: err}
	}
	return n, nil
}

// Exists reports whether a file for key is present.
func (w *DirWriter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(w.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Close is a no-op.
func (w *DirWriter) Close() error {
	return nil
}

// BucketWriter writes objects to a gocloud bucket.
type BucketWriter struct {
	bucket *blob.Bucket
	owned  bool
}

// NewBucketWriter wraps bucket. When owned is true, Close closes the bucket.
func NewBucketWriter(bucket *blob.Bucket, owned bool) *BucketWriter {
	return &BucketWriter{bucket: bucket, owned: owned}
}

// Write streams r into the object for key.
func (w *BucketWriter) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, &WriteError{Key: key, Err: err}
	}

	// Cancelling the writer context before Close discards the upload.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bw, err := w.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return 0, &WriteError{Key: key, Err: err}
	}

	n, err := io.Copy(bw, r)
	if err != nil {
		cancel()
		bw.Close()
		return n, &WriteError{Key: key, Err: err}
	}
	if err := bw.Close(); err != nil {
		return n, &WriteError{Key: key, Err: err}
	}
	return n, nil
}

// Exists reports whether an object for key is present.
func (w *BucketWriter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := w.bucket.Attributes(ctx, key)
	if err == nil {
		return true, nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	}
	return false, err
}

// Close closes the bucket if the writer owns it.
func (w *BucketWriter) Close() error {
	if w.owned {
		return w.bucket.Close()
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// Destination is an export sink. Close commits the written data; Abort
// discards it.
type Destination interface {
	io.WriteCloser
	Abort() error
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("gs uri needs a bucket and an object name: %q", uri)
	}
	return bucket, object, nil
}

// Open returns a Destination for dest.
func Open(ctx context.Context, dest, contentType string) (Destination, error) {
	if strings.HasPrefix(dest, gcsScheme) {
		return openGCS(ctx, dest, contentType)
	}
	return openFile(dest)
}

// fileDest writes to a temp file next to path and renames it on Close.
type fileDest struct {
	*os.File
	path string
}

func openFile(path string) (*fileDest, error) {
	if path == "" {
		return nil, fmt.Errorf("export destination is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return &fileDest{File: f, path: path}, nil
}

func (d *fileDest) Close() error {
	if err := d.File.Close(); err != nil {
		os.Remove(d.Name())
		return err
	}
	if err := os.Rename(d.Name(), d.path); err != nil {
		os.Remove(d.Name())
		return fmt.Errorf("publish export file: %w", err)
	}
	return nil
}

func (d *fileDest) Abort() error {
	d.File.Close()
	return os.Remove(d.Name())
}

// gcsDest streams to a GCS object. The object only appears once Close
// succeeds; cancelling the writer's context discards the upload.
type gcsDest struct {
	client *storage.Client
	w      *storage.Writer
	cancel context.CancelFunc
}

func openGCS(ctx context.Context, uri, contentType string) (*gcsDest, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	wctx, cancel := context.WithCancel(ctx)
	w := client.Bucket(bucket).Object(object).NewWriter(wctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return &gcsDest{client: client, w: w, cancel: cancel}, nil
}

func (d *gcsDest) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d *gcsDest) Close() error {
	defer d.client.Close()
	defer d.cancel()
	if err := d.w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (d *gcsDest) Abort() error {
	d.cancel()
	d.w.Close()
	return d.client.Close()
}

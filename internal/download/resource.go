package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Resource is anything a renderer can hand to the browser as a one-shot download.
type Resource interface {
	// Handle identifies the underlying resource. Two values with the same handle are
	// the same resource as far as token correlation is concerned.
	Handle() string
	// Name is the filename offered to the browser.
	Name() string
	// Open starts a transfer. The caller closes the returned reader.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sizer is implemented by resources that know their length up front.
type Sizer interface {
	Size() (int64, error)
}

// File is a resource backed by a path on the local filesystem.
type File struct {
	path string
}

// NewFile returns a file resource for path. The file is not opened until download.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &File{path: abs}, nil
}

func (f *File) Handle() string { return "file:" + f.path }
func (f *File) Name() string   { return filepath.Base(f.path) }
func (f *File) Path() string   { return f.path }

func (f *File) Open(_ context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *File) Size() (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Blob is an in-memory resource, e.g. a rendered screenshot.
type Blob struct {
	handle string
	name   string
	data   []byte
}

// NewBlob wraps data under a freshly minted handle.
func NewBlob(name string, data []byte) *Blob {
	return &Blob{handle: "blob:" + uuid.NewString(), name: name, data: data}
}

func (b *Blob) Handle() string { return b.handle }
func (b *Blob) Name() string   { return b.name }

func (b *Blob) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *Blob) Size() (int64, error) { return int64(len(b.data)), nil }

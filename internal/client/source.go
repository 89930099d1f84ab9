package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/seanblong/repochat/internal/indexer"
)

// Source is one file to upload.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// ErrNoIndexableFile is returned by ResolveSource for directories that hold
// nothing but skipped files.
var ErrNoIndexableFile = errors.New("no indexable file found")

type fileSource struct{ path string }

// FileSource uploads the file at path under its base name.
func FileSource(path string) Source { return fileSource{path: path} }

func (f fileSource) Name() string                 { return filepath.Base(f.path) }
func (f fileSource) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type bytesSource struct {
	name string
	data []byte
}

// BytesSource uploads data as a file called name.
func BytesSource(name string, data []byte) Source { return bytesSource{name: name, data: data} }

func (b bytesSource) Name() string { return b.name }
func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// ResolveSource turns a local path into a Source. A directory resolves to its
// first indexable regular file in lexical order, since the backend accepts a
// single file per upload.
func ResolveSource(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode().IsRegular() {
		return FileSource(path), nil
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s: not a regular file or directory", path)
	}

	var found string
	errFound := errors.New("found")
	err = godirwalk.Walk(path, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if p != path && indexer.ShouldSkip(relTo(path, p)+"/") {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !de.IsRegular() || indexer.ShouldSkip(relTo(path, p)) {
				return nil
			}
			found = p
			return errFound
		},
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	if found == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoIndexableFile)
	}
	return FileSource(found), nil
}

func relTo(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"whitelistd/internal/config"
)

// FileStore keeps each stream as a file in one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Name() string { return config.StorageFile }

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", name, ErrNotExist)
		}
		return nil, err
	}
	return f, nil
}

// Create writes to a temporary file next to the target and renames it into
// place on Close, so readers never see a partially written stream.
func (s *FileStore) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{file: tmp, target: filepath.Join(s.dir, name)}, nil
}

func (s *FileStore) Close() error { return nil }

type atomicFile struct {
	file   *os.File
	target string
	err    error
	closed bool
}

func (f *atomicFile) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.file.Write(p)
	if err != nil {
		f.err = err
	}
	return n, err
}

func (f *atomicFile) Close() error {
	if f.closed {
		return f.err
	}
	f.closed = true

	name := f.file.Name()
	if f.err == nil {
		f.err = f.file.Sync()
	}
	if err := f.file.Close(); err != nil && f.err == nil {
		f.err = err
	}
	if f.err != nil {
		os.Remove(name)
		return f.err
	}
	if err := os.Chmod(name, 0644); err != nil {
		os.Remove(name)
		f.err = err
		return err
	}
	if err := os.Rename(name, f.target); err != nil {
		os.Remove(name)
		f.err = err
		return err
	}
	return nil
}

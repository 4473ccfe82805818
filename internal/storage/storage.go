// Package storage provides named read and write streams for persisted state.
// A stream written with Create replaces the previous content only when it is
// closed without a prior write error.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"whitelistd/internal/config"
)

// ErrNotExist is returned by Open when the named stream was never written.
var ErrNotExist = errors.New("storage: does not exist")

// Store is a flat namespace of named streams.
type Store interface {
	Name() string
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Close() error
}

// New builds the store selected by cfg.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StorageFile, "":
		return NewFileStore(cfg.Dir), nil
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageEtcd:
		timeout := 5 * time.Second
		if cfg.Etcd.DialTimeout != "" {
			d, err := time.ParseDuration(cfg.Etcd.DialTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid etcd dial timeout: %w", err)
			}
			timeout = d
		}
		return NewEtcdStore(EtcdOptions{
			Endpoints:   cfg.Etcd.Endpoints,
			Prefix:      cfg.Etcd.Prefix,
			DialTimeout: timeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		})
	case config.StorageConsul:
		return NewConsulStore(ConsulOptions{
			Address:    cfg.Consul.Address,
			Prefix:     cfg.Consul.Prefix,
			Token:      cfg.Consul.Token,
			Datacenter: cfg.Consul.Datacenter,
		})
	}
	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("storage: invalid name %q", name)
	}
	return nil
}

// bufferedWriter collects a whole stream in memory and hands it to commit on
// Close. Backends without streaming writes (etcd, Consul, memory) use it.
type bufferedWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
	closed bool
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("storage: write to closed stream")
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.commit(w.buf.Bytes())
}

// MemoryStore keeps streams in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) Name() string { return config.StorageMemory }

func (s *MemoryStore) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.files[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &bufferedWriter{commit: func(data []byte) error {
		s.Put(name, data)
		return nil
	}}, nil
}

// Put replaces a stream's content directly.
func (s *MemoryStore) Put(name string, data []byte) {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.files[name] = cp
	s.mu.Unlock()
}

// Get returns a stream's content and whether it exists.
func (s *MemoryStore) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[name]
	return append([]byte(nil), data...), ok
}

func (s *MemoryStore) Close() error { return nil }

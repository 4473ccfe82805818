package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"whitelistd/internal/config"
)

const etcdOpTimeout = 5 * time.Second

type EtcdOptions struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// EtcdStore keeps each stream as the value of one etcd key under a prefix.
type EtcdStore struct {
	client *clientv3.Client
	kv     clientv3.KV
	prefix string
}

// NewEtcdStore creates a new etcd-backed store
func NewEtcdStore(opts EtcdOptions) (*EtcdStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints not configured")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	cfg := clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	}

	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdStore{client: client, kv: client.KV, prefix: opts.Prefix}, nil
}

func newEtcdStoreWithKV(kv clientv3.KV, prefix string) *EtcdStore {
	return &EtcdStore{kv: kv, prefix: prefix}
}

func (s *EtcdStore) Name() string { return config.StorageEtcd }

func (s *EtcdStore) key(name string) string {
	return path.Join("/", s.prefix, name)
}

func (s *EtcdStore) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()

	key := s.key(name)
	resp, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("open %s: %w", key, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(resp.Kvs[0].Value)), nil
}

func (s *EtcdStore) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	return &bufferedWriter{commit: func(data []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
		defer cancel()

		if _, err := s.kv.Put(ctx, key, string(data)); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
		return nil
	}}, nil
}

func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

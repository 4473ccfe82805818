package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/consul/api"

	"whitelistd/internal/config"
)

type ConsulOptions struct {
	Address    string
	Prefix     string
	Token      string
	Datacenter string
}

// consulKV is the subset of *api.KV the store needs.
type consulKV interface {
	Get(key string, q *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error)
	Put(p *api.KVPair, q *api.WriteOptions) (*api.WriteMeta, error)
}

// ConsulStore keeps each stream as one Consul KV entry under a prefix.
type ConsulStore struct {
	kv     consulKV
	prefix string
}

func NewConsulStore(opts ConsulOptions) (*ConsulStore, error) {
	cfg := api.DefaultConfig()
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	if opts.Datacenter != "" {
		cfg.Datacenter = opts.Datacenter
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulStore{kv: client.KV(), prefix: opts.Prefix}, nil
}

func (s *ConsulStore) Name() string { return config.StorageConsul }

func (s *ConsulStore) key(name string) string {
	prefix := strings.Trim(s.prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (s *ConsulStore) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	pair, _, err := s.kv.Get(key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("open %s: %w", key, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(pair.Value)), nil
}

func (s *ConsulStore) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	return &bufferedWriter{commit: func(data []byte) error {
		if _, err := s.kv.Put(&api.KVPair{Key: key, Value: data}, nil); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
		return nil
	}}, nil
}

// Close is a no-op; the Consul client holds no long-lived connection.
func (s *ConsulStore) Close() error { return nil }

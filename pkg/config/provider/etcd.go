package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd key and watches it with etcd's
// native watch API.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider dials the given etcd endpoints and targets the key at
// opts.Path.
func NewEtcdProvider(opts ProviderConfig) (*EtcdProvider, error) {
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{"127.0.0.1:2379"}
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdProvider{client: client, key: opts.Path}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load fetches the raw value stored at the key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch subscribes to the key via etcd's watch API.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	watchCh := p.client.Watch(ctx, p.key)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if resp.Err() != nil {
					slog.Error("etcd watch error", "key", p.key, "error", resp.Err())
					continue
				}
				if len(resp.Events) == 0 {
					continue
				}
				select {
				case ch <- struct{}{}:
					slog.Debug("etcd key changed", "key", p.key)
				default:
				}
			}
		}
	}()

	return ch, nil
}

// Close releases the etcd client's connections.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)

package provider

import (
	"context"
	"fmt"
	"log/slog"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it via a
// long-polling blocking query.
type ConsulProvider struct {
	client *consulapi.Client
	key    string
}

// NewConsulProvider dials the Consul agent at the first of opts.Endpoints
// (empty uses the client's default, usually 127.0.0.1:8500) and reads the
// KV entry at opts.Path.
func NewConsulProvider(opts ProviderConfig) (*ConsulProvider, error) {
	cfg := consulapi.DefaultConfig()
	if len(opts.Endpoints) > 0 {
		cfg.Address = opts.Endpoints[0]
	}

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{client: client, key: opts.Path}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load fetches the raw value stored at the KV key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch polls the key with Consul's blocking-query mechanism, emitting a
// signal whenever the entry's ModifyIndex advances.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		var lastIndex uint64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			pair, meta, err := p.client.KV().Get(p.key, (&consulapi.QueryOptions{
				WaitIndex: lastIndex,
			}).WithContext(ctx))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("consul watch error", "key", p.key, "error", err)
				continue
			}
			if pair == nil {
				continue
			}

			if lastIndex != 0 && meta.LastIndex != lastIndex {
				select {
				case ch <- struct{}{}:
					slog.Debug("consul key changed", "key", p.key)
				default:
				}
			}
			lastIndex = meta.LastIndex
		}
	}()

	return ch, nil
}

// Close is a no-op: the consul API client holds no persistent resources
// that need releasing.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)

// Package etcd reads operator-published allocator tunables from etcd.
package etcd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/config"
	"github.com/limiquantix/allocator/internal/scheduler"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client.
type Client struct {
	kv     clientv3.KV
	close  func() error
	logger *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		kv:     client,
		close:  client.Close,
		logger: logger.With(zap.String("component", "tunables")),
	}, nil
}

// Close closes the etcd client.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Tunables fetches the override document stored at key.
func (c *Client) Tunables(ctx context.Context, key string) (scheduler.Tunables, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.kv.Get(ctx, key)
	if err != nil {
		return scheduler.Tunables{}, fmt.Errorf("failed to get key: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return scheduler.Tunables{}, ErrKeyNotFound
	}

	t, err := decodeTunables(resp.Kvs[0].Value)
	if err != nil {
		return scheduler.Tunables{}, fmt.Errorf("invalid tunables at %s: %w", key, err)
	}
	c.logger.Debug("Loaded tunables",
		zap.String("key", key),
		zap.Int64("mod_revision", resp.Kvs[0].ModRevision),
	)
	return t, nil
}

// PutTunables stores t at key, replacing any previous document.
func (c *Client) PutTunables(ctx context.Context, key string, t scheduler.Tunables) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal tunables: %w", err)
	}
	if _, err := c.kv.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Apply overlays the tunables at key onto cfg. A missing key leaves cfg
// unchanged. The merged config is validated before it is returned.
func (c *Client) Apply(ctx context.Context, key string, cfg scheduler.Config) (scheduler.Config, error) {
	t, err := c.Tunables(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		c.logger.Info("No tunables published, using configured values", zap.String("key", key))
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	merged := cfg.WithTunables(t)
	if err := merged.Validate(); err != nil {
		return cfg, fmt.Errorf("tunables at %s: %w", key, err)
	}
	c.logger.Info("Applied tunables",
		zap.String("key", key),
		zap.Float64("target_host_utilization", merged.TargetHostUtilization),
		zap.Float64("max_random_score", merged.MaxRandomScore),
	)
	return merged, nil
}

// decodeTunables rejects unknown fields so a misspelled tunable fails loudly
// instead of being ignored.
func decodeTunables(data []byte) (scheduler.Tunables, error) {
	var t scheduler.Tunables
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return scheduler.Tunables{}, err
	}
	return t, nil
}

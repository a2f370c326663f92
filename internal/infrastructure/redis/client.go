package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/homeflow/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultKeyPrefix   = "homeflow"
)

// Sentinel errors for Redis operations.
var (
	ErrDisabled         = errors.New("redis: disabled in configuration")
	ErrConnectionFailed = errors.New("redis: connection failed")
	ErrNotFound         = errors.New("redis: key not found")
)

// Client mirrors device status and active alerts into Redis so display
// panels can read them without touching the engine.
//
// Layout under the key prefix:
//
//	<prefix>:device:<id>   JSON status, one key per device
//	<prefix>:devices       set of mirrored device IDs
//	<prefix>:alerts        hash of alert ID to JSON, active alerts only
type Client struct {
	rdb  *goredis.Client
	keys Keys
}

// Keys builds the mirror key names.
type Keys struct {
	Prefix string
}

// Device is the key holding one device's status.
func (k Keys) Device(id string) string { return k.Prefix + ":device:" + id }

// Devices is the set of mirrored device IDs.
func (k Keys) Devices() string { return k.Prefix + ":devices" }

// Alerts is the hash of active alerts.
func (k Keys) Alerts() string { return k.Prefix + ":alerts" }

// Connect opens a client and pings the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Client{rdb: rdb, keys: Keys{Prefix: prefix}}, nil
}

// Keys returns the key builder in use.
func (c *Client) Keys() Keys { return c.keys }

// Close closes the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// SetDevice stores a device's status and adds it to the device set.
func (c *Client) SetDevice(ctx context.Context, id string, status []byte) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, c.keys.Device(id), status, 0)
		pipe.SAdd(ctx, c.keys.Devices(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirroring device %s: %w", id, err)
	}
	return nil
}

// Device returns the mirrored status of one device.
func (c *Client) Device(ctx context.Context, id string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, c.keys.Device(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading device %s: %w", id, err)
	}
	return data, nil
}

// DeviceIDs returns the IDs of every mirrored device.
func (c *Client) DeviceIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, c.keys.Devices()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return ids, nil
}

// RemoveDevice drops a device from the mirror.
func (c *Client) RemoveDevice(ctx context.Context, id string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, c.keys.Device(id))
		pipe.SRem(ctx, c.keys.Devices(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing device %s: %w", id, err)
	}
	return nil
}

// SetAlert stores an active alert.
func (c *Client) SetAlert(ctx context.Context, id string, alert []byte) error {
	if err := c.rdb.HSet(ctx, c.keys.Alerts(), id, alert).Err(); err != nil {
		return fmt.Errorf("mirroring alert %s: %w", id, err)
	}
	return nil
}

// ClearAlert removes an alert that is no longer active.
func (c *Client) ClearAlert(ctx context.Context, id string) error {
	if err := c.rdb.HDel(ctx, c.keys.Alerts(), id).Err(); err != nil {
		return fmt.Errorf("clearing alert %s: %w", id, err)
	}
	return nil
}

// ActiveAlerts returns the mirrored alerts keyed by ID.
func (c *Client) ActiveAlerts(ctx context.Context) (map[string]string, error) {
	out, err := c.rdb.HGetAll(ctx, c.keys.Alerts()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return out, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON stores JSON-encoded values in Redis under a common prefix.
// A nil *JSON or one without a client behaves as an always-empty cache.
type JSON struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewJSON constructs a cache helper.
func NewJSON(client *redis.Client, prefix string, ttl time.Duration) *JSON {
	return &JSON{client: client, prefix: prefix, ttl: ttl}
}

func (c *JSON) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get unmarshals the cached payload into dst. It reports whether the key existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v with the configured TTL.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Delete drops key.
func (c *JSON) Delete(ctx context.Context, key string) error {
	if !c.enabled() || key == "" {
		return nil
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}

// KeyDoc returns the key for an ERP document.
func KeyDoc(doctype, name string) string {
	return "doc:" + strings.ReplaceAll(strings.ToLower(doctype), " ", "_") + ":" + url.PathEscape(name)
}

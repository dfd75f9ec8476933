// Package cache keeps successful vulnerability lookups for a bounded time so
// repeated scans of the same base image skip the network.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cockroachdb/errors"

	"github.com/project-copacetic/basescan/internal/vuln"
)

// Key identifies one lookup.
type Key struct {
	Source    string
	Resolver  string
	Platform  string
	Reference string
}

func (k Key) String() string {
	return strings.Join([]string{k.Source, k.Resolver, k.Platform, k.Reference}, "|")
}

// Entry is a cached lookup result.
type Entry struct {
	Digest          string               `json:"digest,omitempty"`
	Vulnerabilities []vuln.Vulnerability `json:"vulnerabilities"`
	StoredAt        time.Time            `json:"storedAt"`
}

// Cache is safe for concurrent use.
type Cache struct {
	store *bigcache.BigCache
	ttl   time.Duration
	now   func() time.Time
}

// New creates a cache whose entries expire after ttl.
func New(ctx context.Context, ttl time.Duration) (*Cache, error) {
	config := bigcache.DefaultConfig(ttl)
	config.Shards = 16
	config.MaxEntriesInWindow = 1024
	config.MaxEntrySize = 4096
	config.CleanWindow = ttl
	config.Verbose = false

	store, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create result cache")
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}, nil
}

// Get returns the entry for key when present and not older than the TTL.
func (c *Cache) Get(key Key) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.store.Get(key.String())
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		_ = c.store.Delete(key.String())
		return nil, false
	}
	return &entry, true
}

// Set stores a successful lookup. Failed lookups must not be cached.
func (c *Cache) Set(key Key, digest string, vulns []vuln.Vulnerability) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(Entry{Digest: digest, Vulnerabilities: vulns, StoredAt: c.now()})
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	return errors.Wrap(c.store.Set(key.String(), data), "failed to store cache entry")
}

// Invalidate drops every entry for reference regardless of source, resolver
// or platform, and returns how many were removed.
func (c *Cache) Invalidate(reference string) int {
	if c == nil {
		return 0
	}
	suffix := "|" + reference
	var keys []string
	it := c.store.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasSuffix(info.Key(), suffix) {
			keys = append(keys, info.Key())
		}
	}
	for _, k := range keys {
		_ = c.store.Delete(k)
	}
	return len(keys)
}

// Reset drops every entry.
func (c *Cache) Reset() error {
	if c == nil {
		return nil
	}
	return c.store.Reset()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.Len()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.store.Close()
}

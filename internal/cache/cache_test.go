package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-copacetic/basescan/internal/vuln"
)

func newCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(context.Background(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func key(ref, platform string) Key {
	return Key{Source: "quay", Resolver: "manifest", Platform: platform, Reference: ref}
}

func TestCache_SetGet(t *testing.T) {
	c := newCache(t, time.Minute)
	vulns := []vuln.Vulnerability{{ID: "CVE-1", Severity: vuln.High}}

	_, ok := c.Get(key("quay.io/org/app:1.0", "linux/amd64"))
	assert.False(t, ok)

	require.NoError(t, c.Set(key("quay.io/org/app:1.0", "linux/amd64"), "sha256:abc", vulns))

	entry, ok := c.Get(key("quay.io/org/app:1.0", "linux/amd64"))
	require.True(t, ok)
	assert.Equal(t, "sha256:abc", entry.Digest)
	assert.Equal(t, vulns, entry.Vulnerabilities)

	_, ok = c.Get(key("quay.io/org/app:1.0", "linux/arm64"))
	assert.False(t, ok, "platform is part of the key")
}

func TestCache_Expires(t *testing.T) {
	c := newCache(t, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(key("quay.io/org/app:1.0", "linux/amd64"), "", nil))
	_, ok := c.Get(key("quay.io/org/app:1.0", "linux/amd64"))
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(key("quay.io/org/app:1.0", "linux/amd64"))
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c := newCache(t, time.Minute)
	require.NoError(t, c.Set(key("quay.io/org/app:1.0", "linux/amd64"), "", nil))
	require.NoError(t, c.Set(key("quay.io/org/app:1.0", "linux/arm64"), "", nil))
	require.NoError(t, c.Set(key("quay.io/org/other:1.0", "linux/amd64"), "", nil))

	assert.Equal(t, 2, c.Invalidate("quay.io/org/app:1.0"))
	_, ok := c.Get(key("quay.io/org/app:1.0", "linux/amd64"))
	assert.False(t, ok)
	_, ok = c.Get(key("quay.io/org/other:1.0", "linux/amd64"))
	assert.True(t, ok)

	require.NoError(t, c.Reset())
	assert.Equal(t, 0, c.Len())
}

func TestCache_Nil(t *testing.T) {
	var c *Cache
	_, ok := c.Get(key("a", "b"))
	assert.False(t, ok)
	assert.NoError(t, c.Set(key("a", "b"), "", nil))
	assert.Zero(t, c.Invalidate("a"))
	assert.NoError(t, c.Reset())
	assert.NoError(t, c.Close())
}

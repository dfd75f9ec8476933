package resolver

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/project-copacetic/basescan/internal/errors"
)

var (
	amd64 = v1.Platform{OS: "linux", Architecture: "amd64"}
	s390x = v1.Platform{OS: "linux", Architecture: "s390x"}
)

type testRegistry struct {
	host      string
	amd64     string
	arm64     string
	single    string
	indexHash string
}

func newTestRegistry(t *testing.T) testRegistry {
	t.Helper()
	server := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	amdImg, err := random.Image(256, 1)
	require.NoError(t, err)
	armImg, err := random.Image(256, 1)
	require.NoError(t, err)

	index := mutate.AppendManifests(empty.Index,
		mutate.IndexAddendum{Add: amdImg, Descriptor: v1.Descriptor{Platform: &amd64}},
		mutate.IndexAddendum{Add: armImg, Descriptor: v1.Descriptor{Platform: &v1.Platform{OS: "linux", Architecture: "arm64", Variant: "v8"}}},
	)
	ref, err := name.ParseReference(u.Host+"/org/app:1.0", name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.WriteIndex(ref, index))

	single, err := name.ParseReference(u.Host+"/org/app:single", name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(single, amdImg))

	digest := func(d interface{ Digest() (v1.Hash, error) }) string {
		h, err := d.Digest()
		require.NoError(t, err)
		return h.String()
	}
	return testRegistry{
		host:      u.Host,
		amd64:     digest(amdImg),
		arm64:     digest(armImg),
		single:    digest(amdImg),
		indexHash: digest(index),
	}
}

func TestRegistryResolver_SelectsPlatform(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewRegistryResolver(arm64, WithInsecure())

	digest, err := r.Resolve(context.Background(), mustParse(t, reg.host+"/org/app:1.0"))
	require.NoError(t, err)
	assert.Equal(t, &Digest{Repository: "org/app", Digest: reg.arm64, Platform: "linux/arm64"}, digest)
	assert.Equal(t, "registry", r.Name())
}

func TestRegistryResolver_PinnedIndexDigest(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewRegistryResolver(amd64, WithInsecure())

	digest, err := r.Resolve(context.Background(), mustParse(t, reg.host+"/org/app@"+reg.indexHash))
	require.NoError(t, err)
	assert.Equal(t, reg.amd64, digest.Digest)
}

func TestRegistryResolver_SingleImage(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewRegistryResolver(s390x, WithInsecure())

	digest, err := r.Resolve(context.Background(), mustParse(t, reg.host+"/org/app:single"))
	require.NoError(t, err)
	assert.Equal(t, reg.single, digest.Digest)
}

func TestRegistryResolver_NoMatchingPlatform(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewRegistryResolver(s390x, WithInsecure())

	_, err := r.Resolve(context.Background(), mustParse(t, reg.host+"/org/app:1.0"))
	require.Error(t, err)
	assert.True(t, berrors.IsNoMatchingPlatform(err))
}

func TestRegistryResolver_NotFound(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewRegistryResolver(amd64, WithInsecure())

	_, err := r.Resolve(context.Background(), mustParse(t, reg.host+"/org/missing:1.0"))
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.NotFoundError))
	assert.Contains(t, err.Error(), "404")
}

package docker

import (
	"testing"

	"github.com/docker/docker/api/types/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAuth_NoToken(t *testing.T) {
	auth := &TokenAuth{Host: "quay.io"}
	encoded, err := auth.RegistryAuth("quay.io/org/app:1.0")
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestRegistryAuth_HostMismatch(t *testing.T) {
	auth := &TokenAuth{Host: "quay.io", Token: "secret"}
	encoded, err := auth.RegistryAuth("docker.io/library/alpine:3.19")
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestRegistryAuth_Encodes(t *testing.T) {
	auth := &TokenAuth{Host: "Quay.io", Token: "secret"}
	encoded, err := auth.RegistryAuth("quay.io/org/app:1.0")
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := registry.DecodeAuthConfig(encoded)
	require.NoError(t, err)
	assert.Equal(t, "_token", decoded.Username)
	assert.Equal(t, "secret", decoded.Password)
	assert.Equal(t, "Quay.io", decoded.ServerAddress)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_TOKEN", "tok")
	t.Setenv("REGISTRY_HOST", "quay.io")

	auth := FromEnv()
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "quay.io", auth.Host)
}

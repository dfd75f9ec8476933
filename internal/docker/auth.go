package docker

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types/registry"
)

// Auth supplies the encoded X-Registry-Auth header for image pulls.
type Auth interface {
	RegistryAuth(image string) (string, error)
}

// TokenAuth authenticates pulls with a registry token. An empty Host applies
// the token to every registry.
type TokenAuth struct {
	Host  string
	Token string
}

// FromEnv reads the token setup from the environment:
// - REGISTRY_TOKEN: The authentication token
// - REGISTRY_HOST: The registry hostname (optional)
func FromEnv() *TokenAuth {
	return &TokenAuth{
		Host:  os.Getenv("REGISTRY_HOST"),
		Token: os.Getenv("REGISTRY_TOKEN"),
	}
}

// RegistryAuth returns the base64 auth config for image, or "" when no token
// applies to it. Pulls without auth are not an error.
func (a *TokenAuth) RegistryAuth(image string) (string, error) {
	if a == nil || a.Token == "" {
		return "", nil
	}
	if a.Host != "" && !strings.HasPrefix(strings.ToLower(image), strings.ToLower(a.Host)+"/") {
		return "", nil
	}

	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      "_token",
		Password:      a.Token,
		ServerAddress: a.Host,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode registry auth: %w", err)
	}
	return encoded, nil
}

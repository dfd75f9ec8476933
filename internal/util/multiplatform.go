// Package multiplatform selects platform-specific manifests out of manifest lists.
package multiplatform

import (
	"fmt"
	"runtime"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// HostPlatform returns the platform of the machine running basescan.
func HostPlatform() v1.Platform {
	return v1.Platform{OS: runtime.GOOS, Architecture: runtime.GOARCH}
}

// ParsePlatform parses "os/arch[/variant]". An empty string yields the host platform.
func ParsePlatform(platform string) (v1.Platform, error) {
	if strings.TrimSpace(platform) == "" {
		return HostPlatform(), nil
	}
	p, err := v1.ParsePlatform(platform)
	if err != nil {
		return v1.Platform{}, fmt.Errorf("failed to parse platform %q: %w", platform, err)
	}
	return *p, nil
}

// FormatPlatform renders a platform the way docker does: os/arch[/variant].
func FormatPlatform(os, arch, variant string) string {
	platform := fmt.Sprintf("%s/%s", os, arch)
	if variant != "" {
		platform = fmt.Sprintf("%s/%s", platform, variant)
	}
	return platform
}

// IsManifestListMediaType checks if the media type indicates a manifest list
func IsManifestListMediaType(mediaType string) bool {
	return types.MediaType(mediaType).IsIndex()
}

// SelectManifest returns the manifest list entry matching want. Entries with
// an unknown OS or architecture (attestations) are ignored.
func SelectManifest(index *v1.IndexManifest, want v1.Platform) (*v1.Descriptor, bool) {
	if index == nil {
		return nil, false
	}
	for i := range index.Manifests {
		desc := &index.Manifests[i]
		if desc.Platform == nil {
			continue
		}
		if desc.Platform.OS == "unknown" || desc.Platform.Architecture == "unknown" {
			continue
		}
		if matches(*desc.Platform, want) {
			return desc, true
		}
	}
	return nil, false
}

// Platforms lists the os/arch[/variant] strings present in a manifest list.
func Platforms(index *v1.IndexManifest) []string {
	if index == nil {
		return nil
	}
	var platforms []string
	for _, desc := range index.Manifests {
		if desc.Platform == nil || desc.Platform.OS == "" || desc.Platform.Architecture == "" {
			continue
		}
		if desc.Platform.OS == "unknown" || desc.Platform.Architecture == "unknown" {
			continue
		}
		platforms = append(platforms, FormatPlatform(desc.Platform.OS, desc.Platform.Architecture, desc.Platform.Variant))
	}
	return platforms
}

// matches reports whether have satisfies want. A want without a variant
// accepts any variant, except that arm64 defaults to v8.
func matches(have, want v1.Platform) bool {
	if have.OS != want.OS || have.Architecture != want.Architecture {
		return false
	}
	if want.Variant == "" {
		return true
	}
	if have.Variant == want.Variant {
		return true
	}
	// linux/arm64 and linux/arm64/v8 name the same platform
	return want.Architecture == "arm64" && normalizeArm64(have.Variant) == normalizeArm64(want.Variant)
}

func normalizeArm64(variant string) string {
	if variant == "" {
		return "v8"
	}
	return variant
}

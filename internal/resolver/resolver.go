// Package resolver turns an image reference into the content digest of the
// image for the target platform.
package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/imageref"
	"github.com/project-copacetic/basescan/internal/quay"
	multiplatform "github.com/project-copacetic/basescan/internal/util"
)

// Digest is a resolved image: the repository path within its registry, the
// content digest and the platform the digest was selected for.
type Digest struct {
	Repository string
	Digest     string
	Platform   string
}

type Resolver interface {
	Name() string
	Resolve(ctx context.Context, ref imageref.Reference) (*Digest, error)
}

func tagOrLatest(ref imageref.Reference) string {
	if ref.Tag == "" {
		return "latest"
	}
	return ref.Tag
}

// selectPlatform picks the index entry for want, or fails with
// ErrNoMatchingPlatform listing what the index offers.
func selectPlatform(image string, index *v1.IndexManifest, want v1.Platform) (string, error) {
	desc, ok := multiplatform.SelectManifest(index, want)
	if !ok {
		available := strings.Join(multiplatform.Platforms(index), ", ")
		cause := errors.Wrapf(berrors.ErrNoMatchingPlatform, "want %s, have [%s]",
			multiplatform.FormatPlatform(want.OS, want.Architecture, want.Variant), available)
		return "", berrors.NewResolutionError("select platform", image, cause)
	}
	return desc.Digest.String(), nil
}

// narrow looks candidate up in Quay and, when it names a manifest list,
// returns the child digest for platform. Other manifests are returned as is.
func narrow(ctx context.Context, client *quay.Client, repo, image, candidate string, platform v1.Platform) (string, error) {
	manifest, err := client.Manifest(ctx, repo, candidate)
	if err != nil {
		return "", err
	}
	if !manifest.IsManifestList {
		return candidate, nil
	}
	index, err := v1.ParseIndexManifest(strings.NewReader(manifest.ManifestData))
	if err != nil {
		return "", berrors.NewResolutionError("parse manifest list", image, err)
	}
	return selectPlatform(image, index, platform)
}

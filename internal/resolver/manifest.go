package resolver

import (
	"context"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/project-copacetic/basescan/internal/imageref"
	"github.com/project-copacetic/basescan/internal/quay"
	multiplatform "github.com/project-copacetic/basescan/internal/util"
)

// ManifestResolver resolves through the Quay tag and manifest APIs without
// touching the local daemon.
type ManifestResolver struct {
	client   *quay.Client
	platform v1.Platform
}

func NewManifestResolver(client *quay.Client, platform v1.Platform) *ManifestResolver {
	return &ManifestResolver{client: client, platform: platform}
}

func (r *ManifestResolver) Name() string { return "manifest" }

// Resolve uses the reference digest when one is pinned, otherwise the active
// tag's manifest digest. Manifest lists are narrowed to the target platform.
func (r *ManifestResolver) Resolve(ctx context.Context, ref imageref.Reference) (*Digest, error) {
	repo := ref.Path()

	candidate := ref.Digest
	if candidate == "" {
		tag, err := r.client.ActiveTag(ctx, repo, tagOrLatest(ref))
		if err != nil {
			return nil, err
		}
		candidate = tag.ManifestDigest
	}

	digest, err := narrow(ctx, r.client, repo, ref.Raw, candidate, r.platform)
	if err != nil {
		return nil, err
	}
	platform := multiplatform.FormatPlatform(r.platform.OS, r.platform.Architecture, r.platform.Variant)
	return &Digest{Repository: repo, Digest: digest, Platform: platform}, nil
}

package resolver

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/imageref"
	multiplatform "github.com/project-copacetic/basescan/internal/util"
)

// RegistryResolver reads manifests straight from the OCI distribution API of
// the image's registry.
type RegistryResolver struct {
	platform   v1.Platform
	nameOpts   []name.Option
	remoteOpts []remote.Option
}

type RegistryOption func(*RegistryResolver)

// WithInsecure allows plain HTTP registries.
func WithInsecure() RegistryOption {
	return func(r *RegistryResolver) { r.nameOpts = append(r.nameOpts, name.Insecure) }
}

func WithRemoteOptions(opts ...remote.Option) RegistryOption {
	return func(r *RegistryResolver) { r.remoteOpts = append(r.remoteOpts, opts...) }
}

func NewRegistryResolver(platform v1.Platform, opts ...RegistryOption) *RegistryResolver {
	r := &RegistryResolver{
		platform:   platform,
		remoteOpts: []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RegistryResolver) Name() string { return "registry" }

func (r *RegistryResolver) Resolve(ctx context.Context, ref imageref.Reference) (*Digest, error) {
	raw := ref.Name() + ":" + tagOrLatest(ref)
	if ref.Digest != "" {
		raw = ref.Name() + "@" + ref.Digest
	}
	nref, err := name.ParseReference(raw, r.nameOpts...)
	if err != nil {
		return nil, berrors.NewValidationError("parse reference", ref.Raw, err)
	}

	opts := append([]remote.Option{remote.WithContext(ctx)}, r.remoteOpts...)
	desc, err := remote.Get(nref, opts...)
	if err != nil {
		return nil, classify("fetch manifest", ref.Raw, err)
	}

	platform := multiplatform.FormatPlatform(r.platform.OS, r.platform.Architecture, r.platform.Variant)
	result := &Digest{Repository: ref.Path(), Digest: desc.Digest.String(), Platform: platform}
	if !multiplatform.IsManifestListMediaType(string(desc.MediaType)) {
		return result, nil
	}

	index, err := desc.ImageIndex()
	if err != nil {
		return nil, berrors.NewResolutionError("read manifest list", ref.Raw, err)
	}
	manifest, err := index.IndexManifest()
	if err != nil {
		return nil, berrors.NewResolutionError("read manifest list", ref.Raw, err)
	}
	if result.Digest, err = selectPlatform(ref.Raw, manifest, r.platform); err != nil {
		return nil, err
	}
	return result, nil
}

func classify(op, image string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		if terr.StatusCode == http.StatusNotFound {
			return berrors.NewHTTPError(op, image, terr.StatusCode, nil)
		}
		return berrors.NewHTTPError(op, image, terr.StatusCode, []byte(terr.Error()))
	}
	return berrors.NewNetworkError(op, image, err)
}

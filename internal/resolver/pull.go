package resolver

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/sirupsen/logrus"

	"github.com/project-copacetic/basescan/internal/docker"
	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/imageref"
	"github.com/project-copacetic/basescan/internal/quay"
	multiplatform "github.com/project-copacetic/basescan/internal/util"
)

// ImageAPI is the part of the docker client the pull resolver needs.
type ImageAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
}

// NewDockerClient connects to the daemon configured in the environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return cli, nil
}

// PullResolver pulls the image through the local daemon and reads the digest
// from the inspected image.
type PullResolver struct {
	api       ImageAPI
	auth      docker.Auth
	manifests *quay.Client
	platform  v1.Platform
	progress  io.Writer
	logger    logrus.FieldLogger
}

type PullOption func(*PullResolver)

func WithAuth(auth docker.Auth) PullOption {
	return func(r *PullResolver) { r.auth = auth }
}

// WithManifestLookup narrows a manifest-list repo digest to the pulled
// platform's manifest through the Quay manifest API. Sources keyed by
// per-platform digests need it.
func WithManifestLookup(client *quay.Client) PullOption {
	return func(r *PullResolver) { r.manifests = client }
}

// WithProgress copies the pull progress stream to w.
func WithProgress(w io.Writer) PullOption {
	return func(r *PullResolver) { r.progress = w }
}

func WithLogger(logger logrus.FieldLogger) PullOption {
	return func(r *PullResolver) { r.logger = logger }
}

func NewPullResolver(api ImageAPI, platform v1.Platform, opts ...PullOption) *PullResolver {
	r := &PullResolver{
		api:      api,
		platform: platform,
		progress: io.Discard,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PullResolver) Name() string { return "pull" }

func (r *PullResolver) Resolve(ctx context.Context, ref imageref.Reference) (*Digest, error) {
	target := ref.Name() + ":" + tagOrLatest(ref)
	if ref.Digest != "" {
		target = ref.Name() + "@" + ref.Digest
	}
	platform := multiplatform.FormatPlatform(r.platform.OS, r.platform.Architecture, r.platform.Variant)

	options := image.PullOptions{Platform: platform}
	if r.auth != nil {
		auth, err := r.auth.RegistryAuth(target)
		if err != nil {
			return nil, berrors.NewPullError("pull image", ref.Raw, err)
		}
		options.RegistryAuth = auth
	}

	r.logger.WithField("image", target).WithField("platform", platform).Debug("pulling image")
	reader, err := r.api.ImagePull(ctx, target, options)
	if err != nil {
		return nil, berrors.NewPullError("pull image", ref.Raw, err)
	}
	defer reader.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(reader, r.progress, 0, false, nil); err != nil {
		return nil, berrors.NewPullError("pull image", ref.Raw, err)
	}

	inspect, _, err := r.api.ImageInspectWithRaw(ctx, target)
	if err != nil {
		return nil, berrors.NewPullError("inspect image", ref.Raw, err)
	}

	digest, ok := repoDigest(inspect.RepoDigests, ref.Name())
	if !ok {
		return nil, berrors.NewResolutionError("inspect image", ref.Raw, fmt.Errorf("image has no repo digest"))
	}
	pulled := v1.Platform{OS: inspect.Os, Architecture: inspect.Architecture, Variant: inspect.Variant}
	if pulled.OS == "" || pulled.Architecture == "" {
		pulled = r.platform
	}
	if r.manifests != nil {
		if digest, err = narrow(ctx, r.manifests, ref.Path(), ref.Raw, digest, pulled); err != nil {
			return nil, err
		}
	}
	return &Digest{
		Repository: ref.Path(),
		Digest:     digest,
		Platform:   multiplatform.FormatPlatform(pulled.OS, pulled.Architecture, pulled.Variant),
	}, nil
}

// repoDigest prefers the RepoDigests entry of the pulled repository and falls
// back to the first entry.
func repoDigest(repoDigests []string, repo string) (string, bool) {
	var fallback string
	for _, rd := range repoDigests {
		name, digest, ok := strings.Cut(rd, "@")
		if !ok {
			continue
		}
		if strings.EqualFold(name, repo) {
			return digest, true
		}
		if fallback == "" {
			fallback = digest
		}
	}
	return fallback, fallback != ""
}

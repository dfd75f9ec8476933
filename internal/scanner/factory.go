package scanner

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/project-copacetic/basescan/internal/cache"
	"github.com/project-copacetic/basescan/internal/config"
	"github.com/project-copacetic/basescan/internal/docker"
	"github.com/project-copacetic/basescan/internal/imageref"
	"github.com/project-copacetic/basescan/internal/proxy"
	"github.com/project-copacetic/basescan/internal/quay"
	"github.com/project-copacetic/basescan/internal/resolver"
	"github.com/project-copacetic/basescan/internal/suppress"
	"github.com/project-copacetic/basescan/internal/trivy"
	multiplatform "github.com/project-copacetic/basescan/internal/util"
	"github.com/project-copacetic/basescan/internal/vuln"
)

// FromConfig wires the source, resolver, cache and VEX suppressor chosen by
// cfg. Callers must Close the scanner.
func FromConfig(ctx context.Context, cfg *config.Config, logger *logrus.Entry) (_ *Scanner, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
		}
	}()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := newFilter(cfg)
	if err != nil {
		return nil, err
	}
	platform, err := multiplatform.ParsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithPlatform(multiplatform.FormatPlatform(platform.OS, platform.Architecture, platform.Variant)),
		WithConcurrency(cfg.Concurrency),
		WithTimeout(cfg.Timeout),
		WithReportClean(cfg.ReportClean),
	}

	quayClient := quay.New(cfg.RegistryURL, quay.WithToken(cfg.Token), quay.WithTimeout(cfg.Timeout))

	var source vuln.Source
	switch cfg.Source {
	case config.SourceQuay:
		source = quay.NewSource(quayClient)
	case config.SourceProxy:
		source = proxy.New(cfg.ProxyURL, proxy.WithTimeout(cfg.Timeout))
	case config.SourceTrivy:
		source = trivy.New(trivy.WithLogger(logger))
	}

	if cfg.NeedsResolver() {
		switch cfg.Resolver {
		case config.ResolverPull:
			cli, err := resolver.NewDockerClient()
			if err != nil {
				return nil, err
			}
			closers = append(closers, cli.Close)
			progress := io.Discard
			if logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
				progress = logger.Logger.Out
			}
			opts = append(opts, WithResolver(resolver.NewPullResolver(cli, platform,
				resolver.WithAuth(docker.FromEnv()),
				resolver.WithManifestLookup(quayClient),
				resolver.WithProgress(progress),
				resolver.WithLogger(logger.WithField("component", "resolver")))))
		case config.ResolverManifest:
			opts = append(opts, WithResolver(resolver.NewManifestResolver(quayClient, platform)))
		case config.ResolverRegistry:
			opts = append(opts, WithResolver(resolver.NewRegistryResolver(platform)))
		}
	}

	if cfg.Cache {
		c, err := cache.New(ctx, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, c.Close)
		opts = append(opts, WithCache(c))
	}

	if cfg.VEXFile != "" {
		sup, err := suppress.Load(cfg.VEXFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load VEX file: %w", err)
		}
		logger.WithField("statements", sup.Len()).Info("loaded VEX document")
		opts = append(opts, WithSuppressor(sup))
	}

	s := New(filter, source, opts...)
	s.closers = closers
	return s, nil
}

// newFilter prefers the host-substring filter when one is configured.
func newFilter(cfg *config.Config) (*imageref.Filter, error) {
	if cfg.LiteralHost != "" {
		return imageref.Literal(cfg.LiteralHost), nil
	}
	return imageref.NewFilter(cfg.Filter)
}

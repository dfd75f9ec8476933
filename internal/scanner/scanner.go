// Package scanner runs the FROM-line pipeline for one document: parse,
// filter, resolve, query, aggregate, and map the result to diagnostics.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/project-copacetic/basescan/internal/cache"
	"github.com/project-copacetic/basescan/internal/diagnostic"
	"github.com/project-copacetic/basescan/internal/dockerfile"
	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/imageref"
	"github.com/project-copacetic/basescan/internal/resolver"
	"github.com/project-copacetic/basescan/internal/suppress"
	"github.com/project-copacetic/basescan/internal/vuln"
)

type Scanner struct {
	filter      *imageref.Filter
	source      vuln.Source
	resolver    resolver.Resolver
	cache       *cache.Cache
	suppressor  *suppress.Suppressor
	platform    string
	concurrency int
	timeout     time.Duration
	reportClean bool
	logger      *logrus.Entry
	closers     []func() error
}

type Option func(*Scanner)

// WithResolver sets the digest resolver. Sources keyed by digest need one.
func WithResolver(r resolver.Resolver) Option {
	return func(s *Scanner) { s.resolver = r }
}

func WithCache(c *cache.Cache) Option {
	return func(s *Scanner) { s.cache = c }
}

func WithSuppressor(sup *suppress.Suppressor) Option {
	return func(s *Scanner) { s.suppressor = sup }
}

// WithPlatform sets the os/arch[/variant] passed to sources and used in cache keys.
func WithPlatform(platform string) Option {
	return func(s *Scanner) { s.platform = platform }
}

func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTimeout bounds the lookup of a single image.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.timeout = d }
}

// WithReportClean emits an information diagnostic for images without
// vulnerabilities instead of nothing.
func WithReportClean(report bool) Option {
	return func(s *Scanner) { s.reportClean = report }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(s *Scanner) { s.logger = logger }
}

func New(filter *imageref.Filter, source vuln.Source, opts ...Option) *Scanner {
	s := &Scanner{
		filter:      filter,
		source:      source,
		concurrency: 1,
		logger:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "scanner")
	return s
}

// Cache exposes the result cache, nil when caching is off.
func (s *Scanner) Cache() *cache.Cache {
	return s.cache
}

// Close releases the cache and any daemon connection.
func (s *Scanner) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Scan returns one diagnostic per scanned FROM line that produced a result,
// in source order. Unparseable content yields no diagnostics. The only error
// is cancellation of ctx.
func (s *Scanner) Scan(ctx context.Context, uri string, content []byte) ([]diagnostic.Diagnostic, error) {
	log := s.logger.WithField("uri", uri)

	froms, err := dockerfile.Parse(bytes.NewReader(content))
	if err != nil {
		log.WithError(err).Warn("failed to parse document")
		return []diagnostic.Diagnostic{}, nil
	}

	results := make([]*diagnostic.Diagnostic, len(froms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, from := range froms {
		if from.Internal {
			continue
		}
		ref, ok := s.filter.Match(from.Image)
		if !ok {
			log.WithField("image", from.Image).Debug("image does not match filter")
			continue
		}
		g.Go(func() error {
			results[i] = s.scanImage(gctx, ref, from)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lo.FilterMap(results, func(d *diagnostic.Diagnostic, _ int) (diagnostic.Diagnostic, bool) {
		if d == nil {
			return diagnostic.Diagnostic{}, false
		}
		return *d, true
	}), nil
}

func (s *Scanner) scanImage(ctx context.Context, ref imageref.Reference, from dockerfile.From) *diagnostic.Diagnostic {
	lctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	log := s.logger.WithField("image", ref.Raw)

	digest, vulns, err := s.lookup(lctx, ref)
	if err != nil {
		// superseded or shut down; the result is never published
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("vulnerability lookup failed")
		return failure(ref, from, err)
	}

	vulns, suppressed := s.suppressor.Filter(suppress.Subject{Raw: ref.Raw, Name: ref.Name(), Tag: ref.Tag, Digest: digest}, vulns)
	summary := vuln.Summarize(vulns)
	log.WithField("total", summary.Total).WithField("suppressed", suppressed).Debug("scanned image")
	return s.report(ref, from, summary, suppressed)
}

// lookup serves from the cache when possible and stores successful results.
func (s *Scanner) lookup(ctx context.Context, ref imageref.Reference) (string, []vuln.Vulnerability, error) {
	key := cache.Key{Source: s.source.Name(), Platform: s.platform, Reference: ref.Raw}
	if s.resolver != nil {
		key.Resolver = s.resolver.Name()
	}
	if entry, ok := s.cache.Get(key); ok {
		return entry.Digest, entry.Vulnerabilities, nil
	}

	target := vuln.Target{Image: ref.Raw, Platform: s.platform}
	if s.resolver != nil {
		d, err := s.resolver.Resolve(ctx, ref)
		if err != nil {
			return "", nil, err
		}
		target.Repository, target.Digest, target.Platform = d.Repository, d.Digest, d.Platform
	}

	vulns, err := s.source.Vulnerabilities(ctx, target)
	if err != nil {
		return "", nil, err
	}
	if err := s.cache.Set(key, target.Digest, vulns); err != nil {
		s.logger.WithError(err).Debug("failed to cache result")
	}
	return target.Digest, vulns, nil
}

func (s *Scanner) report(ref imageref.Reference, from dockerfile.From, summary vuln.Summary, suppressed int) *diagnostic.Diagnostic {
	highest, ok := summary.Highest()
	if !ok {
		if !s.reportClean {
			return nil
		}
		return newDiagnostic(ref, from, diagnostic.SeverityInformation, diagnostic.CodeClean,
			withSuppressed(fmt.Sprintf("%s: no known vulnerabilities", ref.Raw), suppressed))
	}
	return newDiagnostic(ref, from, Severity(highest), diagnostic.CodeVulnerabilities,
		withSuppressed(fmt.Sprintf("%s: %s", ref.Raw, summary), suppressed))
}

// Severity maps the worst vulnerability bucket to a diagnostic severity.
// Critical and High are errors; everything else is a warning.
func Severity(s vuln.Severity) diagnostic.Severity {
	switch s {
	case vuln.Critical, vuln.High:
		return diagnostic.SeverityError
	default:
		return diagnostic.SeverityWarning
	}
}

func failure(ref imageref.Reference, from dockerfile.From, err error) *diagnostic.Diagnostic {
	if berrors.IsNoMatchingPlatform(err) {
		return newDiagnostic(ref, from, diagnostic.SeverityWarning, diagnostic.CodeNoPlatform, err.Error())
	}
	return newDiagnostic(ref, from, diagnostic.SeverityError, diagnostic.CodeScanFailed, err.Error())
}

func withSuppressed(msg string, suppressed int) string {
	if suppressed == 0 {
		return msg
	}
	return fmt.Sprintf("%s (%d suppressed by VEX)", msg, suppressed)
}

func newDiagnostic(ref imageref.Reference, from dockerfile.From, sev diagnostic.Severity, code, msg string) *diagnostic.Diagnostic {
	return &diagnostic.Diagnostic{
		Image:    ref.Raw,
		Message:  msg,
		Severity: sev,
		Range:    from.Range,
		Source:   diagnostic.Source,
		Code:     code,
	}
}

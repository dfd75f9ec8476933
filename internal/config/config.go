// Package config loads basescan settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	ResolverPull     = "pull"
	ResolverManifest = "manifest"
	ResolverRegistry = "registry"

	SourceQuay  = "quay"
	SourceProxy = "proxy"
	SourceTrivy = "trivy"

	DefaultFile        = "basescan.yaml"
	DefaultRegistryURL = "https://quay.io"
	DefaultProxyURL    = "http://localhost:8080"
	DefaultDebounce    = 300 * time.Millisecond
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
	DefaultCacheTTL    = 10 * time.Minute

	// DefaultFilter captures domain/namespace/repo/tag/digest for quay.io references.
	DefaultFilter = `^(?P<domain>quay\.io)/(?P<namespace>[a-z0-9]+(?:[._-][a-z0-9]+)*)/(?P<repo>[a-z0-9]+(?:[._-][a-z0-9]+)*)(?::(?P<tag>[\w][\w.-]{0,127}))?(?:@(?P<digest>sha256:[a-f0-9]{64}))?$`
)

type Config struct {
	Resolver    string        `yaml:"resolver"`
	Source      string        `yaml:"source"`
	RegistryURL string        `yaml:"registryURL"`
	ProxyURL    string        `yaml:"proxyURL"`
	Token       string        `yaml:"token"`
	Filter      string        `yaml:"filter"`
	LiteralHost string        `yaml:"literalHost"`
	Platform    string        `yaml:"platform"`
	Debounce    time.Duration `yaml:"debounce"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	Cache       bool          `yaml:"cache"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	ReportClean bool          `yaml:"reportClean"`
	VEXFile     string        `yaml:"vexFile"`
	LogLevel    string        `yaml:"logLevel"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		Resolver:    ResolverManifest,
		Source:      SourceQuay,
		RegistryURL: DefaultRegistryURL,
		ProxyURL:    DefaultProxyURL,
		Filter:      DefaultFilter,
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Debounce:    DefaultDebounce,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		Cache:       true,
		CacheTTL:    DefaultCacheTTL,
		LogLevel:    "info",
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment, in that order. An empty path falls back to ./basescan.yaml
// when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnvironment(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnvironment() error {
	strs := map[string]*string{
		"BASESCAN_RESOLVER":     &c.Resolver,
		"BASESCAN_SOURCE":       &c.Source,
		"BASESCAN_REGISTRY_URL": &c.RegistryURL,
		"BASESCAN_PROXY_URL":    &c.ProxyURL,
		"BASESCAN_FILTER":       &c.Filter,
		"BASESCAN_LITERAL_HOST": &c.LiteralHost,
		"BASESCAN_PLATFORM":     &c.Platform,
		"BASESCAN_VEX_FILE":     &c.VEXFile,
		"BASESCAN_LOG_LEVEL":    &c.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// QUAY_TOKEN wins over the generic REGISTRY_TOKEN used for daemon pulls.
	if v := os.Getenv("REGISTRY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("QUAY_TOKEN"); v != "" {
		c.Token = v
	}

	durations := map[string]*time.Duration{
		"BASESCAN_DEBOUNCE":  &c.Debounce,
		"BASESCAN_TIMEOUT":   &c.Timeout,
		"BASESCAN_CACHE_TTL": &c.CacheTTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("BASESCAN_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BASESCAN_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}

	bools := map[string]*bool{
		"BASESCAN_CACHE":        &c.Cache,
		"BASESCAN_REPORT_CLEAN": &c.ReportClean,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks that the strategies, filter and platform are usable.
func (c *Config) Validate() error {
	switch c.Resolver {
	case ResolverPull, ResolverManifest, ResolverRegistry:
	default:
		return fmt.Errorf("unknown resolver %q (want %s, %s or %s)", c.Resolver, ResolverPull, ResolverManifest, ResolverRegistry)
	}
	switch c.Source {
	case SourceQuay:
		if c.RegistryURL == "" {
			return fmt.Errorf("source %s requires registryURL", SourceQuay)
		}
	case SourceProxy:
		if c.ProxyURL == "" {
			return fmt.Errorf("source %s requires proxyURL", SourceProxy)
		}
	case SourceTrivy:
	default:
		return fmt.Errorf("unknown source %q (want %s, %s or %s)", c.Source, SourceQuay, SourceProxy, SourceTrivy)
	}
	if _, err := regexp.Compile(c.Filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	if strings.ContainsAny(c.LiteralHost, "/@: ") {
		return fmt.Errorf("invalid literalHost %q: want a bare registry host", c.LiteralHost)
	}
	if c.Platform == "" {
		return fmt.Errorf("platform must not be empty")
	}
	if _, err := v1.ParsePlatform(c.Platform); err != nil {
		return fmt.Errorf("invalid platform %q: %w", c.Platform, err)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cacheTTL must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NeedsResolver reports whether the configured source queries by digest.
func (c *Config) NeedsResolver() bool {
	return c.Source == SourceQuay
}

// Logger returns a stderr logrus logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// Package trivy runs the trivy CLI against an image reference and reads its
// JSON report as a vulnerability source.
package trivy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/vuln"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Source implements vuln.Source by shelling out to trivy.
type Source struct {
	binary string
	run    Runner
	logger logrus.FieldLogger
}

type Option func(*Source)

func WithBinary(path string) Option {
	return func(s *Source) { s.binary = path }
}

func WithRunner(run Runner) Option {
	return func(s *Source) { s.run = run }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Source) { s.logger = logger }
}

func New(opts ...Option) *Source {
	s := &Source{
		binary: "trivy",
		run:    execRunner,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return "trivy" }

// Args builds the trivy command line for a target. Remote image source is
// forced when a platform is requested so trivy never scans a local image of
// the wrong architecture.
func Args(target vuln.Target) []string {
	args := []string{"image", "--quiet", "--format", "json"}
	if target.Platform != "" {
		args = append(args, "--image-src", "remote", "--platform", target.Platform)
	}
	return append(args, target.Image)
}

func (s *Source) Vulnerabilities(ctx context.Context, target vuln.Target) ([]vuln.Vulnerability, error) {
	const op = "run trivy"
	if strings.TrimSpace(target.Image) == "" {
		return nil, berrors.NewValidationError(op, target.Image, fmt.Errorf("image reference cannot be empty"))
	}

	args := Args(target)
	s.logger.WithField("component", "trivy").Debugf("executing: %s %s", s.binary, strings.Join(args, " "))

	out, err := s.run(ctx, s.binary, args...)
	if err != nil {
		return nil, berrors.NewSystemError(op, target.Image, err)
	}
	vulns, err := Parse(out)
	if err != nil {
		return nil, berrors.NewSystemError(op, target.Image, err)
	}
	return vulns, nil
}

// Parse flattens every result's vulnerabilities in a trivy JSON report.
func Parse(data []byte) ([]vuln.Vulnerability, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse JSON report: %w", err)
	}

	var vulns []vuln.Vulnerability
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			vulns = append(vulns, vuln.Vulnerability{
				ID:       v.VulnerabilityID,
				Severity: vuln.ParseSeverity(v.Severity),
				Link:     v.PrimaryURL,
				Package:  v.PkgName,
				Version:  v.InstalledVersion,
				FixedBy:  v.FixedVersion,
			})
		}
	}
	return vulns, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := ""
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = fmt.Sprintf(" (exit code %d)", exitError.ExitCode())
		}
		return nil, fmt.Errorf("trivy command failed%s: %v\n%s", exitCode, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

package trivy

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/suite"

	berrors "github.com/project-copacetic/basescan/internal/errors"
	"github.com/project-copacetic/basescan/internal/vuln"
)

const sampleReport = `{
  "ArtifactName": "quay.io/org/app:1.0",
  "Results": [
    {"Target": "debian", "Class": "os-pkgs", "Vulnerabilities": [
      {"VulnerabilityID": "CVE-2024-0001", "PkgName": "openssl", "InstalledVersion": "3.0.1", "FixedVersion": "3.0.2", "Severity": "CRITICAL", "PrimaryURL": "https://avd.aquasec.com/nvd/cve-2024-0001"},
      {"VulnerabilityID": "CVE-2024-0002", "PkgName": "zlib", "InstalledVersion": "1.2", "Severity": "LOW"}
    ]},
    {"Target": "app", "Class": "lang-pkgs"}
  ]
}`

type TrivyTestSuite struct {
	suite.Suite
}

func (suite *TrivyTestSuite) TestParse() {
	vulns, err := Parse([]byte(sampleReport))
	suite.Require().NoError(err)
	suite.Require().Len(vulns, 2)
	suite.Equal(vuln.Vulnerability{
		ID:       "CVE-2024-0001",
		Severity: vuln.Critical,
		Link:     "https://avd.aquasec.com/nvd/cve-2024-0001",
		Package:  "openssl",
		Version:  "3.0.1",
		FixedBy:  "3.0.2",
	}, vulns[0])
	suite.Equal(vuln.Low, vulns[1].Severity)
}

func (suite *TrivyTestSuite) TestParse_Invalid() {
	_, err := Parse([]byte("not json"))
	suite.Error(err)
}

func (suite *TrivyTestSuite) TestArgs() {
	testCases := []struct {
		name     string
		target   vuln.Target
		expected []string
	}{
		{
			name:     "host platform",
			target:   vuln.Target{Image: "alpine:3.19"},
			expected: []string{"image", "--quiet", "--format", "json", "alpine:3.19"},
		},
		{
			name:     "explicit platform",
			target:   vuln.Target{Image: "alpine:3.19", Platform: "linux/arm64"},
			expected: []string{"image", "--quiet", "--format", "json", "--image-src", "remote", "--platform", "linux/arm64", "alpine:3.19"},
		},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, Args(tc.target))
		})
	}
}

func (suite *TrivyTestSuite) TestVulnerabilities_UsesRunner() {
	var gotName string
	var gotArgs []string
	source := New(WithBinary("/opt/trivy"), WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(sampleReport), nil
	}))

	vulns, err := source.Vulnerabilities(context.Background(), vuln.Target{Image: "quay.io/org/app:1.0"})
	suite.Require().NoError(err)
	suite.Len(vulns, 2)
	suite.Equal("/opt/trivy", gotName)
	suite.Equal("quay.io/org/app:1.0", gotArgs[len(gotArgs)-1])
	suite.Equal("trivy", source.Name())
}

func (suite *TrivyTestSuite) TestVulnerabilities_RunnerFails() {
	source := New(WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("trivy command failed (exit code 1)")
	}))

	_, err := source.Vulnerabilities(context.Background(), vuln.Target{Image: "alpine"})
	suite.Require().Error(err)
	suite.True(berrors.IsCategory(err, berrors.SystemError))
	suite.Contains(err.Error(), "exit code 1")
}

func (suite *TrivyTestSuite) TestVulnerabilities_EmptyImage() {
	_, err := New().Vulnerabilities(context.Background(), vuln.Target{Image: "  "})
	suite.Require().Error(err)
	suite.True(berrors.IsCategory(err, berrors.ValidationError))
}

// Integration test against a real trivy binary.
func (suite *TrivyTestSuite) TestVulnerabilities_Integration() {
	if !isTrivyAvailable() {
		suite.T().Skip("Trivy not available, skipping integration test")
	}

	_, err := New().Vulnerabilities(context.Background(), vuln.Target{Image: "alpine:3.17"})
	suite.NoError(err)
}

// Helper function to check if Trivy is available
func isTrivyAvailable() bool {
	cmd := exec.Command("trivy", "version")
	err := cmd.Run()
	return err == nil
}

func TestTrivyTestSuite(t *testing.T) {
	suite.Run(t, new(TrivyTestSuite))
}

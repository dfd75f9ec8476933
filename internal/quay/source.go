package quay

import (
	"context"

	"github.com/project-copacetic/basescan/internal/vuln"
)

// Source reads vulnerabilities from the Quay security endpoint. Targets must
// carry a resolved repository and digest.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() string { return "quay" }

// Vulnerabilities flattens every feature's vulnerabilities in the report. A
// report that has not been scanned yet carries no data and yields none.
func (s *Source) Vulnerabilities(ctx context.Context, target vuln.Target) ([]vuln.Vulnerability, error) {
	report, err := s.client.Security(ctx, target.Repository, target.Digest)
	if err != nil {
		return nil, err
	}
	if report.Data == nil {
		return nil, nil
	}

	var vulns []vuln.Vulnerability
	for _, feature := range report.Data.Layer.Features {
		for _, v := range feature.Vulnerabilities {
			vulns = append(vulns, vuln.Vulnerability{
				ID:       v.Name,
				Severity: vuln.ParseSeverity(v.Severity),
				Link:     v.Link,
				Package:  feature.Name,
				Version:  feature.Version,
				FixedBy:  v.FixedBy,
			})
		}
	}
	return vulns, nil
}

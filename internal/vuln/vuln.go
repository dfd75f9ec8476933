// Package vuln models vulnerability records and aggregates them into
// per-severity counts.
package vuln

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

type Severity string

const (
	Critical Severity = "Critical"
	High     Severity = "High"
	Medium   Severity = "Medium"
	Low      Severity = "Low"
	Unknown  Severity = "Unknown"
)

// Severities lists the buckets from worst to least severe.
var Severities = []Severity{Critical, High, Medium, Low, Unknown}

// ParseSeverity maps scanner severity labels onto the fixed buckets.
// Clair's Defcon1 counts as Critical and Negligible as Low.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "defcon1":
		return Critical
	case "high", "important":
		return High
	case "medium", "moderate":
		return Medium
	case "low", "negligible":
		return Low
	default:
		return Unknown
	}
}

// Rank orders severities; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

type Vulnerability struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Link     string   `json:"link,omitempty"`
	Package  string   `json:"package,omitempty"`
	Version  string   `json:"version,omitempty"`
	FixedBy  string   `json:"fixedBy,omitempty"`
}

// Target identifies what to query. Digest-keyed sources use Repository and
// Digest; reference-keyed sources use Image.
type Target struct {
	Image      string
	Repository string
	Digest     string
	Platform   string
}

// Source returns the vulnerabilities known for a target.
type Source interface {
	Name() string
	Vulnerabilities(ctx context.Context, target Target) ([]Vulnerability, error)
}

// Summary is the per-severity count of de-duplicated vulnerabilities.
type Summary struct {
	Counts map[Severity]int
	Total  int
}

// Summarize collapses vulnerabilities by ID, the last record for an ID
// winning, and counts them per severity bucket.
func Summarize(vulns []Vulnerability) Summary {
	byID := make(map[string]Vulnerability, len(vulns))
	for _, v := range vulns {
		byID[v.ID] = v
	}
	counts := lo.CountValuesBy(lo.Values(byID), func(v Vulnerability) Severity {
		return ParseSeverity(string(v.Severity))
	})
	return Summary{Counts: counts, Total: len(byID)}
}

// Highest returns the worst bucket with a non-zero count.
func (s Summary) Highest() (Severity, bool) {
	for _, sev := range Severities {
		if s.Counts[sev] > 0 {
			return sev, true
		}
	}
	return "", false
}

// String lists the non-empty buckets in severity order, e.g. "2 Critical, 1 Low".
func (s Summary) String() string {
	parts := make([]string, 0, len(Severities))
	for _, sev := range Severities {
		if n := s.Counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return strings.Join(parts, ", ")
}

// Package suppress drops vulnerabilities an OpenVEX document declares as
// not affecting, or fixed in, the scanned image.
package suppress

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/openvex/go-vex/pkg/vex"
	packageurl "github.com/package-url/packageurl-go"
	"github.com/samber/lo"

	"github.com/project-copacetic/basescan/internal/vuln"
)

// Subject identifies the scanned image for product matching.
type Subject struct {
	Raw    string // reference as written
	Name   string // registry/namespace/repository
	Tag    string
	Digest string
}

// Identifiers lists the strings a VEX product may use for the image: the
// reference forms and an OCI package URL.
func (s Subject) Identifiers() []string {
	ids := []string{s.Raw, s.Name}
	if s.Digest != "" {
		ids = append(ids, s.Name+"@"+s.Digest, s.Digest)
	}
	if p := s.purl(); p != "" {
		ids = append(ids, p)
	}
	return lo.Uniq(lo.Compact(ids))
}

func (s Subject) purl() string {
	if s.Name == "" {
		return ""
	}
	qualifiers := map[string]string{"repository_url": s.Name}
	if s.Tag != "" {
		qualifiers["tag"] = s.Tag
	}
	return packageurl.NewPackageURL("oci", "", path.Base(s.Name), s.Digest,
		packageurl.QualifiersFromMap(qualifiers), "").ToString()
}

type Suppressor struct {
	statements []vex.Statement
}

// Load reads an OpenVEX JSON document from path.
func Load(path string) (*Suppressor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read VEX document: %w", err)
	}
	return Parse(data)
}

// Parse decodes an OpenVEX document and orders its statements by timestamp,
// statements without one taking the document's.
func Parse(data []byte) (*Suppressor, error) {
	var doc vex.VEX
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse VEX document: %w", err)
	}
	var issued time.Time
	if doc.Timestamp != nil {
		issued = *doc.Timestamp
	}
	vex.SortStatements(doc.Statements, issued)
	return &Suppressor{statements: doc.Statements}, nil
}

// Len is the number of statements loaded.
func (s *Suppressor) Len() int {
	if s == nil {
		return 0
	}
	return len(s.statements)
}

// Filter returns the vulnerabilities that are not suppressed for subject and
// how many were dropped. When several statements name the same
// vulnerability the newest one decides. A nil Suppressor keeps everything.
func (s *Suppressor) Filter(subject Subject, vulns []vuln.Vulnerability) ([]vuln.Vulnerability, int) {
	if s == nil || len(s.statements) == 0 {
		return vulns, 0
	}

	identifiers := subject.Identifiers()
	status := map[string]vex.Status{}
	for _, stmt := range s.statements {
		if !applies(stmt, identifiers) {
			continue
		}
		for _, id := range ids(stmt.Vulnerability) {
			status[id] = stmt.Status
		}
	}

	kept := lo.Filter(vulns, func(v vuln.Vulnerability, _ int) bool {
		st, ok := status[strings.ToUpper(v.ID)]
		return !ok || (st != vex.StatusNotAffected && st != vex.StatusFixed)
	})
	return kept, len(vulns) - len(kept)
}

func ids(v vex.Vulnerability) []string {
	out := []string{strings.ToUpper(string(v.Name))}
	for _, alias := range v.Aliases {
		out = append(out, strings.ToUpper(string(alias)))
	}
	return lo.Compact(out)
}

// applies reports whether a statement covers the image. A statement without
// products covers every image.
func applies(stmt vex.Statement, identifiers []string) bool {
	if len(stmt.Products) == 0 {
		return true
	}
	return lo.ContainsBy(stmt.Products, func(p vex.Product) bool {
		return lo.ContainsBy(identifiers, func(id string) bool {
			return productMatches(p, id)
		})
	})
}

// productMatches compares identifiers exactly, except package URLs, which
// match when the product's purl is the more general of the two.
func productMatches(p vex.Product, identifier string) bool {
	if p.Matches(identifier, "") {
		return true
	}
	return strings.HasPrefix(p.ID, "pkg:") && strings.HasPrefix(identifier, "pkg:") &&
		vex.PurlMatches(p.ID, identifier)
}

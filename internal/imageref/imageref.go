// Package imageref decides which base image references are scanned and
// splits them into registry, namespace, repository, tag and digest.
package imageref

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// Reference is an image reference that passed the filter.
type Reference struct {
	Raw        string
	Domain     string
	Namespace  string
	Repository string
	Tag        string
	Digest     string
}

// Path is the repository path without the registry host, e.g. "org/app".
func (r Reference) Path() string {
	if r.Namespace == "" {
		return r.Repository
	}
	return r.Namespace + "/" + r.Repository
}

// Name is the fully qualified repository name, e.g. "quay.io/org/app".
func (r Reference) Name() string {
	return r.Domain + "/" + r.Path()
}

// String returns the reference as written in the Dockerfile.
func (r Reference) String() string {
	return r.Raw
}

// Filter matches image references against a configured pattern.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles pattern case-insensitively. Named groups domain,
// namespace, repo, tag and digest are used when present.
func NewFilter(pattern string) (*Filter, error) {
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile image filter: %w", err)
	}
	return &Filter{re: re}, nil
}

// Literal builds the crude variant of the filter that accepts any reference
// containing host as a substring.
func Literal(host string) *Filter {
	return &Filter{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(host))}
}

// Match returns the parsed reference when raw passes the filter.
func (f *Filter) Match(raw string) (Reference, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "$") {
		return Reference{}, false
	}

	groups := f.re.FindStringSubmatch(raw)
	if groups == nil {
		return Reference{}, false
	}

	ref := Reference{Raw: raw}
	for i, group := range f.re.SubexpNames() {
		switch group {
		case "domain":
			ref.Domain = strings.ToLower(groups[i])
		case "namespace":
			ref.Namespace = groups[i]
		case "repo":
			ref.Repository = groups[i]
		case "tag":
			ref.Tag = groups[i]
		case "digest":
			ref.Digest = groups[i]
		}
	}

	if ref.Domain == "" || ref.Repository == "" {
		parsed, err := name.ParseReference(raw)
		if err != nil {
			return Reference{}, false
		}
		fill(&ref, parsed)
	}
	return ref, true
}

// Parse splits any valid reference with go-containerregistry, applying
// Docker Hub defaults.
func Parse(raw string) (Reference, error) {
	parsed, err := name.ParseReference(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("failed to parse image reference %s: %w", raw, err)
	}
	ref := Reference{Raw: raw}
	fill(&ref, parsed)
	return ref, nil
}

func fill(ref *Reference, parsed name.Reference) {
	repo := parsed.Context()
	if ref.Domain == "" {
		ref.Domain = repo.RegistryStr()
	}
	if ref.Repository == "" {
		path := repo.RepositoryStr()
		if i := strings.LastIndex(path, "/"); i >= 0 {
			ref.Namespace, ref.Repository = path[:i], path[i+1:]
		} else {
			ref.Repository = path
		}
	}
	switch r := parsed.(type) {
	case name.Tag:
		if ref.Tag == "" {
			ref.Tag = r.TagStr()
		}
	case name.Digest:
		if ref.Digest == "" {
			ref.Digest = r.DigestStr()
		}
	}
}

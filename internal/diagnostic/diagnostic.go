// Package diagnostic holds the per-document annotations basescan publishes
// and the collection they are published to.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Severity follows the LSP numbering so editors can use it unchanged.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the severity name or its LSP number.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Severity(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, sev := range []Severity{SeverityError, SeverityWarning, SeverityInformation, SeverityHint} {
		if sev.String() == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// Source tags every diagnostic basescan emits.
const Source = "basescan"

// Codes distinguish what a diagnostic reports.
const (
	CodeVulnerabilities = "vulnerabilities"
	CodeClean           = "clean"
	CodeNoPlatform      = "no-matching-platform"
	CodeScanFailed      = "scan-failed"
)

type Diagnostic struct {
	Image    string       `json:"image"`
	Message  string       `json:"message"`
	Severity Severity     `json:"severity"`
	Range    parser.Range `json:"range"`
	Source   string       `json:"source"`
	Code     string       `json:"code,omitempty"`
}

// Collection receives the diagnostics of each document. Set replaces what
// was there before; an empty slice clears the document.
type Collection interface {
	Set(uri string, diagnostics []Diagnostic)
	Delete(uri string)
	Clear()
}

// PublishFunc observes every change to a Store. A nil slice means the
// document was removed.
type PublishFunc func(uri string, diagnostics []Diagnostic)

// Store is an in-memory Collection.
type Store struct {
	mu      sync.RWMutex
	docs    map[string][]Diagnostic
	publish PublishFunc
}

func NewStore(publish PublishFunc) *Store {
	return &Store{docs: map[string][]Diagnostic{}, publish: publish}
}

func (s *Store) Set(uri string, diagnostics []Diagnostic) {
	copied := append([]Diagnostic{}, diagnostics...)
	s.mu.Lock()
	s.docs[uri] = copied
	s.mu.Unlock()
	s.notify(uri, copied)
}

func (s *Store) Delete(uri string) {
	s.mu.Lock()
	_, ok := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()
	if ok {
		s.notify(uri, nil)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	s.docs = map[string][]Diagnostic{}
	s.mu.Unlock()
	for _, uri := range uris {
		s.notify(uri, nil)
	}
}

// Get returns a copy of the diagnostics of uri.
func (s *Store) Get(uri string) ([]Diagnostic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	diags, ok := s.docs[uri]
	if !ok {
		return nil, false
	}
	return append([]Diagnostic{}, diags...), true
}

// URIs lists the documents that hold diagnostics, sorted.
func (s *Store) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

func (s *Store) notify(uri string, diagnostics []Diagnostic) {
	if s.publish != nil {
		s.publish(uri, diagnostics)
	}
}

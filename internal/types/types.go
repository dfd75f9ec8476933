package types

import "github.com/project-copacetic/basescan/internal/diagnostic"

type Ver struct{}

// ScanParams - one-shot scan of Dockerfile content or a file on disk
type ScanParams struct {
	Path    string `json:"path,omitempty" jsonschema:"path of a Dockerfile on the server's filesystem. Ignored when content is given"`
	Content string `json:"content,omitempty" jsonschema:"Dockerfile text to scan"`
	URI     string `json:"uri,omitempty" jsonschema:"document URI the diagnostics are stored under. Defaults to the file URI of path"`
}

// DocumentParams - open or change event for an editor document
type DocumentParams struct {
	URI     string `json:"uri" jsonschema:"document URI, e.g. file:///src/app/Dockerfile"`
	Content string `json:"content" jsonschema:"full text of the document"`
	Wait    bool   `json:"wait,omitempty" jsonschema:"block until the scan finished and return its diagnostics"`
}

// FocusParams - the editor switched to a document
type FocusParams struct {
	URI     string `json:"uri" jsonschema:"document URI"`
	Content string `json:"content,omitempty" jsonschema:"full text of the document. When empty the last content seen for uri is scanned"`
	Wait    bool   `json:"wait,omitempty" jsonschema:"block until the scan finished and return its diagnostics"`
}

type CloseParams struct {
	URI string `json:"uri" jsonschema:"document URI"`
}

type DiagnosticsParams struct {
	URI string `json:"uri,omitempty" jsonschema:"document URI. When empty the diagnostics of every document are returned"`
}

type InvalidateParams struct {
	Image string `json:"image,omitempty" jsonschema:"image reference as written in the FROM line. When empty the whole cache is dropped"`
}

// DocumentDiagnostics is the tool output for one document.
type DocumentDiagnostics struct {
	URI         string                  `json:"uri"`
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
}

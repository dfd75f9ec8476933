// Package watcher turns document lifecycle events into debounced scans and
// publishes their diagnostics.
package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/project-copacetic/basescan/internal/diagnostic"
)

// ErrUnknownDocument is returned when focusing a document that was never
// opened and no content was supplied.
var ErrUnknownDocument = errors.New("unknown document")

// Scanner produces the diagnostics of one document.
type Scanner interface {
	Scan(ctx context.Context, uri string, content []byte) ([]diagnostic.Diagnostic, error)
}

type document struct {
	content []byte
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	// done is closed once the latest generation has finished, been dropped
	// by Close or by Shutdown. busy tells whether it is still open.
	done chan struct{}
	busy bool
}

func (d *document) settle() {
	if d.busy {
		close(d.done)
		d.busy = false
	}
}

// Workspace tracks open documents. Every event bumps the document's
// generation; a scan publishes only if its generation is still current.
type Workspace struct {
	scanner    Scanner
	collection diagnostic.Collection
	debounce   time.Duration
	logger     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	docs   map[string]*document
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Workspace)

// WithDebounce delays scans triggered by Change until edits settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Workspace) { w.debounce = d }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(w *Workspace) { w.logger = logger }
}

func NewWorkspace(scanner Scanner, collection diagnostic.Collection, opts ...Option) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		scanner:    scanner,
		collection: collection,
		logger:     logrus.NewEntry(logrus.StandardLogger()),
		ctx:        ctx,
		cancel:     cancel,
		docs:       map[string]*document{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithField("component", "watcher")
	return w
}

// Activate scans the document active at startup. An empty uri is a no-op.
func (w *Workspace) Activate(uri string, content []byte) {
	if uri == "" {
		return
	}
	w.schedule(uri, content, 0)
}

func (w *Workspace) Open(uri string, content []byte) {
	w.schedule(uri, content, 0)
}

// Change records new content and scans it after the debounce delay.
func (w *Workspace) Change(uri string, content []byte) {
	w.schedule(uri, content, w.debounce)
}

// Focus re-scans a document that became active. Nil content reuses what was
// last seen for uri.
func (w *Workspace) Focus(uri string, content []byte) error {
	if content == nil {
		w.mu.Lock()
		doc, ok := w.docs[uri]
		if ok {
			content = doc.content
		}
		w.mu.Unlock()
		if !ok {
			return errors.Wrap(ErrUnknownDocument, uri)
		}
	}
	w.schedule(uri, content, 0)
	return nil
}

// Close cancels pending and running scans of uri and removes its diagnostics.
func (w *Workspace) Close(uri string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if doc, ok := w.docs[uri]; ok {
		w.stop(doc)
		doc.settle()
		delete(w.docs, uri)
	}
	w.collection.Delete(uri)
}

// Documents lists the open documents, sorted.
func (w *Workspace) Documents() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	uris := make([]string, 0, len(w.docs))
	for uri := range w.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Wait blocks until every scheduled scan has finished or been dropped. It
// must not race with new events; use WaitFor while events may arrive.
func (w *Workspace) Wait() {
	w.wg.Wait()
}

// WaitFor blocks until the latest scan scheduled for uri has finished, the
// document was closed, or ctx is done. Unknown and idle documents return
// immediately.
func (w *Workspace) WaitFor(ctx context.Context, uri string) error {
	w.mu.Lock()
	var done chan struct{}
	if doc, ok := w.docs[uri]; ok && doc.busy {
		done = doc.done
	}
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels everything and waits for running scans to return. Events
// after Shutdown are ignored.
func (w *Workspace) Shutdown() {
	w.mu.Lock()
	w.closed = true
	for _, doc := range w.docs {
		w.stop(doc)
		doc.settle()
	}
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}

func (w *Workspace) schedule(uri string, content []byte, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	doc, ok := w.docs[uri]
	if !ok {
		doc = &document{}
		w.docs[uri] = doc
	}
	w.stop(doc)
	if !doc.busy {
		doc.done = make(chan struct{})
		doc.busy = true
	}
	doc.content = content
	w.gen++
	doc.gen = w.gen
	gen := doc.gen

	w.wg.Add(1)
	if delay <= 0 {
		go w.run(uri, gen, content)
		return
	}
	doc.timer = time.AfterFunc(delay, func() { w.run(uri, gen, content) })
}

// stop supersedes whatever doc has pending or running. Caller holds mu.
func (w *Workspace) stop(doc *document) {
	if doc.timer != nil {
		if doc.timer.Stop() {
			w.wg.Done()
		}
		doc.timer = nil
	}
	if doc.cancel != nil {
		doc.cancel()
		doc.cancel = nil
	}
}

func (w *Workspace) current(uri string, gen uint64) (*document, bool) {
	doc, ok := w.docs[uri]
	if !ok || doc.gen != gen || w.closed {
		return nil, false
	}
	return doc, true
}

func (w *Workspace) run(uri string, gen uint64, content []byte) {
	defer w.wg.Done()
	log := w.logger.WithField("uri", uri).WithField("generation", gen)

	w.mu.Lock()
	doc, ok := w.current(uri, gen)
	if !ok {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	doc.cancel = cancel
	doc.timer = nil
	w.mu.Unlock()
	defer cancel()

	diags, err := w.scanner.Scan(ctx, uri, content)

	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok = w.current(uri, gen)
	if !ok {
		log.Debug("dropping superseded scan")
		return
	}
	defer doc.settle()
	if err != nil {
		log.WithError(err).Debug("scan did not complete")
		return
	}
	w.collection.Set(uri, diags)
}

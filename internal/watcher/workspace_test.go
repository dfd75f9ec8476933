package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-copacetic/basescan/internal/diagnostic"
)

// fakeScanner returns one diagnostic whose message is the scanned content.
type fakeScanner struct {
	calls atomic.Int32
	block func(ctx context.Context, content string)

	mu      sync.Mutex
	scanned []string
}

func (f *fakeScanner) Scan(ctx context.Context, uri string, content []byte) ([]diagnostic.Diagnostic, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.scanned = append(f.scanned, string(content))
	f.mu.Unlock()
	if f.block != nil {
		f.block(ctx, string(content))
	}
	return []diagnostic.Diagnostic{{Message: string(content), Source: diagnostic.Source}}, nil
}

type recorder struct {
	mu        sync.Mutex
	published []string
}

func (r *recorder) publish(uri string, diagnostics []diagnostic.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if diagnostics == nil {
		r.published = append(r.published, "delete")
		return
	}
	for _, d := range diagnostics {
		r.published = append(r.published, d.Message)
	}
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.published...)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newWorkspace(t *testing.T, scanner Scanner, opts ...Option) (*Workspace, *diagnostic.Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	store := diagnostic.NewStore(rec.publish)
	ws := NewWorkspace(scanner, store, append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(ws.Shutdown)
	return ws, store, rec
}

func messages(t *testing.T, store *diagnostic.Store, uri string) []string {
	t.Helper()
	diags, ok := store.Get(uri)
	require.True(t, ok, "no diagnostics for %s", uri)
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Message)
	}
	return out
}

func TestWorkspace_OpenPublishes(t *testing.T) {
	ws, store, _ := newWorkspace(t, &fakeScanner{})

	ws.Open("file:///a/Dockerfile", []byte("v1"))
	ws.Wait()

	assert.Equal(t, []string{"v1"}, messages(t, store, "file:///a/Dockerfile"))
	assert.Equal(t, []string{"file:///a/Dockerfile"}, ws.Documents())
}

func TestWorkspace_RescanReplaces(t *testing.T) {
	ws, store, _ := newWorkspace(t, &fakeScanner{})

	ws.Open("doc", []byte("v1"))
	ws.Wait()
	ws.Open("doc", []byte("v2"))
	ws.Wait()

	assert.Equal(t, []string{"v2"}, messages(t, store, "doc"))
}

func TestWorkspace_ChangeIsDebounced(t *testing.T) {
	scanner := &fakeScanner{}
	ws, store, _ := newWorkspace(t, scanner, WithDebounce(50*time.Millisecond))

	ws.Change("doc", []byte("v1"))
	ws.Change("doc", []byte("v2"))
	ws.Change("doc", []byte("v3"))
	ws.Wait()

	assert.Equal(t, int32(1), scanner.calls.Load())
	assert.Equal(t, []string{"v3"}, messages(t, store, "doc"))
}

func TestWorkspace_SupersededScanNeverPublishes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	scanner := &fakeScanner{block: func(ctx context.Context, content string) {
		if content == "slow" {
			close(started)
			<-release
		}
	}}
	ws, store, rec := newWorkspace(t, scanner)

	ws.Open("doc", []byte("slow"))
	<-started
	ws.Change("doc", []byte("fast"))
	require.Eventually(t, func() bool {
		_, ok := store.Get("doc")
		return ok
	}, time.Second, 5*time.Millisecond)
	close(release)
	ws.Wait()

	assert.Equal(t, []string{"fast"}, messages(t, store, "doc"))
	assert.Equal(t, []string{"fast"}, rec.events())
}

func TestWorkspace_SupersededScanIsCancelled(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	scanner := &fakeScanner{block: func(ctx context.Context, content string) {
		if content == "slow" {
			close(started)
			<-ctx.Done()
			close(cancelled)
		}
	}}
	ws, _, _ := newWorkspace(t, scanner)

	ws.Open("doc", []byte("slow"))
	<-started
	ws.Change("doc", []byte("fast"))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded scan was not cancelled")
	}
	ws.Wait()
}

func TestWorkspace_CloseRemovesDiagnostics(t *testing.T) {
	ws, store, _ := newWorkspace(t, &fakeScanner{})

	ws.Open("doc", []byte("v1"))
	ws.Wait()
	ws.Close("doc")

	_, ok := store.Get("doc")
	assert.False(t, ok)
	assert.Empty(t, ws.Documents())
}

func TestWorkspace_CloseDropsPendingScan(t *testing.T) {
	scanner := &fakeScanner{}
	ws, store, _ := newWorkspace(t, scanner, WithDebounce(time.Hour))

	ws.Change("doc", []byte("v1"))
	ws.Close("doc")
	ws.Wait()

	assert.Zero(t, scanner.calls.Load())
	_, ok := store.Get("doc")
	assert.False(t, ok)
}

func TestWorkspace_FocusReusesContent(t *testing.T) {
	scanner := &fakeScanner{}
	ws, store, _ := newWorkspace(t, scanner)

	require.ErrorIs(t, ws.Focus("doc", nil), ErrUnknownDocument)

	ws.Open("doc", []byte("v1"))
	ws.Wait()
	require.NoError(t, ws.Focus("doc", nil))
	ws.Wait()

	assert.Equal(t, int32(2), scanner.calls.Load())
	assert.Equal(t, []string{"v1"}, messages(t, store, "doc"))
}

func TestWorkspace_ActivateEmptyIsNoop(t *testing.T) {
	scanner := &fakeScanner{}
	ws, _, _ := newWorkspace(t, scanner)

	ws.Activate("", nil)
	ws.Wait()
	assert.Zero(t, scanner.calls.Load())
}

func TestWorkspace_ShutdownIgnoresLaterEvents(t *testing.T) {
	scanner := &fakeScanner{}
	ws, _, _ := newWorkspace(t, scanner, WithDebounce(time.Hour))

	ws.Change("doc", []byte("v1"))
	ws.Shutdown()
	ws.Open("doc", []byte("v2"))
	ws.Wait()

	assert.Zero(t, scanner.calls.Load())
}

func TestWorkspace_WaitForFollowsLatestGeneration(t *testing.T) {
	release := make(chan struct{})
	scanner := &fakeScanner{block: func(ctx context.Context, content string) {
		if content == "v1" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
	}}
	ws, store, _ := newWorkspace(t, scanner, WithDebounce(20*time.Millisecond))
	ctx := context.Background()

	ws.Open("doc", []byte("v1"))
	waited := make(chan error, 1)
	go func() { waited <- ws.WaitFor(ctx, "doc") }()

	// a new event while a waiter is blocked supersedes v1 and the waiter
	// returns only once v2 is published
	ws.Change("doc", []byte("v2"))
	require.NoError(t, <-waited)
	assert.Equal(t, []string{"v2"}, messages(t, store, "doc"))
	close(release)

	require.NoError(t, ws.WaitFor(ctx, "doc"), "idle document")
	require.NoError(t, ws.WaitFor(ctx, "unknown"))
}

func TestWorkspace_WaitForConcurrentEvents(t *testing.T) {
	ws, store, _ := newWorkspace(t, &fakeScanner{}, WithDebounce(5*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws.Change("doc", []byte("v"))
			assert.NoError(t, ws.WaitFor(ctx, "doc"))
		}()
	}
	wg.Wait()

	require.NoError(t, ws.WaitFor(ctx, "doc"))
	assert.Equal(t, []string{"v"}, messages(t, store, "doc"))
}

func TestWorkspace_WaitForReleasedByClose(t *testing.T) {
	scanner := &fakeScanner{block: func(ctx context.Context, _ string) { <-ctx.Done() }}
	ws, _, _ := newWorkspace(t, scanner)

	ws.Open("doc", []byte("v1"))
	waited := make(chan error, 1)
	go func() { waited <- ws.WaitFor(context.Background(), "doc") }()

	ws.Close("doc")
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not return after Close")
	}
}

func TestWorkspace_WaitForContext(t *testing.T) {
	scanner := &fakeScanner{block: func(ctx context.Context, _ string) { <-ctx.Done() }}
	ws, _, _ := newWorkspace(t, scanner)

	ws.Open("doc", []byte("v1"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ws.WaitFor(ctx, "doc"), context.DeadlineExceeded)
}

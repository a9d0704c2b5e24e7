package ai

import (
	"context"
	"strings"
	"sync"
)

// FakeBackend is a scripted Backend for tests. Respond is called for every
// request; when nil the request succeeds with empty output.
type FakeBackend struct {
	Respond func(ctx context.Context, req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

var _ Backend = (*FakeBackend)(nil)

func (f *FakeBackend) Name() BackendName { return "fake" }

func (f *FakeBackend) Run(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.Respond
	f.mu.Unlock()
	if respond == nil {
		return "", nil
	}
	return respond(ctx, req)
}

// Requests returns a copy of every request seen.
func (f *FakeBackend) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// RequestsFor returns the requests whose TaskID has the given prefix.
func (f *FakeBackend) RequestsFor(prefix string) []Request {
	var out []Request
	for _, r := range f.Requests() {
		if strings.HasPrefix(r.TaskID, prefix) {
			out = append(out, r)
		}
	}
	return out
}

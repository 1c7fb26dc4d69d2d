package tmsearch

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type fakeChecker struct {
	mu    sync.Mutex
	calls []string
	vague map[string]bool
	fail  map[string]error
}

func (f *fakeChecker) CheckVagueness(_ context.Context, term string) (Vagueness, error) {
	f.mu.Lock()
	f.calls = append(f.calls, term)
	f.mu.Unlock()
	if err := f.fail[term]; err != nil {
		return Vagueness{}, err
	}
	return Vagueness{IsVague: f.vague[term], Reasoning: "checked " + term}, nil
}

func (f *fakeChecker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCache struct {
	mu      sync.Mutex
	matches map[string]map[string]RawRecord
	errs    map[string]error
	hang    map[string]bool
	stored  []RawRecord
	tokens  []string
	storeCh chan RawRecord
}

func (f *fakeCache) GetMatch(ctx context.Context, token, term string) (map[string]RawRecord, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	key := strings.ToLower(term)
	if f.hang[key] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.matches[key], nil
}

func (f *fakeCache) StoreMatch(_ context.Context, _ string, rec RawRecord) (RawRecord, error) {
	f.mu.Lock()
	f.stored = append(f.stored, rec)
	f.mu.Unlock()
	if f.storeCh != nil {
		f.storeCh <- rec
	}
	return rec, nil
}

func (f *fakeCache) Status(context.Context, string) (CacheStatus, error) {
	return CacheStatus{Connected: true, Message: "ok"}, nil
}

func (f *fakeCache) storedRecords() []RawRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RawRecord(nil), f.stored...)
}

func staticToken(token string) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

func failingToken(err error) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) { return "", err })
}

// hangingToken blocks until its context ends.
func hangingToken() TokenProvider {
	return TokenFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func (f *fakeCache) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

var errBoom = errors.New("boom")

type fakeHandle struct {
	stage   Stage
	events  chan Event
	done    chan int
	mu      sync.Mutex
	stopped bool
}

func newFakeHandle(stage Stage) *fakeHandle {
	return &fakeHandle{stage: stage, events: make(chan Event, 16), done: make(chan int, 1)}
}

func (h *fakeHandle) Stage() Stage { return h.stage }
func (h *fakeHandle) Events() <-chan Event { return h.events }
func (h *fakeHandle) Done() <-chan int { return h.done }

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

func (h *fakeHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// finish closes the event stream and reports code as the exit status.
func (h *fakeHandle) finish(code int) {
	close(h.events)
	h.done <- code
}

type launchCall struct {
	stage Stage
	req   StageRequest
}

type fakeLauncher struct {
	mu        sync.Mutex
	calls     []launchCall
	handles   map[Stage]*fakeHandle
	queued    map[Stage][]*fakeHandle
	failures  map[Stage]error
	cancelled int
	cleared   int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		handles: map[Stage]*fakeHandle{
			StageUSPTO: newFakeHandle(StageUSPTO),
			StageMGS:   newFakeHandle(StageMGS),
		},
		queued:   map[Stage][]*fakeHandle{},
		failures: map[Stage]error{},
	}
}

// relaunchWith makes the next launch of h's stage return h.
func (l *fakeLauncher) relaunchWith(h *fakeHandle) {
	l.mu.Lock()
	l.queued[h.stage] = append(l.queued[h.stage], h)
	l.mu.Unlock()
}

func (l *fakeLauncher) Launch(_ context.Context, stage Stage, req StageRequest) (StageHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, launchCall{stage: stage, req: req})
	if err := l.failures[stage]; err != nil {
		return nil, err
	}
	if q := l.queued[stage]; len(q) > 0 {
		l.handles[stage] = q[0]
		l.queued[stage] = q[1:]
	}
	return l.handles[stage], nil
}

func (l *fakeLauncher) SignalCancel() error {
	l.mu.Lock()
	l.cancelled++
	l.mu.Unlock()
	return nil
}

func (l *fakeLauncher) ClearCancel() error {
	l.mu.Lock()
	l.cleared++
	l.mu.Unlock()
	return nil
}

func (l *fakeLauncher) stages() []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Stage, 0, len(l.calls))
	for _, c := range l.calls {
		out = append(out, c.stage)
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	records []RawRecord
	errs    []RawRecord
}

func (s *recordingSink) Accept(raw RawRecord) {
	s.mu.Lock()
	s.records = append(s.records, raw)
	s.mu.Unlock()
}

func (s *recordingSink) RecordError(raw RawRecord) {
	s.mu.Lock()
	s.errs = append(s.errs, raw)
	s.mu.Unlock()
}

type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	systems   []string
}

func (f *fakeLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", nil
}

func (f *fakeLLM) ModelName() string { return "test-model" }

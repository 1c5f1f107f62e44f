package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultWorkers is the fixed worker-pool size: each worker owns one
	// contiguous slice of the candidate file list.
	DefaultWorkers = 10
	// DefaultFallbackSlots caps concurrent in-flight semantic verifications.
	DefaultFallbackSlots = 3
)

// DefaultExtensions are the two recognized document suffixes.
var DefaultExtensions = []string{"docx", "doc"}

// Status is the scanner lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ConcurrencyManager is a counting admission gate for calls to external
// services; callers block in Acquire until a slot frees up.
type ConcurrencyManager struct {
	sem chan struct{}
}

// NewConcurrencyManager creates a gate with the given number of slots.
func NewConcurrencyManager(slots int) *ConcurrencyManager {
	if slots < 1 {
		slots = 1
	}
	return &ConcurrencyManager{sem: make(chan struct{}, slots)}
}

func (cm *ConcurrencyManager) Acquire() {
	cm.sem <- struct{}{}
}

func (cm *ConcurrencyManager) Release() {
	<-cm.sem
}

// scanState is the only mutable state shared between workers. The mutex is
// held only for the small list/counter updates, never across I/O.
type scanState struct {
	mu        sync.Mutex
	found     []Finding
	errors    []FileError
	processed int
}

// VerifierFactory builds a Verifier bound to one credential. The scanner
// calls it once per scan, only when the fallback is requested.
type VerifierFactory func(ctx context.Context, credential string) (Verifier, error)

// Scanner walks a directory tree of documents and reports every file that
// mentions a search term. One scan at a time: Start while running is
// rejected with a busy signal. Results and progress flow on the event
// channel; the channel is closed after the terminal event, and the scanner
// never blocks waiting for the consumer.
type Scanner struct {
	// Root is the directory tree to scan; may be a mounted network path.
	Root string
	// Workers is the worker-pool size; zero means DefaultWorkers.
	Workers int
	// Extensions overrides DefaultExtensions when non-empty.
	Extensions []string
	// FallbackSlots overrides DefaultFallbackSlots when positive.
	FallbackSlots int
	// Converter handles legacy binary documents; nil disables that path.
	Converter DocConverter
	// NewVerifier overrides the Gemini-backed factory (used by tests).
	NewVerifier VerifierFactory

	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	events  chan Event
	state   *scanState
	started time.Time
	stop    atomic.Bool
}

// NewScanner creates a scanner over root with production defaults.
func NewScanner(root string) *Scanner {
	return &Scanner{
		Root:      root,
		Converter: NewOleConverter(),
		logger:    slog.Default().With("component", "scanner"),
	}
}

func (s *Scanner) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return DefaultWorkers
}

func (s *Scanner) extensions() []string {
	if len(s.Extensions) > 0 {
		return s.Extensions
	}
	return DefaultExtensions
}

func (s *Scanner) fallbackSlots() int {
	if s.FallbackSlots > 0 {
		return s.FallbackSlots
	}
	return DefaultFallbackSlots
}

func (s *Scanner) verifierFactory() VerifierFactory {
	if s.NewVerifier != nil {
		return s.NewVerifier
	}
	return func(ctx context.Context, credential string) (Verifier, error) {
		return NewGeminiVerifier(ctx, credential)
	}
}

// Status returns the current lifecycle state.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Events returns the current scan's event stream. Valid after Start has
// returned; the channel is closed once the scan reaches a terminal state.
func (s *Scanner) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Snapshot copies the scan's accumulated findings, per-file errors, and
// processed count. Safe to call at any time from any goroutine.
func (s *Scanner) Snapshot() (found []Finding, errors []FileError, processed int) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == nil {
		return nil, nil, 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	found = append([]Finding(nil), st.found...)
	errors = append([]FileError(nil), st.errors...)
	return found, errors, st.processed
}

// Stop requests cancellation. Workers poll the flag at file boundaries, so
// a file mid-extraction (or a fallback call in flight) still completes;
// Stop never waits.
func (s *Scanner) Stop() {
	s.stop.Store(true)
}

// Start begins a scan for term. It returns false when the scan could not
// start — busy, empty term, missing root, or no candidate files — with the
// reason already queued as an event. On true, the scan runs in the
// background and terminates with exactly one Complete event.
func (s *Scanner) Start(term string, useFallback bool, credential string) bool {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	if s.status == StatusRunning {
		// Send while holding the lock: the supervisor closes the channel in
		// the same critical section that ends the Running state, so the
		// channel cannot close under this send.
		if s.events != nil {
			select {
			case s.events <- Event{Kind: EventBusy}:
			default:
			}
		}
		s.mu.Unlock()
		return false
	}
	s.status = StatusRunning
	s.state = &scanState{}
	s.started = time.Now()
	s.stop.Store(false)
	s.mu.Unlock()

	fail := func(ev Event) bool {
		ch := make(chan Event, 1)
		ch <- ev
		close(ch)
		s.mu.Lock()
		s.events = ch
		s.status = StatusFailed
		s.mu.Unlock()
		return false
	}

	matcher := NewMatcher(term)
	if len(matcher.tokens) == 0 {
		return fail(Event{Kind: EventError, Message: "empty search term"})
	}

	if _, err := os.Stat(s.Root); err != nil {
		return fail(Event{Kind: EventPathError, Message: fmt.Sprintf("base path unavailable: %v", err)})
	}

	files, err := findDocuments(s.Root, buildExtensionMap(s.extensions()))
	if err != nil {
		return fail(Event{Kind: EventPathError, Message: fmt.Sprintf("enumerate documents: %v", err)})
	}
	if len(files) == 0 {
		return fail(Event{Kind: EventNoFiles})
	}

	// Sized so every result + progress event plus the terminal event fits
	// without ever blocking a worker on a slow consumer.
	events := make(chan Event, 2*len(files)+8)
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	var verifier Verifier
	if useFallback && credential != "" {
		v, verr := s.verifierFactory()(context.Background(), credential)
		if verr != nil {
			// The fallback is advisory; a client that cannot be built just
			// leaves structural matching on its own.
			s.logger.Warn("semantic fallback unavailable", "err", verr)
		} else {
			verifier = v
		}
	}

	gate := NewConcurrencyManager(s.fallbackSlots())
	extractor := NewExtractor(s.Converter)
	state := s.state

	s.logger.Info("scan started",
		"root", s.Root, "term", term, "files", len(files),
		"workers", s.workers(), "fallback", verifier != nil)

	var wg sync.WaitGroup
	for _, slice := range partition(files, s.workers()) {
		wg.Add(1)
		go s.worker(slice, matcher, extractor, verifier, gate, state, events, &wg)
	}

	// Supervisory task: "all work done" is detected by joining the workers,
	// not by counting inside them.
	go func() {
		wg.Wait()
		state.mu.Lock()
		processed := state.processed
		state.mu.Unlock()
		events <- Event{Kind: EventComplete, Processed: processed, Elapsed: time.Since(s.started)}
		// Close and leave Running atomically; busy signals are sent under
		// the same lock and only while Running, so none can hit a closed
		// channel.
		s.mu.Lock()
		close(events)
		s.status = StatusCompleted
		s.mu.Unlock()
	}()

	return true
}

// outcome is the per-file result of the extract/match/verify pipeline.
type outcomeKind int

const (
	outcomeNotFound outcomeKind = iota
	outcomeFound
	outcomeLocked
	outcomeError
)

type outcome struct {
	kind    outcomeKind
	match   Match
	message string
}

// worker processes its slice sequentially, checking the cancellation flag
// before each file.
func (s *Scanner) worker(files []string, matcher *Matcher, extractor *Extractor,
	verifier Verifier, gate *ConcurrencyManager, state *scanState,
	events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()

	ctx := context.Background()
	for _, path := range files {
		if s.stop.Load() {
			return
		}
		o := s.processFile(ctx, path, matcher, extractor, verifier, gate)
		s.record(path, o, state, events)
	}
}

func (s *Scanner) processFile(ctx context.Context, path string, matcher *Matcher,
	extractor *Extractor, verifier Verifier, gate *ConcurrencyManager) outcome {

	extracted, err := extractor.Extract(path)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return outcome{kind: outcomeLocked}
		}
		return outcome{kind: outcomeError, message: err.Error()}
	}

	var match Match
	var ok bool
	if extracted.Legacy {
		match, ok = matcher.MatchBlob(extracted.Blob)
	} else {
		match, ok = matcher.MatchUnits(extracted.Paragraphs, extracted.Cells)
	}
	if ok {
		return outcome{kind: outcomeFound, match: match}
	}

	// Structural matching found nothing; the fallback is a second opinion,
	// never invoked when a structural match exists.
	if verifier != nil {
		gate.Acquire()
		positive := verifier.Verify(ctx, extracted.FullText(), matcher.Term())
		gate.Release()
		if positive {
			return outcome{kind: outcomeFound, match: Match{Tier: TierSemantic, Snippet: semanticSnippet}}
		}
	}

	return outcome{kind: outcomeNotFound}
}

// record applies one file's outcome to the shared state under the lock,
// then emits the result and progress events outside it.
func (s *Scanner) record(path string, o outcome, state *scanState, events chan<- Event) {
	state.mu.Lock()
	state.processed++
	processed := state.processed
	switch o.kind {
	case outcomeFound:
		state.found = append(state.found, Finding{Path: path, Snippet: o.match.Snippet, Tier: o.match.Tier})
	case outcomeLocked:
		state.errors = append(state.errors, FileError{Path: path, Reason: "file locked or open elsewhere"})
	case outcomeError:
		state.errors = append(state.errors, FileError{Path: path, Reason: o.message})
	}
	state.mu.Unlock()

	switch o.kind {
	case outcomeFound:
		events <- Event{Kind: EventFound, Path: path, Snippet: o.match.Snippet, Tier: o.match.Tier}
	case outcomeLocked:
		events <- Event{Kind: EventLocked, Path: path}
	case outcomeError:
		events <- Event{Kind: EventError, Path: path, Message: o.message}
	}
	events <- Event{Kind: EventProgress, Processed: processed}
}

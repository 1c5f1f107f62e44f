package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paragraphBody(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func tableBody(cell string) string {
	return `<w:tbl><w:tr><w:tc><w:p><w:r><w:t>` + cell + `</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`
}

// drain reads the event stream to completion (the channel closes after the
// terminal event).
func drain(ch <-chan Event) []Event {
	var evs []Event
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func byKind(evs []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type stubVerifier struct {
	verdict bool
	calls   atomic.Int32
}

func (v *stubVerifier) Verify(context.Context, string, string) bool {
	v.calls.Add(1)
	return v.verdict
}

func withVerifier(v Verifier) VerifierFactory {
	return func(context.Context, string) (Verifier, error) { return v, nil }
}

func TestScannerCompletes(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		writeDocx(t, root, fmt.Sprintf("c%d.docx", i), paragraphBody("Contrato com João da Silva."))
	}

	s := NewScanner(root)
	require.True(t, s.Start("joão silva", false, ""))
	evs := drain(s.Events())

	assert.Len(t, byKind(evs, EventFound), 3)
	assert.Len(t, byKind(evs, EventProgress), 3)

	completes := byKind(evs, EventComplete)
	require.Len(t, completes, 1, "exactly one terminal event")
	assert.Equal(t, 3, completes[0].Processed)
	assert.Greater(t, completes[0].Elapsed, time.Duration(0))
	// Terminal event is last.
	assert.Equal(t, EventComplete, evs[len(evs)-1].Kind)

	assert.Equal(t, StatusCompleted, s.Status())

	found, fileErrs, processed := s.Snapshot()
	assert.Len(t, found, 3)
	assert.Empty(t, fileErrs)
	assert.Equal(t, 3, processed)
}

func TestScannerTableMatch(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "supplier.docx", tableBody("Fornecedor: Acme Corp"))

	s := NewScanner(root)
	require.True(t, s.Start("Acme Corp", false, ""))
	evs := drain(s.Events())

	founds := byKind(evs, EventFound)
	require.Len(t, founds, 1)
	assert.Equal(t, TierTable, founds[0].Tier)
	assert.Contains(t, founds[0].Snippet, "[TABLE]")
}

func TestScannerNoMatchEmitsNoResult(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "other.docx", paragraphBody("Nada relevante aqui."))

	s := NewScanner(root)
	require.True(t, s.Start("Acme", false, ""))
	evs := drain(s.Events())

	assert.Empty(t, byKind(evs, EventFound))
	assert.Len(t, byKind(evs, EventProgress), 1)
	require.Len(t, byKind(evs, EventComplete), 1)
}

func TestScannerLockedFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeDocx(t, root, "ok.docx", paragraphBody("Acme presta serviços."))
	locked := writeDocx(t, root, "locked.docx", paragraphBody("Acme também."))
	require.NoError(t, os.Chmod(locked, 0o000))

	s := NewScanner(root)
	require.True(t, s.Start("Acme", false, ""))
	evs := drain(s.Events())

	assert.Len(t, byKind(evs, EventFound), 1)
	lockedEvs := byKind(evs, EventLocked)
	require.Len(t, lockedEvs, 1)
	assert.Equal(t, locked, lockedEvs[0].Path)

	completes := byKind(evs, EventComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 2, completes[0].Processed, "a locked file still counts as processed")
}

func TestScannerMissingRoot(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "gone"))
	assert.False(t, s.Start("Acme", false, ""))
	assert.Equal(t, StatusFailed, s.Status())

	evs := drain(s.Events())
	require.Len(t, evs, 1)
	assert.Equal(t, EventPathError, evs[0].Kind)
}

func TestScannerNoFiles(t *testing.T) {
	s := NewScanner(t.TempDir())
	assert.False(t, s.Start("Acme", false, ""))
	assert.Equal(t, StatusFailed, s.Status())

	evs := drain(s.Events())
	require.Len(t, evs, 1)
	assert.Equal(t, EventNoFiles, evs[0].Kind)
}

func TestScannerEmptyTerm(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "a.docx", paragraphBody("texto"))

	s := NewScanner(root)
	assert.False(t, s.Start("   ", false, ""))

	evs := drain(s.Events())
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Kind)
}

type blockingConverter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConverter) Extract(string) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return "João da Silva", nil
}

func TestScannerBusyRejection(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.doc"), []byte("legacy"), 0o644))

	conv := &blockingConverter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScanner(root)
	s.Converter = conv

	require.True(t, s.Start("joão silva", false, ""))
	<-conv.entered // the scan is provably mid-file

	assert.False(t, s.Start("outro nome", false, ""), "re-entrant start is rejected")
	assert.Equal(t, StatusRunning, s.Status())

	close(conv.release)
	evs := drain(s.Events())

	assert.Len(t, byKind(evs, EventBusy), 1)
	require.Len(t, byKind(evs, EventComplete), 1)
	assert.Len(t, byKind(evs, EventFound), 1)
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestScannerBusySignalRacesCompletion(t *testing.T) {
	// Re-entrant Start calls hammering a scan as it finishes must never
	// touch the channel after the supervisor closes it.
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.doc"), []byte("legacy"), 0o644))

	for i := 0; i < 200; i++ {
		// Roomy entered buffer: follow-up scans started once the first one
		// finishes must not block in the converter.
		conv := &blockingConverter{entered: make(chan struct{}, 64), release: make(chan struct{})}
		s := NewScanner(root)
		s.Converter = conv

		require.True(t, s.Start("joão silva", false, ""))
		events := s.Events()
		<-conv.entered

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Start("outro", false, "")
			}
		}()
		close(conv.release)

		evs := drain(events)
		wg.Wait()
		assert.Len(t, byKind(evs, EventComplete), 1)
	}
}

func TestScannerLockedFromConverter(t *testing.T) {
	// A converter reports a lock as a wrapped error; it must surface as
	// Locked, not as a generic extraction error.
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.doc"), []byte("legacy"), 0o644))

	s := NewScanner(root)
	s.Converter = stubConverter{err: fmt.Errorf("open stream: %w", ErrLocked)}

	require.True(t, s.Start("Acme", false, ""))
	evs := drain(s.Events())

	assert.Len(t, byKind(evs, EventLocked), 1)
	assert.Empty(t, byKind(evs, EventError))
	_, fileErrs, _ := s.Snapshot()
	require.Len(t, fileErrs, 1)
	assert.Contains(t, fileErrs[0].Reason, "locked")
}

func TestScannerRestartAfterCompletion(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "a.docx", paragraphBody("Acme"))

	s := NewScanner(root)
	require.True(t, s.Start("Acme", false, ""))
	drain(s.Events())

	require.True(t, s.Start("Acme", false, ""), "a finished scanner accepts a new scan")
	evs := drain(s.Events())
	assert.Len(t, byKind(evs, EventFound), 1)
}

func TestScannerFallbackNotConsultedOnStructuralMatch(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "hit.docx", paragraphBody("Acme Corp assina."))

	v := &stubVerifier{verdict: true}
	s := NewScanner(root)
	s.NewVerifier = withVerifier(v)

	require.True(t, s.Start("Acme", true, "test-key"))
	evs := drain(s.Events())

	require.Len(t, byKind(evs, EventFound), 1)
	assert.Equal(t, TierParagraph, byKind(evs, EventFound)[0].Tier)
	assert.Zero(t, v.calls.Load(), "structural hit must not reach the fallback")
}

func TestScannerFallbackPositiveVerdict(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "indirect.docx", paragraphBody("A referida empresa assume a dívida."))

	v := &stubVerifier{verdict: true}
	s := NewScanner(root)
	s.NewVerifier = withVerifier(v)

	require.True(t, s.Start("Acme", true, "test-key"))
	evs := drain(s.Events())

	founds := byKind(evs, EventFound)
	require.Len(t, founds, 1)
	assert.Equal(t, TierSemantic, founds[0].Tier)
	assert.Contains(t, founds[0].Snippet, "[AI]")
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestScannerFallbackNegativeVerdict(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "miss.docx", paragraphBody("Sem relação alguma."))

	v := &stubVerifier{verdict: false}
	s := NewScanner(root)
	s.NewVerifier = withVerifier(v)

	require.True(t, s.Start("Acme", true, "test-key"))
	evs := drain(s.Events())

	assert.Empty(t, byKind(evs, EventFound))
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestScannerFallbackFactoryFailureDegrades(t *testing.T) {
	root := t.TempDir()
	writeDocx(t, root, "a.docx", paragraphBody("Acme em texto."))
	writeDocx(t, root, "b.docx", paragraphBody("Nada aqui."))

	s := NewScanner(root)
	s.NewVerifier = func(context.Context, string) (Verifier, error) {
		return nil, errors.New("bad credential")
	}

	require.True(t, s.Start("Acme", true, "test-key"), "a broken fallback never blocks the scan")
	evs := drain(s.Events())

	assert.Len(t, byKind(evs, EventFound), 1, "structural matching still works")
	require.Len(t, byKind(evs, EventComplete), 1)
}

// gaugeVerifier tracks the high-water mark of concurrent Verify calls.
type gaugeVerifier struct {
	cur, high, calls atomic.Int32
}

func (g *gaugeVerifier) Verify(context.Context, string, string) bool {
	c := g.cur.Add(1)
	for {
		h := g.high.Load()
		if c <= h || g.high.CompareAndSwap(h, c) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	g.cur.Add(-1)
	g.calls.Add(1)
	return false
}

func TestScannerFallbackConcurrencyCap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 12; i++ {
		writeDocx(t, root, fmt.Sprintf("m%02d.docx", i), paragraphBody("Documento sem a menção."))
	}

	v := &gaugeVerifier{}
	s := NewScanner(root)
	s.NewVerifier = withVerifier(v)

	require.True(t, s.Start("Acme", true, "test-key"))
	drain(s.Events())

	assert.Equal(t, int32(12), v.calls.Load())
	assert.LessOrEqual(t, v.high.Load(), int32(3), "at most three verifications in flight")
}

func TestScannerStop(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 40; i++ {
		writeDocx(t, root, fmt.Sprintf("s%02d.docx", i), paragraphBody("Documento sem a menção."))
	}

	v := &gaugeVerifier{}
	s := NewScanner(root)
	s.NewVerifier = withVerifier(v)

	require.True(t, s.Start("Acme", true, "test-key"))
	events := s.Events()

	// Request cancellation as soon as the first file lands.
	var evs []Event
	for ev := range events {
		evs = append(evs, ev)
		if ev.Kind == EventProgress {
			s.Stop()
			break
		}
	}
	for ev := range events {
		evs = append(evs, ev)
	}

	completes := byKind(evs, EventComplete)
	require.Len(t, completes, 1, "a stopped scan still terminates with one Complete")
	assert.Less(t, completes[0].Processed, 40, "remaining files are skipped")
	assert.Equal(t, StatusCompleted, s.Status())
}

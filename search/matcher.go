package search

import (
	"strings"
	"unicode/utf8"
)

// Tier is the provenance category of a match. Lower values are stronger:
// an emphasized paragraph hit outranks a plain paragraph hit, which outranks
// a table-cell hit. Semantic matches come only from the fallback service.
type Tier int

const (
	// TierNone means no match.
	TierNone Tier = iota
	// TierEmphasis is a paragraph match where some run carrying the term is
	// both bold and underlined.
	TierEmphasis
	// TierParagraph is a plain paragraph match.
	TierParagraph
	// TierTable is a table-cell match.
	TierTable
	// TierLegacy is a structural match inside a legacy-format text blob,
	// where paragraph and table boundaries are unavailable.
	TierLegacy
	// TierSemantic is an advisory match from the semantic fallback service.
	TierSemantic
)

func (t Tier) String() string {
	switch t {
	case TierEmphasis:
		return "emphasis"
	case TierParagraph:
		return "paragraph"
	case TierTable:
		return "table"
	case TierLegacy:
		return "legacy"
	case TierSemantic:
		return "semantic"
	default:
		return "none"
	}
}

const (
	// maxSnippets caps how many matching contexts are reported per document.
	maxSnippets = 3
	// maxSnippetLen truncates each context to keep result rows readable.
	maxSnippetLen = 200
	// legacyWindow is how many consecutive blob lines are joined when looking
	// for names split across line breaks in legacy documents.
	legacyWindow = 3

	snippetSeparator = " | "
	emphasisPrefix   = "[HIGHLIGHT] "
	tablePrefix      = "[TABLE] "

	// semanticSnippet is the fixed context reported for fallback matches;
	// the service gives a verdict, not a location.
	semanticSnippet = "[AI] mention found in the context of the document"
)

// Match is the outcome of running the matcher over one document's text.
type Match struct {
	Tier    Tier
	Snippet string
}

// Matcher decides whether extracted document text mentions a search term.
//
// Matching is flexible containment: after normalization, every token of the
// term must occur somewhere in the candidate span as a substring, in any
// order. This deliberately favors recall over precision — it tolerates
// reordered names and interleaved punctuation, at the cost of false positives
// for short or common tokens.
type Matcher struct {
	term   string
	tokens []string
}

// NewMatcher builds a matcher for the given search term.
func NewMatcher(term string) *Matcher {
	return &Matcher{
		term:   strings.TrimSpace(term),
		tokens: Tokenize(term),
	}
}

// Term returns the original (trimmed) search term.
func (m *Matcher) Term() string { return m.term }

// spanMatches reports whether every token occurs in the normalized span.
func (m *Matcher) spanMatches(span string) bool {
	if len(m.tokens) == 0 {
		return false
	}
	normalized := Normalize(span)
	for _, tok := range m.tokens {
		if !strings.Contains(normalized, tok) {
			return false
		}
	}
	return true
}

// MatchUnits runs the structural match over a modern document: paragraphs
// first, then table cells, collecting up to maxSnippets contexts in encounter
// order. The reported tier is the strongest tier seen anywhere in the
// document, even when its snippet fell past the cap.
func (m *Matcher) MatchUnits(paragraphs []Paragraph, cells []string) (Match, bool) {
	var snippets []string
	best := TierNone

	for _, p := range paragraphs {
		if !m.spanMatches(p.Text) {
			continue
		}
		tier := TierParagraph
		for _, r := range p.Runs {
			if r.Bold && r.Underline && m.spanMatches(r.Text) {
				tier = TierEmphasis
				break
			}
		}
		if len(snippets) < maxSnippets {
			snippet := truncateSnippet(p.Text)
			if tier == TierEmphasis {
				snippet = emphasisPrefix + snippet
			}
			snippets = append(snippets, snippet)
		}
		best = strongerTier(best, tier)
	}

	for _, cell := range cells {
		if !m.spanMatches(cell) {
			continue
		}
		if len(snippets) < maxSnippets {
			snippets = append(snippets, tablePrefix+truncateSnippet(cell))
		}
		best = strongerTier(best, TierTable)
	}

	if len(snippets) == 0 {
		return Match{}, false
	}
	return Match{Tier: best, Snippet: strings.Join(snippets, snippetSeparator)}, true
}

// MatchBlob runs the legacy-format match over a flat text blob. Two passes:
// a sliding window of up to legacyWindow consecutive lines joined by a space
// (recovers names split across line breaks), then single lines. Snippets from
// both passes are deduplicated by exact text and capped at maxSnippets.
func (m *Matcher) MatchBlob(blob string) (Match, bool) {
	lines := blobLines(blob)
	var snippets []string
	seen := make(map[string]bool)

	add := func(text string) {
		if len(snippets) >= maxSnippets {
			return
		}
		snippet := truncateSnippet(text)
		if snippet == "" || seen[snippet] {
			return
		}
		seen[snippet] = true
		snippets = append(snippets, snippet)
	}

	for i := range lines {
		end := i + legacyWindow
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.Join(lines[i:end], " ")
		if m.spanMatches(window) {
			add(window)
		}
	}
	for _, line := range lines {
		if m.spanMatches(line) {
			add(line)
		}
	}

	if len(snippets) == 0 {
		return Match{}, false
	}
	return Match{Tier: TierLegacy, Snippet: strings.Join(snippets, snippetSeparator)}, true
}

// blobLines splits a legacy blob on line boundaries, dropping empty lines.
func blobLines(blob string) []string {
	raw := strings.FieldsFunc(blob, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// strongerTier returns the stronger of two tiers; TierNone loses to anything.
func strongerTier(a, b Tier) Tier {
	if a == TierNone {
		return b
	}
	if b == TierNone || a <= b {
		return a
	}
	return b
}

// truncateSnippet trims a context to maxSnippetLen characters.
func truncateSnippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxSnippetLen {
		return s
	}
	return string([]rune(s)[:maxSnippetLen])
}

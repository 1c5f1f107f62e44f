package search

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrLocked marks a document that could not be opened for permission reasons,
// typically because another user holds it open on a network share.
var ErrLocked = errors.New("document locked or access denied")

// Run is a contiguous span of identically formatted text within a paragraph.
type Run struct {
	Text      string
	Bold      bool
	Underline bool
}

// Paragraph is one extracted paragraph with its formatting runs.
type Paragraph struct {
	Text string
	Runs []Run
}

// Extracted is the closed variant over the two document formats: a modern
// document yields Paragraphs and table Cells, a legacy document yields a flat
// Blob with line boundaries. Never both.
type Extracted struct {
	Paragraphs []Paragraph
	Cells      []string
	Blob       string
	Legacy     bool
}

// FullText concatenates everything extracted, for the semantic fallback.
func (e *Extracted) FullText() string {
	if e.Legacy {
		return e.Blob
	}
	var b strings.Builder
	for _, p := range e.Paragraphs {
		b.WriteString(p.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// DocConverter extracts plain text from a legacy binary document. The
// production implementation reads the OLE compound file directly; tests
// inject stubs. A conversion failure degrades that one file to an
// extraction error, never the scan.
type DocConverter interface {
	Extract(path string) (string, error)
}

// Extractor resolves a file to one of the two document variants and pulls
// its text. The variant is decided by a format probe: a modern document
// opens as a ZIP container, anything with a ZIP format mismatch is handed
// to the legacy converter.
type Extractor struct {
	converter DocConverter
	logger    *slog.Logger
}

// NewExtractor creates an extractor. converter may be nil on platforms with
// no legacy conversion facility; legacy files then fail extraction.
func NewExtractor(converter DocConverter) *Extractor {
	return &Extractor{
		converter: converter,
		logger:    slog.Default().With("component", "extractor"),
	}
}

// Extract reads one document. It returns ErrLocked (possibly wrapped) for
// permission failures and a descriptive error for any parsing failure.
func (e *Extractor) Extract(path string) (*Extracted, error) {
	zr, err := zip.OpenReader(path)
	switch {
	case err == nil:
		defer zr.Close()
		return e.extractModern(&zr.Reader, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, ErrLocked
	case errors.Is(err, zip.ErrFormat):
		return e.extractLegacy(path)
	default:
		return nil, fmt.Errorf("open document: %w", err)
	}
}

// documentXML mirrors the parts of word/document.xml we care about. Local
// names only; encoding/xml matches them regardless of the w: namespace.
type documentXML struct {
	Body struct {
		Paragraphs []paragraphXML `xml:"p"`
		Tables     []tableXML     `xml:"tbl"`
	} `xml:"body"`
}

type paragraphXML struct {
	Runs []runXML `xml:"r"`
}

type runXML struct {
	Props *runPropsXML `xml:"rPr"`
	Text  []textXML    `xml:"t"`
}

type runPropsXML struct {
	Bold      *toggleXML `xml:"b"`
	Underline *toggleXML `xml:"u"`
}

type toggleXML struct {
	Val string `xml:"val,attr"`
}

type textXML struct {
	Content string `xml:",chardata"`
}

type tableXML struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []paragraphXML `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (e *Extractor) extractModern(zr *zip.Reader, path string) (*Extracted, error) {
	var raw []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document body: %w", err)
		}
		raw, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document body: %w", err)
		}
		break
	}
	if raw == nil {
		return nil, fmt.Errorf("no word/document.xml in %s", path)
	}

	var doc documentXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse document body: %w", err)
	}

	out := &Extracted{}
	for _, p := range doc.Body.Paragraphs {
		out.Paragraphs = append(out.Paragraphs, buildParagraph(p))
	}
	for _, tbl := range doc.Body.Tables {
		for _, row := range tbl.Rows {
			for _, cell := range row.Cells {
				parts := make([]string, 0, len(cell.Paragraphs))
				for _, p := range cell.Paragraphs {
					if text := buildParagraph(p).Text; text != "" {
						parts = append(parts, text)
					}
				}
				out.Cells = append(out.Cells, strings.Join(parts, " "))
			}
		}
	}
	return out, nil
}

func buildParagraph(p paragraphXML) Paragraph {
	var para Paragraph
	var text strings.Builder
	for _, r := range p.Runs {
		var runText strings.Builder
		for _, t := range r.Text {
			runText.WriteString(t.Content)
		}
		run := Run{Text: runText.String()}
		if r.Props != nil {
			run.Bold = toggleOn(r.Props.Bold)
			run.Underline = underlineOn(r.Props.Underline)
		}
		para.Runs = append(para.Runs, run)
		text.WriteString(run.Text)
	}
	para.Text = text.String()
	return para
}

// toggleOn interprets an OOXML on/off property: present with no value means
// on, and only explicit false/0/none turn it off.
func toggleOn(t *toggleXML) bool {
	if t == nil {
		return false
	}
	switch strings.ToLower(t.Val) {
	case "false", "0", "none", "off":
		return false
	default:
		return true
	}
}

func underlineOn(t *toggleXML) bool {
	// Underline uses w:val="none" rather than omission to mean off.
	return toggleOn(t)
}

func (e *Extractor) extractLegacy(path string) (*Extracted, error) {
	if e.converter == nil {
		return nil, errors.New("legacy document conversion unavailable on this platform")
	}
	text, err := e.converter.Extract(path)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("legacy conversion: %w", err)
	}
	e.logger.Debug("legacy document converted", "path", path, "bytes", len(text))
	return &Extracted{Blob: text, Legacy: true}, nil
}

// OleConverter is the built-in legacy converter. It does not run a host word
// processor; it salvages readable text straight from the OLE compound file's
// text-bearing streams (WordDocument, 0Table, 1Table), decoding UTF-16 where
// the stream looks wide and falling back to ASCII salvage otherwise.
type OleConverter struct {
	// MaxBytes bounds how much stream data is read per document.
	MaxBytes int64
}

// NewOleConverter returns a converter with a 4MB per-document read budget.
func NewOleConverter() *OleConverter {
	return &OleConverter{MaxBytes: 4 * 1024 * 1024}
}

// textStreams are the compound-file streams that commonly carry body text.
var textStreams = map[string]bool{
	"WordDocument": true,
	"0Table":       true,
	"1Table":       true,
}

// Extract implements DocConverter.
func (c *OleConverter) Extract(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", ErrLocked
		}
		return "", err
	}
	defer f.Close()

	cf, err := mscfb.New(f)
	if err != nil {
		return "", fmt.Errorf("not an OLE compound document: %w", err)
	}

	budget := c.MaxBytes
	if budget <= 0 {
		budget = 4 * 1024 * 1024
	}

	var out strings.Builder
	for ent, err := cf.Next(); err == nil; ent, err = cf.Next() {
		if budget <= 0 {
			break
		}
		if !textStreams[ent.Name] {
			continue
		}
		data, _ := io.ReadAll(io.LimitReader(ent, budget))
		budget -= int64(len(data))
		if len(data) == 0 {
			continue
		}
		out.WriteString(salvageText(data))
		out.WriteByte('\n')
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", errors.New("no text recovered from compound document")
	}
	return text, nil
}

// salvageText turns a raw stream into line-structured text. Word paragraph
// marks (CR) and cell marks (BEL) become line breaks.
func salvageText(data []byte) string {
	var text string
	if s, ok := decodeUTF16BestEffort(data); ok {
		text = s
	} else {
		buf := make([]rune, 0, len(data))
		for _, b := range data {
			switch {
			case b == 0x0d || b == 0x0a || b == 0x07 || b == 0x0b:
				buf = append(buf, '\n')
			case b == 0x09 || (b >= 0x20 && b <= 0x7e) || b >= 0xc0:
				buf = append(buf, rune(b))
			default:
				buf = append(buf, ' ')
			}
		}
		text = string(buf)
	}

	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x07", "\n")
	text = strings.ReplaceAll(text, "\x0b", "\n")

	// Collapse space runs per line but keep the line structure.
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// decodeUTF16BestEffort decodes data as UTF-16LE when it looks wide: at
// least a third of the 16-bit units in the sample carry a zero high byte.
func decodeUTF16BestEffort(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	zeros := 0
	pairs := 0
	for i := 0; i+1 < len(sample); i += 2 {
		pairs++
		if sample[i+1] == 0 {
			zeros++
		}
	}
	if pairs == 0 || zeros*3 < pairs {
		return "", false
	}

	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", false
	}

	// Drop control noise but keep the marks that become line breaks.
	buf := make([]rune, 0, len(decoded))
	for _, r := range string(decoded) {
		switch {
		case r == '\r' || r == '\n' || r == '\t' || r == 0x07 || r == 0x0b:
			buf = append(buf, r)
		case r < 0x20 || r == 0xfffd:
			buf = append(buf, ' ')
		default:
			buf = append(buf, r)
		}
	}
	return string(buf), true
}

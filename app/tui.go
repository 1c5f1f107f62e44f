package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sys/unix"

	"find-mentions/search"
)

// Styles (exported styling used by CLI usage/version output too)
var (
	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7aa2f7"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7aa2f7"))

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7dcfff")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a9b1d6"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9ece6a")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e0af68")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f7768e")).
			Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#565f89"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1b26")).
			Background(lipgloss.Color("#7aa2f7")).
			Bold(true)
)

type phase int

const (
	phaseInput phase = iota
	phaseScanning
	phaseResults
)

type model struct {
	scanner *search.Scanner
	useAI   bool
	apiKey  string

	phase   phase
	input   textinput.Model
	spin    spinner.Model
	message string // error or status shown under the input

	// Live scan state
	findings   []search.Finding
	fileErrors []search.FileError
	processed  int
	stopping   bool

	// Completed scan
	elapsed time.Duration

	// Results navigation
	selected int

	// Window size
	width  int
	height int

	memUsageText string
	startWall    time.Time
}

func newModel(scanner *search.Scanner, searchTerm string, useAI bool, apiKey string) model {
	ti := textinput.New()
	ti.Placeholder = "name or company to search for"
	ti.CharLimit = 200
	ti.Width = 60
	ti.SetValue(searchTerm)
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = subHeaderStyle

	return model{
		scanner: scanner,
		useAI:   useAI,
		apiKey:  apiKey,
		phase:   phaseInput,
		input:   ti,
		spin:    sp,
	}
}

// Messages for TUI updates
type scanEventMsg search.Event

type eventsClosedMsg struct{}

type memUsageMsg struct {
	Text string
}

// waitForEvent pumps one event from the scan's channel into the program.
// Update re-issues it until the channel closes.
func waitForEvent(ch <-chan search.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return scanEventMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.memUsageTick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case memUsageMsg:
		m.memUsageText = msg.Text
		return m, m.memUsageTick()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.phase == phaseScanning {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			return m, cmd
		}
		return m, nil

	case scanEventMsg:
		return m.handleEvent(search.Event(msg))

	case eventsClosedMsg:
		if m.phase == phaseScanning {
			// Channel closed without a Complete in hand (stopped early).
			m.phase = phaseResults
			m.elapsed = time.Since(m.startWall)
		}
		return m, nil
	}

	if m.phase == phaseInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		m.scanner.Stop()
		return m, tea.Quit
	}

	switch m.phase {
	case phaseInput:
		switch key {
		case "esc":
			return m, tea.Quit
		case "enter":
			return m.startScan()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case phaseScanning:
		switch key {
		case "s", "esc":
			m.scanner.Stop()
			m.stopping = true
		case "q":
			m.scanner.Stop()
			return m, tea.Quit
		}
		return m, nil

	default: // phaseResults
		switch key {
		case "q", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.findings)-1 {
				m.selected++
			}
		case "home":
			m.selected = 0
		case "end":
			if len(m.findings) > 0 {
				m.selected = len(m.findings) - 1
			}
		case "enter", "o":
			if m.selected < len(m.findings) {
				if err := openPath(m.findings[m.selected].Path); err != nil {
					m.message = "Could not open file: " + err.Error()
				}
			}
		case "n":
			// New search with the same scanner
			m.phase = phaseInput
			m.findings = nil
			m.fileErrors = nil
			m.processed = 0
			m.selected = 0
			m.stopping = false
			m.message = ""
			m.input.Focus()
			return m, textinput.Blink
		}
		return m, nil
	}
}

func (m model) startScan() (tea.Model, tea.Cmd) {
	term := strings.TrimSpace(m.input.Value())
	if term == "" {
		m.message = "Type a name or company first."
		return m, nil
	}

	ok := m.scanner.Start(term, m.useAI, m.apiKey)
	events := m.scanner.Events()
	if !ok {
		// The failure reason is already queued on the (closed) channel.
		if ev, open := <-events; open {
			m.message = describeFailure(ev)
		} else {
			m.message = "Scan already running."
		}
		return m, nil
	}

	m.phase = phaseScanning
	m.message = ""
	m.findings = nil
	m.fileErrors = nil
	m.processed = 0
	m.selected = 0
	m.stopping = false
	m.startWall = time.Now()
	m.input.Blur()
	return m, tea.Batch(m.spin.Tick, waitForEvent(events))
}

func (m model) handleEvent(ev search.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case search.EventFound:
		m.findings = append(m.findings, search.Finding{Path: ev.Path, Snippet: ev.Snippet, Tier: ev.Tier})
	case search.EventLocked:
		m.fileErrors = append(m.fileErrors, search.FileError{Path: ev.Path, Reason: "locked or open elsewhere"})
	case search.EventError:
		m.fileErrors = append(m.fileErrors, search.FileError{Path: ev.Path, Reason: ev.Message})
	case search.EventProgress:
		m.processed = ev.Processed
	case search.EventComplete:
		m.phase = phaseResults
		m.processed = ev.Processed
		m.elapsed = ev.Elapsed
		return m, nil
	}
	return m, waitForEvent(m.scanner.Events())
}

func (m model) View() string {
	width := m.width
	height := m.height
	if width <= 0 {
		width = 120
	}
	if height <= 0 {
		height = 30
	}

	var parts []string
	parts = append(parts, "")
	parts = append(parts, headerStyle.Render(" FIND MENTIONS  v"+version))
	parts = append(parts, separatorStyle.Render(" scans .docx/.doc trees for mentions of a person or company"))
	parts = append(parts, "")

	switch m.phase {
	case phaseInput:
		parts = append(parts, subHeaderStyle.Render("🔍 Search for:"))
		parts = append(parts, "  "+m.input.View())
		parts = append(parts, "")
		parts = append(parts, infoStyle.Render("  Root: "+m.scanner.Root+m.aiSuffix()))
		if m.message != "" {
			parts = append(parts, "")
			parts = append(parts, errorStyle.Render("  "+m.message))
		}
		parts = append(parts, "")
		parts = append(parts, separatorStyle.Render("  ENTER start • ESC quit"))

	case phaseScanning:
		status := fmt.Sprintf("%s Scanning... %d files checked • %d mention(s)%s",
			m.spin.View(), m.processed, len(m.findings), m.memUsageText)
		if m.stopping {
			status += warningStyle.Render("  (stopping)")
		}
		parts = append(parts, status)
		parts = append(parts, infoStyle.Render(fmt.Sprintf("  ⏱️ %.1fs elapsed", time.Since(m.startWall).Seconds())))
		parts = append(parts, "")
		parts = append(parts, m.renderFindings(width, height-12))
		parts = append(parts, "")
		parts = append(parts, separatorStyle.Render("  s stop • q quit"))

	default: // phaseResults
		summary := fmt.Sprintf("📋 %d mention(s) in %d file(s) • %.1fs", len(m.findings), m.processed, m.elapsed.Seconds())
		parts = append(parts, successStyle.Render(summary))
		if len(m.fileErrors) > 0 {
			parts = append(parts, warningStyle.Render(fmt.Sprintf("⚠️  %d file(s) could not be read", len(m.fileErrors))))
		}
		parts = append(parts, "")
		parts = append(parts, m.renderFindings(width, height-14))
		parts = append(parts, m.renderDetail(width))
		if m.message != "" {
			parts = append(parts, errorStyle.Render("  "+m.message))
		}
		parts = append(parts, separatorStyle.Render("  ↑/↓ select • ENTER open • n new search • q quit"))
	}

	return strings.Join(parts, "\n")
}

func (m model) aiSuffix() string {
	if m.useAI {
		return " • AI fallback on"
	}
	return ""
}

// renderFindings lists findings with the selection kept in view.
func (m model) renderFindings(width, maxLines int) string {
	if len(m.findings) == 0 {
		if m.phase == phaseScanning {
			return infoStyle.Render("  nothing yet...")
		}
		return infoStyle.Render("  No mentions found.")
	}
	if maxLines < 3 {
		maxLines = 3
	}

	start := 0
	if m.selected >= maxLines {
		start = m.selected - maxLines + 1
	}
	end := start + maxLines
	if end > len(m.findings) {
		end = len(m.findings)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		f := m.findings[i]
		line := fmt.Sprintf(" [%s] %s", strings.ToUpper(f.Tier.String()), f.Path)
		if len(line) > width-4 && width > 7 {
			line = line[:width-7] + "..."
		}
		if m.phase == phaseResults && i == m.selected {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(infoStyle.Render(line))
		}
		b.WriteByte('\n')
	}
	if end < len(m.findings) {
		b.WriteString(separatorStyle.Render(fmt.Sprintf("  ... %d more", len(m.findings)-end)))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderDetail shows the selected finding's snippet in a box.
func (m model) renderDetail(width int) string {
	if m.selected >= len(m.findings) {
		return ""
	}
	f := m.findings[m.selected]
	boxWidth := width - 6
	if boxWidth < 20 {
		boxWidth = 20
	}
	content := subHeaderStyle.Render("Context: ") + f.Snippet
	return appStyle.Width(boxWidth).Render(content)
}

func (m model) memUsageTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		heap, rss := sampleMemory()
		return memUsageMsg{Text: fmt.Sprintf(" • Heap %.1f MB • RSS %.1f MB",
			float64(heap)/(1024*1024), float64(rss)/(1024*1024))}
	})
}

func sampleMemory() (heap, rss uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heap = ms.HeapAlloc

	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err == nil {
		rss = uint64(rusage.Maxrss * 1024) // KB to bytes
	}
	return
}

package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"find-mentions/config"
	"find-mentions/search"
)

var version = "1.0"

// Arguments for CLI flags (used to seed the TUI or the headless run)
type Arguments struct {
	SearchWords []string
	Root        string
	Workers     int
	UseAI       bool
	APIKey      string
	SaveKey     string
	NoTUI       bool
}

// parseArguments parses command line args
func parseArguments(args []string) *Arguments {
	result := &Arguments{
		SearchWords: []string{},
	}

	expectRoot := false
	expectWorkers := false
	expectKey := false
	expectSaveKey := false

	for _, a := range args {
		if expectRoot {
			result.Root = a
			expectRoot = false
			continue
		}
		if expectWorkers {
			if n, err := strconv.Atoi(a); err == nil && n > 0 {
				result.Workers = n
			}
			expectWorkers = false
			continue
		}
		if expectKey {
			result.APIKey = a
			expectKey = false
			continue
		}
		if expectSaveKey {
			result.SaveKey = a
			expectSaveKey = false
			continue
		}
		switch a {
		case "--ai":
			result.UseAI = true
		case "--root", "-root":
			expectRoot = true
		case "--workers", "-workers":
			expectWorkers = true
		case "--key":
			expectKey = true
		case "--save-key":
			expectSaveKey = true
		case "--no-tui", "--cli":
			result.NoTUI = true
		case "--help", "-h":
			showUsage()
			os.Exit(0)
		case "--version", "-v":
			showVersion()
			os.Exit(0)
		default:
			result.SearchWords = append(result.SearchWords, a)
		}
	}
	return result
}

// showUsage (styled)
func showUsage() {
	fmt.Println()
	logoTop := " █▀▀ █ █▄ █ █▀▄   █▀▄▀█ █▀▀ █▄ █ ▀█▀ █ █▀█ █▄ █ █▀"
	logoBottom := fmt.Sprintf(" █▀  █ █ ▀█ █▄▀   █ ▀ █ ██▄ █ ▀█  █  █ █▄█ █ ▀█ ▄█  v%s", version)
	if len(logoTop) < len(logoBottom) {
		logoTop += strings.Repeat(" ", len(logoBottom)-len(logoTop))
	}
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Render(logoTop + "\n" + logoBottom))
	fmt.Println()

	fmt.Println(subHeaderStyle.Render("USAGE"))
	fmt.Println(infoStyle.Render("  find-mentions [--root DIR] [--workers N] [--ai] [--key KEY] [--no-tui] <name or company>"))
	fmt.Println()

	fmt.Println(subHeaderStyle.Render("FLAGS"))
	fmt.Println(infoStyle.Render("  --root DIR       Directory tree to scan (default: current directory)"))
	fmt.Println(infoStyle.Render(fmt.Sprintf("  --workers N      Parallel scan workers (default %d)", search.DefaultWorkers)))
	fmt.Println(infoStyle.Render("  --ai             Ask Gemini about files with no direct mention"))
	fmt.Println(infoStyle.Render("  --key KEY        Gemini API key for this run (or set GEMINI_API_KEY)"))
	fmt.Println(infoStyle.Render("  --save-key KEY   Store the Gemini API key in the config file and exit"))
	fmt.Println(infoStyle.Render("  --no-tui         Plain line-by-line output instead of the TUI"))
	fmt.Println(infoStyle.Render("  --help, -h       Show help"))
	fmt.Println(infoStyle.Render("  --version, -v    Show version"))
	fmt.Println()

	fmt.Println(subHeaderStyle.Render("EXAMPLES"))
	fmt.Println(infoStyle.Render("  find-mentions --root /mnt/contracts \"JOAO DA SILVA\""))
	fmt.Println(infoStyle.Render("  find-mentions --root /mnt/contracts --ai \"Acme Corp\""))
	fmt.Println(infoStyle.Render("  find-mentions --save-key AIza..."))
	fmt.Println()
}

// showVersion
func showVersion() {
	fmt.Println(successStyle.Render("find-mentions v" + version))
}

// resolveAPIKey picks the credential by precedence: flag, environment,
// config file.
func resolveAPIKey(args *Arguments, cfg config.Settings) string {
	if args.APIKey != "" {
		return args.APIKey
	}
	if env := os.Getenv("GEMINI_API_KEY"); env != "" {
		return env
	}
	return cfg.GeminiAPIKey
}

// Run parses CLI arguments and starts the TUI (or the headless scan).
// Returns a process exit code.
func Run(argv []string) int {
	args := parseArguments(argv)

	store := config.DefaultStore()
	cfg, err := store.Load()
	if err != nil {
		fmt.Println(errorStyle.Render("Config error: " + err.Error()))
		return 1
	}

	if args.SaveKey != "" {
		if err := store.SaveAPIKey(args.SaveKey); err != nil {
			fmt.Println(errorStyle.Render("Could not save key: " + err.Error()))
			return 1
		}
		fmt.Println(successStyle.Render("API key saved to " + store.Path()))
		return 0
	}

	if len(args.SearchWords) == 0 {
		showUsage()
		return 1
	}
	searchTerm := strings.Join(args.SearchWords, " ")

	root := args.Root
	if root == "" {
		root = cfg.SearchRoot
	}
	if root == "" {
		root = "."
	}

	apiKey := resolveAPIKey(args, cfg)
	if args.UseAI && apiKey == "" {
		fmt.Println(warningStyle.Render("--ai requested but no API key found (flag, GEMINI_API_KEY, or config); continuing without it"))
		args.UseAI = false
	}

	scanner := search.NewScanner(root)
	scanner.Workers = args.Workers

	if args.NoTUI {
		return runHeadless(scanner, searchTerm, args.UseAI, apiKey)
	}

	m := newModel(scanner, searchTerm, args.UseAI, apiKey)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println("Error:", err)
		return 1
	}
	return 0
}

// runHeadless consumes the scan's event stream and prints one line per
// event, matching the tiers and snippets the TUI shows.
func runHeadless(scanner *search.Scanner, searchTerm string, useAI bool, apiKey string) int {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w
	}

	fmt.Println(subHeaderStyle.Render(fmt.Sprintf("Searching for %q under %s", searchTerm, scanner.Root)))

	start := time.Now()
	ok := scanner.Start(searchTerm, useAI, apiKey)
	events := scanner.Events()

	if !ok {
		for ev := range events {
			fmt.Println(errorStyle.Render(describeFailure(ev)))
		}
		return 1
	}

	found := 0
	for ev := range events {
		switch ev.Kind {
		case search.EventFound:
			found++
			line := fmt.Sprintf("[%s] %s", strings.ToUpper(ev.Tier.String()), ev.Path)
			fmt.Println(successStyle.Render(truncateLine(line, width)))
			fmt.Println(infoStyle.Render(truncateLine("    "+ev.Snippet, width)))
		case search.EventLocked:
			fmt.Println(warningStyle.Render(truncateLine("[LOCKED] "+ev.Path, width)))
		case search.EventError:
			fmt.Println(errorStyle.Render(truncateLine(fmt.Sprintf("[ERROR] %s: %s", ev.Path, ev.Message), width)))
		case search.EventComplete:
			fmt.Println(separatorStyle.Render(strings.Repeat("─", min(width, 60))))
			fmt.Println(successStyle.Render(fmt.Sprintf(
				"Done: %d mention(s) in %d file(s), %.1fs", found, ev.Processed, time.Since(start).Seconds())))
		}
	}
	return 0
}

func describeFailure(ev search.Event) string {
	switch ev.Kind {
	case search.EventNoFiles:
		return "No Word documents found under the search root."
	case search.EventPathError:
		return "Search root problem: " + ev.Message
	default:
		return "Could not start: " + ev.Message
	}
}

func truncateLine(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

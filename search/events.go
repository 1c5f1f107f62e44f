package search

import "time"

// EventKind identifies a scan event on the event channel.
type EventKind int

const (
	// EventFound reports a document that mentions the search term.
	EventFound EventKind = iota
	// EventLocked reports a document that could not be opened for permission reasons.
	EventLocked
	// EventError reports a document that failed extraction or parsing.
	EventError
	// EventProgress carries the running processed-file count.
	EventProgress
	// EventPathError means the scan root does not exist or is unreachable.
	EventPathError
	// EventNoFiles means enumeration found no candidate documents under the root.
	EventNoFiles
	// EventBusy means Start was called while a scan was already running.
	EventBusy
	// EventComplete is the single terminal event of a scan; consumers must
	// drain the channel until they see it.
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventFound:
		return "found"
	case EventLocked:
		return "locked"
	case EventError:
		return "error"
	case EventProgress:
		return "progress"
	case EventPathError:
		return "path-error"
	case EventNoFiles:
		return "no-files"
	case EventBusy:
		return "busy"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is one entry on the scan event stream. Fields are populated per kind:
// Found carries Path/Snippet/Tier, Locked and Error carry Path (Error also
// Message), Progress carries Processed, PathError carries Message, and
// Complete carries Processed plus the total Elapsed wall time.
type Event struct {
	Kind      EventKind
	Path      string
	Snippet   string
	Tier      Tier
	Message   string
	Processed int
	Elapsed   time.Duration
}

// Finding is a matched document retained in the scan state.
type Finding struct {
	Path    string
	Snippet string
	Tier    Tier
}

// FileError is a per-file failure retained in the scan state.
type FileError struct {
	Path   string
	Reason string
}

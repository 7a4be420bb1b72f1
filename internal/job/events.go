package job

import "time"

// EventType tags an event in a job's log.
type EventType string

const (
	EventStageStarted  EventType = "stage-started"
	EventUnitProgress  EventType = "unit-progress"
	EventLogLine       EventType = "log-line"
	EventScanComplete  EventType = "scan-complete"
	EventGroupStarted  EventType = "group-started"
	EventSplitProgress EventType = "split-progress"
	EventFatalError    EventType = "fatal-error"
	EventPipelineDone  EventType = "pipeline-done"
	EventEndOfStream   EventType = "end-of-stream"
)

// Event is one record in a job's append-only log. Index is assigned on
// append and doubles as the streaming resumption cursor. Events are
// immutable once appended.
type Event struct {
	Index     int       `json:"idx"`
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`

	Stage   string `json:"stage,omitempty"`
	Op      string `json:"op,omitempty"`
	File    string `json:"file,omitempty"`
	Group   string `json:"group,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Message string `json:"message,omitempty"`
	Part    int    `json:"part,omitempty"`
	Parts   int    `json:"parts,omitempty"`

	Outputs []Output    `json:"outputs,omitempty"`
	Errors  []FileError `json:"errors,omitempty"`
}

// Output kinds.
const (
	OutputSingle = "single"
	OutputSplit  = "split"
)

// Output describes one artifact produced by a finished pipeline scope.
type Output struct {
	Name  string     `json:"name"`
	Path  string     `json:"path"`
	Size  int64      `json:"size"`
	Kind  string     `json:"kind"` // single or split
	Parts []PartInfo `json:"parts,omitempty"`
}

// PartInfo describes one part of a split output.
type PartInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Pages int    `json:"pages"`
	Range string `json:"range"`
	Size  int64  `json:"size"`
}

// FileError records a non-fatal per-file failure.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Percentage returns floor(current*100/total), or 0 when total is zero.
func Percentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	return current * 100 / total
}

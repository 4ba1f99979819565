package types

import (
	"errors"
	"time"
)

// TaskState represents the workflow state of a task block.
type TaskState string

const (
	TaskNone       TaskState = ""
	TaskTODO       TaskState = "TODO"
	TaskDoing      TaskState = "DOING"
	TaskDone       TaskState = "DONE"
	TaskLater      TaskState = "LATER"
	TaskNow        TaskState = "NOW"
	TaskWaiting    TaskState = "WAITING"
	TaskCancelled  TaskState = "CANCELLED"
	TaskDelegated  TaskState = "DELEGATED"
	TaskInProgress TaskState = "IN-PROGRESS"
)

// TaskStates lists every recognized task keyword, longest first so that
// prefix matching never stops at a shorter keyword.
var TaskStates = []TaskState{
	TaskInProgress, TaskCancelled, TaskDelegated, TaskWaiting,
	TaskLater, TaskDoing, TaskDone, TaskTODO, TaskNow,
}

// ParseTaskState returns the task state matching s, or TaskNone.
func ParseTaskState(s string) TaskState {
	for _, ts := range TaskStates {
		if s == string(ts) {
			return ts
		}
	}
	return TaskNone
}

// Priority represents a block priority marker ([#A], [#B], [#C]).
type Priority string

const (
	PriorityNone Priority = ""
	PriorityA    Priority = "A"
	PriorityB    Priority = "B"
	PriorityC    Priority = "C"
)

// BlockKind classifies the content type of a block.
type BlockKind string

const (
	KindBullet   BlockKind = "bullet"
	KindNumbered BlockKind = "numbered"
	KindQuote    BlockKind = "quote"
	KindHeading  BlockKind = "heading"
	KindCode     BlockKind = "code"
	KindMath     BlockKind = "math"
	KindExample  BlockKind = "example"
	KindExport   BlockKind = "export"
	KindVerse    BlockKind = "verse"
	KindDrawer   BlockKind = "drawer"
)

// Schedule holds a SCHEDULED: or DEADLINE: directive payload.
type Schedule struct {
	Date     string // ISO date, e.g. "2026-03-14"
	Time     string // optional wall-clock time, e.g. "09:30"
	Repeater string // optional repeater token, e.g. "+1w"
}

// EmbedKind distinguishes block embeds from page embeds.
type EmbedKind string

const (
	EmbedBlock EmbedKind = "block"
	EmbedPage  EmbedKind = "page"
)

// Embed records a {{embed ((id))}} or {{embed [[Name]]}} reference.
type Embed struct {
	Kind   EmbedKind
	Target string
}

// QueryKind distinguishes inline queries from begin/end query blocks.
type QueryKind string

const (
	QuerySimple   QueryKind = "simple"
	QueryAdvanced QueryKind = "advanced"
)

// BlockQuery is a query attached to a block.
type BlockQuery struct {
	Text string
	Kind QueryKind
}

// Block represents one node of a page's outline. Task-state and priority
// tokens are extracted from Content, not duplicated in it.
type Block struct {
	// Identity
	ID       string
	PageName string

	// Content and structure
	Content  string
	Level    int
	ParentID string
	Children []string // ordered child IDs

	// Extracted task metadata
	TaskState TaskState
	Priority  Priority
	Scheduled *Schedule
	Deadline  *Schedule

	// Content classification
	Kind         BlockKind
	HeadingLevel int
	CodeLanguage string
	Latex        string
	Collapsed    bool

	// Derived sets, recomputed on every content mutation
	Properties map[string]string
	Tags       []string
	Links      []string // outgoing page links, [[Name]]
	BlockRefs  []string // referenced block IDs, ((id))
	Embeds     []Embed
	Query      *BlockQuery

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate performs integrity checks on the block.
func (b *Block) Validate() error {
	if b.ID == "" {
		return errors.New("block id is required")
	}
	if b.PageName == "" {
		return errors.New("block page name is required")
	}
	if b.Level < 0 {
		return errors.New("block level must be non-negative")
	}
	if b.ParentID == b.ID {
		return errors.New("block cannot be its own parent")
	}
	switch b.Kind {
	case KindBullet, KindNumbered, KindQuote, KindHeading, KindCode,
		KindMath, KindExample, KindExport, KindVerse, KindDrawer:
	default:
		return errors.New("invalid block kind")
	}
	if b.Kind == KindHeading && (b.HeadingLevel < 1 || b.HeadingLevel > 6) {
		return errors.New("heading level must be between 1 and 6")
	}
	switch b.Priority {
	case PriorityNone, PriorityA, PriorityB, PriorityC:
	default:
		return errors.New("invalid priority")
	}
	if ParseTaskState(string(b.TaskState)) != b.TaskState {
		return errors.New("invalid task state")
	}
	return nil
}

// HasChild reports whether id appears in the block's children list.
func (b *Block) HasChild(id string) bool {
	for _, c := range b.Children {
		if c == id {
			return true
		}
	}
	return false
}

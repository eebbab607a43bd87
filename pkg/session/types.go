// Package session is the ground-truth record of everything observed during
// one task session: discovered files, completed steps, agent verification
// state, and the conversation ledger that together drive format_for_prompt
// — the sole channel through which the LLM learns what has happened.
package session

import (
	"sync"
	"time"
)

// FileMetadata is what a workspace scan recorded about one file.
type FileMetadata struct {
	SizeBytes    int64
	HumanSize    string
	ModifiedAt   string
	DetectedType string
	LineCount    int
}

// TaskPlanStatus is the lifecycle of one plan item.
type TaskPlanStatus string

const (
	PlanPending    TaskPlanStatus = "pending"
	PlanInProgress TaskPlanStatus = "in_progress"
	PlanCompleted  TaskPlanStatus = "completed"
	PlanSkipped    TaskPlanStatus = "skipped"
)

// TaskPlanItem is one step of the LLM-generated or replanned task plan.
type TaskPlanItem struct {
	Index       int
	Description string
	Status      TaskPlanStatus
	ToolHint    string
}

// IsTerminal reports whether the item no longer needs attention.
func (i TaskPlanItem) IsTerminal() bool {
	return i.Status == PlanCompleted || i.Status == PlanSkipped
}

// CompletedStep is one immutable, append-only record of an executed OODA
// step. Params never carry raw file/command content — only enough to dedupe
// and to render a compact summary in the prompt.
type CompletedStep struct {
	StepID        string
	Tool          string
	Params        map[string]any
	OutputSummary string // truncated to ~80 chars
	Success       bool
	ErrorKind     string
	ErrorMessage  string // truncated to 200 chars
	Timestamp     time.Time
}

// EnvironmentFacts holds derived, monotonic observations about the
// workspace and any shell sessions run against it.
type EnvironmentFacts struct {
	TotalFiles  int
	TotalDirs   int
	TotalBytes  int64
	ProjectType []string // e.g. "python", "node", "docker"
	Frameworks  []string // e.g. "fastapi", "pytest"
	GitBranch   string
	Runtimes    map[string]string // e.g. "python" -> "3.12.1"
	WorkingDir  string
	DockerUp    bool
	Notes       []string // bounded free-form observations, cap 20
}

const maxEnvironmentNotes = 20

// AddNote appends a bounded free-form observation, dropping the oldest when full.
func (f *EnvironmentFacts) AddNote(note string) {
	f.Notes = append(f.Notes, note)
	if len(f.Notes) > maxEnvironmentNotes {
		f.Notes = f.Notes[len(f.Notes)-maxEnvironmentNotes:]
	}
}

// hasProjectType reports whether a project-type tag is already recorded.
func (f *EnvironmentFacts) hasProjectType(t string) bool {
	for _, v := range f.ProjectType {
		if v == t {
			return true
		}
	}
	return false
}

func (f *EnvironmentFacts) hasFramework(t string) bool {
	for _, v := range f.Frameworks {
		if v == t {
			return true
		}
	}
	return false
}

// LedgerEntry is one chronological action recorded for the timeline.
type LedgerEntry struct {
	Timestamp time.Time
	Summary   string
}

const (
	maxLedgerRequests  = 20
	maxLedgerEntries   = 50
	maxLedgerURLsPerOp = 3
)

// ConversationLedger is the per-session memory that survives across tasks
// (and across a session Reset) within the same session id: user requests,
// regex-extracted key/value facts, and a bounded action timeline.
type ConversationLedger struct {
	UserRequests    []string          // last <= 20
	ExtractedValues map[string]string // idempotent by key
	Entries         []LedgerEntry     // bounded chronological log
}

func newConversationLedger() *ConversationLedger {
	return &ConversationLedger{
		ExtractedValues: make(map[string]string),
	}
}

// AddUserRequest appends a user request, trimming to the last 20.
func (l *ConversationLedger) AddUserRequest(text string) {
	l.UserRequests = append(l.UserRequests, text)
	if len(l.UserRequests) > maxLedgerRequests {
		l.UserRequests = l.UserRequests[len(l.UserRequests)-maxLedgerRequests:]
	}
}

// SetExtracted writes a key idempotently — first write wins, matching the
// spec's "idempotent by key" rule for ledger extraction.
func (l *ConversationLedger) SetExtracted(key, value string) {
	if _, exists := l.ExtractedValues[key]; exists {
		return
	}
	l.ExtractedValues[key] = value
}

// AddEntry appends a chronological action-timeline entry, bounded to the
// last maxLedgerEntries.
func (l *ConversationLedger) AddEntry(summary string, ts time.Time) {
	l.Entries = append(l.Entries, LedgerEntry{Timestamp: ts, Summary: summary})
	if len(l.Entries) > maxLedgerEntries {
		l.Entries = l.Entries[len(l.Entries)-maxLedgerEntries:]
	}
}

// State is the ground-truth observation store for one session. All mutation
// happens through UpdateFromStep; reads are safe for concurrent use by the
// prompt formatter.
type State struct {
	mu sync.RWMutex

	scannedPaths map[string]bool
	files        []string
	dirs         []string
	fileMetadata map[string]FileMetadata

	readFiles   map[string]bool
	editedFiles map[string]bool

	completedSteps []CompletedStep

	environment EnvironmentFacts

	ledger *ConversationLedger

	discoveredAgents []string
	queriedAgents    map[string]bool
	agentsVerified   bool

	taskPlan []TaskPlanItem

	userInfo map[string]string
}

// New creates an empty SessionState.
func New() *State {
	return &State{
		scannedPaths: make(map[string]bool),
		fileMetadata: make(map[string]FileMetadata),
		readFiles:    make(map[string]bool),
		editedFiles:  make(map[string]bool),
		environment:  EnvironmentFacts{Runtimes: make(map[string]string)},
		ledger:       newConversationLedger(),
		queriedAgents: make(map[string]bool),
		userInfo:     make(map[string]string),
	}
}

// Reset clears observations accumulated this task but preserves UserInfo and
// the ConversationLedger, per spec §3's across-task-memory rule.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scannedPaths = make(map[string]bool)
	s.files = nil
	s.dirs = nil
	s.fileMetadata = make(map[string]FileMetadata)
	s.readFiles = make(map[string]bool)
	s.editedFiles = make(map[string]bool)
	s.completedSteps = nil
	s.environment = EnvironmentFacts{Runtimes: make(map[string]string)}
	s.discoveredAgents = nil
	s.queriedAgents = make(map[string]bool)
	s.agentsVerified = false
	s.taskPlan = nil
	// s.ledger and s.userInfo intentionally preserved.
}

// SetUserInfo records a cross-task fact about the user (name, preference).
func (s *State) SetUserInfo(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo[key] = value
}

// SetTaskPlan overwrites the current plan, e.g. after generate_task_plan or
// generate_replan.
func (s *State) SetTaskPlan(items []TaskPlanItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskPlan = items
}

// CurrentPlanItem returns the first non-terminal item, or nil if the plan is
// empty or fully terminal.
func (s *State) CurrentPlanItem() *TaskPlanItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.taskPlan {
		if !s.taskPlan[i].IsTerminal() {
			item := s.taskPlan[i]
			return &item
		}
	}
	return nil
}

// AdvancePlanItem marks the plan item at index as completed.
func (s *State) AdvancePlanItem(index int, status TaskPlanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.taskPlan {
		if s.taskPlan[i].Index == index {
			s.taskPlan[i].Status = status
			return
		}
	}
}

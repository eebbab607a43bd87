package driver

// EventType is the append-only SSE-style stream's event kind.
type EventType string

const (
	EventPlan     EventType = "plan"
	EventThinking EventType = "thinking"
	EventStatus   EventType = "status"
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
)

// Event is one element of the task's event stream.
type Event struct {
	EventType EventType `json:"event_type"`
	StepNum   int       `json:"step_num"`
	Tool      string    `json:"tool,omitempty"`
	Content   string    `json:"content,omitempty"`
	Result    string    `json:"result,omitempty"`
	Status    string    `json:"status,omitempty"`
	Done      bool      `json:"done,omitempty"`
}

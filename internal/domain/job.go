package domain

import "time"

// JobStatus is the externally visible lifecycle state of a job.
type JobStatus string

// Job statuses. Done and Error are terminal.
const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// IsTerminal reports whether the status is done or error.
func (s JobStatus) IsTerminal() bool { return s == JobDone || s == JobError }

// ExecutionMode selects how a submitted job is run.
type ExecutionMode int

const (
	// ModeQueued hands the job to the worker pool and returns immediately.
	ModeQueued ExecutionMode = iota
	// ModeInline runs the job on the caller's goroutine. It is meant for local
	// debugging and the CLI; the job is still subject to its deadline.
	ModeInline
)

// String returns the mode name.
func (m ExecutionMode) String() string {
	if m == ModeInline {
		return "inline"
	}
	return "queued"
}

// EventType classifies progress events.
type EventType string

// Progress event types.
const (
	EventObserved  EventType = "observed"
	EventEvaluator EventType = "evaluator"
	EventHeartbeat EventType = "heartbeat"
	EventDone      EventType = "done"
)

// Event is one progress notification for a job. Fields not relevant to the
// event type are left zero and omitted from JSON.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`

	// Seq orders events within a job, starting at 1. Heartbeats carry 0.
	Seq int `json:"seq,omitempty"`

	// Evaluator, Grade, Index and Total describe an observed-grade sample
	// (Index is 1-based) or, with Step, an evaluator completion.
	Evaluator string `json:"evaluator,omitempty"`
	Grade     *Grade `json:"grade,omitempty"`
	Index     int    `json:"index,omitempty"`
	Step      int    `json:"step,omitempty"`
	Total     int    `json:"total,omitempty"`

	// Cached marks observed samples replayed from the curve cache.
	Cached bool `json:"cached,omitempty"`

	// Status and Error are set on done events.
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	Time time.Time `json:"time"`
}

// ObservedEvent builds an observed-grade progress event.
func ObservedEvent(evaluator string, g Grade, index, total int, cached bool) Event {
	return Event{
		Type:      EventObserved,
		Evaluator: evaluator,
		Grade:     &g,
		Index:     index,
		Total:     total,
		Cached:    cached,
	}
}

// EvaluatorEvent builds an evaluator-finished progress event.
func EvaluatorEvent(evaluator string, step, total int) Event {
	return Event{Type: EventEvaluator, Evaluator: evaluator, Step: step, Total: total}
}

// JobResult is the result view of a job.
type JobResult struct {
	Done   bool             `json:"done"`
	Error  *string          `json:"error"`
	Result *AggregateReport `json:"result"`
}

// JobInfo is a read-only snapshot of a job record.
type JobInfo struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Stage       Stage         `json:"stage"`
	Mode        ExecutionMode `json:"-"`
	TargetGrade Grade         `json:"target_grade"`
	CreatedAt   time.Time     `json:"created_at"`
	Deadline    time.Time     `json:"deadline"`
	FinishedAt  time.Time     `json:"finished_at,omitzero"`
	Error       string        `json:"error,omitempty"`
}

package models

// EventType identifies the SSE event kinds emitted during query processing.
type EventType string

// SSE event types.
const (
	EventTypePlanStatus    EventType = "plan_status"
	EventTypeStepStatus    EventType = "step_status_update"
	EventTypeFinalResult   EventType = "final_result"
	EventTypePlanError     EventType = "plan_error"
	EventTypePlanCancelled EventType = "plan_cancelled"
)

// Terminal reports whether the event ends the stream. Terminal events are
// never dropped by the emitter and are replayed to reconnecting clients.
func (t EventType) Terminal() bool {
	switch t {
	case EventTypeFinalResult, EventTypePlanError, EventTypePlanCancelled:
		return true
	}
	return false
}

// BasePayload carries the fields common to every SSE event.
type BasePayload struct {
	Type      EventType `json:"type"`
	ProcessID string    `json:"process_id"`
	Timestamp string    `json:"timestamp"`
}

// PlanStatusPayload reports a lifecycle transition for the whole plan.
type PlanStatusPayload struct {
	BasePayload
	Status  ProcessStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// StepStatus is the per-step execution state carried by step_status_update.
type StepStatus string

// Step status values.
const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepErrored   StepStatus = "error"
)

// StepStatusPayload reports progress for a single plan step.
type StepStatusPayload struct {
	BasePayload
	StepIndex       int        `json:"step_index"`
	Status          StepStatus `json:"status"`
	OperationStatus string     `json:"operation_status,omitempty"`
	ResultSummary   string     `json:"result_summary,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// FinalResultPayload carries the formatted answer: the display content itself
// in result_content, with the display type and table metadata alongside it.
type FinalResultPayload struct {
	BasePayload
	Status        ProcessStatus    `json:"status"`
	ResultContent any              `json:"result_content"`
	DisplayType   DisplayType      `json:"display_type"`
	Metadata      ResponseMetadata `json:"metadata"`
	Message       string           `json:"message,omitempty"`
}

// PlanErrorPayload reports a fatal plan failure with a user-facing message.
type PlanErrorPayload struct {
	BasePayload
	Status  ProcessStatus `json:"status"`
	Message string        `json:"message"`
}

// PlanCancelledPayload confirms client-requested cancellation.
type PlanCancelledPayload struct {
	BasePayload
	Message string `json:"message"`
}

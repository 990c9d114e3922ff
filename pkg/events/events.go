// Package events defines the domain event ingested by the engine and the run
// lifecycle notifications it publishes for dashboards and collaborators.
package events

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the sole event entry point of the engine: a CRM record
// change reported by a collaborator system (e.g. a database-change trigger).
type DomainEvent struct {
	EventType   string         `json:"event_type"   validate:"required"`
	SubjectID   string         `json:"subject_id"   validate:"required"`
	SubjectType string         `json:"subject_type" validate:"required"`
	Old         map[string]any `json:"old,omitempty"`
	New         map[string]any `json:"new,omitempty"`
}

// RunContext builds the initial variable bindings of a run spawned by this
// event. Templates address these as {{context.subject_id}}, {{context.new.*}}
// and so on.
func (e DomainEvent) RunContext() map[string]any {
	ctx := map[string]any{
		"event_type":   e.EventType,
		"subject_id":   e.SubjectID,
		"subject_type": e.SubjectType,
	}

	if e.Old != nil {
		ctx["old"] = e.Old
	}

	if e.New != nil {
		ctx["new"] = e.New
	}

	return ctx
}

type EventType string

// Topic is the event bus topic carrying run lifecycle events.
const Topic = "relay.runs"

const (
	RunStartedEvent   EventType = "run.started"
	RunSuspendedEvent EventType = "run.suspended"
	RunResumedEvent   EventType = "run.resumed"
	RunFinishedEvent  EventType = "run.finished"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	DefinitionID string    `json:"definition_id"`
	RunID        string    `json:"run_id"`
}

func NewBaseEvent(eventType EventType, definitionID, runID string) BaseEvent {
	return BaseEvent{
		ID:           "evt-" + uuid.New().String()[:8],
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DefinitionID: definitionID,
		RunID:        runID,
	}
}

type RunStarted struct {
	BaseEvent

	TriggerEventType string `json:"trigger_event_type,omitempty"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunSuspended struct {
	BaseEvent

	NodeID string    `json:"node_id"`
	WakeAt time.Time `json:"wake_at"`
}

func (e RunSuspended) GetType() EventType { return RunSuspendedEvent }

type RunResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e RunResumed) GetType() EventType { return RunResumedEvent }

type RunFinished struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e RunFinished) GetType() EventType { return RunFinishedEvent }

type RunFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct {
	BaseEvent
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

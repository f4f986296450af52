// Package engine talks to the workflow-execution engine. The engine is a
// separate service: this package only asks it to start executions and never
// interprets node graphs or actions itself.
package engine

import (
	"context"
	"errors"
	"time"
)

// Trigger event constants understood by the execution engine.
const (
	TriggerModule     = "scheduler"
	TriggerEntityType = "schedule"

	EventTypeManual    = "manual_trigger"
	EventTypeScheduled = "scheduled_trigger"
)

// ErrDispatchFailed wraps every failure to hand an execution to the engine:
// network errors, timeouts and non-2xx responses alike. Callers use it to
// decide whether an occurrence may be retried.
var ErrDispatchFailed = errors.New("workflow dispatch failed")

// TriggerEvent describes why and how a workflow execution was started. The
// payload is passed through opaquely.
type TriggerEvent struct {
	Module         string                 `json:"module"`
	EntityType     string                 `json:"entityType"`
	EventType      string                 `json:"eventType"`
	OrganizationID string                 `json:"organizationId"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	TriggeredAt    time.Time              `json:"triggeredAt"`
	UserID         string                 `json:"userId,omitempty"`
}

// Executor starts workflow executions. Tests substitute a fake.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, event TriggerEvent) (string, error)
}

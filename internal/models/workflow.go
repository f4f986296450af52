package models

import "time"

// Execution statuses written by the workflow-execution engine.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// TriggerModuleScheduler marks executions that were started by this service.
const TriggerModuleScheduler = "scheduler"

// Workflow maps to the `workflows` table owned by the execution engine.
// The scheduler only reads it to verify existence and tenant ownership.
type Workflow struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;size:36;index:idx_workflows_org" json:"organization_id"`
	Name           string    `gorm:"column:name;size:255" json:"name"`
	Active         bool      `gorm:"column:active" json:"active"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Workflow) TableName() string {
	return "workflows"
}

// WorkflowExecution maps to the `workflow_executions` table owned by the
// execution engine. One row per triggering instance. The trigger descriptor
// is flattened into two indexed columns so scheduler-originated history is a
// plain WHERE clause.
type WorkflowExecution struct {
	ID               string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkflowID       string     `gorm:"column:workflow_id;size:36;index:idx_workflow_executions_workflow" json:"workflow_id"`
	OrganizationID   string     `gorm:"column:organization_id;size:36;index:idx_workflow_executions_org" json:"organization_id"`
	Status           string     `gorm:"column:status;size:30" json:"status"`
	StartedAt        *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Error            string     `gorm:"column:error;type:text" json:"error,omitempty"`
	TriggerModule    string     `gorm:"column:trigger_module;size:50;index:idx_workflow_executions_trigger" json:"trigger_module"`
	TriggerEventType string     `gorm:"column:trigger_event_type;size:50" json:"trigger_event_type"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap stores an opaque key-value mapping in a JSON column. The
// scheduler passes it through to trigger events without inspecting it;
// validating its contents is the execution engine's job.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported column type for JSONMap")
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Schedule is a recurring trigger configuration bound to one workflow.
// The cron expression is validated before every write, so a persisted row
// always parses. next_run_at is nil when the schedule is disabled or the
// expression has no future occurrence.
type Schedule struct {
	ID             string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkflowID     string     `gorm:"column:workflow_id;size:36;index:idx_workflow_schedules_workflow" json:"workflow_id"`
	OrganizationID string     `gorm:"column:organization_id;size:36;index:idx_workflow_schedules_org" json:"organization_id"`
	CronExpression string     `gorm:"column:cron_expression;size:120" json:"cron_expression"`
	Timezone       string     `gorm:"column:timezone;size:64;default:UTC" json:"timezone"`
	Enabled        bool       `gorm:"column:enabled;index:idx_workflow_schedules_due,priority:1" json:"enabled"`
	Payload        JSONMap    `gorm:"column:payload;type:json" json:"payload,omitempty"`
	LastRunAt      *time.Time `gorm:"column:last_run_at" json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `gorm:"column:next_run_at;index:idx_workflow_schedules_due,priority:2" json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Schedule) TableName() string {
	return "workflow_schedules"
}

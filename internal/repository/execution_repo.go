package repository

import (
	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/models"
)

// ExecutionRepository reads the workflow execution history written by the
// execution engine.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// FindScheduled returns scheduler-originated executions for an
// organization, newest first, together with the total count for
// pagination. Empty workflowID means no workflow filter.
func (r *ExecutionRepository) FindScheduled(organizationID, workflowID string, limit, offset int) ([]models.WorkflowExecution, int64, error) {
	q := r.db.Model(&models.WorkflowExecution{}).
		Where("organization_id = ? AND trigger_module = ?", organizationID, models.TriggerModuleScheduler)
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var executions []models.WorkflowExecution
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&executions).Error
	return executions, total, err
}

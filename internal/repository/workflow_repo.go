package repository

import (
	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/models"
)

// WorkflowRepository reads workflow records owned by the execution engine.
type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// FindByIDAndOrg returns the workflow only when it belongs to the given
// organization, so cross-tenant ids behave like missing ones.
func (r *WorkflowRepository) FindByIDAndOrg(id, organizationID string) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.db.Where("id = ? AND organization_id = ?", id, organizationID).First(&workflow).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

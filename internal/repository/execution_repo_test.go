package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/models"
)

func seedExecutions(t *testing.T, db *gorm.DB, orgID, workflowID, triggerModule string, count int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		exec := &models.WorkflowExecution{
			ID:               uuid.New().String(),
			WorkflowID:       workflowID,
			OrganizationID:   orgID,
			Status:           models.ExecutionStatusCompleted,
			StartedAt:        timePtr(base.Add(time.Duration(i) * time.Hour)),
			TriggerModule:    triggerModule,
			TriggerEventType: "scheduled_trigger",
		}
		require.NoError(t, db.Create(exec).Error)
	}
}

func TestFindScheduledFiltersAndPaginates(t *testing.T) {
	db := newTestDB(t)
	repo := NewExecutionRepository(db)

	workflowA := uuid.New().String()
	workflowB := uuid.New().String()
	seedExecutions(t, db, "org-1", workflowA, models.TriggerModuleScheduler, 7)
	seedExecutions(t, db, "org-1", workflowB, models.TriggerModuleScheduler, 3)
	// manually triggered and cross-tenant rows must not show up
	seedExecutions(t, db, "org-1", workflowA, "webhook", 2)
	seedExecutions(t, db, "org-2", workflowA, models.TriggerModuleScheduler, 4)

	execs, total, err := repo.FindScheduled("org-1", "", 5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	assert.Len(t, execs, 5)
	for _, e := range execs {
		assert.Equal(t, models.TriggerModuleScheduler, e.TriggerModule)
		assert.Equal(t, "org-1", e.OrganizationID)
	}

	execs, total, err = repo.FindScheduled("org-1", "", 5, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	assert.Len(t, execs, 5)

	execs, total, err = repo.FindScheduled("org-1", workflowB, 50, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, execs, 3)
}

func TestFindWorkflowScopedToOrganization(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db)

	workflow := &models.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		Name:           "welcome email",
		Active:         true,
	}
	require.NoError(t, db.Create(workflow).Error)

	got, err := repo.FindByIDAndOrg(workflow.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "welcome email", got.Name)

	_, err = repo.FindByIDAndOrg(workflow.ID, "org-2")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.FindByIDAndOrg(fmt.Sprintf("missing-%s", uuid.New()), "org-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

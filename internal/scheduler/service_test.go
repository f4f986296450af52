package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Opensyte/opensyte-sub008/internal/bootstrap"
	"github.com/Opensyte/opensyte-sub008/internal/engine"
	"github.com/Opensyte/opensyte-sub008/internal/models"
	"github.com/Opensyte/opensyte-sub008/internal/repository"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []engine.TriggerEvent
	err   error
}

func (f *fakeExecutor) ExecuteWorkflow(_ context.Context, workflowID string, event engine.TriggerEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, event)
	if f.err != nil {
		return "", f.err
	}
	return "exec-" + workflowID, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	db       *gorm.DB
	service  *Service
	executor *fakeExecutor
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, bootstrap.Migrate(db))

	// sqlite shared-cache misbehaves under concurrent writers
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	executor := &fakeExecutor{}
	env := &testEnv{
		db:       db,
		executor: executor,
		now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	env.service = NewService(
		repository.NewScheduleRepository(db),
		repository.NewWorkflowRepository(db),
		repository.NewExecutionRepository(db),
		executor,
		zap.NewNop(),
	)
	env.service.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) seedWorkflow(t *testing.T, orgID string) string {
	t.Helper()
	wf := &models.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           "invoice reminder",
		Active:         true,
	}
	require.NoError(t, e.db.Create(wf).Error)
	return wf.ID
}

func TestRegisterComputesFirstDueTime(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
		Payload:        map[string]interface{}{"channel": "email"},
	})
	require.NoError(t, err)
	assert.True(t, sched.Enabled)
	assert.Equal(t, "UTC", sched.Timezone)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.Equal(time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)))
	assert.Nil(t, sched.LastRunAt)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	_, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "61 * * * *",
	})
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	_, err = env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "* * * * *",
		Timezone:       "Mars/Olympus",
	})
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	_, err = env.service.Register(RegisterInput{
		WorkflowID:     uuid.New().String(),
		OrganizationID: "org-1",
		CronExpression: "* * * * *",
	})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	// a workflow visible to another organization is not a valid reference
	_, err = env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-2",
		CronExpression: "* * * * *",
	})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestRegisterDisabledSkipsDueTime(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	disabled := false
	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "0 9 * * 1",
		Enabled:        &disabled,
	})
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	assert.Nil(t, sched.NextRunAt)
}

func TestGetMasksForeignSchedules(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "* * * * *",
	})
	require.NoError(t, err)

	_, err = env.service.Get(sched.ID, "org-2")
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	_, err = env.service.Get(uuid.New().String(), "org-1")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestUpdateRecomputesDueTime(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	expr := "0 9 * * *"
	updated, err := env.service.Update(sched.ID, "org-1", UpdateInput{CronExpression: &expr})
	require.NoError(t, err)
	assert.Equal(t, expr, updated.CronExpression)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))

	bad := "99 * * * *"
	_, err = env.service.Update(sched.ID, "org-1", UpdateInput{CronExpression: &bad})
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	// the failed update left the schedule untouched
	got, err := env.service.Get(sched.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, expr, got.CronExpression)
}

func TestUpdateDisableClearsDueTime(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "* * * * *",
	})
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)

	disabled := false
	updated, err := env.service.Update(sched.ID, "org-1", UpdateInput{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextRunAt)

	due, err := env.service.DueSchedules(0)
	require.NoError(t, err)
	assert.Empty(t, due)

	// re-enabling computes a fresh due time from now
	enabled := true
	updated, err = env.service.Update(sched.ID, "org-1", UpdateInput{Enabled: &enabled})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(env.now))
}

func TestDeleteIsScopedAndFinal(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "* * * * *",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, env.service.Delete(sched.ID, "org-2"), ErrScheduleNotFound)
	require.NoError(t, env.service.Delete(sched.ID, "org-1"))
	assert.ErrorIs(t, env.service.Delete(sched.ID, "org-1"), ErrScheduleNotFound)
}

func TestTriggerManualLeavesCadenceAlone(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
		Payload:        map[string]interface{}{"channel": "email"},
	})
	require.NoError(t, err)
	wantNext := *sched.NextRunAt

	execID, err := env.service.TriggerManual(context.Background(), sched.ID, "org-1", "user-7")
	require.NoError(t, err)
	assert.NotEmpty(t, execID)

	require.Equal(t, 1, env.executor.callCount())
	event := env.executor.calls[0]
	assert.Equal(t, engine.EventTypeManual, event.EventType)
	assert.Equal(t, "user-7", event.UserID)
	assert.Equal(t, "email", event.Payload["channel"])

	got, err := env.service.Get(sched.ID, "org-1")
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(wantNext))
}

func TestTriggerScheduledAdvancesCadence(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	var lastNext time.Time
	for i := 0; i < 3; i++ {
		env.now = env.now.Add(16 * time.Minute)

		due, err := env.service.DueSchedules(0)
		require.NoError(t, err)
		require.Len(t, due, 1)

		fired, err := env.service.TriggerScheduled(context.Background(), due[0], nil)
		require.NoError(t, err)
		assert.True(t, fired)

		got, err := env.service.Get(sched.ID, "org-1")
		require.NoError(t, err)
		require.NotNil(t, got.NextRunAt)
		require.NotNil(t, got.LastRunAt)
		assert.True(t, got.LastRunAt.Equal(*due[0].NextRunAt))
		assert.True(t, got.NextRunAt.After(env.now))
		if i > 0 {
			assert.True(t, got.NextRunAt.After(lastNext))
		}
		lastNext = *got.NextRunAt
	}
	assert.Equal(t, 3, env.executor.callCount())
	for _, event := range env.executor.calls {
		assert.Equal(t, engine.EventTypeScheduled, event.EventType)
		assert.Empty(t, event.UserID)
	}
}

func TestTriggerScheduledFiresOncePerSnapshot(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	_, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	env.now = env.now.Add(16 * time.Minute)
	due, err := env.service.DueSchedules(0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	snapshot := due[0]

	// two dispatcher replicas hold the same snapshot; the second claim loses
	fired, err := env.service.TriggerScheduled(context.Background(), snapshot, nil)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = env.service.TriggerScheduled(context.Background(), snapshot, nil)
	require.NoError(t, err)
	assert.False(t, fired)

	assert.Equal(t, 1, env.executor.callCount())
}

func TestTriggerScheduledRestoresDueTimeOnFailure(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	env.now = env.now.Add(16 * time.Minute)
	due, err := env.service.DueSchedules(0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	dueAt := *due[0].NextRunAt

	env.executor.err = errors.New("engine unavailable")
	fired, err := env.service.TriggerScheduled(context.Background(), due[0], nil)
	require.Error(t, err)
	assert.False(t, fired)

	got, err := env.service.Get(sched.ID, "org-1")
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(dueAt))

	// the occurrence retries on the next tick once the engine recovers
	env.executor.err = nil
	due, err = env.service.DueSchedules(0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	fired, err = env.service.TriggerScheduled(context.Background(), due[0], nil)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestTriggerScheduledDeletedMidTick(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	env.now = env.now.Add(16 * time.Minute)
	due, err := env.service.DueSchedules(0)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, env.service.Delete(sched.ID, "org-1"))

	fired, err := env.service.TriggerScheduled(context.Background(), due[0], nil)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 0, env.executor.callCount())
}

func TestHistoryPaginatesScheduledRuns(t *testing.T) {
	env := newTestEnv(t)
	wfID := env.seedWorkflow(t, "org-1")

	sched, err := env.service.Register(RegisterInput{
		WorkflowID:     wfID,
		OrganizationID: "org-1",
		CronExpression: "*/15 * * * *",
	})
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		exec := &models.WorkflowExecution{
			ID:               uuid.New().String(),
			WorkflowID:       wfID,
			OrganizationID:   "org-1",
			Status:           models.ExecutionStatusCompleted,
			TriggerModule:    models.TriggerModuleScheduler,
			TriggerEventType: engine.EventTypeScheduled,
		}
		require.NoError(t, env.db.Create(exec).Error)
	}

	page, err := env.service.History("org-1", sched.ID, "", 5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, page.Total)
	assert.Len(t, page.Executions, 5)
	assert.True(t, page.HasMore)

	page, err = env.service.History("org-1", sched.ID, "", 5, 5)
	require.NoError(t, err)
	assert.Len(t, page.Executions, 2)
	assert.False(t, page.HasMore)

	_, err = env.service.History("org-2", sched.ID, "", 5, 0)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestValidateExpression(t *testing.T) {
	env := newTestEnv(t)

	res := env.service.ValidateExpression("*/15 * * * *", "UTC")
	assert.True(t, res.IsValid)
	require.NotNil(t, res.NextRun)
	assert.True(t, res.NextRun.Equal(time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)))

	res = env.service.ValidateExpression("61 * * * *", "UTC")
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Error, "minute field")
}

// Package scheduler implements cron-driven workflow triggering: schedule
// lifecycle management, the due-dispatch loop and manual triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/cronexpr"
	"github.com/Opensyte/opensyte-sub008/internal/engine"
	"github.com/Opensyte/opensyte-sub008/internal/models"
	"github.com/Opensyte/opensyte-sub008/internal/repository"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrScheduleNotFound      = errors.New("schedule not found")
	ErrWorkflowNotFound      = errors.New("workflow not found")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// RegisterInput carries the fields for creating a schedule.
type RegisterInput struct {
	WorkflowID     string
	OrganizationID string
	CronExpression string
	Timezone       string
	Enabled        *bool
	Payload        map[string]interface{}
}

// UpdateInput carries a partial update. Nil fields are left untouched.
type UpdateInput struct {
	CronExpression *string
	Timezone       *string
	Enabled        *bool
	Payload        map[string]interface{}
}

// HistoryPage is one page of scheduler-triggered execution history.
type HistoryPage struct {
	Executions []models.WorkflowExecution `json:"executions"`
	Total      int64                      `json:"total"`
	Limit      int                        `json:"limit"`
	Offset     int                        `json:"offset"`
	HasMore    bool                       `json:"has_more"`
}

// Service owns schedule lifecycle and trigger semantics. All timestamp
// decisions go through s.now so tests can pin the clock.
type Service struct {
	schedules  *repository.ScheduleRepository
	workflows  *repository.WorkflowRepository
	executions *repository.ExecutionRepository
	executor   engine.Executor
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(
	schedules *repository.ScheduleRepository,
	workflows *repository.WorkflowRepository,
	executions *repository.ExecutionRepository,
	executor engine.Executor,
	logger *zap.Logger,
) *Service {
	return &Service{
		schedules:  schedules,
		workflows:  workflows,
		executions: executions,
		executor:   executor,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates a schedule after validating the workflow reference and
// the cron expression. The first due time is computed immediately so the
// dispatcher can pick the schedule up without a warm-up pass.
func (s *Service) Register(in RegisterInput) (*models.Schedule, error) {
	if _, err := s.workflows.FindByIDAndOrg(in.WorkflowID, in.OrganizationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}

	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	var nextRunAt *time.Time
	if enabled {
		next, err := s.computeNext(in.CronExpression, tz, s.now())
		if err != nil {
			return nil, err
		}
		nextRunAt = next
	} else if err := s.validateSchedule(in.CronExpression, tz); err != nil {
		return nil, err
	}

	sched := &models.Schedule{
		ID:             uuid.New().String(),
		WorkflowID:     in.WorkflowID,
		OrganizationID: in.OrganizationID,
		CronExpression: in.CronExpression,
		Timezone:       tz,
		Enabled:        enabled,
		Payload:        in.Payload,
		NextRunAt:      nextRunAt,
	}
	if err := s.schedules.Create(sched); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule registered",
		zap.String("schedule_id", sched.ID),
		zap.String("workflow_id", sched.WorkflowID),
		zap.String("cron", sched.CronExpression))
	return sched, nil
}

// Get returns a schedule scoped to the caller's organization. Schedules of
// other organizations are reported as missing, never as forbidden.
func (s *Service) Get(id, organizationID string) (*models.Schedule, error) {
	sched, err := s.schedules.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	if sched.OrganizationID != organizationID {
		return nil, ErrScheduleNotFound
	}
	return sched, nil
}

// List returns the organization's schedules, optionally filtered by workflow.
func (s *Service) List(organizationID, workflowID string) ([]models.Schedule, error) {
	return s.schedules.FindAll(organizationID, workflowID)
}

// Update applies a partial update. Changing the expression, timezone or
// enabled flag recomputes the due time; disabling clears it so the schedule
// drops out of the due scan entirely.
func (s *Service) Update(id, organizationID string, in UpdateInput) (*models.Schedule, error) {
	sched, err := s.Get(id, organizationID)
	if err != nil {
		return nil, err
	}

	expr := sched.CronExpression
	if in.CronExpression != nil {
		expr = *in.CronExpression
	}
	tz := sched.Timezone
	if in.Timezone != nil {
		tz = *in.Timezone
		if tz == "" {
			tz = "UTC"
		}
	}
	enabled := sched.Enabled
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	changes := map[string]interface{}{}
	if in.CronExpression != nil {
		changes["cron_expression"] = expr
	}
	if in.Timezone != nil {
		changes["timezone"] = tz
	}
	if in.Enabled != nil {
		changes["enabled"] = enabled
	}
	if in.Payload != nil {
		changes["payload"] = models.JSONMap(in.Payload)
	}

	cadenceChanged := in.CronExpression != nil || in.Timezone != nil || in.Enabled != nil
	if cadenceChanged {
		if enabled {
			next, err := s.computeNext(expr, tz, s.now())
			if err != nil {
				return nil, err
			}
			if next != nil {
				changes["next_run_at"] = *next
			} else {
				changes["next_run_at"] = nil
			}
		} else {
			if err := s.validateSchedule(expr, tz); err != nil {
				return nil, err
			}
			changes["next_run_at"] = nil
		}
	}

	if len(changes) == 0 {
		return sched, nil
	}
	if err := s.schedules.Update(id, changes); err != nil {
		return nil, err
	}
	return s.Get(id, organizationID)
}

// Delete removes a schedule. Deleting an already-deleted or foreign schedule
// reports not found.
func (s *Service) Delete(id, organizationID string) error {
	if _, err := s.Get(id, organizationID); err != nil {
		return err
	}
	if err := s.schedules.Delete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	s.logger.Info("Schedule deleted", zap.String("schedule_id", id))
	return nil
}

// TriggerManual runs the schedule's workflow immediately on behalf of a user.
// It never touches last_run_at or next_run_at: manual runs must not perturb
// the cron cadence.
func (s *Service) TriggerManual(ctx context.Context, id, organizationID, userID string) (string, error) {
	sched, err := s.Get(id, organizationID)
	if err != nil {
		return "", err
	}

	event := engine.TriggerEvent{
		Module:         engine.TriggerModule,
		EntityType:     engine.TriggerEntityType,
		EventType:      engine.EventTypeManual,
		OrganizationID: sched.OrganizationID,
		Payload:        sched.Payload,
		TriggeredAt:    s.now(),
		UserID:         userID,
	}
	executionID, err := s.executor.ExecuteWorkflow(ctx, sched.WorkflowID, event)
	if err != nil {
		s.logger.Error("Manual trigger failed",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
		return "", err
	}
	s.logger.Info("Manual trigger dispatched",
		zap.String("schedule_id", sched.ID),
		zap.String("execution_id", executionID))
	return executionID, nil
}

// TriggerScheduled fires one due occurrence of a schedule. The conditional
// claim advances next_run_at before dispatch so that concurrent dispatchers
// observing the same snapshot fire at most once. On dispatch failure the due
// time is restored and the occurrence retries on a later tick.
func (s *Service) TriggerScheduled(ctx context.Context, sched models.Schedule, deduper Deduper) (bool, error) {
	if sched.NextRunAt == nil {
		return false, nil
	}
	observed := *sched.NextRunAt

	// Missed occurrences collapse into one: the successor is computed from
	// the current wall clock, not from the due time.
	next, err := s.computeNext(sched.CronExpression, sched.Timezone, s.now())
	if err != nil {
		s.logger.Warn("Schedule has unusable expression, skipping",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
		return false, err
	}

	claimed, err := s.schedules.ClaimDue(sched.ID, observed, next)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if deduper != nil {
		ok, derr := deduper.Claim(ctx, sched.ID, observed)
		if derr != nil {
			s.logger.Warn("Occurrence dedup unavailable, proceeding on claim alone",
				zap.String("schedule_id", sched.ID),
				zap.Error(derr))
		} else if !ok {
			return false, nil
		}
	}

	event := engine.TriggerEvent{
		Module:         engine.TriggerModule,
		EntityType:     engine.TriggerEntityType,
		EventType:      engine.EventTypeScheduled,
		OrganizationID: sched.OrganizationID,
		Payload:        sched.Payload,
		TriggeredAt:    observed,
	}
	executionID, err := s.executor.ExecuteWorkflow(ctx, sched.WorkflowID, event)
	if err != nil {
		s.logger.Error("Scheduled dispatch failed, restoring due time",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
		if deduper != nil {
			if ferr := deduper.Forget(ctx, sched.ID, observed); ferr != nil {
				s.logger.Warn("Failed to release occurrence dedup key", zap.Error(ferr))
			}
		}
		if rerr := s.schedules.ReleaseClaim(sched.ID, next, observed); rerr != nil {
			s.logger.Error("Failed to restore due time", zap.Error(rerr))
		}
		return false, err
	}

	if err := s.schedules.MarkRun(sched.ID, observed); err != nil {
		s.logger.Warn("Failed to record last run time",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
	}
	s.logger.Info("Scheduled trigger dispatched",
		zap.String("schedule_id", sched.ID),
		zap.String("execution_id", executionID),
		zap.Time("occurrence", observed))
	return true, nil
}

// DueSchedules returns the enabled schedules whose due time has passed.
func (s *Service) DueSchedules(limit int) ([]models.Schedule, error) {
	return s.schedules.ListDue(s.now(), limit)
}

// History lists scheduler-triggered executions for the organization. A
// schedule id narrows the result to that schedule's workflow.
func (s *Service) History(organizationID, scheduleID, workflowID string, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	if scheduleID != "" {
		sched, err := s.Get(scheduleID, organizationID)
		if err != nil {
			return nil, err
		}
		workflowID = sched.WorkflowID
	}

	execs, total, err := s.executions.FindScheduled(organizationID, workflowID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Executions: execs,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    int64(offset+len(execs)) < total,
	}, nil
}

// ValidateExpression checks an expression without persisting anything and
// returns the validity verdict, description and next occurrence.
func (s *Service) ValidateExpression(expression, timezone string) cronexpr.Result {
	return cronexpr.Parse(expression, timezone, s.now())
}

func (s *Service) validateSchedule(expression, timezone string) error {
	if err := cronexpr.Validate(expression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return nil
}

func (s *Service) computeNext(expression, timezone string, after time.Time) (*time.Time, error) {
	if err := cronexpr.Validate(expression); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	next, err := cronexpr.Next(expression, timezone, after)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return next, nil
}

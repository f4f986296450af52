package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/models"
)

// ScheduleRepository handles workflow schedule persistence.
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(schedule *models.Schedule) error {
	return r.db.Create(schedule).Error
}

func (r *ScheduleRepository) FindByID(id string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.Where("id = ?", id).First(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindAll returns an organization's schedules, optionally filtered by
// workflow. Empty workflowID means no filter.
func (r *ScheduleRepository) FindAll(organizationID, workflowID string) ([]models.Schedule, error) {
	q := r.db.Where("organization_id = ?", organizationID).Order("created_at DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	var schedules []models.Schedule
	err := q.Find(&schedules).Error
	return schedules, err
}

// Update applies partial column changes. Callers are expected to have
// loaded the schedule first; a missing row is not distinguished here.
func (r *ScheduleRepository) Update(id string, changes map[string]interface{}) error {
	return r.db.Model(&models.Schedule{}).Where("id = ?", id).Updates(changes).Error
}

// Delete removes a schedule. Deleting an absent schedule reports
// gorm.ErrRecordNotFound; callers decide whether that matters.
func (r *ScheduleRepository) Delete(id string) error {
	res := r.db.Where("id = ?", id).Delete(&models.Schedule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListDue returns enabled schedules whose next run time has passed,
// oldest first. The (enabled, next_run_at) composite index keeps this scan
// cheap under frequent polling.
func (r *ScheduleRepository) ListDue(now time.Time, limit int) ([]models.Schedule, error) {
	q := r.db.Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var schedules []models.Schedule
	err := q.Find(&schedules).Error
	return schedules, err
}

// ClaimDue atomically advances next_run_at from its observed value to the
// following occurrence. Of two dispatchers racing on the same due
// occurrence exactly one update matches, so exactly one caller wins. A
// schedule that was mutated, disabled or deleted since the scan simply
// affects zero rows.
func (r *ScheduleRepository) ClaimDue(id string, observed time.Time, next *time.Time) (bool, error) {
	res := r.db.Model(&models.Schedule{}).
		Where("id = ? AND enabled = ? AND next_run_at = ?", id, true, observed).
		Updates(map[string]interface{}{"next_run_at": next})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseClaim restores the due time after a failed dispatch so the
// occurrence is retried on a later tick. The condition on the claimed value
// keeps the release from clobbering a newer claim.
func (r *ScheduleRepository) ReleaseClaim(id string, claimedNext *time.Time, dueAt time.Time) error {
	q := r.db.Model(&models.Schedule{}).Where("id = ?", id)
	if claimedNext == nil {
		q = q.Where("next_run_at IS NULL")
	} else {
		q = q.Where("next_run_at = ?", *claimedNext)
	}
	return q.Update("next_run_at", dueAt).Error
}

// MarkRun records the moment of a successful scheduled dispatch.
func (r *ScheduleRepository) MarkRun(id string, ranAt time.Time) error {
	return r.db.Model(&models.Schedule{}).Where("id = ?", id).
		Update("last_run_at", ranAt).Error
}

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/models"
	"github.com/reportcast/internal/notify"
	"gorm.io/gorm"
)

// Store persists schedules. Times are written in UTC so that the textual
// comparison sqlite performs on next_run stays chronological.
type Store struct {
	db    *gorm.DB
	locks sync.Map // schedule id -> *sync.Mutex
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListDue returns active schedules with next_run at or before now, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := s.db.WithContext(ctx).
		Where("active = ? AND next_run <= ?", true, now.UTC()).
		Order("next_run ASC").
		Order("id ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list due schedules", Err: err}
	}
	return schedules, nil
}

// Advance moves the schedule to its next occurrence after now. last_sent_at
// is only touched when the run actually delivered. The returned time is the
// persisted next_run; it never moves backwards.
func (s *Store) Advance(ctx context.Context, id uint, now time.Time, delivered bool) (time.Time, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var sched models.Schedule
	if err := s.db.WithContext(ctx).First(&sched, id).Error; err != nil {
		return time.Time{}, &apperrors.PersistenceError{Op: fmt.Sprintf("load schedule %d", id), Err: err}
	}

	next, err := NextRun(&sched, now)
	if err != nil {
		return time.Time{}, err
	}
	if sched.NextRun.After(next) {
		next = sched.NextRun
	}

	updates := map[string]any{"next_run": next.UTC()}
	if delivered {
		updates["last_sent_at"] = now.UTC()
	}
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return time.Time{}, &apperrors.PersistenceError{Op: fmt.Sprintf("advance schedule %d", id), Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return time.Time{}, &apperrors.PersistenceError{
			Op:  fmt.Sprintf("advance schedule %d", id),
			Err: gorm.ErrRecordNotFound,
		}
	}
	return next, nil
}

func (s *Store) lockFor(id uint) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Validate checks the fields a schedule needs to be evaluated and delivered.
func Validate(sched *models.Schedule) error {
	if sched.ReportID == 0 {
		return &apperrors.ConfigurationError{Field: "report_id", Reason: "is required"}
	}
	if _, _, err := sched.Clock(); err != nil {
		return &apperrors.ConfigurationError{Field: "time_of_day", Reason: err.Error()}
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return &apperrors.ConfigurationError{Field: "timezone", Reason: err.Error()}
		}
	}
	switch sched.Frequency {
	case models.FrequencyDaily:
	case models.FrequencyWeekly:
		if sched.DayOfWeek < 1 || sched.DayOfWeek > 7 {
			return &apperrors.ConfigurationError{Field: "day_of_week", Reason: "must be between 1 and 7"}
		}
	case models.FrequencyMonthly:
		if sched.DayOfMonth < 1 || sched.DayOfMonth > 31 {
			return &apperrors.ConfigurationError{Field: "day_of_month", Reason: "must be between 1 and 31"}
		}
	default:
		return &apperrors.ConfigurationError{
			Field:  "frequency",
			Reason: fmt.Sprintf("unsupported frequency %q", sched.Frequency),
		}
	}
	return notify.ValidateRecipients(sched.Recipients)
}

// Create validates and inserts a schedule. A zero NextRun is computed from now.
func (s *Store) Create(ctx context.Context, sched *models.Schedule, now time.Time) error {
	if err := Validate(sched); err != nil {
		return err
	}
	if sched.NextRun.IsZero() {
		next, err := NextRun(sched, now)
		if err != nil {
			return err
		}
		sched.NextRun = next
	}
	sched.NextRun = sched.NextRun.UTC()
	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return &apperrors.PersistenceError{Op: "create schedule", Err: err}
	}
	return nil
}

// Update replaces the editable fields of an existing schedule. When the
// cadence changes, next_run is recomputed from now.
func (s *Store) Update(ctx context.Context, sched *models.Schedule, now time.Time) error {
	if err := Validate(sched); err != nil {
		return err
	}

	mu := s.lockFor(sched.ID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.Get(ctx, sched.ID)
	if err != nil {
		return err
	}
	sched.CreatedAt = existing.CreatedAt
	sched.LastSentAt = existing.LastSentAt
	if cadenceChanged(existing, sched) {
		next, err := NextRun(sched, now)
		if err != nil {
			return err
		}
		sched.NextRun = next
	} else {
		sched.NextRun = existing.NextRun
	}
	sched.NextRun = sched.NextRun.UTC()

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return &apperrors.PersistenceError{Op: fmt.Sprintf("update schedule %d", sched.ID), Err: err}
	}
	return nil
}

func cadenceChanged(a, b *models.Schedule) bool {
	return a.Frequency != b.Frequency ||
		a.TimeOfDay != b.TimeOfDay ||
		a.DayOfWeek != b.DayOfWeek ||
		a.DayOfMonth != b.DayOfMonth ||
		a.Timezone != b.Timezone
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Schedule, error) {
	var sched models.Schedule
	if err := s.db.WithContext(ctx).First(&sched, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &apperrors.PersistenceError{Op: fmt.Sprintf("load schedule %d", id), Err: err}
	}
	return &sched, nil
}

func (s *Store) List(ctx context.Context, active *bool) ([]models.Schedule, error) {
	var schedules []models.Schedule
	query := s.db.WithContext(ctx)
	if active != nil {
		query = query.Where("active = ?", *active)
	}
	if err := query.Order("id ASC").Find(&schedules).Error; err != nil {
		return nil, &apperrors.PersistenceError{Op: "list schedules", Err: err}
	}
	return schedules, nil
}

// SetActive is the soft delete / re-enable switch.
func (s *Store) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return &apperrors.PersistenceError{Op: fmt.Sprintf("update schedule %d", id), Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Unscoped().Delete(&models.Schedule{}, id)
	if res.Error != nil {
		return &apperrors.PersistenceError{Op: fmt.Sprintf("delete schedule %d", id), Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.locks.Delete(id)
	return nil
}

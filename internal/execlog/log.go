package execlog

import (
	"context"
	"fmt"

	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/models"
	"github.com/reportcast/internal/notify"
	"gorm.io/gorm"
)

const defaultLimit = 50

// Log is the append-only audit trail of schedule runs.
type Log struct {
	db       *gorm.DB
	reporter notify.ErrorReporter
}

func New(db *gorm.DB, reporter notify.ErrorReporter) *Log {
	return &Log{db: db, reporter: reporter}
}

func (l *Log) Append(ctx context.Context, entry *models.ExecutionLog) error {
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return &apperrors.PersistenceError{Op: "append execution log", Err: err}
	}
	return nil
}

// AppendOrReport appends entry and hands any failure to the error reporter
// instead of returning it; the run's outcome is already decided.
func (l *Log) AppendOrReport(ctx context.Context, entry *models.ExecutionLog) {
	if err := l.Append(ctx, entry); err != nil && l.reporter != nil {
		l.reporter.ReportError(ctx, fmt.Sprintf("execution log for schedule %d (run %s)", entry.ScheduleID, entry.RunID), err)
	}
}

// ListForSchedule returns the newest entries of one schedule first.
func (l *Log) ListForSchedule(ctx context.Context, scheduleID uint, limit int) ([]models.ExecutionLog, error) {
	return l.list(ctx, l.db.WithContext(ctx).Where("schedule_id = ?", scheduleID), limit)
}

func (l *Log) ListRecent(ctx context.Context, limit int) ([]models.ExecutionLog, error) {
	return l.list(ctx, l.db.WithContext(ctx), limit)
}

func (l *Log) list(_ context.Context, query *gorm.DB, limit int) ([]models.ExecutionLog, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var entries []models.ExecutionLog
	if err := query.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, &apperrors.PersistenceError{Op: "list execution logs", Err: err}
	}
	return entries, nil
}

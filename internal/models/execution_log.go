package models

import "time"

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionLog is the audit record of one schedule run. Rows are only ever
// inserted.
type ExecutionLog struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	RunID          string          `json:"run_id" gorm:"uniqueIndex;not null"`
	ScheduleID     uint            `json:"schedule_id" gorm:"index;not null"`
	ReportID       uint            `json:"report_id"`
	Status         ExecutionStatus `json:"status" gorm:"not null"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	Error          string          `json:"error,omitempty"`
	RecipientCount int             `json:"recipient_count"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
}

package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Label is the human form used in email subjects.
func (f Frequency) Label() string {
	switch f {
	case FrequencyDaily:
		return "Daily"
	case FrequencyWeekly:
		return "Weekly"
	case FrequencyMonthly:
		return "Monthly"
	default:
		return string(f)
	}
}

// Schedule is a recurring delivery of one report to a list of recipients.
type Schedule struct {
	gorm.Model
	ReportID   uint       `json:"report_id" gorm:"index;not null"`
	Frequency  Frequency  `json:"frequency" gorm:"not null"`
	TimeOfDay  string     `json:"time_of_day" gorm:"not null"` // HH:MM
	DayOfWeek  int        `json:"day_of_week"`                 // 1 = Monday ... 7 = Sunday
	DayOfMonth int        `json:"day_of_month"`                // 1-31
	Timezone   string     `json:"timezone"`                    // IANA name, empty for the process default
	Recipients []string   `json:"recipients" gorm:"serializer:json"`
	Active     bool       `json:"active" gorm:"index"`
	NextRun    time.Time  `json:"next_run" gorm:"index"`
	LastSentAt *time.Time `json:"last_sent_at"`
}

// Clock parses TimeOfDay.
func (s *Schedule) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("time_of_day %q is not HH:MM", s.TimeOfDay)
	}
	return t.Hour(), t.Minute(), nil
}

// IsDue reports whether the schedule should run at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRun.After(now)
}

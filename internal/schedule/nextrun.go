package schedule

import (
	"fmt"
	"time"

	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/models"
)

// NextRun returns the instant the schedule is next due after now.
//
// Date arithmetic is done on calendar dates and the schedule's wall-clock
// time is applied afterwards, so a 09:00 schedule stays at 09:00 local time
// across DST changes. The location is the schedule's Timezone when set,
// otherwise now's location.
func NextRun(s *models.Schedule, now time.Time) (time.Time, error) {
	hour, minute, err := s.Clock()
	if err != nil {
		return time.Time{}, &apperrors.ConfigurationError{Field: "time_of_day", Reason: err.Error()}
	}

	loc := now.Location()
	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, &apperrors.ConfigurationError{Field: "timezone", Reason: err.Error()}
		}
	}
	now = now.In(loc)
	y, m, d := now.Date()

	switch s.Frequency {
	case models.FrequencyDaily:
		return time.Date(y, m, d+1, hour, minute, 0, 0, loc), nil

	case models.FrequencyWeekly:
		if s.DayOfWeek < 1 || s.DayOfWeek > 7 {
			return time.Time{}, &apperrors.ConfigurationError{
				Field:  "day_of_week",
				Reason: fmt.Sprintf("%d is outside 1-7", s.DayOfWeek),
			}
		}
		target := time.Weekday(s.DayOfWeek % 7)
		delta := (int(target) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return time.Date(y, m, d+delta, hour, minute, 0, 0, loc), nil

	case models.FrequencyMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return time.Time{}, &apperrors.ConfigurationError{
				Field:  "day_of_month",
				Reason: fmt.Sprintf("%d is outside 1-31", s.DayOfMonth),
			}
		}
		// Day 1 of the following month normalizes December into January.
		first := time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
		day := s.DayOfMonth
		if last := daysIn(first.Year(), first.Month(), loc); day > last {
			day = last
		}
		return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc), nil

	default:
		return time.Time{}, &apperrors.ConfigurationError{
			Field:  "frequency",
			Reason: fmt.Sprintf("unsupported frequency %q", s.Frequency),
		}
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

package execlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/database"
	"github.com/reportcast/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	sources []string
	errs    []error
}

func (r *recordingReporter) ReportError(_ context.Context, source string, err error) {
	r.sources = append(r.sources, source)
	r.errs = append(r.errs, err)
}

func newTestLog(t *testing.T) (*Log, *recordingReporter) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "reportcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	reporter := &recordingReporter{}
	return New(db, reporter), reporter
}

func entry(scheduleID uint, n int) *models.ExecutionLog {
	return &models.ExecutionLog{
		RunID:          fmt.Sprintf("run-%d-%d", scheduleID, n),
		ScheduleID:     scheduleID,
		ReportID:       7,
		Status:         models.ExecutionSuccess,
		RecipientCount: 2,
	}
}

func TestLog_ListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, entry(1, i)))
		require.NoError(t, log.Append(ctx, entry(2, i)))
	}

	entries, err := log.ListForSchedule(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"run-1-2", "run-1-1", "run-1-0"},
		[]string{entries[0].RunID, entries[1].RunID, entries[2].RunID})
	for _, e := range entries {
		assert.False(t, e.CreatedAt.IsZero())
	}

	recent, err := log.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-2-2", recent[0].RunID)
	assert.Equal(t, "run-1-2", recent[1].RunID)
}

func TestLog_AppendOrReportHandsFailureToReporter(t *testing.T) {
	ctx := context.Background()
	log, reporter := newTestLog(t)

	log.AppendOrReport(ctx, entry(1, 0))
	assert.Empty(t, reporter.errs)

	// run ids are unique, so a replay of the same run cannot be persisted
	log.AppendOrReport(ctx, entry(1, 0))
	require.Len(t, reporter.errs, 1)
	assert.Contains(t, reporter.sources[0], "schedule 1")
	var persErr *apperrors.PersistenceError
	assert.True(t, errors.As(reporter.errs[0], &persErr))

	entries, err := log.ListForSchedule(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reportcast/internal/auth"
	"github.com/reportcast/internal/database"
	"github.com/reportcast/internal/execlog"
	"github.com/reportcast/internal/executor"
	"github.com/reportcast/internal/models"
	"github.com/reportcast/internal/notify"
	"github.com/reportcast/internal/report"
	"github.com/reportcast/internal/schedule"
	"github.com/reportcast/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("test-secret")
	serverNow  = time.Date(2024, time.January, 29, 9, 5, 0, 0, time.UTC)
)

type capturingDeliverer struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (d *capturingDeliverer) Deliver(_ context.Context, msg notify.Message) error {
	if err := notify.ValidateRecipients(msg.To); err != nil {
		return err
	}
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T) (http.Handler, *capturingDeliverer) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "reportcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, db.Exec(`CREATE TABLE sales (region TEXT, amount INTEGER)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO sales VALUES ('north', 120), ('south', 75)`).Error)

	store := schedule.NewStore(db)
	defs := report.NewDefinitions(db)
	logs := execlog.New(db, notify.LogReporter{Logger: zerolog.Nop()})
	deliverer := &capturingDeliverer{}

	exec := executor.New(defs, report.NewGormProvider(db), report.NewExporter(t.TempDir()), deliverer, store, logs, executor.Config{})
	exec.Now = func() time.Time { return serverNow }
	loop := scheduler.NewLoop(store, exec, scheduler.Config{})

	server := NewServer(store, defs, logs, loop, testSecret, zerolog.Nop())
	server.Now = func() time.Time { return serverNow }
	return server.Handler(), deliverer
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, "alice", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createReport(t *testing.T, h http.Handler, admin string) models.ReportDefinition {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/reports", admin, map[string]any{
		"name":   "Regional Sales",
		"filter": map[string]any{"source": "sales", "columns": []string{"region", "amount"}, "order_by": "amount", "desc": true},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.ReportDefinition](t, rec)
}

func TestServer_HealthNeedsNoAuth(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestServer_Auth(t *testing.T) {
	h, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/schedules", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/schedules", "garbage", nil).Code)

	forged, err := auth.GenerateToken([]byte("other-secret"), "mallory", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/schedules", forged, nil).Code)

	viewer := token(t, auth.RoleViewer)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/schedules", viewer, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/schedules", viewer, map[string]any{}).Code)
}

func TestServer_ScheduleLifecycle(t *testing.T) {
	h, deliverer := newTestServer(t)
	admin := token(t, auth.RoleAdmin)
	def := createReport(t, h, admin)

	rec := do(t, h, http.MethodPost, "/api/v1/schedules", admin, map[string]any{
		"report_id":   def.ID,
		"frequency":   "daily",
		"time_of_day": "09:00",
		"timezone":    "UTC",
		"recipients":  []string{"ops@example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Schedule](t, rec)
	assert.True(t, created.Active)
	assert.True(t, time.Date(2024, time.January, 30, 9, 0, 0, 0, time.UTC).Equal(created.NextRun))
	path := fmt.Sprintf("/api/v1/schedules/%d", created.ID)

	rec = do(t, h, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ops@example.com"}, decode[models.Schedule](t, rec).Recipients)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, path+"/disable", admin, nil).Code)
	rec = do(t, h, http.MethodGet, "/api/v1/schedules?active=true", admin, nil)
	assert.Empty(t, decode[[]models.Schedule](t, rec))
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, path+"/enable", admin, nil).Code)

	rec = do(t, h, http.MethodPut, path, admin, map[string]any{
		"report_id":   def.ID,
		"frequency":   "weekly",
		"time_of_day": "07:30",
		"day_of_week": 5,
		"timezone":    "UTC",
		"recipients":  []string{"ops@example.com", "cfo@example.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Schedule](t, rec)
	assert.True(t, time.Date(2024, time.February, 2, 7, 30, 0, 0, time.UTC).Equal(updated.NextRun))

	rec = do(t, h, http.MethodPost, path+"/run", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[map[string]any](t, rec)
	assert.Equal(t, string(executor.StateSucceeded), run["state"])
	assert.NotEmpty(t, run["run_id"])

	require.Len(t, deliverer.msgs, 1)
	msg := deliverer.msgs[0]
	assert.Equal(t, "Regional Sales - Weekly report", msg.Subject)
	assert.Equal(t, []string{"ops@example.com", "cfo@example.com"}, msg.To)
	assert.Equal(t, run["run_id"], msg.RunID)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, 2, msg.Attachment.Rows)

	rec = do(t, h, http.MethodGet, path+"/logs", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]models.ExecutionLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ExecutionSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].RecipientCount)

	rec = do(t, h, http.MethodGet, "/api/v1/logs?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.ExecutionLog](t, rec), 1)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, path+"/run", admin, nil).Code)
}

func TestServer_CreateScheduleValidation(t *testing.T) {
	h, _ := newTestServer(t)
	admin := token(t, auth.RoleAdmin)
	def := createReport(t, h, admin)

	valid := func() map[string]any {
		return map[string]any{
			"report_id":    def.ID,
			"frequency":    "monthly",
			"time_of_day":  "06:00",
			"day_of_month": 31,
			"recipients":   []string{"ops@example.com"},
		}
	}

	inactive := valid()
	inactive["active"] = false
	rec := do(t, h, http.MethodPost, "/api/v1/schedules", admin, inactive)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, decode[models.Schedule](t, rec).Active)

	badRecipient := valid()
	badRecipient["recipients"] = []string{"not-an-address"}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/schedules", admin, badRecipient).Code)

	badDay := valid()
	badDay["day_of_month"] = 0
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/schedules", admin, badDay).Code)

	badFreq := valid()
	badFreq["frequency"] = "hourly"
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/schedules", admin, badFreq).Code)

	unknownReport := valid()
	unknownReport["report_id"] = 999
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/schedules", admin, unknownReport).Code)

	missing := valid()
	delete(missing, "time_of_day")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/schedules", admin, missing).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/schedules/abc", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/v1/schedules/999/enable", admin, nil).Code)
}

func TestServer_Reports(t *testing.T) {
	h, _ := newTestServer(t)
	admin := token(t, auth.RoleAdmin)
	def := createReport(t, h, admin)

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d", def.ID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sales", decode[models.ReportDefinition](t, rec).Filter.Source)

	rec = do(t, h, http.MethodGet, "/api/v1/reports", token(t, auth.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.ReportDefinition](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/v1/reports", admin, map[string]any{
		"name":   "Injected",
		"filter": map[string]any{"source": "sales; DROP TABLE sales"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/reports/42", admin, nil).Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	server := NewServer(nil, nil, nil, nil, testSecret, zerolog.Nop())
	require.NoError(t, server.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- server.Start(0) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestServer_ShutdownStopsServing(t *testing.T) {
	server := NewServer(nil, nil, nil, nil, testSecret, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- server.Start(0) }()
	assert.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.httpSrv != nil
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reportcast/internal/apperrors"
	"github.com/reportcast/internal/auth"
	"github.com/reportcast/internal/execlog"
	"github.com/reportcast/internal/models"
	"github.com/reportcast/internal/report"
	"github.com/reportcast/internal/schedule"
	"github.com/reportcast/internal/scheduler"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Server struct {
	schedules *schedule.Store
	reports   *report.Definitions
	logs      *execlog.Log
	loop      *scheduler.Loop
	secret    []byte
	log       zerolog.Logger
	router    *gin.Engine

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool

	Now func() time.Time
}

func NewServer(
	schedules *schedule.Store,
	reports *report.Definitions,
	logs *execlog.Log,
	loop *scheduler.Loop,
	secret []byte,
	log zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	server := &Server{
		schedules: schedules,
		reports:   reports,
		logs:      logs,
		loop:      loop,
		secret:    secret,
		log:       log,
		router:    gin.New(),
		Now:       time.Now,
	}
	server.router.Use(gin.Recovery(), server.requestLogger())

	server.setupRoutes()
	return server
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1")
	api.Use(auth.AuthMiddleware(s.secret))
	admin := auth.RequireRole(auth.RoleAdmin)

	schedules := api.Group("/schedules")
	{
		schedules.GET("", s.listSchedules)
		schedules.GET("/:id", s.getSchedule)
		schedules.GET("/:id/logs", s.listScheduleLogs)
		schedules.POST("", admin, s.createSchedule)
		schedules.PUT("/:id", admin, s.updateSchedule)
		schedules.DELETE("/:id", admin, s.deleteSchedule)
		schedules.PUT("/:id/enable", admin, s.enableSchedule)
		schedules.PUT("/:id/disable", admin, s.disableSchedule)
		schedules.POST("/:id/run", admin, s.runSchedule)
	}

	reports := api.Group("/reports")
	{
		reports.GET("", s.listReports)
		reports.GET("/:id", s.getReport)
		reports.POST("", admin, s.createReport)
	}

	api.GET("/logs", s.listLogs)
}

// Start serves until Shutdown. Calling Shutdown first makes Start return
// immediately.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", srv.Addr).Msg("starting api server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(s.log.WithContext(c.Request.Context()))
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("api request")
	}
}

type scheduleRequest struct {
	ReportID   uint             `json:"report_id" binding:"required"`
	Frequency  models.Frequency `json:"frequency" binding:"required"`
	TimeOfDay  string           `json:"time_of_day" binding:"required"`
	DayOfWeek  int              `json:"day_of_week"`
	DayOfMonth int              `json:"day_of_month"`
	Timezone   string           `json:"timezone"`
	Recipients []string         `json:"recipients" binding:"required"`
	Active     *bool            `json:"active"`
}

func (r scheduleRequest) toModel() *models.Schedule {
	sched := &models.Schedule{
		ReportID:   r.ReportID,
		Frequency:  r.Frequency,
		TimeOfDay:  r.TimeOfDay,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		Timezone:   r.Timezone,
		Recipients: r.Recipients,
		Active:     true,
	}
	if r.Active != nil {
		sched.Active = *r.Active
	}
	return sched
}

func (s *Server) health(c *gin.Context) {
	last, cycles := s.loop.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"cycles":         cycles,
		"last_cycle_at":  last.StartedAt,
		"last_due":       last.Due,
		"last_succeeded": last.Succeeded,
		"last_failed":    last.Failed,
	})
}

func (s *Server) listSchedules(c *gin.Context) {
	var active *bool
	if v := c.Query("active"); v != "" {
		b := v == "true"
		active = &b
	}
	schedules, err := s.schedules.List(c.Request.Context(), active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

func (s *Server) getSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.schedules.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.reports.Get(ctx, req.ReportID); err != nil {
		writeError(c, err)
		return
	}

	sched := req.toModel()
	if err := s.schedules.Create(ctx, sched, s.Now()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) updateSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.reports.Get(ctx, req.ReportID); err != nil {
		writeError(c, err)
		return
	}

	sched := req.toModel()
	sched.ID = id
	if err := s.schedules.Update(ctx, sched, s.Now()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.schedules.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted successfully"})
}

func (s *Server) enableSchedule(c *gin.Context)  { s.setActive(c, true) }
func (s *Server) disableSchedule(c *gin.Context) { s.setActive(c, false) }

func (s *Server) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.schedules.SetActive(c.Request.Context(), id, active); err != nil {
		writeError(c, err)
		return
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule " + state + " successfully"})
}

func (s *Server) runSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := s.loop.RunNow(c.Request.Context(), id, s.Now())
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}

	body := gin.H{
		"run_id":   res.RunID,
		"state":    res.State,
		"next_run": res.NextRun,
		"duration": res.Duration.String(),
	}
	if res.Failed() {
		body["failed_at"] = res.FailedAt
		if res.Err != nil {
			body["error"] = res.Err.Error()
		}
		if res.AdvanceErr != nil {
			body["advance_error"] = res.AdvanceErr.Error()
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listScheduleLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entries, err := s.logs.ListForSchedule(c.Request.Context(), id, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) listLogs(c *gin.Context) {
	entries, err := s.logs.ListRecent(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) listReports(c *gin.Context) {
	defs, err := s.reports.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) getReport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	def, err := s.reports.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) createReport(c *gin.Context) {
	var def models.ReportDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def.ID = 0
	if err := s.reports.Create(c.Request.Context(), &def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, def)
}

// Helper functions
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ID"})
		return 0, false
	}
	return uint(id), true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeError(c *gin.Context, err error) {
	var (
		cfgErr  *apperrors.ConfigurationError
		rcptErr *apperrors.InvalidRecipientError
	)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &cfgErr), errors.As(err, &rcptErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("api request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

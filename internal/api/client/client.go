package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/reportcast/internal/models"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ScheduleInput is the create/update payload for a schedule.
type ScheduleInput struct {
	ReportID   uint             `json:"report_id"`
	Frequency  models.Frequency `json:"frequency"`
	TimeOfDay  string           `json:"time_of_day"`
	DayOfWeek  int              `json:"day_of_week,omitempty"`
	DayOfMonth int              `json:"day_of_month,omitempty"`
	Timezone   string           `json:"timezone,omitempty"`
	Recipients []string         `json:"recipients"`
	Active     *bool            `json:"active,omitempty"`
}

type RunResult struct {
	RunID        string    `json:"run_id"`
	State        string    `json:"state"`
	NextRun      time.Time `json:"next_run"`
	Duration     string    `json:"duration"`
	FailedAt     string    `json:"failed_at,omitempty"`
	Error        string    `json:"error,omitempty"`
	AdvanceError string    `json:"advance_error,omitempty"`
}

func NewClient() (*Client, error) {
	baseURL := os.Getenv("REPORTCAST_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	token := os.Getenv("REPORTCAST_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("REPORTCAST_API_TOKEN environment variable is not set")
	}

	// run-now waits for the whole execution
	return New(baseURL, token, &http.Client{Timeout: 10 * time.Minute}), nil
}

// New builds a client against baseURL. A nil httpClient uses a default
// with a ten second timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

func (c *Client) ListSchedules(active *bool) ([]models.Schedule, error) {
	query := url.Values{}
	if active != nil {
		query.Set("active", strconv.FormatBool(*active))
	}

	var schedules []models.Schedule
	if err := c.get("/api/v1/schedules", query, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (c *Client) GetSchedule(id uint) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.get(fmt.Sprintf("/api/v1/schedules/%d", id), nil, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *Client) CreateSchedule(in ScheduleInput) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.send(http.MethodPost, "/api/v1/schedules", in, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *Client) UpdateSchedule(id uint, in ScheduleInput) (*models.Schedule, error) {
	var sched models.Schedule
	if err := c.send(http.MethodPut, fmt.Sprintf("/api/v1/schedules/%d", id), in, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *Client) DeleteSchedule(id uint) error {
	return c.send(http.MethodDelete, fmt.Sprintf("/api/v1/schedules/%d", id), nil, nil)
}

func (c *Client) SetScheduleActive(id uint, active bool) error {
	action := "disable"
	if active {
		action = "enable"
	}
	return c.send(http.MethodPut, fmt.Sprintf("/api/v1/schedules/%d/%s", id, action), nil, nil)
}

func (c *Client) RunSchedule(id uint) (*RunResult, error) {
	var res RunResult
	if err := c.send(http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/run", id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListLogs returns recent execution logs, narrowed to one schedule when
// scheduleID is non-zero.
func (c *Client) ListLogs(scheduleID uint, limit int) ([]models.ExecutionLog, error) {
	endpoint := "/api/v1/logs"
	if scheduleID != 0 {
		endpoint = fmt.Sprintf("/api/v1/schedules/%d/logs", scheduleID)
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var logs []models.ExecutionLog
	if err := c.get(endpoint, query, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) ListReports() ([]models.ReportDefinition, error) {
	var defs []models.ReportDefinition
	if err := c.get("/api/v1/reports", nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (c *Client) CreateReport(def models.ReportDefinition) (*models.ReportDefinition, error) {
	var created models.ReportDefinition
	if err := c.send(http.MethodPost, "/api/v1/reports", def, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) get(endpoint string, query url.Values, v interface{}) error {
	resp, err := c.doRequest(http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(method, endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(method, endpoint, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(method, endpoint string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	u.RawQuery = query.Encode()

	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return resp, nil
}

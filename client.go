// Package facegate provides the Go client SDK for the FaceGate
// face-recognition attendance service.
//
// The client keeps a live, canonical view of attendance events that is
// mutated both by local calls and by the server pushing events over a
// persistent websocket:
//
//	client := facegate.NewClient(facegate.WithBaseURL("http://gate.local:8000"))
//
//	sock := client.Realtime().Connect(nil)
//	sock.OnAttendanceUpdate(func(updates []facegate.RawAttendanceUpdate) { ... })
//	sock.Open(ctx)
//
//	// REST collaborator
//	client.Employees().List(ctx)
//	client.Attendance().Create(ctx, payload)
package facegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is used when neither WithBaseURL nor the
	// FACEGATE_BASE_URL environment variable is set.
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	// EnvBaseURL is the environment variable consulted for the REST
	// collaborator base URL.
	EnvBaseURL = "FACEGATE_BASE_URL"
)

// ============================================================================
// Client
// ============================================================================

// Client is the FaceGate REST collaborator client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	attendance *AttendanceClient
	employees  *EmployeesClient
	shifts     *ShiftsClient
	timings    *OfficeTimingsClient
	timezone   *TimezoneClient
	reasons    *ReasonsClient
	realtime   *RealtimeFactory
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new FaceGate client. The base URL is taken from
// WithBaseURL, then FACEGATE_BASE_URL, then DefaultBaseURL.
func NewClient(opts ...ClientOption) *Client {
	base := DefaultBaseURL
	if v := os.Getenv(EnvBaseURL); v != "" {
		base = strings.TrimRight(v, "/")
	}
	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.attendance = &AttendanceClient{c: c}
	c.employees = &EmployeesClient{c: c}
	c.shifts = &ShiftsClient{c: c}
	c.timings = &OfficeTimingsClient{c: c}
	c.timezone = &TimezoneClient{c: c}
	c.reasons = &ReasonsClient{c: c}
	c.realtime = &RealtimeFactory{c: c}
	return c
}

// BaseURL returns the configured REST base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Attendance() *AttendanceClient       { return c.attendance }
func (c *Client) Employees() *EmployeesClient         { return c.employees }
func (c *Client) Shifts() *ShiftsClient               { return c.shifts }
func (c *Client) OfficeTimings() *OfficeTimingsClient { return c.timings }
func (c *Client) Timezone() *TimezoneClient           { return c.timezone }
func (c *Client) Reasons() *ReasonsClient             { return c.reasons }
func (c *Client) Realtime() *RealtimeFactory          { return c.realtime }

// Health checks service health.
func (c *Client) Health(ctx context.Context) (*APIResult, error) {
	return c.do(ctx, "GET", "/api/health", nil, nil)
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// doForm sends a multipart/form-data request. File fields carry raw
// bytes keyed by field name; plain fields are written as form values.
func (c *Client) doForm(ctx context.Context, method, path string, fields map[string]string, files map[string]FormFile) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	for field, f := range files {
		part, err := w.CreateFormFile(field, f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// FormFile is one file-like field in a multipart mutation.
type FormFile struct {
	Name string
	Data []byte
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AttendanceClient handles attendance record CRUD.
type AttendanceClient struct{ c *Client }

func (a *AttendanceClient) List(ctx context.Context, query map[string]string) (*APIResult, error) {
	return a.c.do(ctx, "GET", "/api/attendance", nil, query)
}

func (a *AttendanceClient) Create(ctx context.Context, rec *AttendanceRecord) (*APIResult, error) {
	return a.c.do(ctx, "POST", "/api/attendance", rec, nil)
}

func (a *AttendanceClient) Update(ctx context.Context, id string, rec *AttendanceRecord) (*APIResult, error) {
	return a.c.do(ctx, "PUT", "/api/attendance/"+id, rec, nil)
}

func (a *AttendanceClient) Delete(ctx context.Context, id string) (*APIResult, error) {
	return a.c.do(ctx, "DELETE", "/api/attendance/"+id, nil, nil)
}

// EmployeesClient handles employee records. Create and Update carry the
// registered face image, so they use multipart form encoding.
type EmployeesClient struct{ c *Client }

func (e *EmployeesClient) List(ctx context.Context) (*APIResult, error) {
	return e.c.do(ctx, "GET", "/api/employees", nil, nil)
}

func (e *EmployeesClient) Get(ctx context.Context, id string) (*APIResult, error) {
	return e.c.do(ctx, "GET", "/api/employees/"+id, nil, nil)
}

// Create registers an employee. photo may be nil when no face image is
// attached; the request is multipart either way, matching the server's
// form contract.
func (e *EmployeesClient) Create(ctx context.Context, emp *Employee, photo *FormFile) (*APIResult, error) {
	files := map[string]FormFile{}
	if photo != nil {
		files["photo"] = *photo
	}
	data, err := e.c.doForm(ctx, "POST", "/api/employees", employeeFields(emp), files)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func (e *EmployeesClient) Update(ctx context.Context, id string, emp *Employee, photo *FormFile) (*APIResult, error) {
	files := map[string]FormFile{}
	if photo != nil {
		files["photo"] = *photo
	}
	data, err := e.c.doForm(ctx, "PUT", "/api/employees/"+id, employeeFields(emp), files)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func (e *EmployeesClient) Delete(ctx context.Context, id string) (*APIResult, error) {
	return e.c.do(ctx, "DELETE", "/api/employees/"+id, nil, nil)
}

func employeeFields(emp *Employee) map[string]string {
	fields := map[string]string{
		"employee_id": emp.EmployeeID,
		"name":        emp.Name,
	}
	if emp.Department != "" {
		fields["department"] = emp.Department
	}
	if emp.Position != "" {
		fields["position"] = emp.Position
	}
	if emp.ShiftID != "" {
		fields["shift_id"] = emp.ShiftID
	}
	return fields
}

// ShiftsClient handles shift configuration.
type ShiftsClient struct{ c *Client }

func (s *ShiftsClient) List(ctx context.Context) (*APIResult, error) {
	return s.c.do(ctx, "GET", "/api/shifts", nil, nil)
}

func (s *ShiftsClient) Create(ctx context.Context, shift *Shift) (*APIResult, error) {
	return s.c.do(ctx, "POST", "/api/shifts", shift, nil)
}

func (s *ShiftsClient) Update(ctx context.Context, id string, shift *Shift) (*APIResult, error) {
	return s.c.do(ctx, "PUT", "/api/shifts/"+id, shift, nil)
}

func (s *ShiftsClient) Delete(ctx context.Context, id string) (*APIResult, error) {
	return s.c.do(ctx, "DELETE", "/api/shifts/"+id, nil, nil)
}

// OfficeTimingsClient handles office-wide checkin/checkout settings.
type OfficeTimingsClient struct{ c *Client }

func (o *OfficeTimingsClient) Get(ctx context.Context) (*APIResult, error) {
	return o.c.do(ctx, "GET", "/api/office-timings", nil, nil)
}

func (o *OfficeTimingsClient) Set(ctx context.Context, timing *OfficeTiming) (*APIResult, error) {
	return o.c.do(ctx, "POST", "/api/office-timings", timing, nil)
}

// TimezoneClient handles the configured display timezone.
type TimezoneClient struct{ c *Client }

func (t *TimezoneClient) Get(ctx context.Context) (*APIResult, error) {
	return t.c.do(ctx, "GET", "/api/timezone", nil, nil)
}

func (t *TimezoneClient) Set(ctx context.Context, tz string) (*APIResult, error) {
	return t.c.do(ctx, "POST", "/api/timezone", &TimezoneSetting{Timezone: tz}, nil)
}

// ReasonsClient handles early-exit reasons.
type ReasonsClient struct{ c *Client }

func (r *ReasonsClient) List(ctx context.Context) (*APIResult, error) {
	return r.c.do(ctx, "GET", "/api/early-exit-reasons", nil, nil)
}

// Submit files a reason against a resolved attendance record id. It
// refuses an id equal to the employee id: that indicates the caller is
// about to submit against the wrong record.
func (r *ReasonsClient) Submit(ctx context.Context, reason *EarlyExitReason) (*APIResult, error) {
	if reason.AttendanceID == "" {
		return nil, fmt.Errorf("early-exit reason requires an attendance record id")
	}
	if reason.AttendanceID == reason.EmployeeID {
		return nil, fmt.Errorf("attendance id %q equals employee id; refusing to submit against a misresolved record", reason.AttendanceID)
	}
	return r.c.do(ctx, "POST", "/api/early-exit-reasons", reason, nil)
}

// ============================================================================
// Realtime factory
// ============================================================================

// RealtimeFactory creates realtime socket clients bound to this client's
// base URL.
type RealtimeFactory struct{ c *Client }

// SocketURL returns the websocket endpoint derived from the base URL.
func (r *RealtimeFactory) SocketURL() string {
	base := strings.Replace(r.c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// Connect creates a socket client. Call Open to establish the connection.
func (r *RealtimeFactory) Connect(config *SocketConfig) *SocketClient {
	var cfg SocketConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return newSocketClient(r.SocketURL(), &cfg)
}

package facegate

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Attendance Types
// ============================================================================

// EntryType distinguishes entry and exit actions.
type EntryType string

const (
	EntryTypeEntry EntryType = "entry"
	EntryTypeExit  EntryType = "exit"
)

// AttendanceEvent is a canonical, deduplicated record of one entry/exit
// action as held in the client's recent-history list.
//
// AttendanceRecordID, when present, is the server-side attendance record
// id and is distinct from EmployeeID. Upstream payloads sometimes conflate
// the two; the reconciler rejects any record id equal to the employee id.
type AttendanceEvent struct {
	EmployeeID         string    `json:"employeeId"`
	EmployeeName       string    `json:"employeeName,omitempty"`
	EntryType          EntryType `json:"entryType"`
	Timestamp          string    `json:"timestamp"`
	AttendanceRecordID string    `json:"attendanceRecordId,omitempty"`
	Confidence         float64   `json:"confidence,omitempty"`
	IsLate             bool      `json:"isLate,omitempty"`
	IsEarlyExit        bool      `json:"isEarlyExit,omitempty"`
	Message            string    `json:"message,omitempty"`

	// synthetic is true when no valid record id could be resolved and
	// identity falls back to (employeeId, entryType, timestamp).
	synthetic bool
}

// HasRecordID reports whether the event carries a real (non-synthesized)
// attendance record id.
func (e *AttendanceEvent) HasRecordID() bool {
	return e.AttendanceRecordID != "" && !e.synthetic
}

// Identity returns the deduplication key: the record id when real,
// otherwise the (employeeId, entryType, timestamp) tuple.
func (e *AttendanceEvent) Identity() string {
	if e.HasRecordID() {
		return "rec:" + e.AttendanceRecordID
	}
	return "tuple:" + e.EmployeeID + "|" + string(e.EntryType) + "|" + e.Timestamp
}

// EarlyExitCase pairs an early exit with a required follow-up reason.
// AttendanceRecordID always resolves to the real attendance record; a
// case is never opened against a guessed or synthesized id.
type EarlyExitCase struct {
	ReasonRecordID     string `json:"reasonRecordId,omitempty"`
	EmployeeID         string `json:"employeeId"`
	EmployeeName       string `json:"employeeName,omitempty"`
	AttendanceRecordID string `json:"attendanceRecordId"`
	ReasonText         string `json:"reasonText,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// ============================================================================
// Employee / Configuration Types
// ============================================================================

// Employee is an employee record as returned by the REST API.
type Employee struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
	ShiftID    string `json:"shift_id,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// Shift is a work-shift definition.
type Shift struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	GraceMins int    `json:"grace_minutes,omitempty"`
}

// OfficeTiming holds office-wide checkin/checkout boundaries.
type OfficeTiming struct {
	Checkin  string `json:"checkin"`
	Checkout string `json:"checkout"`
}

// TimezoneSetting is the configured display timezone.
type TimezoneSetting struct {
	Timezone string `json:"timezone"`
}

// AttendanceRecord is an attendance row as returned by the REST API.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employee_id"`
	Name        string    `json:"name,omitempty"`
	EntryType   EntryType `json:"entry_type"`
	Timestamp   string    `json:"timestamp"`
	Confidence  float64   `json:"confidence,omitempty"`
	IsLate      bool      `json:"is_late,omitempty"`
	IsEarlyExit bool      `json:"is_early_exit,omitempty"`
}

// EarlyExitReason is a stored early-exit reason record.
type EarlyExitReason struct {
	ID           string `json:"id"`
	EmployeeID   string `json:"employee_id"`
	AttendanceID string `json:"attendance_id"`
	Reason       string `json:"reason"`
	Timestamp    string `json:"timestamp,omitempty"`
}

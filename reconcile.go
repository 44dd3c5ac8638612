package facegate

import (
	"fmt"
	"log"
	"sync"
)

// RecentEventLimit bounds the canonical recent-events list.
const RecentEventLimit = 10

// ============================================================================
// Wire shape
// ============================================================================

// RawAttendanceUpdate is one inbound attendance update as the server
// sends it. The upstream contract is loose: the employee id arrives
// under several aliases and the attendance record id under several
// more, sometimes conflated with the employee id.
type RawAttendanceUpdate struct {
	Action string `json:"action"`

	// Employee id aliases, first non-empty wins.
	EmployeeID string `json:"employee_id"`
	EmpID      string `json:"emp_id"`
	UserID     string `json:"user_id"`

	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`

	// Attendance record id candidates, in resolution priority order:
	// Record.ID > AttendanceID > ID.
	Record struct {
		ID string `json:"id"`
	} `json:"record"`
	AttendanceID string `json:"attendance_id"`
	ID           string `json:"id"`

	Confidence  float64 `json:"confidence"`
	IsLate      bool    `json:"is_late"`
	IsEarlyExit bool    `json:"is_early_exit"`
	Message     string  `json:"message"`
}

// entryTypeForAction maps the wire action to a display entry type.
// "delete" and "early_exit_reason" both render as exit — a documented
// upstream conflation, kept for compatibility and isolated here so it
// can be corrected without touching the rest of the pipeline.
func entryTypeForAction(action string) (EntryType, bool) {
	switch action {
	case "entry":
		return EntryTypeEntry, true
	case "exit", "delete", "early_exit_reason":
		return EntryTypeExit, true
	default:
		return "", false
	}
}

// normalizeEmployeeID picks the employee id from whichever alias field
// is present.
func (u *RawAttendanceUpdate) normalizeEmployeeID() string {
	switch {
	case u.EmployeeID != "":
		return u.EmployeeID
	case u.EmpID != "":
		return u.EmpID
	case u.UserID != "":
		return u.UserID
	}
	return ""
}

// resolveRecordID resolves the attendance record id using the strict
// priority order, rejecting any candidate equal to the employee id —
// that collision indicates an upstream field-mapping bug, not a valid
// id. Returns "" when nothing valid resolves.
func (u *RawAttendanceUpdate) resolveRecordID(employeeID string) string {
	for _, candidate := range []string{u.Record.ID, u.AttendanceID, u.ID} {
		if candidate == "" {
			continue
		}
		if candidate == employeeID {
			log.Printf("facegate: rejecting attendance record id %q: equals employee id (upstream field-mapping bug)", candidate)
			continue
		}
		return candidate
	}
	return ""
}

// ============================================================================
// Reconciler
// ============================================================================

// ReconcileError reports a reconciliation inconsistency that degraded
// handling of one update (e.g. an early exit whose record id could not
// be resolved).
type ReconcileError struct {
	EmployeeID string
	Reason     string
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile employee %s: %s", e.EmployeeID, e.Reason)
}

// Reconciler merges inbound attendance updates into the bounded
// canonical recent-events list and tracks early-exit cases that still
// need a reason. Reconciliation is idempotent: replaying a batch yields
// the same canonical collection, which reconnect-triggered re-sync
// relies on.
type Reconciler struct {
	mu     sync.Mutex
	recent []AttendanceEvent
	// cases is keyed by attendance record id; at most one open case
	// per record.
	cases map[string]*EarlyExitCase

	onChange    []func([]AttendanceEvent)
	onEarlyExit []func(EarlyExitCase)
	onError     []func(error)
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{cases: make(map[string]*EarlyExitCase)}
}

// OnChange registers an observer of the canonical recent-events list.
func (r *Reconciler) OnChange(h func([]AttendanceEvent)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, h)
	r.mu.Unlock()
}

// OnEarlyExit registers an observer for newly opened early-exit cases.
func (r *Reconciler) OnEarlyExit(h func(EarlyExitCase)) {
	r.mu.Lock()
	r.onEarlyExit = append(r.onEarlyExit, h)
	r.mu.Unlock()
}

// OnError registers an observer for reconciliation inconsistencies.
func (r *Reconciler) OnError(h func(error)) {
	r.mu.Lock()
	r.onError = append(r.onError, h)
	r.mu.Unlock()
}

// Recent returns a copy of the canonical recent-events list, most
// recent first.
func (r *Reconciler) Recent() []AttendanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AttendanceEvent{}, r.recent...)
}

// OpenCases returns the early-exit cases still awaiting a reason.
func (r *Reconciler) OpenCases() []EarlyExitCase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EarlyExitCase, 0, len(r.cases))
	for _, c := range r.cases {
		out = append(out, *c)
	}
	return out
}

// CaseFor returns the open case for an attendance record id, if any.
func (r *Reconciler) CaseFor(attendanceRecordID string) (EarlyExitCase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[attendanceRecordID]
	if !ok {
		return EarlyExitCase{}, false
	}
	return *c, true
}

// Apply reconciles one inbound batch into the canonical collections.
func (r *Reconciler) Apply(updates []RawAttendanceUpdate) {
	var changed bool
	var newCases []EarlyExitCase
	var degraded []error

	r.mu.Lock()
	for i := range updates {
		ev, caseOpened, err := r.applyOne(&updates[i])
		if err != nil {
			degraded = append(degraded, err)
			continue
		}
		if ev != nil {
			changed = true
		}
		if caseOpened != nil {
			newCases = append(newCases, *caseOpened)
		}
	}
	var snapshot []AttendanceEvent
	if changed {
		snapshot = append([]AttendanceEvent{}, r.recent...)
	}
	changeHandlers := append([]func([]AttendanceEvent){}, r.onChange...)
	caseHandlers := append([]func(EarlyExitCase){}, r.onEarlyExit...)
	errHandlers := append([]func(error){}, r.onError...)
	r.mu.Unlock()

	if changed {
		for _, h := range changeHandlers {
			h(snapshot)
		}
	}
	for _, c := range newCases {
		for _, h := range caseHandlers {
			h(c)
		}
	}
	for _, err := range degraded {
		log.Printf("facegate: %v", err)
		for _, h := range errHandlers {
			h(err)
		}
	}
}

// applyOne normalizes and merges a single update. Caller holds r.mu.
func (r *Reconciler) applyOne(u *RawAttendanceUpdate) (*AttendanceEvent, *EarlyExitCase, error) {
	employeeID := u.normalizeEmployeeID()
	if employeeID == "" {
		return nil, nil, &ReconcileError{Reason: "update carries no employee id"}
	}

	entryType, ok := entryTypeForAction(u.Action)
	if !ok {
		return nil, nil, &ReconcileError{EmployeeID: employeeID, Reason: fmt.Sprintf("unknown action %q", u.Action)}
	}

	ev := AttendanceEvent{
		EmployeeID:   employeeID,
		EmployeeName: u.Name,
		EntryType:    entryType,
		Timestamp:    u.Timestamp,
		Confidence:   u.Confidence,
		IsLate:       u.IsLate,
		IsEarlyExit:  u.IsEarlyExit,
		Message:      u.Message,
	}

	if id := u.resolveRecordID(employeeID); id != "" {
		ev.AttendanceRecordID = id
	} else {
		// Deterministic fallback identity; keeps dedup stable but is
		// not a substitute for a fixed upstream contract.
		ev.AttendanceRecordID = syntheticRecordID(employeeID, entryType, u.Timestamp)
		ev.synthetic = true
	}

	r.merge(ev)

	var opened *EarlyExitCase
	if entryType == EntryTypeExit && u.IsEarlyExit {
		if !ev.HasRecordID() {
			// Fail closed: never open a dialog against a guessed id.
			return &ev, nil, &ReconcileError{
				EmployeeID: employeeID,
				Reason:     "early exit without a resolvable attendance record id; reason dialog not opened",
			}
		}
		c := &EarlyExitCase{
			EmployeeID:         employeeID,
			EmployeeName:       u.Name,
			AttendanceRecordID: ev.AttendanceRecordID,
			Timestamp:          u.Timestamp,
		}
		prev, existed := r.cases[ev.AttendanceRecordID]
		r.cases[ev.AttendanceRecordID] = c
		if !existed || *prev != *c {
			opened = c
		}
	}

	return &ev, opened, nil
}

// merge prepends the event, deduplicates by identity, and truncates to
// the bound. An incoming event supersedes an existing one with the same
// identity. Caller holds r.mu.
func (r *Reconciler) merge(ev AttendanceEvent) {
	merged := make([]AttendanceEvent, 0, len(r.recent)+1)
	merged = append(merged, ev)
	for _, existing := range r.recent {
		if sameIdentity(&existing, &ev) {
			continue
		}
		merged = append(merged, existing)
	}
	if len(merged) > RecentEventLimit {
		merged = merged[:RecentEventLimit]
	}
	r.recent = merged
}

// CloseCase closes the early-exit case for a record id after its reason
// was successfully submitted (or the operator cancelled).
func (r *Reconciler) CloseCase(attendanceRecordID string) {
	r.mu.Lock()
	delete(r.cases, attendanceRecordID)
	r.mu.Unlock()
}

// sameIdentity compares two events by record id when both carry real
// ids, otherwise by the (employeeId, entryType, timestamp) tuple.
func sameIdentity(a, b *AttendanceEvent) bool {
	if a.HasRecordID() && b.HasRecordID() {
		return a.AttendanceRecordID == b.AttendanceRecordID
	}
	return a.EmployeeID == b.EmployeeID &&
		a.EntryType == b.EntryType &&
		a.Timestamp == b.Timestamp
}

func syntheticRecordID(employeeID string, entryType EntryType, timestamp string) string {
	return "synthetic:" + employeeID + "|" + string(entryType) + "|" + timestamp
}

package facegate

import "sync"

// View-state stores are plain observers of the reconciler, dispatcher,
// and mutation queue: they copy state under a mutex for presentation
// code to read, and hold no logic of their own.

// DashboardStore holds the dashboard's derived state: the canonical
// recent events plus a connectivity indicator.
type DashboardStore struct {
	mu        sync.RWMutex
	records   []AttendanceEvent
	connected bool
	notice    string
}

func (d *DashboardStore) Records() []AttendanceEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]AttendanceEvent{}, d.records...)
}

func (d *DashboardStore) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Notice returns the most recent user-visible notification.
func (d *DashboardStore) Notice() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notice
}

func (d *DashboardStore) setRecords(records []AttendanceEvent) {
	d.mu.Lock()
	d.records = records
	d.mu.Unlock()
}

func (d *DashboardStore) setConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	d.mu.Unlock()
}

func (d *DashboardStore) setNotice(notice string) {
	d.mu.Lock()
	d.notice = notice
	d.mu.Unlock()
}

// EarlyExitStore holds the early-exit reason dialog state.
type EarlyExitStore struct {
	mu      sync.RWMutex
	active  *EarlyExitCase
	lastErr error
}

// Active returns the case currently awaiting a reason, if any.
func (e *EarlyExitStore) Active() (EarlyExitCase, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return EarlyExitCase{}, false
	}
	return *e.active, true
}

// Err returns the most recent reconciliation or submission error.
func (e *EarlyExitStore) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *EarlyExitStore) setActive(c *EarlyExitCase) {
	e.mu.Lock()
	e.active = c
	e.mu.Unlock()
}

func (e *EarlyExitStore) clearIf(attendanceRecordID string) {
	e.mu.Lock()
	if e.active != nil && e.active.AttendanceRecordID == attendanceRecordID {
		e.active = nil
	}
	e.mu.Unlock()
}

func (e *EarlyExitStore) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// DetectionStore holds streaming-detection feedback: the last progress
// or outcome status and any multi-face result.
type DetectionStore struct {
	mu      sync.RWMutex
	status  string
	message string
	faces   []FaceMatch
}

func (s *DetectionStore) Status() (status, message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.message
}

func (s *DetectionStore) Faces() []FaceMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FaceMatch{}, s.faces...)
}

func (s *DetectionStore) setStatus(status, message string) {
	s.mu.Lock()
	s.status = status
	s.message = message
	s.mu.Unlock()
}

func (s *DetectionStore) setFaces(faces []FaceMatch) {
	s.mu.Lock()
	s.faces = faces
	s.mu.Unlock()
}

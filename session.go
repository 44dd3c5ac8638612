package facegate

import (
	"context"
	"fmt"
)

// Session is the explicitly owned synchronization service: one socket,
// one reconciler, one mutation queue, and the view-state stores wired
// together. Presentation code holds a single Session for its lifetime
// and reads the stores; there is no ambient shared state.
type Session struct {
	client     *Client
	sock       *SocketClient
	reconciler *Reconciler
	outbox     *Outbox

	Dashboard *DashboardStore
	EarlyExit *EarlyExitStore
	Detection *DetectionStore
}

// NewSession builds a session around client. config may be nil.
func NewSession(client *Client, config *SocketConfig) *Session {
	s := &Session{
		client:     client,
		reconciler: NewReconciler(),
		outbox:     NewOutbox(client),
		Dashboard:  &DashboardStore{},
		EarlyExit:  &EarlyExitStore{},
		Detection:  &DetectionStore{},
	}

	var cfg SocketConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Notifier == nil {
		cfg.Notifier = s.Dashboard.setNotice
	}
	s.sock = client.Realtime().Connect(&cfg)

	// Inbound: frames → reconciler → canonical collections → stores.
	s.sock.OnAttendanceUpdate(s.reconciler.Apply)
	s.sock.OnFaceDetected(func(p FaceDetectedPayload) {
		s.reconciler.Apply([]RawAttendanceUpdate{detectionToUpdate(p)})
	})
	s.sock.OnMultiFaceResult(func(p MultiFacePayload) {
		s.Detection.setFaces(p.Faces)
	})
	s.sock.OnProgress(func(p StatusPayload) {
		s.Detection.setStatus(p.Status, p.Message)
	})
	s.sock.OnNoMatch(func(p StatusPayload) {
		s.Detection.setStatus(p.Status, p.Message)
	})
	s.sock.OnOutcome(func(p StatusPayload) {
		s.Detection.setStatus(p.Status, p.Message)
	})
	s.sock.OnNotification(func(p NotificationPayload) {
		s.Dashboard.setNotice(p.Message)
	})

	s.reconciler.OnChange(s.Dashboard.setRecords)
	s.reconciler.OnEarlyExit(func(c EarlyExitCase) {
		s.EarlyExit.setActive(&c)
	})
	s.reconciler.OnError(s.EarlyExit.setErr)

	// Connectivity: a successful reconnect retries retained mutations
	// and asks the server to re-push attendance. The server may resend
	// overlapping history; reconciliation is idempotent, so replay is
	// safe.
	s.sock.OnOpen(func() {
		s.Dashboard.setConnected(true)
		go s.outbox.RetryAll(context.Background())
		_ = s.sock.RequestAttendance(context.Background())
	})
	s.sock.OnClosed(func(err error) {
		s.Dashboard.setConnected(false)
	})

	return s
}

// Init opens the socket connection.
func (s *Session) Init(ctx context.Context) error {
	return s.sock.Open(ctx)
}

// Teardown detaches handlers and closes the socket.
func (s *Session) Teardown() error {
	return s.sock.Close()
}

// Socket exposes the underlying connection manager.
func (s *Session) Socket() *SocketClient { return s.sock }

// Reconciler exposes the canonical collections.
func (s *Session) Reconciler() *Reconciler { return s.reconciler }

// Outbox exposes the mutation queue.
func (s *Session) Outbox() *Outbox { return s.outbox }

// NotifyFocus is the application-refocus retry trigger: every retained
// mutation is attempted again.
func (s *Session) NotifyFocus(ctx context.Context) {
	s.outbox.RetryAll(ctx)
}

// SubmitEarlyExitReason files the reason for an open early-exit case
// through the mutation queue. The dialog closes optimistically; a
// failed submission keeps the operation pending for retry.
func (s *Session) SubmitEarlyExitReason(ctx context.Context, attendanceRecordID, reasonText string) error {
	c, ok := s.reconciler.CaseFor(attendanceRecordID)
	if !ok {
		return fmt.Errorf("no open early-exit case for record %s", attendanceRecordID)
	}
	if c.AttendanceRecordID == c.EmployeeID {
		// Fail closed rather than submit a reason against a wrong id.
		err := fmt.Errorf("early-exit case %s resolves to the employee id; refusing to submit", attendanceRecordID)
		s.EarlyExit.setErr(err)
		return err
	}

	_, err := s.outbox.Submit(ctx, SubmitRequest{
		Kind:     OpCreate,
		Endpoint: "/api/early-exit-reasons",
		Method:   "POST",
		Target:   c.AttendanceRecordID,
		Body: &EarlyExitReason{
			EmployeeID:   c.EmployeeID,
			AttendanceID: c.AttendanceRecordID,
			Reason:       reasonText,
			Timestamp:    c.Timestamp,
		},
		OptimisticUpdate: func() {
			s.reconciler.CloseCase(attendanceRecordID)
			s.EarlyExit.clearIf(attendanceRecordID)
		},
		OnError: s.EarlyExit.setErr,
	})
	return err
}

// CancelEarlyExit dismisses the dialog without filing a reason.
func (s *Session) CancelEarlyExit(attendanceRecordID string) {
	s.reconciler.CloseCase(attendanceRecordID)
	s.EarlyExit.clearIf(attendanceRecordID)
}

// detectionToUpdate converts a single-detection push into the batch
// update shape so both paths share one reconciliation pipeline.
func detectionToUpdate(p FaceDetectedPayload) RawAttendanceUpdate {
	u := RawAttendanceUpdate{
		Action:       p.EntryType,
		EmployeeID:   p.EmployeeID,
		Name:         p.Name,
		Timestamp:    p.Timestamp,
		AttendanceID: p.AttendanceID,
		Confidence:   p.Confidence,
		IsLate:       p.IsLate,
		IsEarlyExit:  p.IsEarlyExit,
		Message:      p.Message,
	}
	return u
}

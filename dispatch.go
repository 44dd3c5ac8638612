package facegate

import (
	"encoding/json"
	"log"
	"sync"
)

// ============================================================================
// Frame Payload Types
// ============================================================================

// FaceDetectedPayload is pushed when the server matches a single face in
// the camera stream.
type FaceDetectedPayload struct {
	EmployeeID   string  `json:"employee_id"`
	Name         string  `json:"name,omitempty"`
	EntryType    string  `json:"entry_type"`
	Timestamp    string  `json:"timestamp"`
	Confidence   float64 `json:"confidence,omitempty"`
	AttendanceID string  `json:"attendance_id,omitempty"`
	IsLate       bool    `json:"is_late,omitempty"`
	IsEarlyExit  bool    `json:"is_early_exit,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// NotificationPayload is a generic server notification.
type NotificationPayload struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// FaceMatch is one matched face in a multi-face detection result.
type FaceMatch struct {
	EmployeeID string  `json:"employee_id"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// MultiFacePayload is the result of a multi-face detection pass.
type MultiFacePayload struct {
	Faces   []FaceMatch `json:"faces"`
	Count   int         `json:"count,omitempty"`
	Message string      `json:"message,omitempty"`
}

// StatusPayload covers the status-discriminated frames: processing /
// queued / rate_limited progress, no-face / no-match results, and
// generic success / error outcomes.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// Position is set for queued status frames.
	Position int `json:"position,omitempty"`
}

// frameEnvelope is the loose wire shape of an inbound frame. The
// protocol discriminates by `type` or `status`; either may be absent.
type frameEnvelope struct {
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ============================================================================
// Dispatcher
// ============================================================================

// Notifier receives user-visible notifications (e.g. "could not process
// server message"). The default logs and discards.
type Notifier func(message string)

// Dispatcher parses inbound frames and routes each to exactly one typed
// handler. Handlers run synchronously on the socket read goroutine, so
// frames are processed strictly in arrival order. Per-frame failures
// never escape to the caller: malformed frames are dropped with one
// user-visible notification, and handler panics are recovered.
type Dispatcher struct {
	mu       sync.RWMutex
	notifier Notifier

	onFaceDetected     []func(FaceDetectedPayload)
	onNotification     []func(NotificationPayload)
	onAttendanceUpdate []func([]RawAttendanceUpdate)
	onMultiFace        []func(MultiFacePayload)
	onProgress         []func(StatusPayload)
	onNoMatch          []func(StatusPayload)
	onOutcome          []func(StatusPayload)
}

func newDispatcher(notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = func(msg string) { log.Printf("facegate: %s", msg) }
	}
	return &Dispatcher{notifier: notifier}
}

func (d *Dispatcher) onFaceDetectedHandler(h func(FaceDetectedPayload)) {
	d.mu.Lock()
	d.onFaceDetected = append(d.onFaceDetected, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onNotificationHandler(h func(NotificationPayload)) {
	d.mu.Lock()
	d.onNotification = append(d.onNotification, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onAttendanceUpdateHandler(h func([]RawAttendanceUpdate)) {
	d.mu.Lock()
	d.onAttendanceUpdate = append(d.onAttendanceUpdate, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onMultiFaceHandler(h func(MultiFacePayload)) {
	d.mu.Lock()
	d.onMultiFace = append(d.onMultiFace, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onProgressHandler(h func(StatusPayload)) {
	d.mu.Lock()
	d.onProgress = append(d.onProgress, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onNoMatchHandler(h func(StatusPayload)) {
	d.mu.Lock()
	d.onNoMatch = append(d.onNoMatch, h)
	d.mu.Unlock()
}

func (d *Dispatcher) onOutcomeHandler(h func(StatusPayload)) {
	d.mu.Lock()
	d.onOutcome = append(d.onOutcome, h)
	d.mu.Unlock()
}

// Dispatch classifies one raw text frame and invokes exactly one handler
// group. Unknown discriminants are ignored (forward-compatible).
func (d *Dispatcher) Dispatch(raw []byte) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("facegate: dropping malformed frame: %v", err)
		d.notifier("could not process server message")
		return
	}

	// payload is the envelope's data field when present, otherwise the
	// frame itself (the protocol sends both flat and nested shapes).
	payload := json.RawMessage(raw)
	if len(env.Data) > 0 {
		payload = env.Data
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case "face_detected":
		var p FaceDetectedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		for _, h := range d.onFaceDetected {
			d.invoke(func() { h(p) })
		}
		return
	case "notification":
		var p NotificationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		for _, h := range d.onNotification {
			d.invoke(func() { h(p) })
		}
		return
	case "attendance_update":
		updates, err := decodeAttendanceBatch(payload)
		if err != nil {
			d.dropFrame(err)
			return
		}
		for _, h := range d.onAttendanceUpdate {
			d.invoke(func() { h(updates) })
		}
		return
	case "multi_face_result":
		var p MultiFacePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		for _, h := range d.onMultiFace {
			d.invoke(func() { h(p) })
		}
		return
	}

	var p StatusPayload
	switch env.Status {
	case "processing", "queued", "rate_limited":
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		p.Status = env.Status
		for _, h := range d.onProgress {
			d.invoke(func() { h(p) })
		}
	case "no_face_detected", "no_matching_face":
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		p.Status = env.Status
		for _, h := range d.onNoMatch {
			d.invoke(func() { h(p) })
		}
	case "success", "error":
		if err := json.Unmarshal(payload, &p); err != nil {
			d.dropFrame(err)
			return
		}
		p.Status = env.Status
		for _, h := range d.onOutcome {
			d.invoke(func() { h(p) })
		}
	}
}

func (d *Dispatcher) dropFrame(err error) {
	log.Printf("facegate: dropping malformed frame: %v", err)
	d.notifier("could not process server message")
}

// invoke runs a handler, containing panics so a misbehaving consumer
// cannot tear down the read loop.
func (d *Dispatcher) invoke(h func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("facegate: handler panic: %v", r)
		}
	}()
	h()
}

// decodeAttendanceBatch accepts either a JSON array of updates or a
// single update object.
func decodeAttendanceBatch(raw json.RawMessage) ([]RawAttendanceUpdate, error) {
	var batch []RawAttendanceUpdate
	if err := json.Unmarshal(raw, &batch); err == nil {
		return batch, nil
	}
	var nested struct {
		Updates []RawAttendanceUpdate `json:"updates"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested.Updates) > 0 {
		return nested.Updates, nil
	}
	var single RawAttendanceUpdate
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []RawAttendanceUpdate{single}, nil
}

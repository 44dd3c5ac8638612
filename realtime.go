package facegate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Clock
// ============================================================================

// Clock abstracts timer scheduling so the reconnect state machine is
// testable without real sockets or sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ============================================================================
// Configuration
// ============================================================================

// SocketState represents the connection state.
type SocketState string

const (
	StateClosed     SocketState = "closed"
	StateConnecting SocketState = "connecting"
	StateOpen       SocketState = "open"
	StateClosing    SocketState = "closing"
)

const (
	// MaxReconnectAttempts caps automatic reconnection. Beyond the cap
	// the client stays Closed until a manual Open.
	MaxReconnectAttempts = 5

	defaultReconnectBase = 1 * time.Second
	defaultReconnectMax  = 30 * time.Second
)

// ReconnectDelay returns the backoff delay before reconnect attempt n:
// min(base * 2^n, max). Deterministic so the schedule is unit-testable.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// SocketConn is the transport owned by the socket client. Satisfied by
// *websocket.Conn via wsConn; tests inject in-memory implementations
// through SocketConfig.Dial.
type SocketConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc establishes the underlying transport.
type DialFunc func(ctx context.Context, url string) (SocketConn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client close")
}

func dialWebsocket(ctx context.Context, url string) (SocketConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// SocketConfig configures the socket client.
type SocketConfig struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// Notifier receives user-visible messages (dropped frames etc.).
	Notifier Notifier

	// Clock and Dial are injection points for tests; both default to
	// the real implementations.
	Clock Clock
	Dial  DialFunc
}

func (c *SocketConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = MaxReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = defaultReconnectBase
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaultReconnectMax
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Dial == nil {
		c.Dial = dialWebsocket
	}
}

// ============================================================================
// SocketClient
// ============================================================================

// SocketClient owns one persistent socket to the attendance service,
// with exponential-backoff reconnection and a bounded retry count.
//
// Transport errors are non-fatal: a server close and a network error
// take the same backoff path. After exhausting retries the client is
// degraded but usable — last known collections stay visible and
// outbound mutations still go over HTTP, independent of the socket.
type SocketClient struct {
	url        string
	config     *SocketConfig
	dispatcher *Dispatcher

	mu             sync.Mutex
	state          SocketState
	conn           SocketConn
	attempts       int
	lastErr        error
	suppress       bool // true after Close; blocks auto-reconnect
	cancelRead     context.CancelFunc
	reconnectTimer Timer

	emu            sync.Mutex
	onOpen         []func()
	onClosed       []func(err error)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newSocketClient(url string, cfg *SocketConfig) *SocketClient {
	return &SocketClient{
		url:        url,
		config:     cfg,
		state:      StateClosed,
		dispatcher: newDispatcher(cfg.Notifier),
	}
}

// State returns the current connection state.
func (s *SocketClient) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent transport error, if any.
func (s *SocketClient) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ReconnectAttempts returns the current failed-attempt count.
func (s *SocketClient) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ── Handler registration ─────────────────────────────────

// OnOpen registers a handler fired on every successful (re)connect.
func (s *SocketClient) OnOpen(h func()) {
	s.emu.Lock()
	s.onOpen = append(s.onOpen, h)
	s.emu.Unlock()
}

// OnClosed registers a handler fired when the connection drops.
func (s *SocketClient) OnClosed(h func(err error)) {
	s.emu.Lock()
	s.onClosed = append(s.onClosed, h)
	s.emu.Unlock()
}

// OnReconnecting registers a handler fired before each scheduled retry.
func (s *SocketClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.emu.Lock()
	s.onReconnecting = append(s.onReconnecting, h)
	s.emu.Unlock()
}

func (s *SocketClient) OnFaceDetected(h func(FaceDetectedPayload)) {
	s.dispatcher.onFaceDetectedHandler(h)
}

func (s *SocketClient) OnNotification(h func(NotificationPayload)) {
	s.dispatcher.onNotificationHandler(h)
}

func (s *SocketClient) OnAttendanceUpdate(h func([]RawAttendanceUpdate)) {
	s.dispatcher.onAttendanceUpdateHandler(h)
}

func (s *SocketClient) OnMultiFaceResult(h func(MultiFacePayload)) {
	s.dispatcher.onMultiFaceHandler(h)
}

func (s *SocketClient) OnProgress(h func(StatusPayload)) {
	s.dispatcher.onProgressHandler(h)
}

func (s *SocketClient) OnNoMatch(h func(StatusPayload)) {
	s.dispatcher.onNoMatchHandler(h)
}

func (s *SocketClient) OnOutcome(h func(StatusPayload)) {
	s.dispatcher.onOutcomeHandler(h)
}

// ── Lifecycle ────────────────────────────────────────────

// Open establishes the socket if not already Open or Connecting. A
// manual Open clears the retry-exhausted condition and re-enables
// auto-reconnect.
func (s *SocketClient) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateOpen || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.suppress = false
	s.mu.Unlock()

	return s.dial(ctx)
}

// dial performs one connection attempt from the Connecting state.
func (s *SocketClient) dial(ctx context.Context) error {
	conn, err := s.config.Dial(ctx, s.url)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.lastErr = err
		s.attempts++
		s.mu.Unlock()
		s.maybeScheduleReconnect()
		return fmt.Errorf("socket dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	// Close may have landed while the dial was in flight; teardown wins
	// over a connection established after it.
	if s.suppress || s.state != StateConnecting {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.lastErr = nil
	s.cancelRead = cancel
	s.mu.Unlock()

	s.emitOpen()
	go s.readLoop(readCtx, conn)
	return nil
}

// Close tears the socket down and suppresses further auto-reconnect.
// The message handler is detached (read context cancelled) before the
// transport closes, so no frame is processed after logical teardown.
func (s *SocketClient) Close() error {
	s.mu.Lock()
	s.suppress = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes one JSON text frame. If the socket is not Open the send
// is dropped and logged, never queued — callers that need delivery
// guarantees go through the mutation queue instead.
func (s *SocketClient) Send(ctx context.Context, message interface{}) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		log.Printf("facegate: dropping send, socket is %s", state)
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}
	return conn.Write(ctx, data)
}

// RequestAttendance asks the server to push the current attendance batch.
func (s *SocketClient) RequestAttendance(ctx context.Context) error {
	return s.Send(ctx, map[string]string{"type": "get_attendance"})
}

// SendFrame submits one captured camera frame for recognition.
func (s *SocketClient) SendFrame(ctx context.Context, imageDataURL string, entryType EntryType) error {
	return s.Send(ctx, map[string]string{
		"image":      imageDataURL,
		"entry_type": string(entryType),
	})
}

// ── Internals ────────────────────────────────────────────

func (s *SocketClient) readLoop(ctx context.Context, conn SocketConn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			// Teardown already detached this loop; nothing to do.
			if s.suppress || s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.conn = nil
			s.state = StateClosed
			s.lastErr = err
			s.mu.Unlock()

			s.emitClosed(err)
			s.maybeScheduleReconnect()
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.dispatcher.Dispatch(data)
	}
}

// maybeScheduleReconnect arms the backoff timer when attempts remain
// and teardown has not suppressed reconnection. Idempotent against an
// already-armed timer or already-open connection.
func (s *SocketClient) maybeScheduleReconnect() {
	s.mu.Lock()
	if s.suppress || s.state != StateClosed || s.reconnectTimer != nil {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.config.MaxReconnectAttempts {
		s.mu.Unlock()
		log.Printf("facegate: reconnect attempts exhausted (%d), manual Open required", s.config.MaxReconnectAttempts)
		return
	}
	attempt := s.attempts
	delay := ReconnectDelay(attempt, s.config.ReconnectBaseDelay, s.config.ReconnectMaxDelay)
	s.reconnectTimer = s.config.Clock.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.suppress || s.state != StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()
		if err := s.dial(context.Background()); err != nil {
			log.Printf("facegate: reconnect failed: %v", err)
		}
	})
	s.mu.Unlock()

	s.emitReconnecting(attempt, delay)
}

func (s *SocketClient) emitOpen() {
	s.emu.Lock()
	handlers := append([]func(){}, s.onOpen...)
	s.emu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (s *SocketClient) emitClosed(err error) {
	s.emu.Lock()
	handlers := append([]func(error){}, s.onClosed...)
	s.emu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (s *SocketClient) emitReconnecting(attempt int, delay time.Duration) {
	s.emu.Lock()
	handlers := append([]func(int, time.Duration){}, s.onReconnecting...)
	s.emu.Unlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

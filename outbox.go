package facegate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Operations
// ============================================================================

// OperationKind classifies an outbound mutation.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// DefaultMutationTimeout bounds each outbound mutation attempt. The
// upstream protocol specifies no per-request timeout; treating a
// mutation as failed after a bounded window is a required hardening.
const DefaultMutationTimeout = 15 * time.Second

// PendingOperation is one in-flight outbound mutation. It holds an
// immutable snapshot of the request parameters — not a closure over
// caller state — so a retry replays exactly what was submitted. It
// lives in the outbox until confirmed, independent of the submitting
// caller's lifetime.
type PendingOperation struct {
	ID         string
	Kind       OperationKind
	Endpoint   string
	Method     string
	Target     string
	EnqueuedAt time.Time

	// JSON body snapshot, or multipart form snapshot. Multipart is
	// used when file-like fields are attached; headers are re-derived
	// from the shape on every attempt.
	Body       json.RawMessage
	FormFields map[string]string
	FormFiles  map[string]FormFile
	Multipart  bool

	onSuccess func(*APIResult)
	onError   func(error)
}

func (op *PendingOperation) key() string {
	return op.Endpoint + "|" + op.Method + "|" + op.Target
}

// SubmitRequest describes one optimistic mutation.
type SubmitRequest struct {
	Kind     OperationKind
	Endpoint string
	Method   string
	// Target identifies the mutated entity; exactly one operation may
	// be pending per (endpoint, method, target).
	Target string

	// Body is the JSON payload. FormFields/FormFiles describe a
	// multipart payload instead; set at most one of the two shapes.
	Body       interface{}
	FormFields map[string]string
	FormFiles  map[string]FormFile

	// OptimisticUpdate applies the mutation's expected effect to local
	// state before the server confirms. It is never rolled back on
	// failure; the pending operation is retained for retry instead.
	OptimisticUpdate func()

	OnSuccess func(*APIResult)
	OnError   func(error)
}

// ============================================================================
// Outbox
// ============================================================================

// Outbox is the optimistic mutation queue. Failed operations are
// retained (not rolled back) and retried in bulk when the application
// regains focus or the socket reconnects.
type Outbox struct {
	client  *Client
	timeout time.Duration

	mu       sync.Mutex
	ops      map[string]*PendingOperation
	flushing bool
}

// NewOutbox creates a mutation queue dispatching through client.
func NewOutbox(client *Client) *Outbox {
	return &Outbox{
		client:  client,
		timeout: DefaultMutationTimeout,
		ops:     make(map[string]*PendingOperation),
	}
}

// SetTimeout overrides the per-attempt timeout.
func (o *Outbox) SetTimeout(d time.Duration) {
	o.mu.Lock()
	o.timeout = d
	o.mu.Unlock()
}

// PendingCount returns the number of retained operations.
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops)
}

// Pending returns snapshots of the retained operations, oldest first.
func (o *Outbox) Pending() []PendingOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingOperation, 0, len(o.ops))
	for _, op := range o.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// Submit applies the optimistic update immediately, records the pending
// operation, and attempts the network call. A later submit for the same
// (endpoint, method, target) supersedes the earlier pending entry.
//
// A delete submitted while a create for the same target is still
// pending cancels the create and resolves locally — the server record
// was never created, so there is nothing to delete.
func (o *Outbox) Submit(ctx context.Context, req SubmitRequest) (*PendingOperation, error) {
	op := &PendingOperation{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		Endpoint:   req.Endpoint,
		Method:     req.Method,
		Target:     req.Target,
		EnqueuedAt: time.Now(),
		FormFields: req.FormFields,
		FormFiles:  req.FormFiles,
		Multipart:  len(req.FormFields) > 0 || len(req.FormFiles) > 0,
		onSuccess:  req.OnSuccess,
		onError:    req.OnError,
	}
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("snapshot mutation payload: %w", err)
		}
		op.Body = b
	}

	if req.OptimisticUpdate != nil {
		req.OptimisticUpdate()
	}

	if req.Kind == OpDelete {
		if cancelled := o.cancelPendingCreate(req.Endpoint, req.Target); cancelled {
			if op.onSuccess != nil {
				op.onSuccess(&APIResult{OK: true})
			}
			return op, nil
		}
	}

	o.mu.Lock()
	o.ops[op.key()] = op
	o.mu.Unlock()

	go o.attempt(ctx, op)
	return op, nil
}

// cancelPendingCreate removes an unconfirmed create for the same target
// and reports whether one was found.
func (o *Outbox) cancelPendingCreate(endpoint, target string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, op := range o.ops {
		if op.Kind == OpCreate && op.Endpoint == endpoint && op.Target == target {
			delete(o.ops, key)
			log.Printf("facegate: delete for %s cancelled pending create %s, resolving locally", target, op.ID)
			return true
		}
	}
	return false
}

// RetryAll retries every retained operation once. Triggered on window
// refocus and on successful reconnect; idempotent against concurrent
// triggers via the flushing state check.
func (o *Outbox) RetryAll(ctx context.Context) {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	pending := make([]*PendingOperation, 0, len(o.ops))
	for _, op := range o.ops {
		pending = append(pending, op)
	}
	o.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt) })
	for _, op := range pending {
		o.attempt(ctx, op)
	}

	o.mu.Lock()
	o.flushing = false
	o.mu.Unlock()
}

// attempt performs one network attempt for op. On success the operation
// is removed (unless superseded meanwhile) and the success callback
// fires with the server response. On failure the operation is retained
// and the error callback fires for UI feedback.
func (o *Outbox) attempt(ctx context.Context, op *PendingOperation) {
	o.mu.Lock()
	timeout := o.timeout
	o.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var data []byte
	var err error
	if op.Multipart {
		data, err = o.client.doForm(attemptCtx, op.Method, op.Endpoint, op.FormFields, op.FormFiles)
	} else {
		var body interface{}
		if op.Body != nil {
			body = op.Body
		}
		data, err = o.client.doRequest(attemptCtx, op.Method, op.Endpoint, body, nil)
	}

	if err == nil {
		var result *APIResult
		result, err = decodeJSON[APIResult](data)
		if err == nil && !result.OK {
			if result.Error != nil {
				err = result.Error
			} else {
				err = fmt.Errorf("mutation %s %s rejected", op.Method, op.Endpoint)
			}
		} else if err == nil {
			o.resolve(op)
			if op.onSuccess != nil {
				op.onSuccess(result)
			}
			return
		}
	}

	log.Printf("facegate: mutation %s %s failed, retained for retry: %v", op.Method, op.Endpoint, err)
	if op.onError != nil {
		op.onError(err)
	}
}

// resolve removes op unless a later submit superseded it.
func (o *Outbox) resolve(op *PendingOperation) {
	o.mu.Lock()
	if current, ok := o.ops[op.key()]; ok && current == op {
		delete(o.ops, op.key())
	}
	o.mu.Unlock()
}

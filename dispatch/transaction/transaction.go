package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation is the backend verb a transaction executes.
type Operation string

const (
	OperationGet    Operation = "GET"
	OperationPost   Operation = "POST"
	OperationPatch  Operation = "PATCH"
	OperationDelete Operation = "DELETE"
)

// ErrorKind classifies why an attempt or a transaction failed.
type ErrorKind string

const (
	// ErrorKindTransient failures are retried with backoff.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindCircuitOpen rejections are retried after the breaker recovers
	// and do not consume the retry budget.
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
	// ErrorKindPermanent failures are never retried.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindValidation marks a submission rejected before dispatch.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindDependency marks a transaction whose dependency did not complete.
	ErrorKindDependency ErrorKind = "dependency"
)

const (
	DefaultPriority   = 1
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrEmptyTarget          = errors.New("target is required")
	ErrDuplicateDependency  = errors.New("duplicate dependency")
	ErrNegativeTimeout      = errors.New("timeout must not be negative")
	ErrNegativeMaxRetries   = errors.New("max retries must not be negative")
)

// ParseOperation normalizes s to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))

	switch op {
	case OperationGet, OperationPost, OperationPatch, OperationDelete:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperation, s)
	}
}

// NewID returns a time-ordered transaction id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Request describes a transaction to submit.
//
// Zero Priority and Timeout select the defaults. Priority 0 therefore means
// DefaultPriority (1) and cannot be requested as a distinct level; use a
// negative Priority to rank below the default. A nil MaxRetries selects the
// pooler's configured budget.
type Request struct {
	Operation    string
	Target       string
	Payload      Values
	Query        Values
	Priority     int
	Timeout      time.Duration
	MaxRetries   *int
	Dependencies []string
	Metadata     map[string]any
}

// Validate checks the request shape. Dependency existence is checked by the
// pooler.
func (r Request) Validate() error {
	var errs []error

	if _, err := ParseOperation(r.Operation); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(r.Target) == "" {
		errs = append(errs, ErrEmptyTarget)
	}

	if r.Timeout < 0 {
		errs = append(errs, ErrNegativeTimeout)
	}

	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		errs = append(errs, ErrNegativeMaxRetries)
	}

	seen := make(map[string]struct{}, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		if _, ok := seen[dep]; ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateDependency, dep))
		}

		seen[dep] = struct{}{}
	}

	return errors.Join(errs...)
}

// HistoryEntry records one status change.
type HistoryEntry struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Transaction is the mutable record owned by the pooler. It is not safe for
// concurrent use; callers receive Snapshots.
type Transaction struct {
	ID            string
	Operation     Operation
	Target        string
	Payload       Values
	Query         Values
	Status        Status
	Priority      int
	RetryCount    int
	MaxRetries    int
	Timeout       time.Duration
	Dependencies  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Result        any
	Error         string
	ErrorKind     ErrorKind
	ErrorCategory string
	Metadata      map[string]any
	History       []HistoryEntry
}

// New builds a Pending transaction from req, applying defaults. The request is
// not validated here.
func New(id string, req Request, defaultMaxRetries int, now time.Time) *Transaction {
	op, _ := ParseOperation(req.Operation)
	if op == "" {
		op = Operation(strings.ToUpper(strings.TrimSpace(req.Operation)))
	}

	priority := req.Priority
	if priority == 0 {
		priority = DefaultPriority
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	deps := mergeDependencies(req.Dependencies, req.Payload.References(), req.Query.References())

	return &Transaction{
		ID:           id,
		Operation:    op,
		Target:       strings.TrimSpace(req.Target),
		Payload:      req.Payload.Clone(),
		Query:        req.Query.Clone(),
		Status:       StatusPending,
		Priority:     priority,
		MaxRetries:   maxRetries,
		Timeout:      timeout,
		Dependencies: deps,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     cloneMap(req.Metadata),
	}
}

// Transition moves the transaction to status to, recording the change.
func (t *Transaction) Transition(to Status, at time.Time, reason string) error {
	if !t.Status.CanTransitionTo(to) {
		return transitionError(t.Status, to)
	}

	t.History = append(t.History, HistoryEntry{From: t.Status, To: to, At: at, Reason: reason})
	t.Status = to
	t.UpdatedAt = at

	return nil
}

// Complete marks the transaction Completed with result.
func (t *Transaction) Complete(result any, at time.Time) error {
	if err := t.Transition(StatusCompleted, at, ""); err != nil {
		return err
	}

	t.Result = result

	return nil
}

// Fail marks the transaction Failed.
func (t *Transaction) Fail(kind ErrorKind, category, message string, at time.Time) error {
	if err := t.Transition(StatusFailed, at, message); err != nil {
		return err
	}

	t.Error = message
	t.ErrorKind = kind
	t.ErrorCategory = category

	return nil
}

// ProcessingStartedAt returns the time of the most recent move to Processing.
func (t *Transaction) ProcessingStartedAt() (time.Time, bool) {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].To == StatusProcessing {
			return t.History[i].At, true
		}
	}

	return time.Time{}, false
}

// Snapshot is a point-in-time copy of a transaction.
type Snapshot struct {
	ID            string         `json:"id"`
	Operation     Operation      `json:"operation"`
	Target        string         `json:"target"`
	Status        Status         `json:"status"`
	Priority      int            `json:"priority"`
	RetryCount    int            `json:"retryCount"`
	MaxRetries    int            `json:"maxRetries"`
	Timeout       time.Duration  `json:"timeout"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	Payload       Values         `json:"payload,omitempty"`
	Query         Values         `json:"query,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     ErrorKind      `json:"errorKind,omitempty"`
	ErrorCategory string         `json:"errorCategory,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	History       []HistoryEntry `json:"history"`
}

// Snapshot copies the transaction. Result is shared; it is never mutated after
// completion.
func (t *Transaction) Snapshot() Snapshot {
	return Snapshot{
		ID:            t.ID,
		Operation:     t.Operation,
		Target:        t.Target,
		Status:        t.Status,
		Priority:      t.Priority,
		RetryCount:    t.RetryCount,
		MaxRetries:    t.MaxRetries,
		Timeout:       t.Timeout,
		Dependencies:  append([]string(nil), t.Dependencies...),
		Payload:       t.Payload.Clone(),
		Query:         t.Query.Clone(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		Result:        t.Result,
		Error:         t.Error,
		ErrorKind:     t.ErrorKind,
		ErrorCategory: t.ErrorCategory,
		Metadata:      cloneMap(t.Metadata),
		History:       append([]HistoryEntry(nil), t.History...),
	}
}

func mergeDependencies(groups ...[]string) []string {
	var out []string

	seen := make(map[string]struct{})

	for _, group := range groups {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}

			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	libLog "github.com/LerianStudio/lib-dispatch/dispatch/log"
	libOpentelemetry "github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/LerianStudio/lib-dispatch/dispatch/pooler"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
)

const (
	entityTransaction = "transaction"

	// DefaultMetadataLimit bounds metadata keys and stringified values.
	DefaultMetadataLimit = 256
	// MaxWait caps the wait query parameter of the status endpoint.
	MaxWait = 30 * time.Second
)

// Dispatcher is the pooler surface used by the HTTP handlers.
type Dispatcher interface {
	Submit(req transaction.Request) string
	SubmitGroup(reqs []transaction.RawRequest) []string
	Status(id string) (transaction.Snapshot, bool)
	Await(ctx context.Context, id string) (transaction.Snapshot, error)
	Cancel(id string) bool
	PoolStatus() pooler.PoolStatus
}

// SubmitRequest is the body of a transaction submission.
//
// Payload and query values may hold "{{timestamp}}" and, inside a batch,
// "{{target.field}}" placeholders resolved from earlier members' results.
// An absent or zero priority is stored as the default priority 1, so the
// lowest priority a client can ask for is 1.
type SubmitRequest struct {
	Operation    string         `json:"operation"              validate:"required,dispatch_operation"`
	Target       string         `json:"target"                 validate:"required,dispatch_target,max=256"`
	Payload      map[string]any `json:"payload,omitempty"`
	Query        map[string]any `json:"query,omitempty"`
	Priority     int            `json:"priority,omitempty"     validate:"gte=0"`
	Timeout      float64        `json:"timeout,omitempty"      validate:"gte=0"`
	MaxRetries   *int           `json:"maxRetries,omitempty"   validate:"omitempty,gte=0,lte=100"`
	Dependencies []string       `json:"dependencies,omitempty" validate:"omitempty,max=64,dive,required"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RawRequest converts the body to a placeholder-carrying request.
// Timeout is given in seconds.
func (r SubmitRequest) RawRequest() transaction.RawRequest {
	return transaction.RawRequest{
		Operation:    r.Operation,
		Target:       r.Target,
		Payload:      r.Payload,
		Query:        r.Query,
		Priority:     r.Priority,
		Timeout:      time.Duration(r.Timeout * float64(time.Second)),
		MaxRetries:   r.MaxRetries,
		Dependencies: r.Dependencies,
		Metadata:     r.Metadata,
	}
}

// BatchRequest is the body of a group submission of at most 100 members.
type BatchRequest struct {
	Transactions []SubmitRequest `json:"transactions" validate:"required,min=1,max=100,dive"`
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	ID     string             `json:"id"`
	Status transaction.Status `json:"status"`
}

// BatchResponse lists the ids of a group submission in request order.
type BatchResponse struct {
	IDs []string `json:"ids"`
}

// CancelResponse reports the outcome of a cancellation.
type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// TransactionHandler exposes a Dispatcher over HTTP.
type TransactionHandler struct {
	Dispatcher    Dispatcher
	MetadataLimit int
}

// NewTransactionHandler returns a handler over d.
func NewTransactionHandler(d Dispatcher) *TransactionHandler {
	return &TransactionHandler{Dispatcher: d, MetadataLimit: DefaultMetadataLimit}
}

// RegisterRoutes mounts the transaction and pool routes on router.
// submitMiddleware runs before both submission routes only.
func RegisterRoutes(router fiber.Router, h *TransactionHandler, submitMiddleware ...fiber.Handler) {
	submit := append(append([]fiber.Handler(nil), submitMiddleware...), h.Submit)
	batch := append(append([]fiber.Handler(nil), submitMiddleware...), h.SubmitBatch)

	v1 := router.Group("/v1")
	v1.Post("/transactions", submit...)
	v1.Post("/transactions/batch", batch...)
	v1.Get("/transactions/:id", h.Get)
	v1.Delete("/transactions/:id", h.Cancel)
	v1.Get("/pool/status", h.PoolStatus)
}

// Submit accepts one transaction and answers 202 with its id.
func (h *TransactionHandler) Submit(c *fiber.Ctx) error {
	ctx := c.UserContext()
	logger, tracer, _, _ := dispatch.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "handler.submit_transaction")
	defer span.End()

	var body SubmitRequest
	if err := ParseBodyAndValidate(c, &body); err != nil {
		libOpentelemetry.HandleSpanError(span, "invalid submission", err)
		return h.writeInvalid(c, err, body.Operation)
	}

	if err := h.checkMetadata(body); err != nil {
		libOpentelemetry.HandleSpanError(span, "invalid metadata", err)
		return h.writeInvalid(c, err, body.Operation)
	}

	id := h.Dispatcher.Submit(body.RawRequest().Request(nil))

	span.SetAttributes(
		attribute.String(constant.AttrTransactionID, id),
		attribute.String(constant.AttrTransactionTarget, body.Target),
	)

	snap, _ := h.Dispatcher.Status(id)

	logger.Log(ctx, libLog.LevelDebug, "transaction accepted",
		libLog.String("transaction_id", id),
		libLog.String("target", body.Target),
		libLog.String("status", string(snap.Status)),
	)

	return Accepted(c, SubmitResponse{ID: id, Status: snap.Status})
}

// SubmitBatch accepts a group whose members may reference each other through
// placeholders and answers 202 with the ids in request order.
func (h *TransactionHandler) SubmitBatch(c *fiber.Ctx) error {
	ctx := c.UserContext()
	logger, tracer, _, _ := dispatch.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "handler.submit_batch")
	defer span.End()

	var body BatchRequest
	if err := ParseBodyAndValidate(c, &body); err != nil {
		libOpentelemetry.HandleSpanError(span, "invalid batch", err)
		return h.writeInvalid(c, err, "")
	}

	raws := make([]transaction.RawRequest, len(body.Transactions))

	for i, member := range body.Transactions {
		if err := h.checkMetadata(member); err != nil {
			libOpentelemetry.HandleSpanError(span, "invalid metadata", err)
			return h.writeInvalid(c, fmt.Errorf("transactions[%d]: %w", i, err), member.Operation)
		}

		raws[i] = member.RawRequest()
	}

	ids := h.Dispatcher.SubmitGroup(raws)

	span.SetAttributes(attribute.Int("dispatch.batch.size", len(ids)))
	logger.Log(ctx, libLog.LevelDebug, "transaction batch accepted", libLog.Int("count", len(ids)))

	return Accepted(c, BatchResponse{IDs: ids})
}

// Get returns the snapshot of a transaction. With ?wait=<duration> it blocks
// until the transaction is terminal or the wait elapses, then returns the
// latest snapshot. Ids that are not UUIDs are reported as not found.
func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		return WriteBusinessError(c, fmt.Errorf("%w: %w", constant.ErrInvalidRequestBody, err), entityTransaction, err.Error())
	}

	if !dispatch.IsUUID(id) {
		return WriteBusinessError(c, constant.ErrTransactionNotFound, entityTransaction, id)
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		defer cancel()

		snap, err := h.Dispatcher.Await(ctx, id)

		switch {
		case err == nil:
			return OK(c, snap)
		case errors.Is(err, pooler.ErrTransactionNotFound):
			return WriteBusinessError(c, constant.ErrTransactionNotFound, entityTransaction, id)
		case !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled):
			return err
		}
	}

	snap, ok := h.Dispatcher.Status(id)
	if !ok {
		return WriteBusinessError(c, constant.ErrTransactionNotFound, entityTransaction, id)
	}

	return OK(c, snap)
}

// Cancel cancels a Pending transaction. Cancelled is false once it has left Pending.
func (h *TransactionHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")

	if !dispatch.IsUUID(id) {
		return WriteBusinessError(c, constant.ErrTransactionNotFound, entityTransaction, id)
	}

	if _, ok := h.Dispatcher.Status(id); !ok {
		return WriteBusinessError(c, constant.ErrTransactionNotFound, entityTransaction, id)
	}

	cancelled := h.Dispatcher.Cancel(id)

	dispatch.NewLoggerFromContext(c.UserContext()).Log(c.UserContext(), libLog.LevelDebug, "transaction cancel requested",
		libLog.String("transaction_id", id),
		libLog.Bool("cancelled", cancelled),
	)

	return OK(c, CancelResponse{ID: id, Cancelled: cancelled})
}

// PoolStatus returns counters, queue sizes, breaker state and health.
func (h *TransactionHandler) PoolStatus(c *fiber.Ctx) error {
	return OK(c, h.Dispatcher.PoolStatus())
}

func (h *TransactionHandler) checkMetadata(body SubmitRequest) error {
	limit := h.MetadataLimit
	if limit <= 0 {
		limit = DefaultMetadataLimit
	}

	return dispatch.CheckMetadataKeyAndValueLength(limit, body.Metadata)
}

func (h *TransactionHandler) writeInvalid(c *fiber.Ctx, err error, operation string) error {
	switch {
	case errors.Is(err, ErrFieldOperation):
		return WriteBusinessError(c, fmt.Errorf("%w: %w", constant.ErrInvalidOperation, err), entityTransaction, operation)
	case errors.Is(err, ErrFieldTarget):
		return WriteBusinessError(c, fmt.Errorf("%w: %w", constant.ErrInvalidTarget, err), entityTransaction)
	default:
		return WriteBusinessError(c, fmt.Errorf("%w: %w", constant.ErrInvalidRequestBody, err), entityTransaction, err.Error())
	}
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0, fmt.Errorf("wait must be a non-negative duration such as 2s, got %q", raw)
	}

	return min(wait, MaxWait), nil
}

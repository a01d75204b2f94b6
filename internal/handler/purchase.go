package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/internal/domain/purchase"
	"github.com/xenking/pos-register/internal/events"
)

const publishTimeout = 5 * time.Second

// RecordPurchase handles POST /purchase. The stored total is always computed
// from the item prices; a client-sent total_amount is only compared.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	var req purchaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "malformed")))
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	preq := purchase.Request{
		Items:          req.Items,
		EmployeeCode:   req.EmployeeCode,
		StoreCode:      req.StoreCode,
		RegisterNumber: req.RegisterNumber,
	}
	id, err := h.purchases.Record(ctx, preq)
	if err != nil {
		status, msg, reason := mapPurchaseError(err)
		h.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		if status >= http.StatusInternalServerError {
			lg.Error("Purchase recording failed",
				zap.String("store_code", req.StoreCode),
				zap.String("register_number", req.RegisterNumber),
				zap.Int("items", len(req.Items)),
				zap.Error(err),
			)
		}
		writeError(w, status, msg)
		return
	}

	// Validation already passed, so the sum cannot fail here.
	total, _ := purchase.Total(req.Items)
	if req.TotalAmountSet && req.TotalAmount != total {
		lg.Warn("Client total differs from computed total",
			zap.Int64("transaction_id", id),
			zap.Int64("client_total", req.TotalAmount),
			zap.Int64("computed_total", total),
		)
	}

	storeAttr := attribute.String("pos.store_code", req.StoreCode)
	h.recorded.Add(ctx, 1, metric.WithAttributes(storeAttr))
	h.amount.Record(ctx, total, metric.WithAttributes(storeAttr))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("pos.transaction_id", id),
		attribute.Int64("pos.total_amount", total),
		attribute.Int("pos.items", len(req.Items)),
	)
	lg.Info("Purchase recorded",
		zap.Int64("transaction_id", id),
		zap.Int64("total_amount", total),
		zap.Int("items", len(req.Items)),
	)

	h.publish(ctx, events.PurchaseRecorded{
		EventID:        uuid.New(),
		TransactionID:  id,
		EmployeeCode:   req.EmployeeCode,
		StoreCode:      req.StoreCode,
		RegisterNumber: req.RegisterNumber,
		TotalAmount:    total,
		ItemCount:      len(req.Items),
		OccurredAt:     time.Now(),
	})

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("transaction_id")
		e.Int64(id)
		e.ObjEnd()
	})
}

// publish sends the event after commit without holding the response. A
// failure is logged only: the purchase is already durable.
func (h *Handler) publish(ctx context.Context, ev events.PurchaseRecorded) {
	ctx = context.WithoutCancel(ctx)
	h.publishing.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := h.events.PublishPurchaseRecorded(ctx, ev); err != nil {
			zctx.From(ctx).Warn("Purchase event not published",
				zap.Int64("transaction_id", ev.TransactionID),
				zap.Error(err),
			)
		}
	})
}

// Drain waits for in-flight purchase events to be published.
func (h *Handler) Drain() {
	h.publishing.Wait()
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	tx, err := h.purchases.Get(ctx, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTransaction(e, tx) })
	case errors.Is(err, purchase.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zctx.From(ctx).Error("Transaction lookup failed", zap.Int64("transaction_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// mapPurchaseError converts domain errors to a status, client message and
// metric reason.
func mapPurchaseError(err error) (status int, msg, reason string) {
	if errors.Is(err, purchase.ErrEmptyItems) {
		return http.StatusBadRequest, err.Error(), "empty"
	}

	var ve *purchase.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity, ve.Error(), "invalid"
	}

	var se *purchase.StorageError
	if errors.As(err, &se) {
		return http.StatusInternalServerError, "purchase could not be recorded", "storage"
	}

	return http.StatusInternalServerError, "internal error", "internal"
}

package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/internal/domain/product"
)

// LookupProduct handles POST /items with a {"code": ...} body.
func (h *Handler) LookupProduct(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if !req.CodeSet {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	h.lookup(r.Context(), w, req.Code)
}

func (h *Handler) lookup(ctx context.Context, w http.ResponseWriter, code string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("pos.product.code", code))

	p, err := h.catalog.FindByCode(ctx, code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p.Encode)
	case errors.Is(err, product.ErrEmptyCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zctx.From(ctx).Error("Product lookup failed", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListProducts handles GET /items and GET /items/.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	products, err := h.catalog.List(ctx)
	if err != nil {
		zctx.From(ctx).Error("Product listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			products[i].Encode(e)
		}
		e.ArrEnd()
	})
}

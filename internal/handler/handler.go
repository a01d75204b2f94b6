package handler

import (
	"net/http"
	"sync"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/pos-register/internal/domain/product"
	"github.com/xenking/pos-register/internal/domain/purchase"
	"github.com/xenking/pos-register/internal/events"
)

// Handler serves the register API over net/http, delegating to the catalog
// and purchase services.
type Handler struct {
	catalog   *product.Catalog
	purchases *purchase.Service
	events    events.Publisher

	recorded metric.Int64Counter
	failed   metric.Int64Counter
	amount   metric.Int64Histogram

	publishing sync.WaitGroup
}

// NewHandler constructs a Handler. A nil publisher disables purchase events.
func NewHandler(
	catalog *product.Catalog,
	purchases *purchase.Service,
	publisher events.Publisher,
	meter metric.Meter,
) (*Handler, error) {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	h := &Handler{
		catalog:   catalog,
		purchases: purchases,
		events:    publisher,
	}

	var err error
	if h.recorded, err = meter.Int64Counter("pos.purchases.recorded",
		metric.WithDescription("Purchases committed"),
	); err != nil {
		return nil, errors.Wrap(err, "purchases.recorded counter")
	}
	if h.failed, err = meter.Int64Counter("pos.purchases.failed",
		metric.WithDescription("Purchases rejected or rolled back"),
	); err != nil {
		return nil, errors.Wrap(err, "purchases.failed counter")
	}
	if h.amount, err = meter.Int64Histogram("pos.purchases.amount",
		metric.WithDescription("Total amount of committed purchases in minor units"),
	); err != nil {
		return nil, errors.Wrap(err, "purchases.amount histogram")
	}
	return h, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /check", h.Check)
	mux.HandleFunc("POST /items", h.LookupProduct)
	mux.HandleFunc("GET /items", h.ListProducts)
	mux.HandleFunc("GET /items/{$}", h.ListProducts)
	mux.HandleFunc("POST /purchase", h.RecordPurchase)
	mux.HandleFunc("GET /transactions/{id}", h.GetTransaction)
}

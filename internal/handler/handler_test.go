package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/pos-register/internal/domain/product"
	"github.com/xenking/pos-register/internal/domain/purchase"
	"github.com/xenking/pos-register/internal/events"
)

// --- Fakes ---

type fakeProducts struct {
	byCode map[string]product.Product
	err    error
}

func (f *fakeProducts) FindByCode(_ context.Context, code string) (*product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.byCode[code]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) List(_ context.Context) ([]product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []product.Product{tea, cola}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	txs     map[int64]*purchase.Transaction
	failErr error
}

type fakeWriter struct {
	tx *purchase.Transaction
	id func() int64
}

func (w *fakeWriter) InsertHeader(_ context.Context, h purchase.Header) (int64, error) {
	w.tx = &purchase.Transaction{
		ID:             w.id(),
		CreatedAt:      time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		EmployeeCode:   h.EmployeeCode,
		StoreCode:      h.StoreCode,
		RegisterNumber: h.RegisterNumber,
		TotalAmount:    h.TotalAmount,
	}
	return w.tx.ID, nil
}

func (w *fakeWriter) InsertLineItem(_ context.Context, li purchase.LineItem) error {
	w.tx.Lines = append(w.tx.Lines, li)
	return nil
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w purchase.Writer) error) error {
	w := &fakeWriter{id: func() int64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID++
		return s.nextID
	}}
	if err := fn(ctx, w); err != nil {
		return err
	}
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[w.tx.ID] = w.tx
	return nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (*purchase.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return tx, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.PurchaseRecorded
	err    error
	// block, when set, holds every publish until it is closed or ctx ends.
	block chan struct{}
}

func (p *fakePublisher) PublishPurchaseRecorded(ctx context.Context, ev events.PurchaseRecorded) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) published() []events.PurchaseRecorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PurchaseRecorded(nil), p.events...)
}

func (p *fakePublisher) Close() error { return nil }

// --- Helpers ---

var (
	tea  = product.Product{ID: 1, Code: "4901234567894", Name: "Green Tea 500ml", Price: 100}
	cola = product.Product{ID: 2, Code: "4902102072618", Name: "Cola 500ml", Price: 250}
)

type testEnv struct {
	products  *fakeProducts
	store     *fakeStore
	publisher *fakePublisher
	handler   *Handler
	mux       *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		products:  &fakeProducts{byCode: map[string]product.Product{tea.Code: tea, cola.Code: cola}},
		store:     &fakeStore{txs: make(map[int64]*purchase.Transaction)},
		publisher: &fakePublisher{},
		mux:       http.NewServeMux(),
	}
	h, err := NewHandler(
		product.NewCatalog(env.products),
		purchase.NewService(env.store),
		env.publisher,
		noop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	h.Register(env.mux)
	env.handler = h
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	env.handler.Drain()
	return rec
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const validPurchase = `{
	"items": [
		{"product_id": 1, "code": "4901234567894", "name": "Green Tea 500ml", "price": 100},
		{"product_id": 2, "code": "4902102072618", "name": "Cola 500ml", "price": 250},
		{"product_id": 1, "code": "4901234567894", "name": "Green Tea 500ml", "price": 100}
	],
	"employee_code": "EMP0000001",
	"store_code": "30",
	"register_number": "90"
}`

// --- Tests ---

func TestLookupProduct(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "found", body: `{"code":"4901234567894"}`, wantStatus: http.StatusOK},
		{name: "unknown code", body: `{"code":"0000000000000"}`, wantStatus: http.StatusNotFound},
		{name: "missing code", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "null code", body: `{"code":null}`, wantStatus: http.StatusBadRequest},
		{name: "empty code", body: `{"code":""}`, wantStatus: http.StatusBadRequest},
		{name: "numeric code", body: `{"code":4901234567894}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{"code":`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest},
		{name: "trailing whitespace", body: "{\"code\":\"4901234567894\"}\n", wantStatus: http.StatusOK},
		{name: "trailing data", body: `{"code":"4901234567894"} trailing-garbage`, wantStatus: http.StatusBadRequest},
		{name: "trailing letter", body: `{"code":"4901234567894"} x`, wantStatus: http.StatusBadRequest},
		{name: "second object", body: `{"code":"4901234567894"}{"code":"4902102072618"}`, wantStatus: http.StatusBadRequest},
		{name: "duplicate code", body: `{"code":"0000000000000","code":"4901234567894"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/items", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusOK {
				body := decode[errorBody](t, rec)
				assert.Equal(t, tt.wantStatus, body.Code)
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestLookupProduct_Body(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/items", `{"code":"4901234567894"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"product_id":1,"code":"4901234567894","name":"Green Tea 500ml","price":100}`, rec.Body.String())
}

func TestLookupProduct_BackendError(t *testing.T) {
	env := newTestEnv(t)
	env.products.err = errors.New("db down")

	rec := env.do(http.MethodPost, "/items", `{"code":"4901234567894"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestStatusRoutes(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		wantMessage string
	}{
		{name: "root", path: "/", wantMessage: rootMessage},
		{name: "check", path: "/check", wantMessage: checkMessage},
		{name: "check ignores query", path: "/check?code=4902102072618", wantMessage: checkMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode[struct {
				Message string `json:"message"`
			}](t, rec)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestUnknownPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/items/4901234567894", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProducts(t *testing.T) {
	for _, path := range []string{"/items", "/items/"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodGet, path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			got := decode[[]product.Product](t, rec)
			assert.Equal(t, []product.Product{tea, cola}, got)
		})
	}
}

func TestRecordPurchase(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/purchase", validPurchase)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"transaction_id":1}`, rec.Body.String())

	tx, err := env.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(450), tx.TotalAmount)
	require.Len(t, tx.Lines, 3)
	for i, li := range tx.Lines {
		assert.Equal(t, i+1, li.Sequence)
	}

	require.Len(t, env.publisher.published(), 1)
	ev := env.publisher.published()[0]
	assert.Equal(t, int64(1), ev.TransactionID)
	assert.Equal(t, int64(450), ev.TotalAmount)
	assert.Equal(t, 3, ev.ItemCount)
}

func TestRecordPurchase_ClientTotalIgnored(t *testing.T) {
	env := newTestEnv(t)

	body := strings.Replace(validPurchase, `"register_number": "90"`, `"register_number": "90", "total_amount": 1`, 1)
	rec := env.do(http.MethodPost, "/purchase", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tx, err := env.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(450), tx.TotalAmount)
}

func TestRecordPurchase_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "empty items", body: `{"items":[],"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "missing items", body: `{"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "null items", body: `{"items":null,"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{"items":[`, wantStatus: http.StatusBadRequest},
		{name: "string price", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":"100"}],"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "negative price", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":-5}],"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "missing store", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":5}],"employee_code":"E","register_number":"R"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "duplicate items", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":100}],"items":[{"product_id":1,"code":"1","name":"a","price":100}],"employee_code":"E","store_code":"S","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "duplicate store", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":100}],"employee_code":"E","store_code":"S","store_code":"T","register_number":"R"}`, wantStatus: http.StatusBadRequest},
		{name: "trailing data", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":100}],"employee_code":"E","store_code":"S","register_number":"R"} x`, wantStatus: http.StatusBadRequest},
		{name: "register too long", body: `{"items":[{"product_id":1,"code":"1","name":"a","price":5}],"employee_code":"E","store_code":"S","register_number":"1234"}`, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(http.MethodPost, "/purchase", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Empty(t, env.store.txs)
			assert.Empty(t, env.publisher.published())
		})
	}
}

func TestRecordPurchase_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.failErr = errors.New("serialization failure")

	rec := env.do(http.MethodPost, "/purchase", validPurchase)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "serialization")
	assert.Empty(t, env.store.txs)
	assert.Empty(t, env.publisher.published())
}

func TestRecordPurchase_PublishFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	rec := env.do(http.MethodPost, "/purchase", validPurchase)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.store.txs, 1)
}

func TestRecordPurchase_RespondsBeforePublish(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.block = make(chan struct{})

	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(validPurchase))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"transaction_id":1}`, rec.Body.String())
	assert.Empty(t, env.publisher.published())

	close(env.publisher.block)
	env.handler.Drain()
	require.Len(t, env.publisher.published(), 1)
	assert.Equal(t, int64(1), env.publisher.published()[0].TransactionID)
}

func TestGetTransaction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/purchase", validPurchase)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/transactions/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		TransactionID int64  `json:"transaction_id"`
		CreatedAt     string `json:"created_at"`
		TotalAmount   int64  `json:"total_amount"`
		Items         []struct {
			LineSequence int    `json:"line_sequence"`
			Code         string `json:"code"`
			Price        int64  `json:"price"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.TransactionID)
	assert.Equal(t, "2024-05-01T09:30:00Z", body.CreatedAt)
	assert.Equal(t, int64(450), body.TotalAmount)
	require.Len(t, body.Items, 3)
	assert.Equal(t, 3, body.Items[2].LineSequence)
	assert.Equal(t, cola.Code, body.Items[1].Code)

	rec = env.do(http.MethodGet, "/transactions/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/transactions/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapPurchaseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "empty items", err: purchase.ErrEmptyItems, wantStatus: http.StatusBadRequest},
		{name: "field validation", err: &purchase.ValidationError{Field: "store_code", Reason: "required"}, wantStatus: http.StatusUnprocessableEntity},
		{name: "storage", err: &purchase.StorageError{Err: errors.New("boom")}, wantStatus: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg, _ := mapPurchaseError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, msg)
		})
	}
}

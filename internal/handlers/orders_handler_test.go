package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/imrishuroy/go-payflow/internal/gateway"
	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/intake"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
	"github.com/imrishuroy/go-payflow/internal/tokenizer"
	"go.uber.org/zap"
)

type memoryRepo struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
	seq    int
	err    error
}

func (r *memoryRepo) Create(ctx context.Context, in orders.NewOrder) (*orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.seq++
	o := &orders.Order{OrderID: fmt.Sprintf("order-%d", r.seq), ProductID: in.ProductID, Price: in.Price, PaymentStatus: orders.StatusPending}
	r.orders[o.OrderID] = o
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) Update(ctx context.Context, id string, upd orders.PaymentUpdate) (*orders.Order, error) {
	return nil, nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

type nopQueue struct{ jobs int }

func (q *nopQueue) AddJob(ctx context.Context, name string, data any, opts *queue.JobOptions) (string, error) {
	q.jobs++
	return "job", nil
}

type testServer struct {
	router *gin.Engine
	repo   *memoryRepo
	queue  *nopQueue
	tokens *tokenizer.Tokenizer
}

func newTestServer(t *testing.T, sensitiveMax int64) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kv := kvstore.NewMemoryStore()
	repo := &memoryRepo{orders: map[string]*orders.Order{}}
	q := &nopQueue{}
	tk, err := tokenizer.New([]byte("0123456789abcdef0123456789abcdef"), 5*time.Minute)
	if err != nil {
		t.Fatalf("tokenizer: %v", err)
	}
	logger := zap.NewNop()
	svc := intake.NewService(repo, q, idempotency.NewLedger(kv, 15*time.Minute), kv, logger)
	gw := gateway.NewMockGateway(tk, logger, gateway.WithFailureRate(0))

	router := NewRouter(RouterConfig{
		Orders:     NewOrdersHandler(svc, repo, gw, logger),
		Limiter:    ratelimit.NewLimiter(kv),
		Global:     ratelimit.Config{Name: "global", Window: 10 * time.Second, Max: 100},
		Sensitive:  ratelimit.Config{Name: "sensitive", Window: time.Minute, Max: sensitiveMax},
		Production: true,
		Logger:     logger,
	})
	return testServer{router: router, repo: repo, queue: q, tokens: tk}
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return body
}

const janeOrder = `{"product":{"id":"PROD-001","price":99.99},"customer":{"name":"Jane Doe","email":"jane@example.com"},"cardToken":"v1.token"}`

func TestCreateOrder_ThenIdempotentReplay(t *testing.T) {
	s := newTestServer(t, 10)

	w := do(s.router, http.MethodPost, "/order", janeOrder)
	assert.Equal(t, http.StatusCreated, w.Code)
	first := decode(t, w)
	assert.Equal(t, "PENDING", first["paymentStatus"])
	assert.NotEqual(t, nil, first["timestamp"])
	_, hasMessage := first["message"]
	assert.Equal(t, false, hasMessage)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))

	w = do(s.router, http.MethodPost, "/order", janeOrder)
	assert.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)
	assert.Equal(t, first["orderId"], second["orderId"])
	assert.Equal(t, "Request already processed", second["message"])
	assert.Equal(t, 2, s.queue.jobs)
}

func TestCreateOrder_ValidationError(t *testing.T) {
	s := newTestServer(t, 10)

	w := do(s.router, http.MethodPost, "/order", `{"product":{"id":"P","price":-1},"customer":{"name":"J","email":"bad"},"cardToken":"t"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(400), body["statusCode"])
	assert.Equal(t, 2, len(body["errors"].([]any)))

	w = do(s.router, http.MethodPost, "/order", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_InternalErrorHidden(t *testing.T) {
	s := newTestServer(t, 10)
	s.repo.err = fmt.Errorf("connection reset by peer")

	w := do(s.router, http.MethodPost, "/order", janeOrder)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["message"])
}

func TestCreateOrder_ConflictIs409(t *testing.T) {
	s := newTestServer(t, 10)
	s.repo.err = fmt.Errorf("put item: %w", orders.ErrConflict)

	w := do(s.router, http.MethodPost, "/order", janeOrder)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetPaymentStatus(t *testing.T) {
	s := newTestServer(t, 10)
	s.repo.orders["o1"] = &orders.Order{OrderID: "o1", PaymentStatus: orders.StatusPaid, PaymentID: "PAY_1", GatewayID: gateway.MockGatewayID}

	w := do(s.router, http.MethodGet, "/order/o1/payment-status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "o1", body["orderId"])
	assert.Equal(t, "PAID", body["paymentStatus"])
	assert.Equal(t, "PAY_1", body["paymentId"])
	assert.Equal(t, gateway.MockGatewayID, body["gatewayId"])

	w = do(s.router, http.MethodGet, "/order/missing/payment-status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Order not found", decode(t, w)["message"])
}

const card = `{"number":"4000000000000004","holderName":"Jane Doe","cvv":"123","expirationDate":"12/30"}`

func TestCreateCardToken(t *testing.T) {
	s := newTestServer(t, 10)

	w := do(s.router, http.MethodPost, "/payment/card-token", card)
	assert.Equal(t, http.StatusCreated, w.Code)
	token := decode(t, w)["token"].(string)

	got, err := s.tokens.Detokenize(token)
	if err != nil {
		t.Fatalf("token does not open: %v", err)
	}
	assert.Equal(t, "4000000000000004", got.Number)

	w = do(s.router, http.MethodPost, "/payment/card-token", `{"number":"1234","holderName":"J","cvv":"1","expirationDate":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCardToken_SensitiveLimit(t *testing.T) {
	s := newTestServer(t, 1)

	w := do(s.router, http.MethodPost, "/payment/card-token", card)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(s.router, http.MethodPost, "/payment/card-token", card)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEqual(t, "", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, "Too many requests", body["message"])
	assert.Equal(t, float64(0), body["remaining"])

	// the global policy is unaffected
	w = do(s.router, http.MethodGet, "/order/none/payment-status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthSkipsRateLimit(t *testing.T) {
	s := newTestServer(t, 10)
	w := do(s.router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", w.Header().Get("X-RateLimit-Limit"))
}

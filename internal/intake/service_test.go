package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/notify"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/payments"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

type memoryRepo struct {
	mu      sync.Mutex
	orders  map[string]*orders.Order
	creates int
	seq     int
	// barrier, when set, holds every Create until it is released
	barrier *sync.WaitGroup
	err     error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[string]*orders.Order{}}
}

func (r *memoryRepo) Create(ctx context.Context, in orders.NewOrder) (*orders.Order, error) {
	if r.barrier != nil {
		r.barrier.Done()
		r.barrier.Wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.creates++
	r.seq++
	o := &orders.Order{
		OrderID:       fmt.Sprintf("order-%d", r.seq),
		ProductID:     in.ProductID,
		Price:         in.Price,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		PaymentStatus: orders.StatusPending,
	}
	r.orders[o.OrderID] = o
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) Update(ctx context.Context, id string, upd orders.PaymentUpdate) (*orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	o.PaymentStatus = upd.Status
	cp := *o
	return &cp, nil
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

type addedJob struct {
	queue string
	data  any
}

type fakeQueue struct {
	mu     sync.Mutex
	jobs   []addedJob
	failOn map[string]error
}

func (q *fakeQueue) AddJob(ctx context.Context, name string, data any, opts *queue.JobOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.failOn[name]; err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, addedJob{name, data})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeQueue) count(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.queue == name {
			n++
		}
	}
	return n
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	queue *fakeQueue
	kv    *kvstore.MemoryStore
}

func newFixture() fixture {
	kv := kvstore.NewMemoryStore()
	repo := newMemoryRepo()
	q := &fakeQueue{failOn: map[string]error{}}
	svc := NewService(repo, q, idempotency.NewLedger(kv, 15*time.Minute), kv, zap.NewNop())
	return fixture{svc: svc, repo: repo, queue: q, kv: kv}
}

var janeOrder = Input{
	ProductID:     "PROD-001",
	Price:         99.99,
	CustomerName:  "Jane Doe",
	CustomerEmail: "jane@example.com",
	CardToken:     "v1.token",
}

func TestExecute_CreatesThenReturnsCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Execute(ctx, janeOrder)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if first.StatusCode != http.StatusCreated || first.PaymentStatus != orders.StatusPending || first.Message != "" {
		t.Fatalf("unexpected first response %+v", first)
	}

	second, err := f.svc.Execute(ctx, janeOrder)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if second.StatusCode != http.StatusOK || second.OrderID != first.OrderID || second.Message != MessageAlreadyProcessed {
		t.Fatalf("unexpected cached response %+v", second)
	}
	if second.PaymentStatus != orders.StatusPending {
		t.Fatalf("unexpected cached status %s", second.PaymentStatus)
	}

	if f.repo.creates != 1 {
		t.Fatalf("expected exactly one order creation, got %d", f.repo.creates)
	}
	if f.queue.count(queue.PaymentProcessing) != 1 || f.queue.count(queue.EmailNotifications) != 1 {
		t.Fatalf("duplicate request must not enqueue, got %+v", f.queue.jobs)
	}
}

func TestExecute_EnqueuesTokenNotCard(t *testing.T) {
	f := newFixture()
	resp, err := f.svc.Execute(context.Background(), janeOrder)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	job := f.queue.jobs[0].data.(payments.Job)
	want := payments.Job{OrderID: resp.OrderID, Amount: 99.99, CustomerName: "Jane Doe", CustomerEmail: "jane@example.com", CardToken: "v1.token"}
	if job != want {
		t.Fatalf("unexpected payment job %+v", job)
	}
	email := f.queue.jobs[1].data.(notify.EmailJob)
	if email.Template.OrderID != resp.OrderID || email.CustomerEmail != "jane@example.com" {
		t.Fatalf("unexpected email job %+v", email)
	}
}

func TestExecute_FingerprintIgnoresCaseAndSpaces(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first, _ := f.svc.Execute(ctx, janeOrder)

	variant := janeOrder
	variant.CustomerName = "  JANE DOE "
	variant.CustomerEmail = "Jane@Example.com"
	second, err := f.svc.Execute(ctx, variant)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if second.OrderID != first.OrderID || second.StatusCode != http.StatusOK {
		t.Fatalf("expected idempotency hit, got %+v", second)
	}

	other := janeOrder
	other.Price = 100
	third, _ := f.svc.Execute(ctx, other)
	if third.OrderID == first.OrderID {
		t.Fatalf("different price must create a new order")
	}
}

func TestExecute_CreateFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("db down")

	if _, err := f.svc.Execute(context.Background(), janeOrder); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.queue.jobs) != 0 {
		t.Fatalf("no job expected")
	}
	fp := idempotency.OrderFingerprint(janeOrder.CustomerName, janeOrder.CustomerEmail, janeOrder.ProductID, janeOrder.Price)
	if ok, _ := f.kv.Exists(context.Background(), "idempotency:"+fp); ok {
		t.Fatalf("ledger must not be written when creation fails")
	}
}

func TestExecute_PaymentEnqueueFailureMarksForReconcile(t *testing.T) {
	f := newFixture()
	f.queue.failOn[queue.PaymentProcessing] = errors.New("sqs unavailable")
	ctx := context.Background()

	if _, err := f.svc.Execute(ctx, janeOrder); err == nil {
		t.Fatalf("expected the request to fail")
	}
	if f.repo.creates != 1 {
		t.Fatalf("order should exist")
	}
	keys, _ := f.kv.Keys(ctx, reconcilePrefix+"*")
	if len(keys) != 1 || keys[0] != reconcilePrefix+"order-1" {
		t.Fatalf("expected reconcile marker, got %v", keys)
	}

	// the ledger was written before the enqueue, so a retry returns the same order
	resp, err := f.svc.Execute(ctx, janeOrder)
	if err != nil || resp.OrderID != "order-1" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected retry response %+v %v", resp, err)
	}
}

// Concurrent duplicates that both miss the ledger each create an order.
// This is a known limitation of the unlocked lookup-then-create flow.
func TestExecute_ConcurrentDuplicatesMayBothCreate(t *testing.T) {
	f := newFixture()
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.repo.barrier = &barrier

	var wg sync.WaitGroup
	results := make([]*Response, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.svc.Execute(context.Background(), janeOrder)
		}(i)
	}
	wg.Wait()

	if f.repo.creates != 2 {
		t.Fatalf("expected both racing requests to create, got %d", f.repo.creates)
	}
	for _, r := range results {
		if r == nil || r.StatusCode != http.StatusCreated {
			t.Fatalf("expected both responses to be 201, got %+v", r)
		}
	}

	// a later request sees whichever ledger write landed first
	f.repo.barrier = nil
	later, err := f.svc.Execute(context.Background(), janeOrder)
	if err != nil || later.StatusCode != http.StatusOK {
		t.Fatalf("expected idempotency hit after the race, got %+v %v", later, err)
	}
	if later.OrderID != results[0].OrderID && later.OrderID != results[1].OrderID {
		t.Fatalf("unexpected order id %s", later.OrderID)
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
	"go.uber.org/zap"
)

type fixture struct {
	kv      *kvstore.MemoryStore
	backend *queue.MemoryBackend
	manager *queue.Manager
	limiter *ratelimit.Limiter
	ledger  *idempotency.Ledger
	sweeper *fakeSweeper
	opens   int
}

type fakeSweeper struct {
	n   int
	err error
}

func (s *fakeSweeper) Sweep(ctx context.Context) (int, error) { return s.n, s.err }

var policies = []ratelimit.Config{
	{Name: "global", Window: 10 * time.Second, Max: 100},
	{Name: "sensitive", Window: time.Second, Max: 10},
}

func newFixture() *fixture {
	kv := kvstore.NewMemoryStore()
	backend := queue.NewMemoryBackend(time.Minute)
	return &fixture{
		kv:      kv,
		backend: backend,
		manager: queue.NewManager(backend, kv, zap.NewNop(), queue.Options{}),
		limiter: ratelimit.NewLimiter(kv),
		ledger:  idempotency.NewLedger(kv, time.Minute),
		sweeper: &fakeSweeper{},
	}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(func(ctx context.Context) (*Deps, error) {
		f.opens++
		return &Deps{Queue: f.manager, Limiter: f.limiter, Ledger: f.ledger, Reconciler: f.sweeper, Policies: policies}, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) deadLetter(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.manager.AddJob(ctx, queue.PaymentProcessing, map[string]string{"orderId": "o1"}, nil)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := f.manager.MoveJobToDLQ(ctx, queue.PaymentProcessing, id, queue.PaymentProcessingDLQ, "gateway down"); err != nil {
		t.Fatalf("MoveJobToDLQ: %v", err)
	}
	return id
}

func TestDLQListAndRetry(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	if !strings.Contains(out, "No dead letters.") {
		t.Fatalf("unexpected output %q", out)
	}

	id := f.deadLetter(t)
	out, err = f.run(t, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	var entries []queue.DeadLetter
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(entries) != 1 || entries[0].JobID != id || entries[0].FailedReason != "gateway down" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	pending := f.backend.Len(queue.PaymentProcessing)
	out, err = f.run(t, "dlq", "retry", id)
	if err != nil {
		t.Fatalf("dlq retry: %v", err)
	}
	if !strings.Contains(out, id+" re-enqueued as ") {
		t.Fatalf("unexpected output %q", out)
	}
	if got := f.backend.Len(queue.PaymentProcessing); got != pending+1 {
		t.Fatalf("expected a new payment job, queue length %d -> %d", pending, got)
	}
	left, _ := f.manager.DeadLetters(context.Background(), queue.PaymentProcessingDLQ)
	if len(left) != 0 {
		t.Fatalf("dead letter not removed: %+v", left)
	}
}

func TestDLQRetry_UnknownJob(t *testing.T) {
	f := newFixture()
	_, err := f.run(t, "dlq", "retry", "nope")
	if !errors.Is(err, queue.ErrDeadLetterNotFound) {
		t.Fatalf("expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestJobStatus(t *testing.T) {
	f := newFixture()
	id, err := f.manager.AddJob(context.Background(), queue.EmailNotifications, map[string]string{"to": "a@b.c"}, nil)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	out, err := f.run(t, "job", "status", queue.EmailNotifications, id)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	var rec queue.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if rec.ID != id || rec.State != queue.StateWaiting {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := f.run(t, "job", "status", queue.EmailNotifications, "missing"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestQueueClear_NeedsForce(t *testing.T) {
	f := newFixture()
	if _, err := f.manager.AddJob(context.Background(), queue.EmailNotifications, "x", nil); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if _, err := f.run(t, "queue", "clear", queue.EmailNotifications); err == nil {
		t.Fatalf("expected refusal without --force")
	}
	if f.opens != 0 {
		t.Fatalf("stores opened before confirmation")
	}
	if _, err := f.run(t, "queue", "clear", queue.EmailNotifications, "--force"); err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if n := f.backend.Len(queue.EmailNotifications); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestRateLimitStatusAndReset(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.limiter.CheckAndIncrement(ctx, "1.2.3.4", policies[0]); err != nil {
			t.Fatalf("CheckAndIncrement: %v", err)
		}
	}

	out, err := f.run(t, "ratelimit", "status", "1.2.3.4")
	if err != nil {
		t.Fatalf("ratelimit status: %v", err)
	}
	var statuses []limitStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(statuses) != 2 || statuses[0].Remaining != 97 || statuses[1].Remaining != 10 {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	if _, err := f.run(t, "ratelimit", "reset"); err == nil {
		t.Fatalf("expected an error without client or --all")
	}
	if _, err := f.run(t, "ratelimit", "reset", "1.2.3.4"); err != nil {
		t.Fatalf("ratelimit reset: %v", err)
	}
	info, _ := f.limiter.Status(ctx, "1.2.3.4", policies[0])
	if info.Remaining != 100 {
		t.Fatalf("expected a fresh window, got %+v", info)
	}

	_, _ = f.limiter.CheckAndIncrement(ctx, "5.6.7.8", policies[1])
	if _, err := f.run(t, "ratelimit", "reset", "--all"); err != nil {
		t.Fatalf("ratelimit reset --all: %v", err)
	}
	if keys, _ := f.kv.Keys(ctx, "ratelimit:*"); len(keys) != 0 {
		t.Fatalf("expected no counters, got %v", keys)
	}
}

func TestIdempotencyClear(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.ledger.Store(ctx, "fp-1", idempotency.Response{OrderID: "o1"})
	_, _ = f.ledger.Store(ctx, "fp-2", idempotency.Response{OrderID: "o2"})

	out, err := f.run(t, "idempotency", "clear")
	if err != nil {
		t.Fatalf("idempotency clear: %v", err)
	}
	if !strings.Contains(out, "Removed 2 idempotency entries") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestOpenError(t *testing.T) {
	cmd := NewRootCmd(func(ctx context.Context) (*Deps, error) {
		return nil, errors.New("redis unreachable")
	})
	cmd.SetArgs([]string{"dlq", "list"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "redis unreachable") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture()
	f.sweeper.n = 2

	out, err := f.run(t, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "Re-enqueued 2 payments") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReconcile_SweepError(t *testing.T) {
	f := newFixture()
	f.sweeper.n = 1
	f.sweeper.err = errors.New("orders table unreachable")

	out, err := f.run(t, "reconcile")
	if err == nil || !strings.Contains(err.Error(), "orders table unreachable") {
		t.Fatalf("expected sweep error, got %v", err)
	}
	if !strings.Contains(out, "Re-enqueued 1 payments") {
		t.Fatalf("partial progress not reported: %q", out)
	}
}

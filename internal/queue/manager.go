package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"go.uber.org/zap"
)

// Handler processes one job. A returned error counts as a failed attempt.
// The result, when non-nil, is kept on the job record.
type Handler func(ctx context.Context, job *Job) (any, error)

type WorkerOptions struct {
	Concurrency int
}

// Options configures a Manager.
type Options struct {
	Defaults      JobOptions
	StatusTTL     time.Duration
	DeadLetterTTL time.Duration
	PollWait      time.Duration
	EventBuffer   int
}

type worker struct {
	handler Handler
	opts    WorkerOptions
}

// Manager owns job production, consumption, retry scheduling and dead-lettering
// on top of a Backend. Job records live in the KV store so status survives restarts.
type Manager struct {
	backend Backend
	kv      kvstore.Store
	logger  *zap.Logger
	opts    Options

	events  chan Event
	dropped atomic.Int64

	mu      sync.Mutex
	workers map[string]*worker
	started bool
	closed  bool
	pollCtx context.Context
	cancel  context.CancelFunc
	pollers sync.WaitGroup
	jobs    sync.WaitGroup

	nowFunc func() time.Time
	rnd     func() float64
}

func NewManager(backend Backend, kv kvstore.Store, logger *zap.Logger, opts Options) *Manager {
	if opts.Defaults.Attempts < 1 {
		opts.Defaults = DefaultJobOptions()
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 24 * time.Hour
	}
	if opts.DeadLetterTTL <= 0 {
		opts.DeadLetterTTL = 7 * 24 * time.Hour
	}
	if opts.PollWait <= 0 {
		opts.PollWait = 20 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Manager{
		backend: backend,
		kv:      kv,
		logger:  logger,
		opts:    opts,
		events:  make(chan Event, opts.EventBuffer),
		workers: map[string]*worker{},
		nowFunc: time.Now,
		rnd:     rand.Float64,
	}
}

// Events streams lifecycle transitions. Events are dropped when nobody keeps up.
func (m *Manager) Events() <-chan Event { return m.events }

// DroppedEvents counts events lost to a full buffer.
func (m *Manager) DroppedEvents() int64 { return m.dropped.Load() }

func (m *Manager) emit(ev Event) {
	ev.Timestamp = m.nowFunc()
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func recordKey(queue, id string) string { return "job:" + queue + ":" + id }

func deadLetterKey(dlq, id string) string { return "dlq:" + dlq + ":" + id }

// AddJob enqueues data on queue. Zero-valued fields of opts fall back to the defaults.
func (m *Manager) AddJob(ctx context.Context, queue string, data any, opts *JobOptions) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal job data: %w", err)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Queue:     queue,
		Data:      payload,
		Opts:      m.resolve(opts),
		CreatedAt: m.nowFunc().UTC(),
	}

	state := StateWaiting
	if job.Opts.Delay > 0 {
		state = StateDelayed
	}
	if err := m.saveRecord(ctx, job, state, nil); err != nil {
		return "", err
	}
	if err := m.send(ctx, job, job.Opts.Delay); err != nil {
		_ = m.kv.Del(ctx, recordKey(queue, job.ID))
		return "", err
	}

	m.emit(Event{Type: EventAdded, Queue: queue, JobID: job.ID, Delay: job.Opts.Delay})
	return job.ID, nil
}

func (m *Manager) resolve(opts *JobOptions) JobOptions {
	out := m.opts.Defaults
	if opts == nil {
		return out
	}
	if opts.Delay > 0 {
		out.Delay = opts.Delay
	}
	if opts.Attempts > 0 {
		out.Attempts = opts.Attempts
	}
	if opts.Backoff.Type != "" {
		out.Backoff = opts.Backoff
	}
	return out
}

// send hands the job to the backend, recording NotBefore when the backend
// cannot hold the whole delay.
func (m *Manager) send(ctx context.Context, job *Job, delay time.Duration) error {
	job.NotBefore = 0
	if limit := m.backend.MaxDelay(); limit > 0 && delay > limit {
		job.NotBefore = m.nowFunc().Add(delay).UnixMilli()
		delay = limit
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := m.backend.Send(ctx, job.Queue, body, delay); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Queue, err)
	}
	return nil
}

func (m *Manager) saveRecord(ctx context.Context, job *Job, state State, result any) error {
	rec := Record{
		ID:           job.ID,
		Queue:        job.Queue,
		State:        state,
		Data:         job.Data,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.Opts.Attempts,
		FailedReason: job.FailedReason,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    m.nowFunc().UTC(),
	}
	if result != nil {
		rv, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		rec.ReturnValue = rv
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := m.kv.SetEx(ctx, recordKey(job.Queue, job.ID), string(b), m.opts.StatusTTL); err != nil {
		return fmt.Errorf("save job record: %w", err)
	}
	return nil
}

// GetJobStatus returns the job's record, or ErrJobNotFound.
func (m *Manager) GetJobStatus(ctx context.Context, queue, jobID string) (*Record, error) {
	raw, err := m.kv.Get(ctx, recordKey(queue, jobID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

// RegisterWorker attaches handler to queue. Polling begins with Start; Dispatch
// works as soon as the handler is registered.
func (m *Manager) RegisterWorker(queue string, handler Handler, opts WorkerOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.workers[queue]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerRegistered, queue)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	w := &worker{handler: handler, opts: opts}
	m.workers[queue] = w
	if m.started {
		m.startPollers(m.pollCtx, queue, w)
	}
	return nil
}

// Start launches Concurrency pollers per registered queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCtx = pollCtx
	m.cancel = cancel
	m.started = true
	for queue, w := range m.workers {
		m.startPollers(pollCtx, queue, w)
	}
	m.logger.Info("queue manager started", zap.Int("queues", len(m.workers)))
	return nil
}

// startPollers must be called with mu held.
func (m *Manager) startPollers(ctx context.Context, queue string, w *worker) {
	for i := 0; i < w.opts.Concurrency; i++ {
		m.pollers.Add(1)
		go m.poll(ctx, queue, w)
	}
}

func (m *Manager) poll(ctx context.Context, queue string, w *worker) {
	defer m.pollers.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := m.backend.Receive(ctx, queue, 1, m.opts.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("receive failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			m.jobs.Add(1)
			// in-flight jobs finish even when polling stops
			jobCtx := context.WithoutCancel(ctx)
			if err := m.process(jobCtx, queue, w.handler, msg); err != nil {
				m.logger.Error("job left for redelivery",
					zap.String("queue", queue),
					zap.String("messageId", msg.ID),
					zap.Error(err),
				)
			} else if err := m.backend.Delete(jobCtx, queue, msg.Receipt); err != nil {
				m.logger.Warn("delete message failed", zap.String("queue", queue), zap.Error(err))
			}
			m.jobs.Done()
		}
	}
}

// Dispatch processes a message delivered from outside the Manager, such as a
// Lambda SQS event. A nil error means the delivery can be acknowledged.
func (m *Manager) Dispatch(ctx context.Context, queue string, msg Message) error {
	m.mu.Lock()
	w, ok := m.workers[queue]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker registered for queue %q", queue)
	}
	m.jobs.Add(1)
	defer m.jobs.Done()
	return m.process(ctx, queue, w.handler, msg)
}

// process runs one delivery. It returns an error only when the message must
// stay on the transport for redelivery.
func (m *Manager) process(ctx context.Context, queue string, h Handler, msg Message) error {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		m.logger.Error("discarding malformed job",
			zap.String("queue", queue),
			zap.String("messageId", msg.ID),
			zap.Error(err),
		)
		return nil
	}
	if job.Queue == "" {
		job.Queue = queue
	}

	if job.NotBefore > 0 {
		if remaining := time.UnixMilli(job.NotBefore).Sub(m.nowFunc()); remaining > 0 {
			return m.send(ctx, &job, remaining)
		}
	}

	log := m.logger.With(
		zap.String("queue", queue),
		zap.String("jobId", job.ID),
		zap.Int("attempt", job.AttemptsMade+1),
	)

	if err := m.saveRecord(ctx, &job, StateActive, nil); err != nil {
		log.Warn("job record not updated", zap.Error(err))
	}
	m.emit(Event{Type: EventActive, Queue: queue, JobID: job.ID, AttemptsMade: job.AttemptsMade})

	started := m.nowFunc()
	result, herr := m.run(ctx, h, &job)
	took := m.nowFunc().Sub(started)

	if herr == nil {
		if err := m.saveRecord(ctx, &job, StateCompleted, result); err != nil {
			log.Warn("job record not updated", zap.Error(err))
		}
		log.Info("job completed", zap.Duration("duration", took))
		m.emit(Event{Type: EventCompleted, Queue: queue, JobID: job.ID, AttemptsMade: job.AttemptsMade, Duration: took})
		return nil
	}

	job.AttemptsMade++
	job.FailedReason = herr.Error()

	if job.AttemptsMade < job.Opts.Attempts {
		delay := job.Opts.Backoff.Next(job.AttemptsMade, m.rnd)
		// the record goes first: once sent, the retry may already be active
		if err := m.saveRecord(ctx, &job, StateDelayed, nil); err != nil {
			log.Warn("job record not updated", zap.Error(err))
		}
		if err := m.send(ctx, &job, delay); err != nil {
			return fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		log.Warn("job failed, retrying",
			zap.Error(herr),
			zap.Duration("delay", delay),
			zap.Int("maxAttempts", job.Opts.Attempts),
		)
		m.emit(Event{Type: EventRetrying, Queue: queue, JobID: job.ID, AttemptsMade: job.AttemptsMade, Error: job.FailedReason, Delay: delay, Duration: took})
		return nil
	}

	if err := m.saveRecord(ctx, &job, StateFailed, nil); err != nil {
		log.Warn("job record not updated", zap.Error(err))
	}
	log.Error("job failed", zap.Error(herr), zap.Int("attemptsMade", job.AttemptsMade))
	m.emit(Event{Type: EventFailed, Queue: queue, JobID: job.ID, AttemptsMade: job.AttemptsMade, Error: job.FailedReason, Duration: took})
	return nil
}

// run invokes the handler, turning a panic into a failed attempt.
func (m *Manager) run(ctx context.Context, h Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// MoveJobToDLQ copies a job into dlqName with its failure context and indexes it
// for operators. A job still active is in its final attempt, which is counted.
// Moving the same job again is a no-op while its index entry lives.
func (m *Manager) MoveJobToDLQ(ctx context.Context, sourceQueue, jobID, dlqName, reason string) error {
	rec, err := m.GetJobStatus(ctx, sourceQueue, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	attempts := rec.AttemptsMade
	if rec.State == StateActive {
		attempts++
	}
	dl := DeadLetter{
		JobID:        jobID,
		SourceQueue:  sourceQueue,
		Queue:        dlqName,
		Data:         rec.Data,
		FailedReason: reason,
		AttemptsMade: attempts,
		MaxAttempts:  rec.MaxAttempts,
		MovedAt:      m.nowFunc().UTC(),
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	// the index entry doubles as the claim, so a redelivered final attempt sends nothing
	key := deadLetterKey(dlqName, jobID)
	created, err := m.kv.SetNX(ctx, key, string(b), m.opts.DeadLetterTTL)
	if err != nil {
		return fmt.Errorf("index dead letter: %w", err)
	}
	if !created {
		m.logger.Info("job already dead-lettered",
			zap.String("dlq", dlqName),
			zap.String("jobId", jobID),
		)
		return nil
	}
	if _, err := m.AddJob(ctx, dlqName, dl, &JobOptions{Attempts: 1}); err != nil {
		_ = m.kv.Del(ctx, key)
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	m.emit(Event{Type: EventDeadLettered, Queue: sourceQueue, JobID: jobID, AttemptsMade: attempts, Error: reason})
	return nil
}

// DeadLetters lists the indexed entries of a dead-letter queue.
func (m *Manager) DeadLetters(ctx context.Context, dlqName string) ([]DeadLetter, error) {
	keys, err := m.kv.Keys(ctx, "dlq:"+dlqName+":*")
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(keys))
	for _, k := range keys {
		raw, err := m.kv.Get(ctx, k)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get dead letter %s: %w", k, err)
		}
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter %s: %w", k, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// RetryDeadLetter re-enqueues a dead letter on its source queue with fresh
// attempts and drops it from the index.
func (m *Manager) RetryDeadLetter(ctx context.Context, dlqName, jobID string) (string, error) {
	key := deadLetterKey(dlqName, jobID)
	raw, err := m.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrDeadLetterNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get dead letter: %w", err)
	}
	var dl DeadLetter
	if err := json.Unmarshal([]byte(raw), &dl); err != nil {
		return "", fmt.Errorf("unmarshal dead letter: %w", err)
	}
	newID, err := m.AddJob(ctx, dl.SourceQueue, dl.Data, nil)
	if err != nil {
		return "", err
	}
	if err := m.kv.Del(ctx, key); err != nil {
		return newID, fmt.Errorf("remove dead letter: %w", err)
	}
	m.logger.Info("dead letter re-enqueued",
		zap.String("dlq", dlqName),
		zap.String("jobId", jobID),
		zap.String("newJobId", newID),
		zap.String("queue", dl.SourceQueue),
	)
	return newID, nil
}

// Clear purges pending messages from queue and drops its job records.
func (m *Manager) Clear(ctx context.Context, queue string) error {
	if err := m.backend.Purge(ctx, queue); err != nil {
		return err
	}
	keys, err := m.kv.Keys(ctx, "job:"+queue+":*")
	if err != nil {
		return fmt.Errorf("list job records: %w", err)
	}
	return m.kv.Del(ctx, keys...)
}

// Close stops polling and waits for in-flight jobs until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.pollers.Wait()
		m.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("queue manager drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue manager: %w", ctx.Err())
	}
}

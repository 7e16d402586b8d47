package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Queue names.
const (
	PaymentProcessing    = "payment-processing"
	EmailNotifications   = "email-notifications"
	PaymentProcessingDLQ = "payment-processing-dlq"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrWorkerRegistered   = errors.New("worker already registered for queue")
	ErrClosed             = errors.New("queue manager closed")
)

// State is the lifecycle state reported by GetJobStatus.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobOptions is the per-job retry policy.
type JobOptions struct {
	Delay    time.Duration `json:"delay,omitempty"`
	Attempts int           `json:"attempts"`
	Backoff  Backoff       `json:"backoff"`
}

// DefaultJobOptions: three attempts, exponential backoff from one second with half jitter.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		Attempts: 3,
		Backoff:  Backoff{Type: BackoffExponential, Delay: time.Second, Jitter: 0.5},
	}
}

// Job is the envelope carried by the transport. Retries re-send it with AttemptsMade bumped.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Data         json.RawMessage `json:"data"`
	AttemptsMade int             `json:"attemptsMade"`
	Opts         JobOptions      `json:"opts"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	// NotBefore is epoch milliseconds; set when the transport cannot hold the full delay.
	NotBefore int64 `json:"notBefore,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// Record is the job state kept in the KV store under job:<queue>:<id>.
type Record struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	State        State           `json:"state"`
	Data         json.RawMessage `json:"data"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	FailedReason string          `json:"failedReason,omitempty"`
	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DeadLetter is what an operator sees for a job that exhausted its attempts.
type DeadLetter struct {
	JobID        string          `json:"jobId"`
	SourceQueue  string          `json:"sourceQueue"`
	Queue        string          `json:"queue"`
	Data         json.RawMessage `json:"data"`
	FailedReason string          `json:"failedReason"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	MovedAt      time.Time       `json:"movedAt"`
}

package queue

import "time"

type EventType string

const (
	EventAdded        EventType = "added"
	EventActive       EventType = "active"
	EventCompleted    EventType = "completed"
	EventRetrying     EventType = "retrying"
	EventFailed       EventType = "failed"
	EventDeadLettered EventType = "dead-lettered"
)

// Event is a job lifecycle transition.
type Event struct {
	Type         EventType     `json:"type"`
	Queue        string        `json:"queue"`
	JobID        string        `json:"jobId"`
	AttemptsMade int           `json:"attemptsMade"`
	Error        string        `json:"error,omitempty"`
	Delay        time.Duration `json:"delay,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

package monitor

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

// Sink receives job lifecycle events.
type Sink interface {
	Handle(ctx context.Context, ev queue.Event) error
	Close() error
}

// Fanout copies every event from a queue manager to all sinks. A failing sink
// is logged and never stops the others.
type Fanout struct {
	events <-chan queue.Event
	sinks  []Sink
	logger *zap.Logger
}

func NewFanout(events <-chan queue.Event, logger *zap.Logger, sinks ...Sink) *Fanout {
	return &Fanout{events: events, sinks: sinks, logger: logger}
}

// Run blocks until ctx is done or the event channel closes.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.events:
			if !ok {
				return
			}
			for _, s := range f.sinks {
				if err := s.Handle(ctx, ev); err != nil {
					f.logger.Warn("monitor sink failed",
						zap.String("event", string(ev.Type)),
						zap.String("jobId", ev.JobID),
						zap.Error(err),
					)
				}
			}
		}
	}
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// LogSink writes events to zap.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(ctx context.Context, ev queue.Event) error {
	fields := []zap.Field{
		zap.String("event", string(ev.Type)),
		zap.String("queue", ev.Queue),
		zap.String("jobId", ev.JobID),
		zap.Int("attemptsMade", ev.AttemptsMade),
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	if ev.Delay > 0 {
		fields = append(fields, zap.Duration("delay", ev.Delay))
	}
	switch ev.Type {
	case queue.EventFailed, queue.EventDeadLettered:
		s.logger.Warn("job lifecycle", fields...)
	default:
		s.logger.Debug("job lifecycle", fields...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// Package notify delivers mutation outcomes to the surfaces that show them:
// the log, a RabbitMQ fan-out exchange, or several of them at once.
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/huykn/entity-sync/cache"
	"github.com/huykn/entity-sync/types"
)

// Event types.
const (
	EventSucceeded = "mutation.succeeded"
	EventFailed    = "mutation.failed"
)

// Event is the message published for every mutation outcome.
type Event struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Kind      types.Kind `json:"kind"`
	EntityID  string     `json:"entity_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
	Failed    []string   `json:"failed,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SuccessEvent describes a committed mutation of e.
func SuccessEvent(kind types.Kind, e types.Entity, now time.Time) Event {
	ev := Event{ID: uuid.NewString(), Type: EventSucceeded, Kind: kind, Timestamp: now.UTC()}
	if e != nil {
		ev.EntityID = e.EntityID()
		ev.Status = e.EntityStatus()
	}
	return ev
}

// FailureEvent describes a failed mutation. Ids of a partially failed bulk
// call are listed in Failed.
func FailureEvent(kind types.Kind, err error, now time.Time) Event {
	ev := Event{ID: uuid.NewString(), Type: EventFailed, Kind: kind, Timestamp: now.UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	var partial *cache.PartialBulkFailure
	if errors.As(err, &partial) {
		ev.Failed = append([]string(nil), partial.Failed...)
	}
	return ev
}

// LoggerSink writes mutation outcomes to a Logger.
type LoggerSink struct {
	logger cache.Logger
}

// NewLoggerSink creates a sink logging through logger.
func NewLoggerSink(logger cache.Logger) *LoggerSink {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) OnMutationSuccess(kind types.Kind, e types.Entity) {
	if e == nil {
		s.logger.Info("Mutation succeeded", "kind", kind)
		return
	}
	s.logger.Info("Mutation succeeded", "kind", kind, "id", e.EntityID(), "status", e.EntityStatus())
}

func (s *LoggerSink) OnMutationFailure(kind types.Kind, err error) {
	s.logger.Warn("Mutation failed", "kind", kind, "error", err)
}

// MultiSink forwards every outcome to each of its sinks in order.
type MultiSink []cache.NotificationSink

func (m MultiSink) OnMutationSuccess(kind types.Kind, e types.Entity) {
	for _, s := range m {
		s.OnMutationSuccess(kind, e)
	}
}

func (m MultiSink) OnMutationFailure(kind types.Kind, err error) {
	for _, s := range m {
		s.OnMutationFailure(kind, err)
	}
}

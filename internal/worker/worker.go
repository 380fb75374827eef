// Package worker consumes ledger events off the queue.
package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
	"studyhall/internal/metrics"
	"studyhall/internal/queue"
)

// Tallies keeps per-day action counters. store.Redis implements it.
type Tallies interface {
	IncrTally(ctx context.Context, day attendance.Day, action attendance.Action) error
}

// Consumer logs every event and counts it. Tallies may be nil.
type Consumer struct {
	Queue   queue.Queue
	Tallies Tallies
	Log     logrus.FieldLogger
}

// Run blocks until ctx is done or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	messages, err := c.Queue.Consume(ctx)
	if err != nil {
		return err
	}

	log.Info("worker started, waiting for events")
	for msg := range messages {
		c.handle(ctx, log, msg)
	}
	log.Info("worker stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, log logrus.FieldLogger, msg queue.Message) {
	evt, err := queue.DecodeEvent(msg)
	if err != nil {
		metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("dropping malformed event")
		return
	}
	metrics.EventsConsumed.WithLabelValues(evt.Type).Inc()

	entry := log.WithFields(logrus.Fields{
		"type":       evt.Type,
		"student_id": evt.StudentID,
		"day":        evt.Day,
		"action":     evt.Action,
		"status":     evt.Status,
	})
	if c.Tallies != nil {
		if err := c.Tallies.IncrTally(ctx, evt.Day, evt.Action); err != nil {
			entry.WithError(err).Warn("tally update failed")
			return
		}
	}
	entry.Debug("event processed")
}

package amqp

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"txcat/internal/log"
)

type Decision int

const (
	DecisionAck Decision = iota
	DecisionRetry
	DecisionDeadLetter
	DecisionRequeue
)

func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead_letter"
	case DecisionRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// permanent is implemented by errors that no redelivery can fix.
type permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// Decide maps a handler result to what happens to the delivery.
func Decide(job Job, err error) Decision {
	switch {
	case err == nil:
		return DecisionAck
	case isPermanent(err):
		return DecisionDeadLetter
	case job.Exhausted():
		return DecisionDeadLetter
	default:
		return DecisionRetry
	}
}

type dispatcher struct {
	publish func(ctx context.Context, job Job) error
	logger  *log.Logger
}

func (d *dispatcher) handle(ctx context.Context, delivery amqp091.Delivery, handler Handler) {
	job, err := JobFromJSON(delivery.Body)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to decode job, dead-lettering",
			log.FieldError, err,
			"message_id", delivery.MessageId)
		delivery.Nack(false, false)
		return
	}
	job.Attempt = attemptFromHeaders(delivery.Headers)
	if job.ID == "" {
		job.ID = delivery.MessageId
	}

	logger := d.logger.With(
		log.FieldJobID, job.ID,
		log.FieldJobKind, job.Kind,
		log.FieldAttempt, job.Attempt,
		log.FieldMaxAttempts, job.Attempts)

	logger.DebugContext(ctx, "Processing job")

	herr := handler(ctx, job)
	decision := Decide(job, herr)
	if herr != nil && ctx.Err() != nil {
		// Shutting down: hand the job back without spending an attempt
		decision = DecisionRequeue
	}

	switch decision {
	case DecisionAck:
		delivery.Ack(false)
		logger.DebugContext(ctx, "Job acked")
	case DecisionRetry:
		if err := d.publish(ctx, job.Next()); err != nil {
			logger.ErrorContext(ctx, "Failed to republish job, requeueing",
				log.FieldError, err)
			delivery.Nack(false, true)
			return
		}
		delivery.Ack(false)
		logger.WarnContext(ctx, "Job failed, scheduled for retry", log.FieldError, herr)
	case DecisionDeadLetter:
		delivery.Nack(false, false)
		logger.ErrorContext(ctx, "Job failed permanently, dead-lettered", log.FieldError, herr)
	case DecisionRequeue:
		delivery.Nack(false, true)
		logger.WarnContext(ctx, "Job interrupted, requeued", log.FieldError, herr)
	}
}

func attemptFromHeaders(h amqp091.Table) int {
	var n int
	switch v := h[HeaderAttempt].(type) {
	case int:
		n = v
	case int8:
		n = int(v)
	case int16:
		n = int(v)
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint8:
		n = int(v)
	case uint16:
		n = int(v)
	case uint32:
		n = int(v)
	}
	if n < 1 {
		return 1
	}
	return n
}

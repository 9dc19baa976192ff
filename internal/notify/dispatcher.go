package notify

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Dispatcher hands events to a Publisher on a bounded worker pool.
// Dispatch never blocks: when the queue is full the event is dropped and logged.
// A nil *Dispatcher discards everything.
type Dispatcher struct {
	publisher Publisher
	pool      pond.Pool
	retries   uint64
	timeout   time.Duration
}

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Retries   uint64
	// Timeout bounds a single publish attempt.
	Timeout time.Duration
}

// NewDispatcher starts the worker pool. Cancelling ctx stops pending deliveries.
func NewDispatcher(ctx context.Context, publisher Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	return &Dispatcher{
		publisher: publisher,
		pool: pond.NewPool(
			opts.Workers,
			pond.WithQueueSize(opts.QueueSize),
			pond.WithContext(ctx),
		),
		retries: opts.Retries,
		timeout: opts.Timeout,
	}
}

// Dispatch queues an event for delivery.
func (d *Dispatcher) Dispatch(e Event) {
	if d == nil {
		return
	}

	_, ok := d.pool.TrySubmitErr(func() error {
		return d.deliver(e)
	})
	if !ok {
		log.Warn().Str("event_id", e.ID).Str("type", e.Type).Msg("Event queue full, dropping event")
	}
}

func (d *Dispatcher) deliver(e Event) error {
	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		return d.publisher.Publish(ctx, e)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	if err := backoff.Retry(op, backoff.WithMaxRetries(b, d.retries)); err != nil {
		log.Error().Err(err).
			Str("event_id", e.ID).
			Str("type", e.Type).
			Int("attempts", attempt).
			Msg("Failed to publish event")
		return err
	}
	return nil
}

// Close waits for queued events and closes the publisher.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}

	d.pool.StopAndWait()
	log.Info().
		Uint64("submitted", d.pool.SubmittedTasks()).
		Uint64("successful", d.pool.SuccessfulTasks()).
		Uint64("failed", d.pool.FailedTasks()).
		Msg("Event dispatcher stopped")
	return d.publisher.Close()
}

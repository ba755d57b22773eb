package sentry_client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeliveryProcessor performs a detached delivery
type DeliveryProcessor func(ctx context.Context, d *Delivery)

// Dispatcher runs detached deliveries on a fixed pool of workers.
// Submit never blocks; results are not reported back to the submitter.
type Dispatcher struct {
	jobs    chan *queuedDelivery
	config  QueueConfig
	logger  *zap.Logger
	process DeliveryProcessor
	onDrop  func(d *Delivery, err error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher; call Start before submitting
func NewDispatcher(config QueueConfig, process DeliveryProcessor, onDrop func(d *Delivery, err error), logger *zap.Logger) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		jobs:    make(chan *queuedDelivery, config.BufferSize),
		config:  config,
		logger:  logger,
		process: process,
		onDrop:  onDrop,
	}
}

// Start starts the workers. The context bounds in-flight deliveries.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.cancel != nil {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Submit enqueues a delivery
func (d *Dispatcher) Submit(delivery *Delivery) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(delivery, ErrQueueClosed)
		return ErrQueueClosed
	}

	select {
	case d.jobs <- &queuedDelivery{Delivery: delivery, Enqueued: time.Now()}:
		return nil
	default:
		d.logger.Warn("Event queue is full, dropping event",
			zap.String("event_id", delivery.EventID))
		d.drop(delivery, ErrQueueFull)
		return ErrQueueFull
	}
}

func (d *Dispatcher) drop(delivery *Delivery, err error) {
	if d.onDrop != nil {
		d.onDrop(delivery, err)
	}
}

// Len returns the number of queued deliveries
func (d *Dispatcher) Len() int {
	return len(d.jobs)
}

// worker processes deliveries until the queue is closed
func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	logger := d.logger.With(zap.Int("worker_id", workerID))

	for job := range d.jobs {
		logger.Debug("Dispatching detached event",
			zap.String("event_id", job.Delivery.EventID),
			zap.Duration("queued_for", time.Since(job.Enqueued)))
		d.process(ctx, job.Delivery)
	}
}

// Stop closes the queue and waits for queued deliveries until ctx expires
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		// never started, nothing drains the queue
		for job := range d.jobs {
			d.drop(job.Delivery, ErrQueueClosed)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		d.logger.Debug("Event queue stopped gracefully")
		return nil
	case <-ctx.Done():
		// abort in-flight requests so workers return
		cancel()
		d.logger.Warn("Event queue stopped with timeout",
			zap.Int("pending", len(d.jobs)))
		return ctx.Err()
	}
}

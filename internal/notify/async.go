// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Async queue defaults.
const (
	DefaultWorkers         = 2
	DefaultQueueSize       = 128
	DefaultDeliveryTimeout = 30 * time.Second
)

// ErrQueueFull is returned when the delivery queue has no free slot.
var ErrQueueFull = oops.Code("NOTIFY_QUEUE_FULL").Errorf("notification queue is full")

// ErrClosed is returned after Close has been called.
var ErrClosed = oops.Code("NOTIFY_CLOSED").Errorf("notifier is closed")

type job struct {
	ctx      context.Context
	email    string
	rawToken string
}

// AsyncOption configures an AsyncNotifier.
type AsyncOption func(*AsyncNotifier)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) AsyncOption {
	return func(a *AsyncNotifier) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) AsyncOption {
	return func(a *AsyncNotifier) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithDeliveryTimeout bounds each delivery attempt sequence.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncNotifier) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAsyncLogger sets the logger used for delivery failures.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(a *AsyncNotifier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// AsyncNotifier queues deliveries for a wrapped Notifier and sends them
// from a fixed pool of workers. Failures are logged, not returned.
type AsyncNotifier struct {
	next      auth.Notifier
	workers   int
	queueSize int
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewAsyncNotifier starts the workers and returns the notifier.
func NewAsyncNotifier(next auth.Notifier, opts ...AsyncOption) (*AsyncNotifier, error) {
	if next == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("wrapped notifier is required")
	}
	a := &AsyncNotifier{
		next:      next,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		timeout:   DefaultDeliveryTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.queue = make(chan job, a.queueSize)
	for range a.workers {
		a.wg.Add(1)
		go a.run()
	}
	return a, nil
}

// SendPasswordResetLink enqueues the delivery and returns without waiting.
// Request cancellation does not abort a queued delivery.
func (a *AsyncNotifier) SendPasswordResetLink(ctx context.Context, email, rawToken string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- job{ctx: context.WithoutCancel(ctx), email: email, rawToken: rawToken}:
		QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued deliveries to finish or
// for ctx to end, whichever comes first.
func (a *AsyncNotifier) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_DRAIN_TIMEOUT").
			With("pending", len(a.queue)).
			Wrap(ctx.Err())
	}
}

func (a *AsyncNotifier) run() {
	defer a.wg.Done()
	for j := range a.queue {
		QueueDepth.Dec()
		a.deliver(j)
	}
}

func (a *AsyncNotifier) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
	defer cancel()
	if err := a.next.SendPasswordResetLink(ctx, j.email, j.rawToken); err != nil {
		errutil.LogErrorContext(ctx, a.logger, "password reset delivery failed", err)
	}
}

var _ auth.Notifier = (*AsyncNotifier)(nil)

package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/errors"
)

// Sender is a transport that may fail.
type Sender interface {
	Send(ctx context.Context, e Event) error
}

const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 30 * time.Second
)

// Dispatcher is a fire-and-forget Notifier. Notify only enqueues; one
// background worker sends each event under a deadline and writes failures
// to the fallback.
type Dispatcher struct {
	sender   Sender
	fallback *Fallback
	log      *zap.SugaredLogger
	timeout  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

type DispatcherOption func(*Dispatcher)

// WithSendTimeout bounds one delivery including its retries.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(x *Dispatcher) {
		if n > 0 {
			x.queue = make(chan Event, n)
		}
	}
}

func WithDispatcherLogger(l *zap.SugaredLogger) DispatcherOption {
	return func(x *Dispatcher) { x.log = l }
}

// NewDispatcher starts the delivery worker. Call Close to stop it.
func NewDispatcher(sender Sender, fallback *Fallback, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:   sender,
		fallback: fallback,
		log:      zap.NewNop().Sugar(),
		timeout:  DefaultSendTimeout,
		now:      time.Now,
		queue:    make(chan Event, DefaultQueueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(d)
	}
	go d.run()
	return d
}

// Notify enqueues e and returns immediately. A full queue or a closed
// dispatcher sends e straight to the fallback.
func (d *Dispatcher) Notify(e Event) {
	if e.At.IsZero() {
		e.At = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.lost(e, errors.New("dispatcher closed"))
		return
	}
	select {
	case d.queue <- e:
	default:
		d.lost(e, errors.New("notification queue full"))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.lost(e, errors.Newf("panic while sending: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, e); err != nil {
		d.log.Warnw("notification delivery failed", "kind", e.Kind, "error", err)
		d.lost(e, err)
	}
}

func (d *Dispatcher) lost(e Event, cause error) {
	if d.fallback == nil {
		d.log.Warnw("notification dropped", "kind", e.Kind, "title", e.Title, "error", cause)
		return
	}
	d.fallback.Write(e, cause)
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, in-flight and remaining sends are cancelled and go to
// the fallback.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.cancel()
		<-d.done
	}
	d.cancel()
}

package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. A panicking
// sink is recovered and logged; the event is counted as dropped.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *zap.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	emitted   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink, logger *zap.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.dropped.Add(1)
			d.logger.Error("audit sink panicked",
				zap.String("event_type", event.EventType),
				zap.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.emitted.Add(1)
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and drains the buffer. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
		if n := d.dropped.Load(); n > 0 {
			d.logger.Warn("audit events dropped", zap.Uint64("dropped", n))
		}
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.emitted.Load()
}

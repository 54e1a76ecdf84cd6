package mail

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/internal/errutil"
	"github.com/MrEthical07/posauth/internal/logging"
)

// OutboxConfig sizes the queue and bounds each delivery.
type OutboxConfig struct {
	Workers     int           `yaml:"workers"`
	BufferSize  int           `yaml:"buffer_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Outbox delivers messages in the background so callers never wait on the
// relay. Failures and drops are logged and counted, never returned.
type Outbox struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration

	ch chan Message
	wg sync.WaitGroup

	// intake guards ch: Enqueue sends under the read lock and Close closes
	// ch under the write lock, so nothing lands after the workers drain.
	intake    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	onResult func(err error)
}

// NewOutbox starts cfg.Workers delivery goroutines.
func NewOutbox(sender Sender, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	logger = logging.OrNop(logger)
	o := &Outbox{
		sender:  sender,
		logger:  logger.Named("outbox"),
		timeout: cfg.SendTimeout,
		ch:      make(chan Message, cfg.BufferSize),
	}
	o.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go o.run()
	}
	return o
}

// OnResult registers a hook called after every delivery attempt. It must be
// set before the first Enqueue.
func (o *Outbox) OnResult(fn func(err error)) { o.onResult = fn }

// Send satisfies Sender by queueing msg; it never blocks on delivery.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.Enqueue(msg)
	return nil
}

// Enqueue queues msg and reports whether it was accepted.
func (o *Outbox) Enqueue(msg Message) bool {
	o.intake.RLock()
	defer o.intake.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return false
	}
	select {
	case o.ch <- msg:
		return true
	default:
		o.dropped.Add(1)
		o.logger.Warn("outbox full, message dropped", zap.String("subject", msg.Subject))
		return false
	}
}

func (o *Outbox) run() {
	defer o.wg.Done()
	for msg := range o.ch {
		o.deliver(msg)
	}
}

func (o *Outbox) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	err := o.sender.Send(ctx, msg)
	if err != nil {
		o.failed.Add(1)
		errutil.LogError(o.logger, "email delivery failed", err)
	} else {
		o.sent.Add(1)
	}
	if o.onResult != nil {
		o.onResult(err)
	}
}

// Close stops intake, drains the queue and waits for in-flight deliveries.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.intake.Lock()
		o.closed = true
		close(o.ch)
		o.intake.Unlock()
		o.wg.Wait()
	})
}

// Stats returns delivered, failed and dropped counts.
func (o *Outbox) Stats() (sent, failed, dropped uint64) {
	return o.sent.Load(), o.failed.Load(), o.dropped.Load()
}

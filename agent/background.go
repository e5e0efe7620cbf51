package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBackgroundQueue   = 256
	DefaultBackgroundTimeout = 10 * time.Second
)

// backgroundEffects applies effects on a single worker so downstream I/O
// never holds up a request. Each effect gets its own timeout, detached from
// the request context.
type backgroundEffects struct {
	effects []Effect
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Outcome
	done   chan struct{}
}

func newBackgroundEffects(queueSize int, timeout time.Duration, effects []Effect, logger *zap.Logger) *backgroundEffects {
	if queueSize <= 0 {
		queueSize = DefaultBackgroundQueue
	}
	if timeout <= 0 {
		timeout = DefaultBackgroundTimeout
	}
	b := &backgroundEffects{
		effects: effects,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan Outcome, queueSize),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// submit enqueues without blocking and reports whether the outcome was accepted.
func (b *backgroundEffects) submit(o Outcome) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- o:
		return true
	default:
		return false
	}
}

func (b *backgroundEffects) run() {
	defer close(b.done)
	for o := range b.queue {
		for _, effect := range b.effects {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			err := effect.Apply(ctx, o)
			cancel()
			if err != nil {
				b.logger.Warn("effect failed",
					zap.String("effect", effect.Name()),
					zap.String("outcome_id", o.ID),
					zap.Error(err))
			}
		}
	}
}

// close stops accepting outcomes and waits until the queue is drained.
func (b *backgroundEffects) close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

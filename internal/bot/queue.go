package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"modbot/internal/transport"
	"modbot/pkg/logx"
)

// Queue is the bounded inbound event queue. The webhook handler enqueues
// without blocking; a small worker pool drains it, so one slow handler never
// stalls the HTTP response path.
type Queue struct {
	bot     *Bot
	log     logx.Logger
	ch      chan transport.Update
	workers int

	// dropped counts updates rejected because the queue was full. Reported
	// periodically to avoid per-update log spam.
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(b *Bot, log logx.Logger, workers, size int) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if size <= 0 {
		size = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{bot: b, log: log, ch: make(chan transport.Update, size), workers: workers}
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		idx := i
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("panic in event worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			q.worker(runCtx)
		}()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.dropReporter(runCtx)
	}()

	q.log.Info("event workers started", logx.Int("workers", q.workers), logx.Int("queue_cap", cap(q.ch)))
}

func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Enqueue accepts an update without blocking. Returns false when the queue
// is full (the update is dropped and counted).
func (q *Queue) Enqueue(up transport.Update) bool {
	select {
	case q.ch <- up:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-q.ch:
			q.bot.HandleUpdate(ctx, up)
		}
	}
}

func (q *Queue) dropReporter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	report := func() {
		if n := q.dropped.Swap(0); n > 0 {
			q.log.Warn("inbound updates dropped (queue full)",
				logx.Uint64("count", n),
				logx.Int("queue_cap", cap(q.ch)),
			)
		}
	}
	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-ticker.C:
			report()
		}
	}
}

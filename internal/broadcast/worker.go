package broadcast

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"modbot/internal/transport"
	"modbot/pkg/logx"
)

// ErrQueueFull is returned when a dispatch job cannot be accepted.
var ErrQueueFull = errors.New("broadcast queue is full")

type job struct {
	id      string
	items   []Item
	targets []transport.ChatTarget
	done    func(Report)
}

// Service runs dispatch jobs on a dedicated worker so slow fanout never
// blocks inbound event handling.
type Service struct {
	disp *Dispatcher
	log  logx.Logger

	queue chan job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(disp *Dispatcher, log logx.Logger, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = 16
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{disp: disp, log: log, queue: make(chan job, queueSize)}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in broadcast worker",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		s.worker(runCtx)
	}()
	s.log.Info("broadcast worker started", logx.Int("queue_cap", cap(s.queue)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Enqueue accepts a dispatch job without blocking. done is invoked from the
// worker goroutine once the job finishes.
func (s *Service) Enqueue(items []Item, targets []transport.ChatTarget, done func(Report)) (string, error) {
	j := job{id: uuid.NewString(), items: items, targets: targets, done: done}
	select {
	case s.queue <- j:
		s.log.Debug("broadcast job enqueued",
			logx.String("job", j.id),
			logx.Int("items", len(items)),
			logx.Int("targets", len(targets)),
		)
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			start := time.Now()
			rep := s.disp.Dispatch(ctx, j.items, j.targets)
			fields := []logx.Field{
				logx.String("job", j.id),
				logx.Int("succeeded", rep.Succeeded),
				logx.Int("failed", rep.Failed),
				logx.Int("items_per_chat", rep.ItemsPerChat),
				logx.Duration("dur", time.Since(start)),
			}
			if rep.Failed > 0 {
				s.log.Warn("broadcast finished with failures", fields...)
			} else {
				s.log.Info("broadcast finished", fields...)
			}
			if j.done != nil {
				j.done(rep)
			}
		}
	}
}

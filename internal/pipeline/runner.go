package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"catmatch/internal/logger"
)

var (
	ErrRunnerClosed = errors.New("runner is shut down")
	ErrQueueFull    = errors.New("processing queue is full")
)

// Handle is the cancellation flag shared between a running task and whoever
// wants it to stop. Tasks check it between items.
type Handle struct {
	UploadID  string
	cancelled atomic.Bool
}

func (h *Handle) Cancel() { h.cancelled.Store(true) }

func (h *Handle) Cancelled() bool { return h != nil && h.cancelled.Load() }

type Task func(ctx context.Context, h *Handle) error

type job struct {
	handle *Handle
	task   Task
}

// Runner executes at most one task per upload at a time on a bounded pool.
// Enqueue never waits for room in the queue.
type Runner struct {
	log   *logger.Logger
	queue chan job
	group errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	handles map[string]*Handle
}

func NewRunner(workers, queueSize int, log *logger.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		log:     log.With("component", "runner"),
		queue:   make(chan job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		handles: map[string]*Handle{},
	}
	r.group.SetLimit(workers)
	go r.dispatch()
	return r
}

// Enqueue schedules task for uploadID. It returns false without queueing when
// a task for the same upload is already queued or running, and ErrQueueFull
// when the queue has no room.
func (r *Runner) Enqueue(ctx context.Context, uploadID string, task Task) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrRunnerClosed
	}
	if _, busy := r.handles[uploadID]; busy {
		return false, nil
	}
	h := &Handle{UploadID: uploadID}
	select {
	case r.queue <- job{handle: h, task: task}:
		r.handles[uploadID] = h
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Cancel flags the task for uploadID, if any.
func (r *Runner) Cancel(uploadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uploadID]
	if ok {
		h.Cancel()
	}
	return ok
}

func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Shutdown stops taking work, interrupts running tasks through their context
// and waits for them to return. Queued tasks that never started are dropped.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	waited := make(chan struct{})
	go func() {
		<-r.done
		r.drain()
		_ = r.group.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain releases jobs still sitting in the queue once dispatch has stopped.
func (r *Runner) drain() {
	for {
		select {
		case j := <-r.queue:
			r.release(j.handle)
		default:
			return
		}
	}
}

func (r *Runner) dispatch() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			if r.ctx.Err() != nil {
				r.release(j.handle)
				return
			}
			r.group.Go(func() error {
				r.run(j)
				return nil
			})
		}
	}
}

func (r *Runner) run(j job) {
	defer r.release(j.handle)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("task panicked", "upload_id", j.handle.UploadID, "panic", rec)
		}
	}()
	if err := j.task(r.ctx, j.handle); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("task failed", "upload_id", j.handle.UploadID, "error", err)
	}
}

func (r *Runner) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.UploadID] == h {
		delete(r.handles, h.UploadID)
	}
}

package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dyluth/bazaar/internal/eventlog"
)

// ErrSchedulerClosed is returned by Submit after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

// Task is one unit of asynchronous work.
type Task func()

// Scheduler runs tasks asynchronously on a fixed pool of workers.
//
// The queue is unbounded so that a running task can always schedule its
// continuation without blocking a worker. Each submitted task runs exactly
// once.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	pending int // queued + running
	closed  bool
	workers sync.WaitGroup
	logger  *eventlog.Logger
}

// NewScheduler starts a scheduler with the given number of workers (minimum 1).
func NewScheduler(workers int, instanceName string) *Scheduler {
	if workers < 1 {
		workers = 1
	}

	s := &Scheduler{logger: eventlog.New("scheduler", instanceName)}
	s.cond = sync.NewCond(&s.mu)

	s.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go s.work()
	}
	return s
}

// Submit enqueues a task.
func (s *Scheduler) Submit(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	s.queue = append(s.queue, task)
	s.pending++
	s.cond.Broadcast()
	return nil
}

// Close waits for every queued and running task, including tasks those
// tasks submit, then stops the workers. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.workers.Wait()
}

func (s *Scheduler) work() {
	defer s.workers.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(task)

		s.mu.Lock()
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			// Pipeline tasks recover their own panics; this keeps the worker alive
			s.logger.Error("task_panicked", map[string]interface{}{
				"error": fmt.Sprintf("%v", r),
			})
		}
	}()
	task()
}

// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

const (
	taskQueueCapacity = 10000
	// dropFraction of the oldest tasks is shed when the queue is full.
	dropFraction = 10
)

// Task is a deferred unit of background work.
type Task struct {
	Kind string
	Run  func(ctx context.Context) error
}

// TaskQueue is a bounded FIFO worked by a fixed goroutine pool. When the
// queue fills up, the oldest tenth is dropped: losing stale cache writes
// or learning samples beats blocking the request path.
type TaskQueue struct {
	log *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool

	dropped int64
	wg      sync.WaitGroup
}

// NewTaskQueue starts the queue with the given worker count.
func NewTaskQueue(workers int, log *logger.Logger) *TaskQueue {
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = logger.New("background-tasks")
	}
	q := &TaskQueue{log: log}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a task, shedding the oldest tenth on overflow.
func (q *TaskQueue) Submit(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.tasks) >= taskQueueCapacity {
		drop := taskQueueCapacity / dropFraction
		q.tasks = q.tasks[drop:]
		q.dropped += int64(drop)
		q.log.Warn("", "", "task queue overflow, oldest tasks dropped", map[string]interface{}{
			"dropped": drop,
		})
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
}

// Dropped returns the total number of shed tasks.
func (q *TaskQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Pending returns the current queue depth.
func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks and waits for the workers to drain.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := task.Run(ctx); err != nil {
			q.log.Warn("", "", "background task failed", map[string]interface{}{
				"kind": task.Kind, "error": err.Error(),
			})
		}
		cancel()
	}
}

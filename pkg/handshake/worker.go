package handshake

import (
	"context"
	"sync"

	"github.com/mash-protocol/ktls-go/pkg/engine"
)

// Worker runs engine computations on a single goroutine, one at a time.
type Worker struct {
	jobs chan job
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

type job struct {
	task engine.Task
	done chan struct{}
}

// NewWorker starts a worker goroutine.
func NewWorker() *Worker {
	w := &Worker{
		jobs: make(chan job),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			j.task()
			close(j.done)
		case <-w.quit:
			return
		}
	}
}

// Run executes tasks in order and waits for each to finish. If ctx ends
// first the remaining tasks are not started and ctx.Err() is returned; a
// task already running is left to complete on the worker.
func (w *Worker) Run(ctx context.Context, tasks []engine.Task) error {
	for _, task := range tasks {
		j := job{task: task, done: make(chan struct{})}
		select {
		case w.jobs <- j:
		case <-w.quit:
			return ErrWorkerClosed
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the worker after the running task, if any, completes.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.quit)
	})
	<-w.done
}

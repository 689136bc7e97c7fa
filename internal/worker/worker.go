package worker

import (
	"context"
	"errors"
)

type JobType string

const (
	Send   JobType = "send"
	Attach JobType = "attach"
	Stop   JobType = "stop"
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrJobCanceled is delivered to jobs dropped before they ran.
	ErrJobCanceled = errors.New("job canceled")
	ErrClosed      = errors.New("worker manager closed")
)

type jobResult struct {
	value any
	err   error
}

// Job is one unit of work for a user. Run executes on a pool worker and its
// outcome is delivered on done exactly once.
type Job struct {
	Type   JobType
	UserID string

	ctx  context.Context
	run  func(ctx context.Context) (any, error)
	done chan jobResult
}

func newJob(ctx context.Context, typ JobType, userID string, run func(ctx context.Context) (any, error)) Job {
	return Job{Type: typ, UserID: userID, ctx: ctx, run: run, done: make(chan jobResult, 1)}
}

func (j Job) execute() {
	if j.run == nil {
		return
	}
	value, err := j.run(j.ctx)
	j.finish(jobResult{value: value, err: err})
}

func (j Job) finish(res jobResult) {
	if j.done == nil {
		return
	}
	select {
	case j.done <- res:
	default:
	}
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	quit       chan struct{}
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		w.pool.Release(w.jobChannel)
		for {
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					debugLog("worker retired", "worker", w.id)
					w.pool.retire(w.jobChannel)
					return
				}
				debugLog("worker running job", "worker", w.id, "type", job.Type, "user", job.UserID)
				job.execute()
				w.pool.Release(w.jobChannel)
			case <-w.quit:
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.quit)
}

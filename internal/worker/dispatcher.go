package worker

import (
	"container/list"
	"sync"
	"time"
)

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pool workers, taking one job per user in turn so a
// busy user cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // entry point for submitted jobs

	mu        sync.Mutex
	queues    map[string]*userQueue
	ready     *list.List // users with pending jobs, least recently served first
	positions map[string]*list.Element
	quit      chan struct{}
	once      sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout),
		JobQueue:  make(chan Job, queueSize),
		quit:      make(chan struct{}),
	}

	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking; a full queue yields ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// CancelUser drops the user's queued jobs; they finish with ErrJobCanceled.
func (d *Dispatcher) CancelUser(userID string) {
	d.mu.Lock()
	q := d.queues[userID]
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	d.mu.Unlock()

	if q != nil {
		for _, job := range q.jobs {
			job.finish(jobResult{err: ErrJobCanceled})
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne hands the next job of the front user to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.finish(jobResult{err: ErrClosed})
		return true
	}
	debugLog("dispatcher assigned job", "type", job.Type, "user", userID, "worker", d.pool.workerID(workerChan))
	select {
	case workerChan <- job:
	case <-d.quit:
		job.finish(jobResult{err: ErrClosed})
	}
	return true
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	queues := d.queues
	d.queues = make(map[string]*userQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for _, q := range queues {
		for _, job := range q.jobs {
			job.finish(jobResult{err: ErrClosed})
		}
	}
	for {
		select {
		case job := <-d.JobQueue:
			job.finish(jobResult{err: ErrClosed})
		default:
			return
		}
	}
}

// Close stops dispatching and the worker pool. Pending jobs finish with ErrClosed.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

package job

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/shangmacun/tpie"
)

// DefaultQueueCap bounds the ready queue; Enqueue blocks the
// submitter once the cap is reached.
const DefaultQueueCap = 256

// A Job is a unit of work owned by a Pool.  Its completion protocol:
// the body runs once, then once every child enqueued with this job as
// parent has completed, OnDone fires exactly once and completion
// propagates to the parent.
type Job struct {
	pool   *Pool
	body   func(*Job)
	onDone func()
	parent *Job

	// pending counts the body (1) plus outstanding children; the job
	// finalizes when it reaches zero.
	pending atomic.Int64

	done chan struct{}
}

// Pool is a fixed-size worker pool consuming jobs in LIFO order, so
// recursive decompositions run depth-first.
type Pool struct {
	mu      sync.Mutex
	ready   []*Job
	readyC  *sync.Cond
	spaceC  *sync.Cond
	cap     int
	closed  bool
	workers sync.WaitGroup
	mem     *tpie.Memory
}

// Options tune pool construction.  The zero value selects the
// package defaults.
type Options struct {
	// QueueCap is the ready-queue hard cap.  Defaults to
	// DefaultQueueCap.
	QueueCap int

	// Memory charges each job against a byte budget.  Defaults to
	// tpie.DefaultMemory.
	Memory *tpie.Memory
}

// NewPool starts workers goroutines; workers <= 0 selects the
// hardware concurrency.
func NewPool(workers int, o *Options) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queueCap := DefaultQueueCap
	mem := tpie.DefaultMemory
	if o != nil {
		if o.QueueCap > 0 {
			queueCap = o.QueueCap
		}
		if o.Memory != nil {
			mem = o.Memory
		}
	}
	p := &Pool{cap: queueCap, mem: mem}
	p.readyC = sync.NewCond(&p.mu)
	p.spaceC = sync.NewCond(&p.mu)
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

var jobSize = int64(unsafe.Sizeof(Job{}))

// NewJob allocates a job with the given body and completion hook;
// either may be nil.  The allocation is charged against the pool's
// memory budget.
func (p *Pool) NewJob(body func(*Job), onDone func()) (*Job, error) {
	if err := p.mem.Charge(jobSize); err != nil {
		return nil, err
	}
	j := &Job{
		pool:   p,
		body:   body,
		onDone: onDone,
		done:   make(chan struct{}),
	}
	j.pending.Store(1)
	return j, nil
}

// Enqueue registers the job on the ready queue.  A non-nil parent's
// outstanding-child count is incremented; the parent will not
// finalize until this job has.  Enqueue blocks while the ready queue
// is at its hard cap.
func (j *Job) Enqueue(parent *Job) {
	j.parent = parent
	if parent != nil {
		parent.pending.Add(1)
	}
	p := j.pool
	p.mu.Lock()
	for len(p.ready) >= p.cap {
		p.spaceC.Wait()
	}
	p.ready = append(p.ready, j)
	p.readyC.Signal()
	p.mu.Unlock()
}

// Join blocks until the job and all of its descendants have
// completed.
func (j *Job) Join() {
	<-j.done
}

// Done reports without blocking whether the job has completed.
func (j *Job) Done() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.closed {
			p.readyC.Wait()
		}
		if len(p.ready) == 0 {
			p.mu.Unlock()
			return
		}
		n := len(p.ready) - 1
		j := p.ready[n]
		p.ready = p.ready[:n]
		p.spaceC.Signal()
		p.mu.Unlock()
		j.run()
	}
}

func (j *Job) run() {
	if j.body != nil {
		j.body(j)
	}
	j.complete()
}

// complete drops one pending count; at zero the job finalizes and
// completion propagates transitively to the parent.
func (j *Job) complete() {
	for j != nil {
		if j.pending.Add(-1) != 0 {
			return
		}
		if j.onDone != nil {
			j.onDone()
		}
		j.pool.mem.Release(jobSize)
		close(j.done)
		j = j.parent
	}
}

// Close drains the ready queue and stops the workers.  Jobs already
// enqueued still run to completion.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.readyC.Broadcast()
	p.mu.Unlock()
	p.workers.Wait()
}

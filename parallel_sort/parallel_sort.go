package parallel_sort

import (
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/shangmacun/tpie/job"
	"github.com/shangmacun/tpie/progress"
)

// Less is a strict weak ordering over T.
type Less[T any] func(a, b T) bool

// DefaultMinSize returns the sequential-sort threshold for records of
// the given byte size: a single sequential partition should cover
// about 8 MiB of record data.
func DefaultMinSize(recordSize int) int {
	if recordSize <= 0 {
		return 1 << 20
	}
	n := (8 << 20) / recordSize
	if n < 2 {
		n = 2
	}
	return n
}

func defaultMinSize[T any]() int {
	var v T
	return DefaultMinSize(int(reflect.TypeOf(&v).Elem().Size()))
}

// sortWork estimates how much work sorting n records takes, in the
// same unit as the per-partition estimates (one unit per record
// touched): n * log2(n) * 1.8.
func sortWork(n int) uint64 {
	if n <= 1 {
		return 0
	}
	return uint64(math.Log(float64(n)) * float64(n) * 1.8 / math.Ln2)
}

// progressState carries the work estimate from the sort jobs to the
// driver thread.
type progressState struct {
	mu           sync.Mutex
	cond         *sync.Cond
	workEstimate uint64
	total        uint64
}

func (p *progressState) add(amount uint64) {
	p.mu.Lock()
	p.workEstimate += amount
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *progressState) finish() {
	p.mu.Lock()
	p.workEstimate = p.total
	p.cond.Signal()
	p.mu.Unlock()
}

func median[T any](data []T, a, b, c int, less Less[T]) int {
	if less(data[a], data[b]) {
		if less(data[b], data[c]) {
			return b
		} else if less(data[a], data[c]) {
			return c
		}
		return a
	}
	if less(data[a], data[c]) {
		return a
	} else if less(data[b], data[c]) {
		return c
	}
	return b
}

// pickPivot samples nine elements: the medians of three triples at
// the left, middle, and right of the range, then the median of those
// medians.
func pickPivot[T any](data []T, a, b int, less Less[T]) int {
	if a == b {
		return a
	}
	step := (b - a) / 8
	return median(data,
		median(data, a, a+step, a+2*step, less),
		median(data, a+3*step, a+4*step, a+5*step, less),
		median(data, a+6*step, a+7*step, b-1, less),
		less)
}

// unguardedPartition runs a Hoare partition with the pivot at
// data[first]; the pivot ends up at the returned boundary index.
func unguardedPartition[T any](data []T, first, last int, less Less[T]) int {
	pivot := first
	for {
		last--
		for less(data[pivot], data[last]) {
			last--
		}
		for {
			if first == last {
				break
			}
			first++
			if !less(data[first], data[pivot]) {
				break
			}
		}
		if first == last {
			break
		}
		data[first], data[last] = data[last], data[first]
	}
	data[last], data[pivot] = data[pivot], data[last]
	return last
}

func partition[T any](data []T, a, b int, less Less[T]) int {
	pivot := pickPivot(data, a, b, less)
	data[pivot], data[a] = data[a], data[pivot]
	return unguardedPartition(data, a, b, less)
}

func sequentialSort[T any](data []T, less Less[T]) {
	sort.Slice(data, func(i, j int) bool {
		return less(data[i], data[j])
	})
}

type sorter[T any] struct {
	data    []T
	less    Less[T]
	minSize int
	pool    *job.Pool
	prog    *progressState
}

// body partitions [a, b), spawning a child job for the left side and
// tail-looping on the right, until the residual range drops below the
// threshold and is sorted sequentially.
func (s *sorter[T]) body(a, b int) func(*job.Job) {
	return func(self *job.Job) {
		for b-a >= s.minSize {
			p := partition(s.data, a, b, s.less)
			s.prog.add(uint64(b - a))
			child, err := s.pool.NewJob(s.body(a, p), nil)
			if err != nil {
				// The job budget is exhausted; fold the left side
				// into this worker instead.
				sequentialSort(s.data[a:p], s.less)
				s.prog.add(sortWork(p - a))
			} else {
				child.Enqueue(self)
			}
			a = p + 1
		}
		sequentialSort(s.data[a:b], s.less)
		s.prog.add(sortWork(b - a))
	}
}

// Options tune a parallel sort.  The zero value selects the package
// defaults.
type Options struct {
	// MinSize is the threshold below which a range is sorted
	// sequentially.  Defaults so one partition covers ~8 MiB of
	// record data.
	MinSize int

	// Pool runs the sort jobs.  When nil a pool sized to the
	// hardware concurrency is created for the duration of the call.
	Pool *job.Pool

	// Progress observes the sort; nil means no reporting.
	Progress progress.Indicator
}

// Sort permutes data so that for all i < j, !less(data[j], data[i]).
func Sort[T any](data []T, less Less[T], o *Options) {
	var opts Options
	if o != nil {
		opts = *o
	}
	pi := opts.Progress
	if pi == nil {
		pi = progress.Null{}
	}
	minSize := opts.MinSize
	if minSize < 2 {
		minSize = defaultMinSize[T]()
	}

	total := sortWork(len(data))
	pi.Init(int64(total))
	if len(data) < minSize {
		sequentialSort(data, less)
		if total > 0 {
			pi.Step(int64(total))
		}
		pi.Done()
		return
	}

	pool := opts.Pool
	if pool == nil {
		pool = job.NewPool(0, nil)
		defer pool.Close()
	}

	prog := &progressState{total: total}
	prog.cond = sync.NewCond(&prog.mu)
	s := &sorter[T]{
		data:    data,
		less:    less,
		minSize: minSize,
		pool:    pool,
		prog:    prog,
	}
	root, err := pool.NewJob(s.body(0, len(data)), prog.finish)
	if err != nil {
		sequentialSort(data, less)
		if total > 0 {
			pi.Step(int64(total))
		}
		pi.Done()
		return
	}
	root.Enqueue(nil)

	// Drive the indicator off the work estimate until the root's
	// completion forces it to the total.
	var prev uint64
	prog.mu.Lock()
	for prog.workEstimate < prog.total {
		// The estimate may briefly overshoot the total; never step
		// the indicator past it.
		if w := min(prog.workEstimate, prog.total); w > prev {
			pi.Step(int64(w - prev))
			prev = w
		}
		prog.cond.Wait()
	}
	prog.mu.Unlock()
	if prog.total > prev {
		pi.Step(int64(prog.total - prev))
	}

	root.Join()
	pi.Done()
}

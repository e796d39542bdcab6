package ext_sort

import (
	"container/heap"

	"github.com/shangmacun/tpie"
	"github.com/shangmacun/tpie/job"
	"github.com/shangmacun/tpie/parallel_sort"
	"github.com/shangmacun/tpie/progress"
	"github.com/shangmacun/tpie/stream"
)

// DefaultRunLength is the fallback number of records per sorted run
// when no memory budget constrains it.
const DefaultRunLength = 100000

// Options tune an external sort.  The zero value selects the package
// defaults.
type Options struct {
	// RunLength is the number of records sorted in memory per run.
	// When 0 it is derived from the memory budget, falling back to
	// DefaultRunLength under an unconstrained budget.
	RunLength int

	// Memory charges the run buffer.  Defaults to
	// tpie.DefaultMemory.
	Memory *tpie.Memory

	// Pool runs the per-run parallel sorts.  When nil, a run sort that
	// takes the parallel path creates its own transient pool.
	Pool *job.Pool

	// Progress observes the sort: one unit per record read into a
	// run plus one unit per record merged out.
	Progress progress.Indicator

	// StreamOptions configure the temporary run streams.
	StreamOptions *stream.Options
}

// Sort reads every record of in, sorts them under less, and writes
// the result to out starting at out's current offset.  Inputs of at
// least one run are spilled to temporary run streams and merged back
// with a k-way merge, so the record buffer holds at most one run
// regardless of input size; each run stream adds its own block
// buffers during the merge.
func Sort[T any](in, out *stream.Stream[T], less parallel_sort.Less[T], o *Options) error {
	var opts Options
	if o != nil {
		opts = *o
	}
	mem := opts.Memory
	if mem == nil {
		mem = tpie.DefaultMemory
	}
	pi := opts.Progress
	if pi == nil {
		pi = progress.Null{}
	}

	recSize := int64(in.Codec().Size())
	runLength := opts.RunLength
	if runLength <= 0 {
		runLength = DefaultRunLength
		// Leave half of the remaining budget for the stream buffers
		// of the runs being merged.
		if headroom := (mem.Limit() - mem.Used()) / 2 / recSize; headroom > 0 && headroom < int64(runLength) {
			runLength = int(headroom)
		}
		if runLength < 1 {
			runLength = 1
		}
	}

	total := 2 * in.Length()
	pi.Init(total)

	charge := int64(runLength) * recSize
	if err := mem.Charge(charge); err != nil {
		return err
	}
	defer mem.Release(charge)
	buf := make([]T, 0, runLength)

	pi.PushBreadcrumb("forming runs")
	var runs []*stream.Stream[T]
	closeRuns := func() {
		for _, r := range runs {
			r.Close()
		}
	}
	if err := in.Scan(func(v T) error {
		buf = append(buf, v)
		pi.Step(1)
		if len(buf) == runLength {
			r, err := spillRun(buf, in.Codec(), less, &opts)
			if err != nil {
				return err
			}
			runs = append(runs, r)
			buf = buf[:0]
		}
		return nil
	}); err != nil {
		closeRuns()
		return err
	}
	pi.PopBreadcrumb()

	// An input shorter than one run never touches disk.
	if len(runs) == 0 {
		parallel_sort.Sort(buf, less, &parallel_sort.Options{Pool: opts.Pool})
		for _, v := range buf {
			if err := out.WriteItem(v); err != nil {
				return err
			}
			pi.Step(1)
		}
		pi.Done()
		return nil
	}

	if len(buf) > 0 {
		r, err := spillRun(buf, in.Codec(), less, &opts)
		if err != nil {
			closeRuns()
			return err
		}
		runs = append(runs, r)
	}

	pi.PushBreadcrumb("merging runs")
	err := mergeRuns(runs, out, less, pi)
	pi.PopBreadcrumb()
	closeRuns()
	if err != nil {
		return err
	}
	pi.Done()
	return nil
}

// spillRun sorts buf and writes it to a fresh temporary stream,
// positioned at record 0 for the merge.
func spillRun[T any](buf []T, codec stream.Codec[T], less parallel_sort.Less[T], opts *Options) (*stream.Stream[T], error) {
	parallel_sort.Sort(buf, less, &parallel_sort.Options{Pool: opts.Pool})
	r, err := stream.NewTemp(codec, int64(len(buf)), opts.StreamOptions)
	if err != nil {
		return nil, err
	}
	for _, v := range buf {
		if err := r.WriteItem(v); err != nil {
			r.Close()
			return nil, err
		}
	}
	if err := r.Seek(0); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

type runHead[T any] struct {
	run  *stream.Stream[T]
	head T
}

// runHeap merges sorted runs into a single sorted sequence of
// records.
type runHeap[T any] struct {
	heads []*runHead[T]
	less  parallel_sort.Less[T]
}

var _ heap.Interface = (*runHeap[int])(nil)

func (h *runHeap[T]) Len() int { return len(h.heads) }

func (h *runHeap[T]) Swap(i, j int) {
	h.heads[i], h.heads[j] = h.heads[j], h.heads[i]
}

func (h *runHeap[T]) Less(i, j int) bool {
	return h.less(h.heads[i].head, h.heads[j].head)
}

func (h *runHeap[T]) Push(x interface{}) {
	h.heads = append(h.heads, x.(*runHead[T]))
}

func (h *runHeap[T]) Pop() interface{} {
	i := len(h.heads) - 1
	result := h.heads[i]
	h.heads = h.heads[:i]
	return result
}

func mergeRuns[T any](runs []*stream.Stream[T], out *stream.Stream[T], less parallel_sort.Less[T], pi progress.Indicator) error {
	h := &runHeap[T]{less: less}
	for _, r := range runs {
		v, err := r.ReadItem()
		if tpie.IsEndOfStream(err) {
			continue
		} else if err != nil {
			return err
		}
		h.heads = append(h.heads, &runHead[T]{run: r, head: v})
	}
	heap.Init(h)
	for h.Len() > 0 {
		next := heap.Pop(h).(*runHead[T])
		if err := out.WriteItem(next.head); err != nil {
			return err
		}
		pi.Step(1)
		v, err := next.run.ReadItem()
		if tpie.IsEndOfStream(err) {
			continue
		} else if err != nil {
			return err
		}
		next.head = v
		heap.Push(h, next)
	}
	return nil
}

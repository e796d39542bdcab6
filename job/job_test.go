package job

import (
	"sync"
	"sync/atomic"
	"testing"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/shangmacun/tpie"
)

func Test(t *testing.T) {
	TestingT(t)
}

type JobSuite struct{}

var _ = Suite(&JobSuite{})

func (s *JobSuite) TestSingleJob(c *C) {
	pool := NewPool(2, nil)
	defer pool.Close()

	var ran, done atomic.Int64
	j, err := pool.NewJob(func(*Job) { ran.Add(1) }, func() { done.Add(1) })
	c.Assert(err, IsNil)
	j.Enqueue(nil)
	j.Join()
	c.Assert(ran.Load(), Equals, int64(1))
	c.Assert(done.Load(), Equals, int64(1))
	c.Assert(j.Done(), IsTrue)
}

func (s *JobSuite) TestCompletionTree(c *C) {
	// A root with 3 children, each spawning 2 grandchildren: one
	// on_done per enqueued job, the root's strictly last.
	pool := NewPool(4, nil)
	defer pool.Close()

	var mu sync.Mutex
	var order []string

	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	grandchild := func(parent *Job, name string) {
		j, err := pool.NewJob(nil, record(name))
		c.Assert(err, IsNil)
		j.Enqueue(parent)
	}
	child := func(parent *Job, name string) {
		var j *Job
		var err error
		j, err = pool.NewJob(func(self *Job) {
			grandchild(self, name+".0")
			grandchild(self, name+".1")
		}, record(name))
		c.Assert(err, IsNil)
		j.Enqueue(parent)
	}

	root, err := pool.NewJob(func(self *Job) {
		child(self, "0")
		child(self, "1")
		child(self, "2")
	}, record("root"))
	c.Assert(err, IsNil)
	root.Enqueue(nil)
	root.Join()

	mu.Lock()
	defer mu.Unlock()
	c.Assert(len(order), Equals, 10)
	c.Assert(order[len(order)-1], Equals, "root")

	// Every child's on_done happens before its parent's.
	position := make(map[string]int)
	for i, name := range order {
		position[name] = i
	}
	for _, child := range []string{"0", "1", "2"} {
		c.Assert(position[child] < position["root"], IsTrue)
		c.Assert(position[child+".0"] < position[child], IsTrue)
		c.Assert(position[child+".1"] < position[child], IsTrue)
	}
}

func (s *JobSuite) TestOnDoneCountsEqualEnqueues(c *C) {
	pool := NewPool(8, nil)
	defer pool.Close()

	const n = 500
	var done atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		j, err := pool.NewJob(nil, func() {
			done.Add(1)
			wg.Done()
		})
		c.Assert(err, IsNil)
		j.Enqueue(nil)
	}
	wg.Wait()
	c.Assert(done.Load(), Equals, int64(n))
}

func (s *JobSuite) TestChildrenMayOutliveParentBody(c *C) {
	// The parent's body returning does not finalize it while
	// children are outstanding.
	pool := NewPool(2, nil)
	defer pool.Close()

	release := make(chan struct{})
	var childDone, parentDone atomic.Bool
	parent, err := pool.NewJob(func(self *Job) {
		j, err := pool.NewJob(func(*Job) {
			<-release
		}, func() { childDone.Store(true) })
		c.Assert(err, IsNil)
		j.Enqueue(self)
	}, func() {
		c.Assert(childDone.Load(), IsTrue)
		parentDone.Store(true)
	})
	c.Assert(err, IsNil)
	parent.Enqueue(nil)
	c.Assert(parent.Done(), IsFalse)
	close(release)
	parent.Join()
	c.Assert(parentDone.Load(), IsTrue)
}

func (s *JobSuite) TestMemoryBudget(c *C) {
	mem := tpie.NewMemory(1)
	pool := NewPool(1, &Options{Memory: mem})
	defer pool.Close()
	_, err := pool.NewJob(nil, nil)
	c.Assert(tpie.KindOf(err), Equals, tpie.OutOfMemory)
}

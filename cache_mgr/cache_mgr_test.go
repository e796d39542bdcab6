package cache_mgr

import (
	"bytes"
	"log"
	"testing"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"

	"github.com/shangmacun/tpie"
)

func Test(t *testing.T) {
	TestingT(t)
}

type CacheSuite struct{}

var _ = Suite(&CacheSuite{})

func newLogged(c *C, capacity, assoc int) (*Cache[string], *[]string) {
	logbook := &[]string{}
	cache, err := New[string](capacity, assoc, func(v string) {
		*logbook = append(*logbook, v)
	}, nil)
	c.Assert(err, IsNil)
	return cache, logbook
}

func (s *CacheSuite) TestEvictionOrder(c *C) {
	// All of the odd keys hash to set 1, so with two slots per set
	// every write past the second evicts the LRU occupant.
	cache, logbook := newLogged(c, 4, 2)
	defer cache.Close()
	cache.Write(1, "A")
	cache.Write(3, "B")
	cache.Write(5, "C")
	cache.Write(7, "D")
	cache.Write(9, "E")
	c.Assert(*logbook, DeepEquals, []string{"A", "B", "C"})

	v, ok := cache.Read(9)
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "E")
	v, ok = cache.Read(7)
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "D")
	for _, key := range []uint64{1, 3, 5} {
		_, ok := cache.Read(key)
		c.Assert(ok, IsFalse)
	}
	// Reads hand entries to the caller without writing them back.
	c.Assert(*logbook, DeepEquals, []string{"A", "B", "C"})
}

func (s *CacheSuite) TestReadRemoves(c *C) {
	cache, logbook := newLogged(c, 8, 4)
	defer cache.Close()
	cache.Write(42, "hello")
	v, ok := cache.Read(42)
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "hello")
	_, ok = cache.Read(42)
	c.Assert(ok, IsFalse)
	c.Assert(*logbook, DeepEquals, []string{})
	c.Assert(cache.Len(), Equals, 0)
}

func (s *CacheSuite) TestZeroCapacity(c *C) {
	cache, logbook := newLogged(c, 0, 0)
	defer cache.Close()
	cache.Write(1, "X")
	cache.Write(2, "Y")
	c.Assert(*logbook, DeepEquals, []string{"X", "Y"})
	_, ok := cache.Read(1)
	c.Assert(ok, IsFalse)
	c.Assert(cache.Erase(1), IsFalse)
}

func (s *CacheSuite) TestParameterRounding(c *C) {
	var buf bytes.Buffer
	oldWarn := Warn
	Warn = log.New(&buf, "", 0)
	defer func() { Warn = oldWarn }()

	cache, _ := newLogged(c, 5, 2)
	defer cache.Close()
	c.Assert(cache.Capacity(), Equals, 4)
	c.Assert(cache.Associativity(), Equals, 2)
	c.Assert(buf.Len() > 0, IsTrue)

	buf.Reset()
	cache2, _ := newLogged(c, 2, 8)
	defer cache2.Close()
	c.Assert(cache2.Capacity(), Equals, 2)
	c.Assert(cache2.Associativity(), Equals, 2)
	c.Assert(buf.Len() > 0, IsTrue)
}

func (s *CacheSuite) TestFullAssociativity(c *C) {
	// assoc = 0 means one set covering the whole capacity.
	cache, logbook := newLogged(c, 3, 0)
	defer cache.Close()
	cache.Write(10, "a")
	cache.Write(20, "b")
	cache.Write(30, "c")
	c.Assert(*logbook, DeepEquals, []string{})
	cache.Write(40, "d")
	c.Assert(*logbook, DeepEquals, []string{"a"})
}

func (s *CacheSuite) TestErase(c *C) {
	cache, logbook := newLogged(c, 4, 2)
	defer cache.Close()
	cache.Write(2, "P")
	cache.Write(4, "Q")
	c.Assert(cache.Erase(2), IsTrue)
	c.Assert(*logbook, DeepEquals, []string{"P"})
	c.Assert(cache.Erase(2), IsFalse)
	_, ok := cache.Read(4)
	c.Assert(ok, IsTrue)
}

func (s *CacheSuite) TestFlush(c *C) {
	cache, logbook := newLogged(c, 8, 2)
	defer cache.Close()
	cache.Write(1, "a")
	cache.Write(2, "b")
	cache.Write(3, "c")
	cache.Flush()
	c.Assert(len(*logbook), Equals, 3)
	c.Assert(cache.Len(), Equals, 0)
	for _, key := range []uint64{1, 2, 3} {
		_, ok := cache.Read(key)
		c.Assert(ok, IsFalse)
	}
}

func (s *CacheSuite) TestWriteReadWriteAgain(c *C) {
	// The checkout pattern: read removes, the caller mutates, a
	// later write puts the entry back.
	cache, logbook := newLogged(c, 4, 2)
	defer cache.Close()
	cache.Write(6, "v1")
	v, ok := cache.Read(6)
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "v1")
	cache.Write(6, "v2")
	v, ok = cache.Read(6)
	c.Assert(ok, IsTrue)
	c.Assert(v, Equals, "v2")
	c.Assert(*logbook, DeepEquals, []string{})
}

func panics(f func()) (panicked bool) {
	defer func() {
		panicked = recover() != nil
	}()
	f()
	return false
}

func (s *CacheSuite) TestKeyZeroPanics(c *C) {
	cache, _ := newLogged(c, 4, 2)
	defer cache.Close()
	c.Assert(panics(func() { cache.Write(0, "x") }), IsTrue)
	c.Assert(panics(func() { _, _ = cache.Read(0) }), IsTrue)
	c.Assert(panics(func() { cache.Erase(0) }), IsTrue)
}

func (s *CacheSuite) TestMemoryCharge(c *C) {
	mem := tpie.NewMemory(1 << 20)
	cache, err := New[uint64](1024, 8, func(uint64) {}, &Options{Memory: mem})
	c.Assert(err, IsNil)
	c.Assert(mem.Used() > 0, IsTrue)
	cache.Close()
	c.Assert(mem.Used(), Equals, int64(0))

	mem = tpie.NewMemory(16)
	_, err = New[uint64](1024, 8, func(uint64) {}, &Options{Memory: mem})
	c.Assert(tpie.KindOf(err), Equals, tpie.OutOfMemory)
}

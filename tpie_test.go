package tpie

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "gopkg.in/check.v1"

	. "github.com/dropbox/godropbox/gocheck2"
)

func Test(t *testing.T) {
	TestingT(t)
}

type ErrorsSuite struct{}

var _ = Suite(&ErrorsSuite{})

func (s *ErrorsSuite) TestKindOf(c *C) {
	c.Assert(KindOf(nil), Equals, NoError)
	c.Assert(KindOf(Errorf(OutOfRange, "offset %d", 10)), Equals, OutOfRange)
	c.Assert(KindOf(os.ErrClosed), Equals, IOError)

	err := WrapError(FormatMismatch, os.ErrInvalid, "bad header")
	c.Assert(KindOf(err), Equals, FormatMismatch)
	c.Assert(strings.Contains(err.Error(), "format mismatch"), IsTrue)
}

func (s *ErrorsSuite) TestIsEndOfStream(c *C) {
	c.Assert(IsEndOfStream(NewError(EndOfStream, "done")), IsTrue)
	c.Assert(IsEndOfStream(NewError(IOError, "broken")), IsFalse)
	c.Assert(IsEndOfStream(nil), IsFalse)
}

type MemorySuite struct{}

var _ = Suite(&MemorySuite{})

func (s *MemorySuite) TestBudget(c *C) {
	m := NewMemory(100)
	c.Assert(m.Charge(60), IsNil)
	c.Assert(m.Charge(40), IsNil)
	err := m.Charge(1)
	c.Assert(KindOf(err), Equals, OutOfMemory)
	m.Release(50)
	c.Assert(m.Charge(1), IsNil)
	c.Assert(m.Used(), Equals, int64(51))
}

func (s *MemorySuite) TestUnlimited(c *C) {
	m := NewMemory(0)
	c.Assert(m.Charge(1<<40), IsNil)
	m.Release(1 << 40)
	c.Assert(m.Used(), Equals, int64(0))
}

type DeviceSuite struct{}

var _ = Suite(&DeviceSuite{})

func (s *DeviceSuite) TestSetToPath(c *C) {
	var d Device
	d.SetToPath("/a:/b/c:/d")
	c.Assert(d.Arity(), Equals, 3)
	c.Assert(d.Path(0), Equals, "/a")
	c.Assert(d.Path(2), Equals, "/d")
	c.Assert(d.String(), Equals, "/a:/b/c:/d")
}

func (s *DeviceSuite) TestReadEnvironment(c *C) {
	var d Device
	err := d.ReadEnvironment("TPIE_TEST_NO_SUCH_VARIABLE")
	c.Assert(KindOf(err), Equals, EnvUndefined)

	os.Setenv("TPIE_TEST_DEVICE", "/x:/y")
	defer os.Unsetenv("TPIE_TEST_DEVICE")
	c.Assert(d.ReadEnvironment("TPIE_TEST_DEVICE"), IsNil)
	c.Assert(d.Arity(), Equals, 2)
}

func (s *DeviceSuite) TestFirstWritable(c *C) {
	dir := c.MkDir()
	var d Device
	d.SetToPath("/nonexistent-device-path:" + dir)
	p, err := d.FirstWritable()
	c.Assert(err, IsNil)
	c.Assert(p, Equals, dir)

	d.SetToPath("/nonexistent-device-path")
	_, err = d.FirstWritable()
	c.Assert(KindOf(err), Equals, PermissionDenied)
}

type TempSuite struct{}

var _ = Suite(&TempSuite{})

func (s *TempSuite) TestTempName(c *C) {
	dir := c.MkDir()
	name := TempName("runs", dir, ".dat")
	c.Assert(filepath.Dir(name), Equals, dir)
	base := filepath.Base(name)
	c.Assert(strings.HasPrefix(base, "TPIE_runs_"), IsTrue)
	c.Assert(strings.HasSuffix(base, ".dat"), IsTrue)

	// Successive names do not collide.
	c.Assert(TempName("runs", dir, ".dat") == name, IsFalse)
}

func (s *TempSuite) TestDefaults(c *C) {
	dir := c.MkDir()
	SetDefaultPath(dir)
	SetDefaultBaseName("scratch")
	SetDefaultExtension(".tmp")
	defer func() {
		SetDefaultPath("")
		SetDefaultBaseName("TPIE")
		SetDefaultExtension("")
	}()

	name := TempName("", "", "")
	c.Assert(filepath.Dir(name), Equals, dir)
	base := filepath.Base(name)
	c.Assert(strings.HasPrefix(base, "scratch_"), IsTrue)
	c.Assert(strings.HasSuffix(base, ".tmp"), IsTrue)
}

func (s *TempSuite) TestTmpdirEnv(c *C) {
	SetDefaultPath("")
	dir := c.MkDir()
	old, had := os.LookupEnv(TmpdirEnv)
	os.Setenv(TmpdirEnv, dir)
	defer func() {
		if had {
			os.Setenv(TmpdirEnv, old)
		} else {
			os.Unsetenv(TmpdirEnv)
		}
	}()
	c.Assert(DefaultTmpPath(), Equals, dir)
}

package stream

import (
	"os"

	"github.com/shangmacun/tpie"
	"github.com/shangmacun/tpie/block_file"
)

// Mode controls which operations a stream permits.
type Mode int

const (
	// Read permits ReadItem and Scan only.
	Read Mode = iota
	// Write truncates the backing file and permits WriteItem and
	// Truncate; reads and seeks are refused.
	Write
	// ReadWrite opens an existing file for in-place reads, writes,
	// and seeks.
	ReadWrite
	// Append positions the stream at its length and permits
	// WriteItem and Truncate; reads and seeks are refused.
	Append
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	case Append:
		return "append"
	default:
		return "invalid"
	}
}

// Options tune a stream's block buffer.  The zero value selects the
// package defaults.
type Options struct {
	// BlockSize is the in-core buffer unit in bytes; it is rounded
	// down to a whole number of records.  Defaults to
	// tpie.DefaultBlockSize.
	BlockSize int

	// Blocks is the number of resident blocks, at least 2.
	Blocks int

	// PrefetchWatermark is the fraction of the current block a
	// sequential reader must consume before the next block is
	// prefetched.  Defaults to 0.75.
	PrefetchWatermark float64

	// Memory charges block buffers against a byte budget.  Defaults
	// to tpie.DefaultMemory.
	Memory *tpie.Memory

	// Device places temporary streams into its first writable path.
	// When nil the default temp path resolution is used.
	Device *tpie.Device
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = tpie.DefaultBlockSize
	}
	if opts.Blocks < 2 {
		opts.Blocks = 2
	}
	if opts.PrefetchWatermark <= 0 || opts.PrefetchWatermark >= 1 {
		opts.PrefetchWatermark = 0.75
	}
	if opts.Memory == nil {
		opts.Memory = tpie.DefaultMemory
	}
	return opts
}

// A block is one in-core buffer unit.  Cache slots in higher layers
// may borrow a block's bytes, but the stream buffer owns it.
type block struct {
	id    int64
	data  []byte
	dirty bool
	valid bool
	pins  int
}

type prefetch struct {
	id   int64
	data []byte
	err  error
	done chan struct{}
}

// Stream is a finite, restartable sequence of fixed-size records of
// type T persisted to one backing file.  Streams are not safe for
// concurrent mutation; a single owner drives each stream.
type Stream[T any] struct {
	codec        Codec[T]
	path         string
	mode         Mode
	bf           *block_file.BlockFile
	recSize      int
	recsPerBlock int64
	blockBytes   int

	length int64
	offset int64

	bufs  []*block
	clock int
	pf    *prefetch
	spare []byte

	watermark int64

	mem     *tpie.Memory
	charged int64

	temp    bool
	persist bool
	closed  bool

	// Sticky: once an I/O error occurs, every subsequent operation
	// fails fast with it until the stream is closed.
	err error
}

// Open opens the stream at path in the given mode.  The backing
// file's header must agree with the codec's record size.
func Open[T any](path string, mode Mode, codec Codec[T], o *Options) (*Stream[T], error) {
	opts := o.withDefaults()
	var (
		f   *os.File
		err error
	)
	switch mode {
	case Read:
		f, err = os.Open(path)
	case Write:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	case ReadWrite:
		f, err = os.OpenFile(path, os.O_RDWR, 0644)
	case Append:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	default:
		return nil, tpie.Errorf(tpie.PermissionDenied, "invalid stream mode %d", mode)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tpie.WrapErrorf(tpie.NotFound, err, "opening stream %v", path)
		}
		if os.IsPermission(err) {
			return nil, tpie.WrapErrorf(tpie.PermissionDenied, err, "opening stream %v", path)
		}
		return nil, tpie.WrapErrorf(tpie.IOError, err, "opening stream %v", path)
	}
	s, err := newStream(f, path, mode, codec, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewTemp creates a temporary stream with a uniquely named backing
// file.  The file is removed when the stream is closed unless
// SetPersist(true) was called.  The size hint is advisory.
func NewTemp[T any](codec Codec[T], sizeHint int64, o *Options) (*Stream[T], error) {
	opts := o.withDefaults()
	dir := ""
	if opts.Device != nil {
		var err error
		dir, err = opts.Device.FirstWritable()
		if err != nil {
			return nil, err
		}
	}
	path := tpie.TempName("", dir, "")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, tpie.WrapErrorf(tpie.AlreadyExists, err, "creating temporary stream %v", path)
		}
		return nil, tpie.WrapErrorf(tpie.IOError, err, "creating temporary stream %v", path)
	}
	if err := writeHeader(f, uint32(codec.Size()), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if sizeHint > 0 {
		// Preallocate the record region; Close trims it back to the
		// final length.
		if err := f.Truncate(HeaderSize + sizeHint*int64(codec.Size())); err != nil {
			f.Close()
			os.Remove(path)
			return nil, tpie.WrapErrorf(tpie.IOError, err, "preallocating %v", path)
		}
	}
	s, err := newStream(f, path, ReadWrite, codec, opts)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	s.temp = true
	return s, nil
}

func newStream[T any](f *os.File, path string, mode Mode, codec Codec[T], opts Options) (*Stream[T], error) {
	recSize := codec.Size()
	if recSize <= 0 {
		return nil, tpie.Errorf(tpie.FormatMismatch, "codec record size must be positive; got %d", recSize)
	}
	recsPerBlock := int64(opts.BlockSize / recSize)
	if recsPerBlock < 1 {
		recsPerBlock = 1
	}
	blockBytes := int(recsPerBlock) * recSize

	var length int64
	stat, err := f.Stat()
	if err != nil {
		return nil, tpie.WrapErrorf(tpie.IOError, err, "stating stream %v", path)
	}
	fresh := stat.Size() == 0
	if fresh {
		if mode == Read || mode == ReadWrite {
			return nil, tpie.Errorf(tpie.FormatMismatch, "%v is empty; not a stream file", path)
		}
		if err := writeHeader(f, uint32(recSize), 0); err != nil {
			return nil, err
		}
	} else if mode != Write {
		n, err := readHeader(f, recSize)
		if err != nil {
			return nil, err
		}
		length = int64(n)
	}

	bf, err := block_file.NewBlockFile(f, HeaderSize, blockBytes)
	if err != nil {
		return nil, tpie.WrapErrorf(tpie.IOError, err, "wrapping stream %v", path)
	}

	mem := opts.Memory
	// Resident blocks plus the prefetch spare.
	charge := int64(opts.Blocks+1) * int64(blockBytes)
	if err := mem.Charge(charge); err != nil {
		return nil, err
	}
	bufs := make([]*block, opts.Blocks)
	for i := range bufs {
		bufs[i] = &block{id: block_file.InvalidBlockID, data: make([]byte, blockBytes)}
	}

	s := &Stream[T]{
		codec:        codec,
		path:         path,
		mode:         mode,
		bf:           bf,
		recSize:      recSize,
		recsPerBlock: recsPerBlock,
		blockBytes:   blockBytes,
		length:       length,
		bufs:         bufs,
		spare:        make([]byte, blockBytes),
		watermark:    int64(float64(recsPerBlock) * opts.PrefetchWatermark),
		mem:          mem,
		charged:      charge,
	}
	if mode == Append {
		s.offset = length
	}
	return s, nil
}

// Codec returns the record codec the stream was opened with.
func (s *Stream[T]) Codec() Codec[T] { return s.codec }

// Length reports the logical number of records.
func (s *Stream[T]) Length() int64 { return s.length }

// Tell reports the current read/write offset in records.
func (s *Stream[T]) Tell() int64 { return s.offset }

// Name reports the backing file path.
func (s *Stream[T]) Name() string { return s.path }

// Mode reports the access mode the stream was opened with.
func (s *Stream[T]) Mode() Mode { return s.mode }

// Err reports the sticky error state.
func (s *Stream[T]) Err() error { return s.err }

// SetPersist controls whether a temporary stream's backing file is
// retained on close.
func (s *Stream[T]) SetPersist(persist bool) { s.persist = persist }

func (s *Stream[T]) fail(err error) error {
	if tpie.KindOf(err) == tpie.IOError {
		s.err = err
	}
	return err
}

func (s *Stream[T]) check() error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return tpie.Errorf(tpie.PermissionDenied, "stream %v is closed", s.path)
	}
	return nil
}

// ReadItem returns the record at the current offset and advances it.
// Reading at the end of the stream yields an end-of-stream error,
// which is not sticky.
func (s *Stream[T]) ReadItem() (T, error) {
	var zero T
	if err := s.check(); err != nil {
		return zero, err
	}
	if s.mode == Write || s.mode == Append {
		return zero, tpie.Errorf(tpie.PermissionDenied,
			"stream %v is %v-only", s.path, s.mode)
	}
	if s.offset >= s.length {
		return zero, tpie.Errorf(tpie.EndOfStream, "offset %d is at the end of %v", s.offset, s.path)
	}
	blockID := s.offset / s.recsPerBlock
	b, err := s.blockFor(blockID)
	if err != nil {
		return zero, s.fail(err)
	}
	pos := (s.offset % s.recsPerBlock) * int64(s.recSize)
	v := s.codec.Unmarshal(b.data[pos : pos+int64(s.recSize)])
	s.offset++
	s.maybePrefetch(blockID)
	return v, nil
}

// WriteItem writes a record at the current offset, extending the
// stream when the offset is at its length, and advances the offset.
func (s *Stream[T]) WriteItem(v T) error {
	if err := s.check(); err != nil {
		return err
	}
	switch s.mode {
	case Read:
		return tpie.Errorf(tpie.PermissionDenied, "stream %v is read-only", s.path)
	case Append:
		s.offset = s.length
	}
	blockID := s.offset / s.recsPerBlock
	b, err := s.blockFor(blockID)
	if err != nil {
		return s.fail(err)
	}
	pos := (s.offset % s.recsPerBlock) * int64(s.recSize)
	s.codec.Marshal(b.data[pos:pos+int64(s.recSize)], v)
	b.dirty = true
	s.offset++
	if s.offset > s.length {
		s.length = s.offset
	}
	return nil
}

// Seek moves the offset to an absolute record position in [0, length].
// Seeking is permitted on read-write streams only.
func (s *Stream[T]) Seek(offset int64) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.mode != ReadWrite {
		return tpie.Errorf(tpie.PermissionDenied,
			"cannot seek a %v stream", s.mode)
	}
	if offset < 0 || offset > s.length {
		return tpie.Errorf(tpie.OutOfRange,
			"seek offset %d outside [0, %d]", offset, s.length)
	}
	s.offset = offset
	return nil
}

// SeekEnd moves the offset to length + delta; delta must be in
// [-length, 0].
func (s *Stream[T]) SeekEnd(delta int64) error {
	if err := s.check(); err != nil {
		return err
	}
	if delta > 0 || -delta > s.length {
		return tpie.Errorf(tpie.OutOfRange,
			"seek-from-end delta %d outside [-%d, 0]", delta, s.length)
	}
	return s.Seek(s.length + delta)
}

// Truncate sets the logical length to n records.  Shrinking releases
// tail blocks; growing exposes zero-filled records.
func (s *Stream[T]) Truncate(n int64) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.mode == Read {
		return tpie.Errorf(tpie.PermissionDenied, "stream %v is read-only", s.path)
	}
	if n < 0 {
		return tpie.Errorf(tpie.OutOfRange, "cannot truncate to %d records", n)
	}
	if n < s.length {
		s.dropPrefetch()
		lastKept := (n + s.recsPerBlock - 1) / s.recsPerBlock
		for _, b := range s.bufs {
			if b.valid && b.id >= lastKept {
				b.valid = false
				b.dirty = false
				b.id = block_file.InvalidBlockID
			}
			// Zero the dropped tail of a partially kept block so a
			// later extension exposes zero-filled records.
			if b.valid && b.id == n/s.recsPerBlock {
				from := (n - b.id*s.recsPerBlock) * int64(s.recSize)
				for i := from; i < int64(len(b.data)); i++ {
					b.data[i] = 0
				}
			}
		}
		if err := s.bf.Truncate(n * int64(s.recSize)); err != nil {
			return s.fail(tpie.WrapErrorf(tpie.IOError, err, "truncating %v", s.path))
		}
	}
	s.length = n
	if s.offset > s.length {
		s.offset = s.length
	}
	return nil
}

// Scan resets the offset to 0 and invokes visit for every record in
// order.  A non-nil error from visit stops the scan and is returned.
func (s *Stream[T]) Scan(visit func(T) error) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.mode == Write || s.mode == Append {
		return tpie.Errorf(tpie.PermissionDenied,
			"stream %v is %v-only", s.path, s.mode)
	}
	s.offset = 0
	for {
		v, err := s.ReadItem()
		if tpie.IsEndOfStream(err) {
			return nil
		} else if err != nil {
			return err
		}
		if err := visit(v); err != nil {
			return err
		}
	}
}

// Flush writes every dirty block and the header back to disk.
func (s *Stream[T]) Flush() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.flushLocked()
}

func (s *Stream[T]) flushLocked() error {
	for _, b := range s.bufs {
		if err := s.writeBack(b); err != nil {
			return s.fail(err)
		}
	}
	if s.mode != Read {
		if err := writeHeader(s.bf.File, uint32(s.recSize), uint64(s.length)); err != nil {
			return s.fail(err)
		}
	}
	return nil
}

// Close flushes the stream and releases its buffers.  A temporary
// stream's backing file is removed unless persistence was requested.
// Close after an I/O error still releases resources.
func (s *Stream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.dropPrefetch()
	var firstErr error
	if s.err == nil && s.mode != Read {
		if err := s.flushLocked(); err != nil {
			firstErr = err
		} else if err := s.bf.Truncate(s.length * int64(s.recSize)); err != nil {
			firstErr = tpie.WrapErrorf(tpie.IOError, err, "trimming %v", s.path)
		}
	}
	if err := s.bf.Close(); err != nil && firstErr == nil {
		firstErr = tpie.WrapErrorf(tpie.IOError, err, "closing %v", s.path)
	}
	s.mem.Release(s.charged)
	s.charged = 0
	s.closed = true
	if s.temp && !s.persist {
		if err := os.Remove(s.path); err != nil && firstErr == nil {
			firstErr = tpie.WrapErrorf(tpie.IOError, err, "removing temporary stream %v", s.path)
		}
	}
	return firstErr
}

// writeBack persists a dirty block, writing only the bytes that hold
// live records so the file never grows past the logical length.
func (s *Stream[T]) writeBack(b *block) error {
	if !b.valid || !b.dirty {
		return nil
	}
	first := b.id * s.recsPerBlock
	if first >= s.length {
		b.dirty = false
		return nil
	}
	live := s.length - first
	if live > s.recsPerBlock {
		live = s.recsPerBlock
	}
	if err := s.bf.WriteBlock(b.data[:live*int64(s.recSize)], b.id); err != nil {
		return tpie.WrapErrorf(tpie.IOError, err, "writing block %d of %v", b.id, s.path)
	}
	b.dirty = false
	return nil
}

// blockFor returns the resident block holding blockID, loading and
// evicting as needed.
func (s *Stream[T]) blockFor(blockID int64) (*block, error) {
	for _, b := range s.bufs {
		if b.valid && b.id == blockID {
			return b, nil
		}
	}

	// Cyclic replacement; pinned blocks are skipped.
	victim := s.victim()
	if victim == nil {
		return nil, tpie.Errorf(tpie.IOError, "all blocks of %v are pinned", s.path)
	}
	if err := s.writeBack(victim); err != nil {
		return nil, err
	}
	victim.valid = false

	if pf := s.pf; pf != nil && pf.id == blockID {
		<-pf.done
		s.pf = nil
		if pf.err == nil {
			victim.data, s.spare = pf.data, victim.data
			victim.id = blockID
			victim.valid = true
			victim.dirty = false
			return victim, nil
		}
		// Fall through to a synchronous retry.
	} else {
		s.dropPrefetch()
	}

	if _, err := s.bf.ReadBlock(victim.data, blockID); err != nil {
		return nil, tpie.WrapErrorf(tpie.IOError, err, "reading block %d of %v", blockID, s.path)
	}
	victim.id = blockID
	victim.valid = true
	victim.dirty = false
	return victim, nil
}

func (s *Stream[T]) victim() *block {
	for range s.bufs {
		s.clock = (s.clock + 1) % len(s.bufs)
		if s.bufs[s.clock].pins == 0 {
			return s.bufs[s.clock]
		}
	}
	return nil
}

// maybePrefetch starts an asynchronous read of the next block once a
// sequential reader crosses the watermark within the current one.
func (s *Stream[T]) maybePrefetch(blockID int64) {
	if s.pf != nil {
		return
	}
	if s.offset%s.recsPerBlock < s.watermark {
		return
	}
	next := blockID + 1
	if next*s.recsPerBlock >= s.length {
		return
	}
	for _, b := range s.bufs {
		if b.valid && b.id == next {
			return
		}
	}
	pf := &prefetch{id: next, data: s.spare, done: make(chan struct{})}
	s.pf = pf
	bf := s.bf
	go func() {
		_, pf.err = bf.ReadBlock(pf.data, pf.id)
		close(pf.done)
	}()
}

func (s *Stream[T]) dropPrefetch() {
	if s.pf == nil {
		return
	}
	<-s.pf.done
	s.spare = s.pf.data
	s.pf = nil
}

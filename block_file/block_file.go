package block_file

import (
	"io"
	"os"

	"github.com/dropbox/godropbox/errors"
)

const InvalidBlockID = -1

// BlockFile provides fixed-size block I/O over the record region of a
// backing file.  Blocks are addressed from Origin, the byte offset
// where block 0 begins, so a file header can precede the blocks.
type BlockFile struct {
	File      *os.File
	BlockSize int
	Origin    int64
}

func NewBlockFile(f *os.File, origin int64, blockSize int) (*BlockFile, error) {
	if blockSize <= 0 {
		return nil, errors.Newf("blockSize must be positive; got %d", blockSize)
	}
	return &BlockFile{
		File:      f,
		BlockSize: blockSize,
		Origin:    origin,
	}, nil
}

// ReadBlock fills b from the given block, returning the number of
// bytes read.  A short read at the tail of the file is not an error;
// the remainder of b is zeroed.
func (bf *BlockFile) ReadBlock(b []byte, blockID int64) (int, error) {
	if blockID < 0 {
		return 0, errors.Newf("blockID must be non-negative; got %d", blockID)
	}
	if len(b) > bf.BlockSize {
		return 0, errors.Newf("len(b) must be at most %d; got %d", bf.BlockSize, len(b))
	}
	n, err := bf.File.ReadAt(b, bf.Origin+blockID*int64(bf.BlockSize))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return n, err
	}
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
	return n, nil
}

// WriteBlock writes b at the given block.  b may be shorter than the
// block size when it holds the partially filled tail of a stream.
func (bf *BlockFile) WriteBlock(b []byte, blockID int64) error {
	if blockID < 0 {
		return errors.Newf("blockID must be non-negative; got %d", blockID)
	}
	if len(b) > bf.BlockSize {
		return errors.Newf("len(b) must be at most %d; got %d", bf.BlockSize, len(b))
	}
	_, err := bf.File.WriteAt(b, bf.Origin+blockID*int64(bf.BlockSize))
	return err
}

// Truncate sets the size of the record region to size bytes, releasing
// any tail blocks past it.
func (bf *BlockFile) Truncate(size int64) error {
	if size < 0 {
		return errors.Newf("size must be non-negative; got %d", size)
	}
	return bf.File.Truncate(bf.Origin + size)
}

func (bf *BlockFile) Close() error {
	return bf.File.Close()
}

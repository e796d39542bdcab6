package stream

import (
	"encoding/binary"
	"os"

	"github.com/shangmacun/tpie"
)

// Every backing file begins with a fixed-size header carrying the
// magic, format version, record size, and logical record count.  The
// header is rewritten on flush; the remainder is zeroed.
const HeaderSize = 512

const FormatVersion = 1

var magic = [8]byte{'T', 'P', 'I', 'E', 0, 'S', 'T', 'R'}

// Header fields are little-endian regardless of host byte order.
var headerByteOrder = binary.LittleEndian

func writeHeader(f *os.File, recordSize uint32, length uint64) error {
	var buf [HeaderSize]byte
	copy(buf[0:8], magic[:])
	headerByteOrder.PutUint32(buf[8:12], FormatVersion)
	headerByteOrder.PutUint32(buf[12:16], recordSize)
	headerByteOrder.PutUint64(buf[16:24], length)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return tpie.WrapErrorf(tpie.IOError, err, "writing header to %v", f.Name())
	}
	return nil
}

func readHeader(f *os.File, wantRecordSize int) (length uint64, err error) {
	var buf [HeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, tpie.WrapErrorf(tpie.FormatMismatch, err,
			"%v is too short to hold a stream header", f.Name())
	}
	if [8]byte(buf[0:8]) != magic {
		return 0, tpie.Errorf(tpie.FormatMismatch,
			"%v does not carry the stream magic", f.Name())
	}
	if v := headerByteOrder.Uint32(buf[8:12]); v != FormatVersion {
		return 0, tpie.Errorf(tpie.FormatMismatch,
			"%v has format version %d; want %d", f.Name(), v, FormatVersion)
	}
	if rs := headerByteOrder.Uint32(buf[12:16]); rs != uint32(wantRecordSize) {
		return 0, tpie.Errorf(tpie.FormatMismatch,
			"%v holds records of %d bytes; opener expects %d bytes",
			f.Name(), rs, wantRecordSize)
	}
	return headerByteOrder.Uint64(buf[16:24]), nil
}

package stream

import (
	"encoding/binary"
	"math"
)

// Records are written in host-native representation; only the file
// header uses a fixed byte order.
var ByteOrder = binary.NativeEndian

// A Codec translates between a fixed-size record type and its on-disk
// bytes.  Size must be constant for the life of the codec; streams
// reject files whose header record size disagrees with it.
type Codec[T any] interface {
	Size() int
	Marshal(dst []byte, v T)
	Unmarshal(src []byte) T
}

type int32Codec struct{}

func (int32Codec) Size() int                 { return 4 }
func (int32Codec) Marshal(dst []byte, v int32) { ByteOrder.PutUint32(dst, uint32(v)) }
func (int32Codec) Unmarshal(src []byte) int32  { return int32(ByteOrder.Uint32(src)) }

type int64Codec struct{}

func (int64Codec) Size() int                 { return 8 }
func (int64Codec) Marshal(dst []byte, v int64) { ByteOrder.PutUint64(dst, uint64(v)) }
func (int64Codec) Unmarshal(src []byte) int64  { return int64(ByteOrder.Uint64(src)) }

type uint64Codec struct{}

func (uint64Codec) Size() int                  { return 8 }
func (uint64Codec) Marshal(dst []byte, v uint64) { ByteOrder.PutUint64(dst, v) }
func (uint64Codec) Unmarshal(src []byte) uint64  { return ByteOrder.Uint64(src) }

type float64Codec struct{}

func (float64Codec) Size() int { return 8 }
func (float64Codec) Marshal(dst []byte, v float64) {
	ByteOrder.PutUint64(dst, math.Float64bits(v))
}
func (float64Codec) Unmarshal(src []byte) float64 {
	return math.Float64frombits(ByteOrder.Uint64(src))
}

var (
	Int32   Codec[int32]   = int32Codec{}
	Int64   Codec[int64]   = int64Codec{}
	Uint64  Codec[uint64]  = uint64Codec{}
	Float64 Codec[float64] = float64Codec{}
)

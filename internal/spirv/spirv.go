// Package spirv reads and writes the small subset of SPIR-V needed to
// describe a compute kernel's interface: the module header, entry points,
// workgroup size and descriptor bindings.
//
// It is not a validator and it does not look at function bodies.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

const (
	Magic     uint32 = 0x07230203
	Version10 uint32 = 0x00010000
	Version13 uint32 = 0x00010300
	Version15 uint32 = 0x00010500
)

const (
	headerWords   = 5
	toolGenerator = 0x4e42564b // "NBVK"
)

var (
	ErrMisaligned = errors.New("spirv: size is not a multiple of 4 bytes")
	ErrTooShort   = errors.New("spirv: module shorter than header")
	ErrBadMagic   = errors.New("spirv: bad magic number")
	ErrTruncated  = errors.New("spirv: truncated instruction")
)

type opcode uint16

const (
	opName          opcode = 5
	opMemoryModel   opcode = 14
	opEntryPoint    opcode = 15
	opExecutionMode opcode = 16
	opCapability    opcode = 17
	opTypeFloat     opcode = 22
	opTypeStruct    opcode = 30
	opTypePointer   opcode = 32
	opVariable      opcode = 59
	opDecorate      opcode = 71
)

type ExecutionModel uint32

const (
	ModelVertex    ExecutionModel = 0
	ModelFragment  ExecutionModel = 4
	ModelGLCompute ExecutionModel = 5
)

func (m ExecutionModel) String() string {
	switch m {
	case ModelVertex:
		return "vertex"
	case ModelFragment:
		return "fragment"
	case ModelGLCompute:
		return "compute"
	default:
		return fmt.Sprintf("model(%d)", uint32(m))
	}
}

type StorageClass uint32

const (
	StorageUniform StorageClass = 2
	StorageBuffer  StorageClass = 12
)

const (
	modeLocalSize     = 17
	decoBufferBlock   = 3
	decoBinding       = 33
	decoDescriptorSet = 34
)

// Words converts a little- or big-endian module into host words. It only
// checks alignment and the magic number.
func Words(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, ErrMisaligned
	}
	if len(code) < headerWords*4 {
		return nil, ErrTooShort
	}
	order := binary.ByteOrder(binary.LittleEndian)
	switch binary.LittleEndian.Uint32(code) {
	case Magic:
	case bits.ReverseBytes32(Magic):
		order = binary.BigEndian
	default:
		return nil, ErrBadMagic
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = order.Uint32(code[i*4:])
	}
	return words, nil
}

// Bytes encodes words little-endian.
func Bytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// decodeString reads a nul-terminated literal string and returns it with the
// number of words it occupied.
func decodeString(words []uint32) (string, int) {
	var buf []byte
	for i, w := range words {
		for s := 0; s < 32; s += 8 {
			c := byte(w >> s)
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(words)
}

func encodeString(s string) []uint32 {
	n := len(s)/4 + 1
	out := make([]uint32, n)
	for i := 0; i < len(s); i++ {
		out[i/4] |= uint32(s[i]) << (8 * (i % 4))
	}
	return out
}

package interp

import (
	"encoding/binary"
	"math"
)

// Address space layout. The heap starts above an unmapped page so that a
// null or near-null dereference is detected; the stack lives in its own
// region far above the heap.
const (
	nullPage  = 4096
	stackBase = 1 << 40
	align     = 8
)

// memory is a flat byte-addressed store holding objects, static storage,
// runtime tables and the frames of running methods.
type memory struct {
	heap  []byte
	stack []byte
	sp    int
}

func newMemory() *memory {
	return &memory{
		heap:  make([]byte, nullPage, 64*1024),
		stack: make([]byte, 0, 64*1024),
	}
}

func alignUp(n int) int {
	return (n + align - 1) &^ (align - 1)
}

// alloc reserves n zeroed heap bytes and returns their address.
func (m *memory) alloc(n int) uint64 {
	addr := len(m.heap)
	m.heap = append(m.heap, make([]byte, alignUp(max(n, 1)))...)
	return uint64(addr)
}

// push reserves n zeroed stack bytes.
func (m *memory) push(n int) uint64 {
	addr := m.sp
	m.sp += alignUp(n)
	if m.sp > len(m.stack) {
		m.stack = append(m.stack, make([]byte, m.sp-len(m.stack))...)
	}
	clear(m.stack[addr:m.sp])
	return stackBase + uint64(addr)
}

// release pops the stack back to addr.
func (m *memory) release(addr uint64) {
	m.sp = int(addr - stackBase)
}

// bytes returns the n bytes at addr, or nil when the range is not mapped.
func (m *memory) bytes(addr uint64, n int) []byte {
	if n < 0 {
		return nil
	}
	if addr >= stackBase {
		off := addr - stackBase
		if off+uint64(n) > uint64(m.sp) {
			return nil
		}
		return m.stack[off : off+uint64(n)]
	}
	if addr < nullPage || addr+uint64(n) > uint64(len(m.heap)) {
		return nil
	}
	return m.heap[addr : addr+uint64(n)]
}

func readInt(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func writeInt(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func f64(v uint64) float64 { return math.Float64frombits(v) }

func bitsOf(f float64) uint64 { return math.Float64bits(f) }

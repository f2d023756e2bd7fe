package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncated is returned when an instruction or header runs past the
	// end of the available bytes.
	ErrTruncated = errors.New("cil: bytecode truncated")
	// ErrUnknownOpcode is returned for a byte sequence that names no opcode.
	ErrUnknownOpcode = errors.New("cil: unknown opcode")
)

// ---------------------------------------------------------------------------
// Decoded instructions
// ---------------------------------------------------------------------------

// Instruction is one decoded CIL instruction with its inline operand.
type Instruction struct {
	Offset int    // byte offset of the opcode within the body
	Size   int    // total encoded size including operands
	Op     Opcode // opcode
	Int    int64  // integer immediate, variable index or unaligned. alignment
	Float  float64
	Token  uint32 // metadata token for token operands
	Target int    // absolute branch target for branch operands
	Switch []int  // absolute targets for switch
}

// Next returns the offset of the instruction that follows in the stream.
func (in Instruction) Next() int {
	return in.Offset + in.Size
}

// ---------------------------------------------------------------------------
// BytecodeReader: sequential decoding of a code stream
// ---------------------------------------------------------------------------

// BytecodeReader reads CIL instructions from a method's code bytes.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader over a method's code bytes.
func NewBytecodeReader(code []byte) *BytecodeReader {
	return &BytecodeReader{bytes: code}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// Len returns the size of the code stream.
func (r *BytecodeReader) Len() int {
	return len(r.bytes)
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

func (r *BytecodeReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.bytes) {
		return nil, fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncated, n, r.pos, len(r.bytes)-r.pos)
	}
	b := r.bytes[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadOpcode reads a one or two byte opcode.
func (r *BytecodeReader) ReadOpcode() (Opcode, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	if b[0] != Prefix {
		return Opcode(b[0]), nil
	}
	b, err = r.take(1)
	if err != nil {
		return 0, err
	}
	return Opcode(Prefix)<<8 | Opcode(b[0]), nil
}

// Next decodes the instruction at the current position.
func (r *BytecodeReader) Next() (Instruction, error) {
	in := Instruction{Offset: r.pos}
	op, err := r.ReadOpcode()
	if err != nil {
		return in, err
	}
	in.Op = op
	info, ok := Lookup(op)
	if !ok {
		return in, fmt.Errorf("%w 0x%X at %d", ErrUnknownOpcode, uint16(op), in.Offset)
	}

	var b []byte
	switch info.Operand {
	case InlineNone:
	case ShortInlineI:
		if b, err = r.take(1); err == nil {
			in.Int = int64(int8(b[0]))
			if op == Unaligned || op == No {
				in.Int = int64(b[0])
			}
		}
	case ShortInlineVar:
		if b, err = r.take(1); err == nil {
			in.Int = int64(b[0])
		}
	case InlineVar:
		if b, err = r.take(2); err == nil {
			in.Int = int64(binary.LittleEndian.Uint16(b))
		}
	case InlineI:
		if b, err = r.take(4); err == nil {
			in.Int = int64(int32(binary.LittleEndian.Uint32(b)))
		}
	case InlineI8:
		if b, err = r.take(8); err == nil {
			in.Int = int64(binary.LittleEndian.Uint64(b))
		}
	case ShortInlineR:
		if b, err = r.take(4); err == nil {
			in.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
	case InlineR:
		if b, err = r.take(8); err == nil {
			in.Float = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	case ShortInlineBrTarget:
		if b, err = r.take(1); err == nil {
			in.Target = r.pos + int(int8(b[0]))
		}
	case InlineBrTarget:
		if b, err = r.take(4); err == nil {
			in.Target = r.pos + int(int32(binary.LittleEndian.Uint32(b)))
		}
	case InlineSwitch:
		if b, err = r.take(4); err != nil {
			break
		}
		n := int(binary.LittleEndian.Uint32(b))
		if b, err = r.take(4 * n); err != nil {
			break
		}
		// Displacements are relative to the end of the whole instruction.
		in.Switch = make([]int, n)
		for i := range n {
			in.Switch[i] = r.pos + int(int32(binary.LittleEndian.Uint32(b[4*i:])))
		}
	case InlineMethod, InlineField, InlineType, InlineTok, InlineString, InlineSig:
		if b, err = r.take(4); err == nil {
			in.Token = binary.LittleEndian.Uint32(b)
		}
	}
	if err != nil {
		return in, fmt.Errorf("%s at %d: %w", op, in.Offset, err)
	}
	in.Size = r.pos - in.Offset
	return in, nil
}

// Decode decodes a complete code stream.
func Decode(code []byte) ([]Instruction, error) {
	r := NewBytecodeReader(code)
	var out []Instruction
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Byte sources
// ---------------------------------------------------------------------------

// Source supplies raw bytes of a binary positioned at a method body.
type Source interface {
	// Read returns the next n bytes and advances the position.
	Read(n int) ([]byte, error)
	// Seek moves the position by delta bytes.
	Seek(delta int) error
}

// SliceSource is a Source over an in-memory byte slice.
type SliceSource struct {
	data []byte
	pos  int
}

// NewSliceSource creates a Source reading data from offset pos.
func NewSliceSource(data []byte, pos int) *SliceSource {
	return &SliceSource{data: data, pos: pos}
}

// Read implements Source.
func (s *SliceSource) Read(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.data) {
		return nil, fmt.Errorf("%w: read %d at %d of %d", ErrTruncated, n, s.pos, len(s.data))
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

// Seek implements Source.
func (s *SliceSource) Seek(delta int) error {
	p := s.pos + delta
	if p < 0 || p > len(s.data) {
		return fmt.Errorf("%w: seek to %d of %d", ErrTruncated, p, len(s.data))
	}
	s.pos = p
	return nil
}

// Position returns the current offset into the slice.
func (s *SliceSource) Position() int {
	return s.pos
}

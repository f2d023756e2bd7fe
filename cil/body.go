package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadHeader is returned for a method header or section that does not
// follow the ECMA-335 encoding.
var ErrBadHeader = errors.New("cil: malformed method header")

// Method header flags (ECMA-335 II.25.4).
const (
	HeaderTiny       = 0x2
	HeaderFat        = 0x3
	HeaderFormatMask = 0x3
	HeaderMoreSects  = 0x8
	HeaderInitLocals = 0x10

	fatHeaderSize  = 12
	fatHeaderWords = fatHeaderSize / 4
	tinyMaxCode    = 1 << 6
	tinyMaxStack   = 8
)

// Data section flags.
const (
	SectEHTable    = 0x01
	SectOptILTable = 0x02
	SectFatFormat  = 0x40
	SectMoreSects  = 0x80

	smallClauseSize = 12
	fatClauseSize   = 24
)

// ClauseKind is the kind of an exception-handling clause.
type ClauseKind uint32

const (
	ClauseCatch   ClauseKind = 0x0
	ClauseFilter  ClauseKind = 0x1
	ClauseFinally ClauseKind = 0x2
	ClauseFault   ClauseKind = 0x4
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseCatch:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return fmt.Sprintf("clause(%d)", uint32(k))
}

// Clause is one exception-handling clause. ClassToken is meaningful for
// catch clauses, FilterOffset for filter clauses.
type Clause struct {
	Kind          ClauseKind `cbor:"1,keyasint"`
	TryOffset     uint32     `cbor:"2,keyasint"`
	TryLength     uint32     `cbor:"3,keyasint"`
	HandlerOffset uint32     `cbor:"4,keyasint"`
	HandlerLength uint32     `cbor:"5,keyasint"`
	ClassToken    uint32     `cbor:"6,keyasint,omitempty"`
	FilterOffset  uint32     `cbor:"7,keyasint,omitempty"`
}

// TryEnd returns the first offset past the protected range.
func (c Clause) TryEnd() uint32 { return c.TryOffset + c.TryLength }

// HandlerEnd returns the first offset past the handler.
func (c Clause) HandlerEnd() uint32 { return c.HandlerOffset + c.HandlerLength }

func (c Clause) fitsSmall() bool {
	return c.TryOffset <= 0xFFFF && c.TryLength <= 0xFF &&
		c.HandlerOffset <= 0xFFFF && c.HandlerLength <= 0xFF
}

// Body is a decoded method body.
type Body struct {
	MaxStack   int
	InitLocals bool
	LocalSig   uint32 // standalone signature token, 0 when the method has no locals
	Code       []byte
	Clauses    []Clause
	Tiny       bool // header used the tiny encoding
}

// ReadBody reads a method header, its code and any exception-handling
// sections from src, which must be positioned at the header.
func ReadBody(src Source) (*Body, error) {
	b, err := src.Read(1)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	body := &Body{}
	switch b[0] & HeaderFormatMask {
	case HeaderTiny:
		body.Tiny = true
		body.MaxStack = tinyMaxStack
		code, err := src.Read(int(b[0] >> 2))
		if err != nil {
			return nil, fmt.Errorf("reading tiny body: %w", err)
		}
		body.Code = code
		return body, nil
	case HeaderFat:
	default:
		return nil, fmt.Errorf("%w: tag 0x%02X", ErrBadHeader, b[0])
	}

	rest, err := src.Read(fatHeaderSize - 1)
	if err != nil {
		return nil, fmt.Errorf("reading fat header: %w", err)
	}
	hdr := append([]byte{b[0]}, rest...)
	flagsAndSize := binary.LittleEndian.Uint16(hdr)
	if int(flagsAndSize>>12) != fatHeaderWords {
		return nil, fmt.Errorf("%w: fat header size %d", ErrBadHeader, flagsAndSize>>12)
	}
	flags := flagsAndSize & 0x0FFF
	body.InitLocals = flags&HeaderInitLocals != 0
	body.MaxStack = int(binary.LittleEndian.Uint16(hdr[2:]))
	codeSize := binary.LittleEndian.Uint32(hdr[4:])
	body.LocalSig = binary.LittleEndian.Uint32(hdr[8:])
	if body.Code, err = src.Read(int(codeSize)); err != nil {
		return nil, fmt.Errorf("reading fat body: %w", err)
	}
	if flags&HeaderMoreSects == 0 {
		return body, nil
	}

	consumed := fatHeaderSize + int(codeSize)
	for more := true; more; {
		if pad := (4 - consumed%4) % 4; pad > 0 {
			if _, err := src.Read(pad); err != nil {
				return nil, fmt.Errorf("reading section padding: %w", err)
			}
			consumed += pad
		}
		sh, err := src.Read(4)
		if err != nil {
			return nil, fmt.Errorf("reading section header: %w", err)
		}
		kind := sh[0]
		more = kind&SectMoreSects != 0
		var size, clauseSize int
		if kind&SectFatFormat != 0 {
			size = int(sh[1]) | int(sh[2])<<8 | int(sh[3])<<16
			clauseSize = fatClauseSize
		} else {
			size = int(sh[1])
			clauseSize = smallClauseSize
		}
		if size < 4 {
			return nil, fmt.Errorf("%w: section size %d", ErrBadHeader, size)
		}
		data, err := src.Read(size - 4)
		if err != nil {
			return nil, fmt.Errorf("reading section: %w", err)
		}
		consumed += size
		if kind&SectEHTable == 0 {
			continue
		}
		if (size-4)%clauseSize != 0 {
			return nil, fmt.Errorf("%w: EH section size %d", ErrBadHeader, size)
		}
		for off := 0; off < len(data); off += clauseSize {
			body.Clauses = append(body.Clauses, decodeClause(data[off:off+clauseSize], clauseSize == fatClauseSize))
		}
	}
	return body, nil
}

func decodeClause(d []byte, fat bool) Clause {
	le := binary.LittleEndian
	var c Clause
	var extra uint32
	if fat {
		c.Kind = ClauseKind(le.Uint32(d))
		c.TryOffset = le.Uint32(d[4:])
		c.TryLength = le.Uint32(d[8:])
		c.HandlerOffset = le.Uint32(d[12:])
		c.HandlerLength = le.Uint32(d[16:])
		extra = le.Uint32(d[20:])
	} else {
		c.Kind = ClauseKind(le.Uint16(d))
		c.TryOffset = uint32(le.Uint16(d[2:]))
		c.TryLength = uint32(d[4])
		c.HandlerOffset = uint32(le.Uint16(d[5:]))
		c.HandlerLength = uint32(d[7])
		extra = le.Uint32(d[8:])
	}
	if c.Kind == ClauseFilter {
		c.FilterOffset = extra
	} else {
		c.ClassToken = extra
	}
	return c
}

// DecodeBody decodes a method body from a byte slice.
func DecodeBody(data []byte) (*Body, error) {
	return ReadBody(NewSliceSource(data, 0))
}

// Encode produces the wire form of the body. The tiny header is used when
// the body allows it; exception clauses use the small format unless a
// clause needs wider fields.
func (b *Body) Encode() []byte {
	if len(b.Code) < tinyMaxCode && b.MaxStack <= tinyMaxStack && b.LocalSig == 0 &&
		len(b.Clauses) == 0 && !b.InitLocals {
		out := make([]byte, 0, 1+len(b.Code))
		out = append(out, byte(len(b.Code)<<2|HeaderTiny))
		return append(out, b.Code...)
	}

	le := binary.LittleEndian
	flags := uint16(HeaderFat)
	if b.InitLocals {
		flags |= HeaderInitLocals
	}
	if len(b.Clauses) > 0 {
		flags |= HeaderMoreSects
	}
	out := make([]byte, 0, fatHeaderSize+len(b.Code)+4+fatClauseSize*len(b.Clauses))
	out = le.AppendUint16(out, flags|fatHeaderWords<<12)
	out = le.AppendUint16(out, uint16(b.MaxStack))
	out = le.AppendUint32(out, uint32(len(b.Code)))
	out = le.AppendUint32(out, b.LocalSig)
	out = append(out, b.Code...)
	if len(b.Clauses) == 0 {
		return out
	}
	for len(out)%4 != 0 {
		out = append(out, 0)
	}

	small := len(b.Clauses)*smallClauseSize+4 <= 0xFF
	for _, c := range b.Clauses {
		small = small && c.fitsSmall()
	}
	if small {
		out = append(out, SectEHTable, byte(len(b.Clauses)*smallClauseSize+4), 0, 0)
		for _, c := range b.Clauses {
			out = le.AppendUint16(out, uint16(c.Kind))
			out = le.AppendUint16(out, uint16(c.TryOffset))
			out = append(out, byte(c.TryLength))
			out = le.AppendUint16(out, uint16(c.HandlerOffset))
			out = append(out, byte(c.HandlerLength))
			out = le.AppendUint32(out, c.extra())
		}
		return out
	}
	size := len(b.Clauses)*fatClauseSize + 4
	out = append(out, SectEHTable|SectFatFormat, byte(size), byte(size>>8), byte(size>>16))
	for _, c := range b.Clauses {
		out = le.AppendUint32(out, uint32(c.Kind))
		out = le.AppendUint32(out, c.TryOffset)
		out = le.AppendUint32(out, c.TryLength)
		out = le.AppendUint32(out, c.HandlerOffset)
		out = le.AppendUint32(out, c.HandlerLength)
		out = le.AppendUint32(out, c.extra())
	}
	return out
}

func (c Clause) extra() uint32 {
	if c.Kind == ClauseFilter {
		return c.FilterOffset
	}
	return c.ClassToken
}

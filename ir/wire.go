package ir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical encoding keeps archived methods byte-identical across runs, so
// content hashes of encoded methods are stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalMethod serializes a Method to CBOR bytes.
func MarshalMethod(m *Method) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalMethod deserializes a Method from CBOR bytes.
func UnmarshalMethod(data []byte) (*Method, error) {
	var m Method
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ir: unmarshal method: %w", err)
	}
	return &m, nil
}

// Shape is the structural fingerprint of a method: the sequence of
// operations with the kinds and forms of their operands. Temporary and
// label numbering do not contribute, so two translations of the same body
// produce equal shapes.
func (m *Method) Shape() []string {
	shape := make([]string, 0, len(m.Instrs))
	for _, in := range m.Instrs {
		s := fmt.Sprintf("%s/%s/%s/%d", in.Op, in.Kind, in.Cond, in.Flags)
		if in.HasDst() {
			s += fmt.Sprintf(" d:%s", in.Dst.Kind)
		}
		for _, a := range in.Args {
			s += fmt.Sprintf(" %d:%s", a.Form, a.Kind)
		}
		if in.Callee.Form != FormNone {
			s += fmt.Sprintf(" c:%d:%s", in.Callee.Form, in.Callee.Sym)
		}
		shape = append(shape, s)
	}
	return shape
}

package ir

import "strings"

// Decorated is the pattern-table view of an operand type: its kind plus its
// width after pointer-sized classes are resolved for the target.
type Decorated uint16

// Decorate returns the decorated type of o on a target whose pointers have class ptr.
func (o Operand) Decorate(ptr TypeClass) Decorated {
	return MakeDecorated(o.Kind, o.Type.Resolve(ptr))
}

// MakeDecorated builds a decorated type from its parts.
func MakeDecorated(kind OperandKind, t TypeClass) Decorated {
	switch kind {
	case OperandSymbol, OperandBlock, OperandCond, OperandString:
		// Width is irrelevant for these.
		t = TypeVoid
	}
	return Decorated(kind)<<8 | Decorated(t)
}

// Kind returns the operand kind of d.
func (d Decorated) Kind() OperandKind { return OperandKind(d >> 8) }

// Type returns the resolved type class of d.
func (d Decorated) Type() TypeClass { return TypeClass(d & 0xff) }

// String implements fmt.Stringer. For example "vreg32", "const64", "sym".
func (d Decorated) String() string {
	s := d.Kind().String()
	switch d.Type() {
	case TypeInt32:
		s += "32"
	case TypeInt64:
		s += "64"
	}
	return s
}

// Signature is the key of a pattern-table lookup.
type Signature struct {
	Op         Opcode
	Uses, Defs []Decorated
}

// SignatureOf returns the signature of the IR instruction i.
func SignatureOf(i *Instr, ptr TypeClass) Signature {
	sig := Signature{Op: i.Op}
	for _, u := range i.Uses {
		sig.Uses = append(sig.Uses, u.Decorate(ptr))
	}
	for _, d := range i.Defs {
		sig.Defs = append(sig.Defs, d.Decorate(ptr))
	}
	return sig
}

// Key returns a compact map key for s. The encoding is op, use count, uses, def count, defs.
func (s Signature) Key() string {
	buf := make([]byte, 0, 3+2*(len(s.Uses)+len(s.Defs)))
	buf = append(buf, byte(s.Op), byte(len(s.Uses)))
	for _, u := range s.Uses {
		buf = append(buf, byte(u>>8), byte(u))
	}
	buf = append(buf, byte(len(s.Defs)))
	for _, d := range s.Defs {
		buf = append(buf, byte(d>>8), byte(d))
	}
	return string(buf)
}

// String implements fmt.Stringer, e.g. "add vreg32, const32 -> local32".
func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.Op.String())
	for i, u := range s.Uses {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(u.String())
	}
	if len(s.Defs) > 0 {
		sb.WriteString(" ->")
		for i, d := range s.Defs {
			if i == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(d.String())
		}
	}
	return sb.String()
}

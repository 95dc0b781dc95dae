package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Instr is an IR instruction. Machine holds its lowered form once instruction
// selection has run; from then on passes work on Machine and ignore the rest.
type Instr struct {
	Op   Opcode
	Defs []Operand
	Uses []Operand
	Cond CondCode
	// Offset is the source offset, used for diagnostics. -1 when synthesized.
	Offset int
	// Callee is the called symbol of OpCall.
	Callee string
	// Convention names the calling convention of OpCall; empty means the target default.
	Convention string
	// TypeName is the allocated type of OpNewObj.
	TypeName string

	Machine []*MInst
}

// IsNop reports whether i has been removed.
func (i *Instr) IsNop() bool { return i.Op == OpNop }

// MakeNop turns i into a no-op in place.
func (i *Instr) MakeNop() {
	i.Op, i.Defs, i.Uses, i.Cond = OpNop, nil, nil, CondNone
}

// arity bounds the defs and uses of an opcode; a negative maximum is unbounded.
type arity struct{ defs, uses, maxDefs, maxUses int }

func exactly(defs, uses int) arity { return arity{defs, uses, defs, uses} }

var arities = map[Opcode]arity{
	OpStore:     exactly(1, 1),
	OpNeg:       exactly(1, 1),
	OpNot:       exactly(1, 1),
	OpConv:      exactly(1, 1),
	OpLdInd:     exactly(1, 1),
	OpLdStr:     exactly(1, 1),
	OpLdLabAddr: exactly(1, 1),
	OpCmp:       exactly(1, 2),
	OpStInd:     exactly(0, 2),
	OpBrIf:      exactly(0, 2),
	OpBr:        exactly(0, 0),
	OpEnter:     exactly(0, 0),
	OpRet:       {0, 0, 0, 1},
	OpCall:      {0, 0, 1, -1},
	OpNewObj:    {1, 0, 1, -1},
	OpPhi:       {1, 0, 1, -1},
}

// CheckOperands reports an instruction whose operand counts do not fit its
// opcode.
func (i *Instr) CheckOperands() error {
	a, ok := arities[i.Op]
	if i.Op.IsBinary() {
		a, ok = exactly(1, 2), true
	}
	if !ok {
		if i.Op == OpNop {
			return nil
		}
		return fmt.Errorf("unknown opcode %s", i.Op)
	}
	if len(i.Defs) < a.defs || (a.maxDefs >= 0 && len(i.Defs) > a.maxDefs) ||
		len(i.Uses) < a.uses || (a.maxUses >= 0 && len(i.Uses) > a.maxUses) {
		return fmt.Errorf("%s takes %s, got %d defs and %d uses", i.Op, a, len(i.Defs), len(i.Uses))
	}
	return nil
}

// String implements fmt.Stringer.
func (a arity) String() string {
	count := func(min, max int) string {
		switch {
		case max < 0:
			return fmt.Sprintf("at least %d", min)
		case min == max:
			return strconv.Itoa(min)
		default:
			return fmt.Sprintf("%d to %d", min, max)
		}
	}
	return count(a.defs, a.maxDefs) + " defs and " + count(a.uses, a.maxUses) + " uses"
}

// String implements fmt.Stringer.
func (i *Instr) String() string {
	var sb strings.Builder
	for n, d := range i.Defs {
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.String())
	}
	if len(i.Defs) > 0 {
		sb.WriteString(" = ")
	}
	sb.WriteString(i.Op.String())
	if i.Cond != CondNone {
		sb.WriteByte('.')
		sb.WriteString(i.Cond.String())
	}
	switch i.Op {
	case OpCall:
		sb.WriteByte(' ')
		sb.WriteString(i.Callee)
	case OpNewObj:
		sb.WriteByte(' ')
		sb.WriteString(i.TypeName)
	}
	for n, u := range i.Uses {
		if n == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(u.String())
	}
	return sb.String()
}

// MachOp is a machine instruction number. Values below MachTargetBase are
// markers shared by all targets, the rest belong to a target's instruction set.
type MachOp uint16

const (
	MachInvalid MachOp = iota
	// MachSetupStack becomes the frame setup once the frame size is known.
	MachSetupStack
	// MachSaveCalleePreserves saves the callee-saved registers the method clobbers.
	MachSaveCalleePreserves
	// MachRestoreCalleePreserves restores them before returning.
	MachRestoreCalleePreserves
	// MachPrecall saves live caller-saved registers and places arguments.
	// Its Args are the argument values.
	MachPrecall
	// MachPostcall pops stack arguments and restores the saved registers.
	MachPostcall
	// MachLoadAddress is Args[0] = address of the symbol Args[1].
	MachLoadAddress

	// MachTargetBase is the first target instruction number.
	MachTargetBase MachOp = 32
)

var genericMachNames = [...]string{"invalid", "setupstack", "savecalleepreserves", "restorecalleepreserves", "precall", "postcall", "loadaddress"}

// IsMarker reports whether m is a generic marker that the call finisher expands.
func (m MachOp) IsMarker() bool {
	return m >= MachSetupStack && m <= MachPostcall
}

// CallSite describes a call for the precall/postcall markers around it.
type CallSite struct {
	Callee     string
	Convention string
	// ArgTypes are the classes of the precall marker's Args.
	ArgTypes []TypeClass
	// StackBytes is filled by the call finisher with the bytes of stack arguments.
	StackBytes int64
}

// MInst is a machine instruction.
type MInst struct {
	Op   MachOp
	Args []Operand
	// Call is shared by the precall and postcall markers of a call.
	Call *CallSite
}

// MachNamer names machine instructions and registers for printing.
type MachNamer interface {
	RegNamer
	MachOpName(MachOp) string
}

// Format returns the textual form of m.
func (m *MInst) Format(n MachNamer) string {
	var sb strings.Builder
	switch {
	case m.Op < MachTargetBase && int(m.Op) < len(genericMachNames):
		sb.WriteString(genericMachNames[m.Op])
	case n != nil:
		sb.WriteString(n.MachOpName(m.Op))
	default:
		sb.WriteString("m")
		sb.WriteString(strconv.Itoa(int(m.Op)))
	}
	if m.Call != nil {
		sb.WriteByte(' ')
		sb.WriteString(m.Call.Callee)
	}
	for i, a := range m.Args {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Format(n))
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (m *MInst) String() string { return m.Format(nil) }

// Uses calls fn with the index of every read operand of m.
func (m *MInst) Uses(fn func(idx int, o *Operand)) {
	for i := range m.Args {
		if m.Args[i].Role == RoleUse {
			fn(i, &m.Args[i])
		}
	}
}

// Defs calls fn with the index of every written operand of m.
func (m *MInst) Defs(fn func(idx int, o *Operand)) {
	for i := range m.Args {
		if m.Args[i].Role == RoleDef {
			fn(i, &m.Args[i])
		}
	}
}

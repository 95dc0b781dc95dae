package ir

import (
	"fmt"
	"strconv"
)

// TypeClass is the coarse type of an operand as seen by the backend.
type TypeClass byte

const (
	TypeVoid TypeClass = iota
	TypeInt32
	TypeInt64
	// TypeIntPtr is a native-width integer; DecoratedType resolves it per target.
	TypeIntPtr
	TypeObject
	TypeRef
	typeClassEnd
)

var typeClassNames = [...]string{"void", "i32", "i64", "iptr", "obj", "ref"}

// String implements fmt.Stringer.
func (t TypeClass) String() string {
	if t < typeClassEnd {
		return typeClassNames[t]
	}
	return fmt.Sprintf("TypeClass(%d)", t)
}

// TypeClassByName returns the type class with the given textual name.
func TypeClassByName(name string) (TypeClass, bool) {
	for i, n := range typeClassNames {
		if n == name {
			return TypeClass(i), true
		}
	}
	return TypeVoid, false
}

// IsPointerSized reports whether values of t are as wide as a pointer.
func (t TypeClass) IsPointerSized() bool {
	return t == TypeIntPtr || t == TypeObject || t == TypeRef
}

// Resolve maps pointer-sized classes to the integer class ptr.
func (t TypeClass) Resolve(ptr TypeClass) TypeClass {
	if t.IsPointerSized() {
		return ptr
	}
	return t
}

// OperandKind is the kind of location or value an Operand denotes.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	// OperandVReg is an evaluation-stack slot before SSA renaming, a virtual register afterwards.
	OperandVReg
	OperandLocal
	OperandArg
	OperandConst
	// OperandSymbol is a relocatable label plus addend (Imm).
	OperandSymbol
	OperandBlock
	OperandCond
	OperandString
	// OperandReg is a physical register.
	OperandReg
	// OperandMem is the memory at Reg + Imm.
	OperandMem
	// OperandSpill is a spill slot of the register allocator, before frame layout.
	OperandSpill
	operandKindEnd
)

var operandKindNames = [...]string{"none", "vreg", "local", "arg", "const", "sym", "block", "cond", "str", "reg", "mem", "spill"}

// String implements fmt.Stringer.
func (k OperandKind) String() string {
	if k < operandKindEnd {
		return operandKindNames[k]
	}
	return fmt.Sprintf("OperandKind(%d)", k)
}

// Role says whether a machine instruction reads or writes an operand.
type Role byte

const (
	RoleNone Role = iota
	RoleUse
	RoleDef
)

// VReg identifies a virtual register.
type VReg int32

// NoVReg is the SSA id of an operand that has not been renamed.
const NoVReg VReg = -1

// RegID identifies a physical register of a target.
type RegID uint8

// BlockID is the index of a block in Graph.Blocks.
type BlockID int32

// Operand is a use or def of an instruction.
type Operand struct {
	Kind OperandKind
	Type TypeClass
	Role Role
	// Var is the evaluation-stack slot, local or argument index.
	Var int
	// SSA is the virtual register id, NoVReg before renaming.
	SSA VReg
	// Imm is the constant value, memory displacement, symbol addend or spill slot.
	Imm   int64
	Sym   string
	Reg   RegID
	Block BlockID
	Cond  CondCode
}

// Var returns an un-renamed evaluation-stack slot operand.
func Var(slot int, t TypeClass) Operand {
	return Operand{Kind: OperandVReg, Type: t, Var: slot, SSA: NoVReg}
}

// Temp returns a virtual register operand with no source variable.
func Temp(id VReg, t TypeClass) Operand {
	return Operand{Kind: OperandVReg, Type: t, Var: -1, SSA: id}
}

// Const returns a literal constant operand.
func Const(t TypeClass, v int64) Operand {
	return Operand{Kind: OperandConst, Type: t, Imm: v, SSA: NoVReg}
}

// Local returns a local variable operand.
func Local(idx int, t TypeClass) Operand {
	return Operand{Kind: OperandLocal, Type: t, Var: idx, SSA: NoVReg}
}

// Arg returns an incoming argument operand.
func Arg(idx int, t TypeClass) Operand {
	return Operand{Kind: OperandArg, Type: t, Var: idx, SSA: NoVReg}
}

// Symbol returns a label operand.
func Symbol(name string, addend int64) Operand {
	return Operand{Kind: OperandSymbol, Type: TypeIntPtr, Sym: name, Imm: addend, SSA: NoVReg}
}

// Str returns a string literal operand.
func Str(s string) Operand {
	return Operand{Kind: OperandString, Type: TypeObject, Sym: s, SSA: NoVReg}
}

// BlockTarget returns a branch target operand.
func BlockTarget(id BlockID) Operand {
	return Operand{Kind: OperandBlock, Block: id, SSA: NoVReg}
}

// Cond returns a condition code operand.
func Cond(c CondCode) Operand {
	return Operand{Kind: OperandCond, Cond: c, SSA: NoVReg}
}

// Reg returns a physical register operand.
func Reg(r RegID, t TypeClass) Operand {
	return Operand{Kind: OperandReg, Type: t, Reg: r, SSA: NoVReg}
}

// Mem returns the memory operand [base+disp].
func Mem(base RegID, disp int64, t TypeClass) Operand {
	return Operand{Kind: OperandMem, Type: t, Reg: base, Imm: disp, SSA: NoVReg}
}

// Spill returns a spill slot operand.
func Spill(slot int, t TypeClass) Operand {
	return Operand{Kind: OperandSpill, Type: t, Imm: int64(slot), SSA: NoVReg}
}

// Use returns o marked as read.
func (o Operand) Use() Operand { o.Role = RoleUse; return o }

// Def returns o marked as written.
func (o Operand) Def() Operand { o.Role = RoleDef; return o }

// IsVReg reports whether o is a virtual register (renamed or not).
func (o Operand) IsVReg() bool { return o.Kind == OperandVReg }

// IsConst reports whether o is a literal.
func (o Operand) IsConst() bool { return o.Kind == OperandConst }

// IsRenamed reports whether o is a virtual register with an SSA id.
func (o Operand) IsRenamed() bool { return o.Kind == OperandVReg && o.SSA != NoVReg }

// InRegister reports whether o lives in a register, virtual or physical.
func (o Operand) InRegister() bool { return o.Kind == OperandVReg || o.Kind == OperandReg }

// IsMemory reports whether o lives in the stack frame or memory.
func (o Operand) IsMemory() bool {
	switch o.Kind {
	case OperandLocal, OperandArg, OperandMem, OperandSpill:
		return true
	default:
		return false
	}
}

// SameLocation reports whether o and p denote the same storage, ignoring role.
func (o Operand) SameLocation(p Operand) bool {
	if o.Kind != p.Kind {
		return false
	}
	switch o.Kind {
	case OperandVReg:
		if o.SSA != NoVReg || p.SSA != NoVReg {
			return o.SSA == p.SSA
		}
		return o.Var == p.Var
	case OperandLocal, OperandArg:
		return o.Var == p.Var
	case OperandReg:
		return o.Reg == p.Reg
	case OperandMem:
		return o.Reg == p.Reg && o.Imm == p.Imm
	case OperandSpill:
		return o.Imm == p.Imm
	case OperandConst:
		return o.Imm == p.Imm && o.Type == p.Type
	case OperandSymbol:
		return o.Sym == p.Sym && o.Imm == p.Imm
	case OperandString:
		return o.Sym == p.Sym
	case OperandBlock:
		return o.Block == p.Block
	case OperandCond:
		return o.Cond == p.Cond
	default:
		return true
	}
}

// RegNamer names physical registers for printing.
type RegNamer interface {
	RegName(RegID) string
}

// String implements fmt.Stringer.
func (o Operand) String() string { return o.Format(nil) }

// Format returns the textual form of o, naming registers with n when not nil.
func (o Operand) Format(n RegNamer) string {
	switch o.Kind {
	case OperandVReg:
		if o.SSA != NoVReg {
			return "v" + strconv.Itoa(int(o.SSA)) + ":" + o.Type.String()
		}
		return "s" + strconv.Itoa(o.Var) + ":" + o.Type.String()
	case OperandLocal:
		return "loc" + strconv.Itoa(o.Var) + ":" + o.Type.String()
	case OperandArg:
		return "arg" + strconv.Itoa(o.Var) + ":" + o.Type.String()
	case OperandConst:
		return strconv.FormatInt(o.Imm, 10) + ":" + o.Type.String()
	case OperandSymbol:
		if o.Imm != 0 {
			return o.Sym + "+" + strconv.FormatInt(o.Imm, 10)
		}
		return o.Sym
	case OperandString:
		return strconv.Quote(o.Sym)
	case OperandBlock:
		return "blk" + strconv.Itoa(int(o.Block))
	case OperandCond:
		return o.Cond.String()
	case OperandReg:
		return regName(n, o.Reg)
	case OperandMem:
		if o.Imm == 0 {
			return "[" + regName(n, o.Reg) + "]"
		}
		return fmt.Sprintf("[%s%+d]", regName(n, o.Reg), o.Imm)
	case OperandSpill:
		return "spill" + strconv.FormatInt(o.Imm, 10)
	default:
		return "<none>"
	}
}

func regName(n RegNamer, r RegID) string {
	if n == nil {
		return "r" + strconv.Itoa(int(r))
	}
	return n.RegName(r)
}

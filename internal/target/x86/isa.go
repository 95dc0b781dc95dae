package x86

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

// Machine instructions. Operands are listed defs and uses in the order the
// instruction reads them; two-address forms name their destination twice.
const (
	// Mov is dst, src.
	Mov ir.MachOp = ir.MachTargetBase + iota
	// Add, Sub, Imul, And, Or, Xor, Shl and Sar are dst, dst, src.
	Add
	Sub
	Imul
	And
	Or
	Xor
	Shl
	Sar
	// Neg and Not are dst, dst.
	Neg
	Not
	// Cdq is edx, eax.
	Cdq
	// Idiv is eax, edx, eax, edx, divisor.
	Idiv
	// Cmp is a, b.
	Cmp
	// Setcc is dst, cond; it writes the low byte of dst.
	Setcc
	// Movzx is dst, src and zero-extends the low byte of src.
	Movzx
	// Jcc is cond, target.
	Jcc
	// Jmp is target.
	Jmp
	// Call is symbol, result.
	Call
	// Ret lists the registers holding the result.
	Ret
	// Push is src, esp.
	Push
	// Pop is dst, esp.
	Pop
	// LdInd is dst, address.
	LdInd
	// StInd is address, value.
	StInd
	machOpEnd
)

var machNames = map[ir.MachOp]string{
	Mov:   "mov",
	Add:   "add",
	Sub:   "sub",
	Imul:  "imul",
	And:   "and",
	Or:    "or",
	Xor:   "xor",
	Shl:   "shl",
	Sar:   "sar",
	Neg:   "neg",
	Not:   "not",
	Cdq:   "cdq",
	Idiv:  "idiv",
	Cmp:   "cmp",
	Setcc: "setcc",
	Movzx: "movzx",
	Jcc:   "jcc",
	Jmp:   "jmp",
	Call:  "call",
	Ret:   "ret",
	Push:  "push",
	Pop:   "pop",
	LdInd: "ldind",
	StInd: "stind",
}

type isa struct{}

var _ target.ISA = isa{}

func gpr(o ir.Operand) bool {
	switch o.Kind {
	case ir.OperandSymbol, ir.OperandString, ir.OperandBlock, ir.OperandCond, ir.OperandNone:
		return false
	}
	return o.Type.Resolve(ir.TypeInt32) == ir.TypeInt32
}

func writable(o ir.Operand) bool {
	switch o.Kind {
	case ir.OperandVReg, ir.OperandReg, ir.OperandMem, ir.OperandLocal, ir.OperandArg, ir.OperandSpill:
		return true
	}
	return false
}

func (isa) Move(g *ir.Graph, dst, src ir.Operand) *ir.MInst {
	if !writable(dst) || !gpr(dst) || !gpr(src) {
		return nil
	}
	if dst.IsMemory() && src.IsMemory() {
		return nil
	}
	return g.NewMInst(Mov, dst.Def(), src.Use())
}

func (isa) IsMove(m *ir.MInst) (dst, src ir.Operand, ok bool) {
	if m.Op != Mov || len(m.Args) != 2 {
		return ir.Operand{}, ir.Operand{}, false
	}
	return m.Args[0], m.Args[1], true
}

func esp() ir.Operand { return ir.Reg(ESP, ir.TypeInt32) }

func (isa) Push(g *ir.Graph, src ir.Operand) *ir.MInst {
	return g.NewMInst(Push, src.Use(), esp().Def())
}

func (isa) Pop(g *ir.Graph, dst ir.Operand) *ir.MInst {
	return g.NewMInst(Pop, dst.Def(), esp().Def())
}

func (isa) AdjustStack(g *ir.Graph, delta int64) *ir.MInst {
	if delta < 0 {
		return g.NewMInst(Sub, esp().Def(), esp().Use(), ir.Const(ir.TypeInt32, -delta).Use())
	}
	return g.NewMInst(Add, esp().Def(), esp().Use(), ir.Const(ir.TypeInt32, delta).Use())
}

func (isa) Call(g *ir.Graph, callee string, ret ir.RegID) *ir.MInst {
	return g.NewMInst(Call, ir.Symbol(callee, 0).Use(), ir.Reg(ret, ir.TypeInt32).Def())
}

func (isa) Ret(g *ir.Graph, uses ...ir.RegID) *ir.MInst {
	args := make([]ir.Operand, len(uses))
	for i, r := range uses {
		args[i] = ir.Reg(r, ir.TypeInt32).Use()
	}
	return g.NewMInst(Ret, args...)
}

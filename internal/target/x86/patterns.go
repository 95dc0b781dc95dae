package x86

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

var (
	vreg  = ir.MakeDecorated(ir.OperandVReg, ir.TypeInt32)
	cnst  = ir.MakeDecorated(ir.OperandConst, ir.TypeInt32)
	local = ir.MakeDecorated(ir.OperandLocal, ir.TypeInt32)
	arg   = ir.MakeDecorated(ir.OperandArg, ir.TypeInt32)
	sym   = ir.MakeDecorated(ir.OperandSymbol, ir.TypeVoid)

	// anySrc is every 32-bit source an instruction can read directly.
	anySrc = []ir.Decorated{vreg, cnst, local, arg}
	// regMem excludes immediates.
	regMem = []ir.Decorated{vreg, local, arg}
	memory = []ir.Decorated{local, arg}
	regImm = []ir.Decorated{vreg, cnst}

	toVReg = []ir.Decorated{vreg}
)

// binaryOps are the two-address arithmetic instructions taking any source.
var binaryOps = map[ir.Opcode]ir.MachOp{
	ir.OpAdd: Add,
	ir.OpSub: Sub,
	ir.OpAnd: And,
	ir.OpOr:  Or,
	ir.OpXor: Xor,
}

var shiftOps = map[ir.Opcode]ir.MachOp{
	ir.OpShl: Shl,
	ir.OpShr: Sar,
}

var unaryOps = map[ir.Opcode]ir.MachOp{
	ir.OpNeg: Neg,
	ir.OpNot: Not,
}

// patterns builds the instruction selection table. Every arithmetic result
// goes to a virtual register; memory destinations and sources x86 cannot
// read directly are left to the lowering's rewrite into simpler instructions.
func patterns() (*target.PatternTable, error) {
	pt := target.NewPatternTable()
	add := func(op ir.Opcode, uses [][]ir.Decorated, defs []ir.Decorated, p ...target.PatternInstr) error {
		return pt.AddEach(op, uses, defs, p)
	}
	type entry struct {
		op   ir.Opcode
		uses [][]ir.Decorated
		defs []ir.Decorated
		p    target.Pattern
	}
	entries := []entry{
		{ir.OpStore, [][]ir.Decorated{anySrc}, toVReg, target.Pattern{target.I(Mov, target.Def(0), target.Use(0))}},
		{ir.OpStore, [][]ir.Decorated{regImm}, []ir.Decorated{local}, target.Pattern{target.I(Mov, target.Def(0), target.Use(0))}},
		{ir.OpStore, [][]ir.Decorated{regImm}, []ir.Decorated{arg}, target.Pattern{target.I(Mov, target.Def(0), target.Use(0))}},
		{ir.OpStore, [][]ir.Decorated{{sym}}, toVReg, target.Pattern{target.I(ir.MachLoadAddress, target.Def(0), target.Use(0))}},
		{ir.OpConv, [][]ir.Decorated{anySrc}, toVReg, target.Pattern{target.I(Mov, target.Def(0), target.Use(0))}},

		{ir.OpMul, [][]ir.Decorated{anySrc, regMem}, toVReg, target.Pattern{
			target.I(Mov, target.Def(0), target.Use(0)),
			target.I(Imul, target.Def(0), target.DefRead(0), target.Use(1)),
		}},
		// idiv divides edx:eax, leaving the quotient in eax and the remainder in edx.
		{ir.OpDiv, [][]ir.Decorated{anySrc, regMem}, toVReg, divide(EAX)},
		{ir.OpRem, [][]ir.Decorated{anySrc, regMem}, toVReg, divide(EDX)},

		{ir.OpCmp, [][]ir.Decorated{{vreg}, anySrc}, toVReg, setcc()},
		{ir.OpCmp, [][]ir.Decorated{memory, regImm}, toVReg, setcc()},
		{ir.OpBrIf, [][]ir.Decorated{{vreg}, anySrc}, nil, branch()},
		{ir.OpBrIf, [][]ir.Decorated{memory, regImm}, nil, branch()},
		{ir.OpBr, nil, nil, target.Pattern{target.I(Jmp, target.Branch(0))}},

		{ir.OpLdInd, [][]ir.Decorated{{vreg}}, toVReg, target.Pattern{target.I(LdInd, target.Def(0), target.Use(0))}},
		{ir.OpStInd, [][]ir.Decorated{{vreg}, regImm}, nil, target.Pattern{target.I(StInd, target.Use(0), target.Use(1))}},
	}
	for op, mop := range binaryOps {
		entries = append(entries, entry{op, [][]ir.Decorated{anySrc, anySrc}, toVReg, target.Pattern{
			target.I(Mov, target.Def(0), target.Use(0)),
			target.I(mop, target.Def(0), target.DefRead(0), target.Use(1)),
		}})
	}
	for op, mop := range shiftOps {
		// Variable shift counts must be in cl.
		entries = append(entries,
			entry{op, [][]ir.Decorated{anySrc, regMem}, toVReg, target.Pattern{
				target.I(Mov, target.RegDef(ECX), target.Use(1)),
				target.I(Mov, target.Def(0), target.Use(0)),
				target.I(mop, target.Def(0), target.DefRead(0), target.RegUse(ECX)),
			}},
			entry{op, [][]ir.Decorated{anySrc, {cnst}}, toVReg, target.Pattern{
				target.I(Mov, target.Def(0), target.Use(0)),
				target.I(mop, target.Def(0), target.DefRead(0), target.Use(1)),
			}})
	}
	for op, mop := range unaryOps {
		entries = append(entries, entry{op, [][]ir.Decorated{anySrc}, toVReg, target.Pattern{
			target.I(Mov, target.Def(0), target.Use(0)),
			target.I(mop, target.Def(0), target.DefRead(0)),
		}})
	}

	for _, e := range entries {
		if err := add(e.op, e.uses, e.defs, e.p...); err != nil {
			return nil, err
		}
	}
	return pt, nil
}

func divide(result ir.RegID) target.Pattern {
	return target.Pattern{
		target.I(Mov, target.RegDef(EAX), target.Use(0)),
		target.I(Cdq, target.RegDef(EDX), target.RegUse(EAX)),
		target.I(Idiv, target.RegDef(EAX), target.RegDef(EDX), target.RegUse(EAX), target.RegUse(EDX), target.Use(1)),
		target.I(Mov, target.Def(0), target.RegUse(result)),
	}
}

func setcc() target.Pattern {
	return target.Pattern{
		target.I(Cmp, target.Use(0), target.Use(1)),
		target.I(Setcc, target.RegDef(EAX), target.CondCode()),
		target.I(Movzx, target.Def(0), target.RegUse(EAX)),
	}
}

func branch() target.Pattern {
	return target.Pattern{
		target.I(Cmp, target.Use(0), target.Use(1)),
		target.I(Jcc, target.CondCode(), target.Branch(0)),
		target.I(Jmp, target.Branch(1)),
	}
}

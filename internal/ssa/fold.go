package ssa

import (
	"math"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

type folder func(a, b int64, bits uint) (int64, bool)

var folders = map[ir.Opcode]folder{
	ir.OpAdd: func(a, b int64, _ uint) (int64, bool) { return a + b, true },
	ir.OpSub: func(a, b int64, _ uint) (int64, bool) { return a - b, true },
	ir.OpMul: func(a, b int64, _ uint) (int64, bool) { return a * b, true },
	ir.OpDiv: func(a, b int64, bits uint) (int64, bool) {
		if b == 0 || (b == -1 && a == minInt(bits)) {
			return 0, false
		}
		return a / b, true
	},
	ir.OpRem: func(a, b int64, bits uint) (int64, bool) {
		if b == 0 || (b == -1 && a == minInt(bits)) {
			return 0, false
		}
		return a % b, true
	},
	ir.OpAnd: func(a, b int64, _ uint) (int64, bool) { return a & b, true },
	ir.OpOr:  func(a, b int64, _ uint) (int64, bool) { return a | b, true },
	ir.OpXor: func(a, b int64, _ uint) (int64, bool) { return a ^ b, true },
	ir.OpShl: func(a, b int64, bits uint) (int64, bool) { return a << (uint64(b) & uint64(bits-1)), true },
	ir.OpShr: func(a, b int64, bits uint) (int64, bool) { return a >> (uint64(b) & uint64(bits-1)), true },
	ir.OpNeg: func(a, _ int64, _ uint) (int64, bool) { return -a, true },
	ir.OpNot: func(a, _ int64, _ uint) (int64, bool) { return ^a, true },
	// OpCmp and OpConv are handled by fold directly.
	ir.OpCmp:  nil,
	ir.OpConv: nil,
}

func minInt(bits uint) int64 {
	if bits == 32 {
		return math.MinInt32
	}
	return math.MinInt64
}

func widthOf(t ir.TypeClass) (uint, bool) {
	switch t {
	case ir.TypeInt32:
		return 32, true
	case ir.TypeInt64:
		return 64, true
	default:
		return 0, false
	}
}

// normalize truncates v to the width of t and sign-extends it back.
func normalize(v int64, bits uint) int64 {
	if bits == 32 {
		return int64(int32(v))
	}
	return v
}

// fold evaluates instr over literal uses. Combinations with no folding rule
// are KindUnsupported; folds that would trap at run time are left alone.
func fold(instr *ir.Instr, ptr ir.TypeClass) (int64, bool, error) {
	unsupported := func(why string) error {
		return tysilaapi.Unsupported("constprop", "cannot fold %s", why).At(instr.String(), instr.Offset)
	}

	if len(instr.Uses) == 0 {
		return 0, false, tysilaapi.Structural("constprop", "%s without operands", instr.Op).At(instr.String(), instr.Offset)
	}
	a := instr.Uses[0]
	at := a.Type.Resolve(ptr)
	if a.Type == ir.TypeObject || a.Type == ir.TypeRef {
		return 0, false, unsupported("object or reference operands")
	}
	abits, ok := widthOf(at)
	if !ok {
		return 0, false, unsupported(a.Type.String() + " operands")
	}

	switch instr.Op {
	case ir.OpConv:
		dt := instr.Defs[0].Type
		if dt == ir.TypeObject || dt == ir.TypeRef || dt == ir.TypeVoid {
			return 0, false, unsupported("conversion to " + dt.String())
		}
		dbits, _ := widthOf(dt.Resolve(ptr))
		return normalize(a.Imm, dbits), true, nil
	case ir.OpNeg, ir.OpNot:
		v, _ := folders[instr.Op](a.Imm, 0, abits)
		return normalize(v, abits), true, nil
	}

	if len(instr.Uses) != 2 {
		return 0, false, tysilaapi.Structural("constprop", "%s takes two operands, got %d", instr.Op, len(instr.Uses)).
			At(instr.String(), instr.Offset)
	}
	b := instr.Uses[1]
	bt := b.Type.Resolve(ptr)
	if b.Type == ir.TypeObject || b.Type == ir.TypeRef {
		return 0, false, unsupported("object or reference operands")
	}
	// Shift amounts may be any integer width.
	if bt != at && instr.Op != ir.OpShl && instr.Op != ir.OpShr {
		return 0, false, unsupported("mixed " + a.Type.String() + " and " + b.Type.String() + " operands")
	}

	if instr.Op == ir.OpCmp {
		if instr.Cond == ir.CondNone {
			return 0, false, unsupported("comparison without condition")
		}
		if instr.Cond.Eval(a.Imm, b.Imm, abits) {
			return 1, true, nil
		}
		return 0, true, nil
	}

	v, ok := folders[instr.Op](a.Imm, b.Imm, abits)
	if !ok {
		return 0, false, nil
	}
	return normalize(v, abits), true, nil
}

package ir

import "fmt"

// Opcode is the operation of an IR instruction.
type Opcode byte

const (
	OpInvalid Opcode = iota
	// OpNop does nothing. Dead code elimination turns instructions into OpNop.
	OpNop
	// OpStore is the assignment Defs[0] = Uses[0].
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot
	// OpCmp is Defs[0] = Uses[0] Cond Uses[1] ? 1 : 0.
	OpCmp
	// OpConv converts Uses[0] to the type class of Defs[0].
	OpConv
	// OpCall calls Callee with Uses as arguments; Defs holds the result, if any.
	OpCall
	// OpRet returns Uses[0], if any.
	OpRet
	// OpBr jumps to the block's only successor.
	OpBr
	// OpBrIf jumps to Succs[0] if Uses[0] Cond Uses[1], else to Succs[1].
	OpBrIf
	// OpEnter marks method entry: frame setup and callee preserves go here.
	OpEnter
	// OpLdInd is Defs[0] = *Uses[0].
	OpLdInd
	// OpStInd is *Uses[0] = Uses[1].
	OpStInd
	// OpLdStr loads the address of the string literal Uses[0].
	OpLdStr
	// OpLdLabAddr loads the address of the label Uses[0].
	OpLdLabAddr
	// OpNewObj allocates an object of TypeName.
	OpNewObj
	// OpPhi selects Uses[i] when control arrives from the i-th predecessor.
	OpPhi
	opcodeEnd
)

var opcodeNames = [...]string{
	OpInvalid:   "invalid",
	OpNop:       "nop",
	OpStore:     "store",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpRem:       "rem",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpShl:       "shl",
	OpShr:       "shr",
	OpNeg:       "neg",
	OpNot:       "not",
	OpCmp:       "cmp",
	OpConv:      "conv",
	OpCall:      "call",
	OpRet:       "ret",
	OpBr:        "br",
	OpBrIf:      "brif",
	OpEnter:     "enter",
	OpLdInd:     "ldind",
	OpStInd:     "stind",
	OpLdStr:     "ldstr",
	OpLdLabAddr: "ldlabaddr",
	OpNewObj:    "newobj",
	OpPhi:       "phi",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeEnd {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", o)
}

// OpcodeByName returns the opcode with the given textual name.
func OpcodeByName(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n == name && Opcode(i) != OpInvalid {
			return Opcode(i), true
		}
	}
	return OpInvalid, false
}

// HasSideEffect reports whether an instruction with this opcode must be kept
// even when none of its results are used.
func (o Opcode) HasSideEffect() bool {
	switch o {
	case OpCall, OpRet, OpBr, OpBrIf, OpEnter, OpStInd, OpNewObj:
		return true
	default:
		return false
	}
}

// IsTerminator reports whether the opcode ends a basic block.
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpRet, OpBr, OpBrIf:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the opcode takes two operands of the result's type.
func (o Opcode) IsBinary() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr:
		return true
	default:
		return false
	}
}

// CondCode is a comparison condition.
type CondCode byte

const (
	CondNone CondCode = iota
	CondEq
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
	// Unsigned comparisons.
	CondB
	CondBe
	CondA
	CondAe
	condEnd
)

var condNames = [...]string{"", "eq", "ne", "lt", "le", "gt", "ge", "b", "be", "a", "ae"}

// String implements fmt.Stringer.
func (c CondCode) String() string {
	if c < condEnd {
		return condNames[c]
	}
	return fmt.Sprintf("CondCode(%d)", c)
}

// CondByName returns the condition with the given textual name.
func CondByName(name string) (CondCode, bool) {
	for i, n := range condNames {
		if n == name && i != 0 {
			return CondCode(i), true
		}
	}
	return CondNone, false
}

// Invert returns the condition that holds exactly when c does not.
func (c CondCode) Invert() CondCode {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLt:
		return CondGe
	case CondGe:
		return CondLt
	case CondLe:
		return CondGt
	case CondGt:
		return CondLe
	case CondB:
		return CondAe
	case CondAe:
		return CondB
	case CondBe:
		return CondA
	case CondA:
		return CondBe
	default:
		return c
	}
}

// Eval evaluates a c b. Unsigned conditions compare the values as unsigned
// integers of the given width in bits.
func (c CondCode) Eval(a, b int64, bits uint) bool {
	ua, ub := uint64(a), uint64(b)
	if bits < 64 {
		mask := uint64(1)<<bits - 1
		ua, ub = ua&mask, ub&mask
	}
	switch c {
	case CondEq:
		return a == b
	case CondNe:
		return a != b
	case CondLt:
		return a < b
	case CondLe:
		return a <= b
	case CondGt:
		return a > b
	case CondGe:
		return a >= b
	case CondB:
		return ua < ub
	case CondBe:
		return ua <= ub
	case CondA:
		return ua > ub
	case CondAe:
		return ua >= ub
	default:
		panic("BUG: invalid condition " + c.String())
	}
}

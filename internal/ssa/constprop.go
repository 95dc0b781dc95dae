package ssa

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Constants is the result of constant propagation: the literal value of every
// SSA id found to be constant.
type Constants struct {
	values []ir.Operand
	// Rewrites counts the uses replaced by literals.
	Rewrites int
}

// Of returns the constant value of id, if it has one.
func (c *Constants) Of(id ir.VReg) (ir.Operand, bool) {
	if id < 0 || int(id) >= len(c.values) || c.values[id].Kind != ir.OperandConst {
		return ir.Operand{}, false
	}
	return c.values[id], true
}

// PropagateConstants is a forward fixpoint over the SSA definitions of g. A
// definition is constant when its opcode folds over literal inputs: a store of
// a literal, a phi whose incoming values are all the same literal, or
// arithmetic and comparisons of literals. Every use of a constant id is then
// rewritten into the literal and removed from the producer's use-set, which
// can make further definitions constant; passes repeat until one makes no
// rewrite.
//
// ptr is the pointer-sized integer class of the target. Folds with no
// implementation, such as mixed-width arithmetic, are returned as
// KindUnsupported errors.
func PropagateConstants(g *ir.Graph, ud *UseDef, ptr ir.TypeClass, logger *zap.Logger) (*Constants, error) {
	logger = tysilaapi.OrNop(logger)
	c := &Constants{values: make([]ir.Operand, ud.NumIDs())}

	passes := 0
	for {
		passes++
		changed := false
		for _, blk := range g.Blocks {
			for _, instr := range blk.Instrs {
				if instr.IsNop() {
					continue
				}
				for i := range instr.Uses {
					u := &instr.Uses[i]
					if !u.IsRenamed() {
						continue
					}
					lit, ok := c.Of(u.SSA)
					if !ok {
						continue
					}
					ud.RemoveUse(u.SSA, instr)
					*u = ir.Const(lit.Type, lit.Imm)
					c.Rewrites++
					changed = true
				}

				if len(instr.Defs) != 1 || !instr.Defs[0].IsRenamed() {
					continue
				}
				id := instr.Defs[0].SSA
				if _, ok := c.Of(id); ok {
					continue
				}
				lit, ok, err := evaluate(instr, ptr)
				if err != nil {
					return nil, err
				}
				if ok {
					c.values[id] = lit
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	logger.Debug("constants propagated", zap.Int("passes", passes), zap.Int("rewrites", c.Rewrites))
	return c, nil
}

// evaluate computes the constant value of instr's single definition given
// that constant inputs have already been rewritten into literals.
func evaluate(instr *ir.Instr, ptr ir.TypeClass) (ir.Operand, bool, error) {
	def := instr.Defs[0]
	switch instr.Op {
	case ir.OpStore:
		if len(instr.Uses) != 1 {
			return ir.Operand{}, false, tysilaapi.Structural("constprop", "store takes one source, got %d", len(instr.Uses)).
				At(instr.String(), instr.Offset)
		}
		u := instr.Uses[0]
		if !u.IsConst() {
			return ir.Operand{}, false, nil
		}
		return ir.Const(def.Type, u.Imm), true, nil
	case ir.OpPhi:
		if len(instr.Uses) == 0 {
			return ir.Operand{}, false, nil
		}
		first := instr.Uses[0]
		for _, u := range instr.Uses {
			if !u.IsConst() || u.Imm != first.Imm || u.Type != first.Type {
				return ir.Operand{}, false, nil
			}
		}
		return ir.Const(first.Type, first.Imm), true, nil
	}

	if _, foldable := folders[instr.Op]; !foldable {
		return ir.Operand{}, false, nil
	}
	for _, u := range instr.Uses {
		if !u.IsConst() {
			return ir.Operand{}, false, nil
		}
	}
	v, ok, err := fold(instr, ptr)
	if err != nil {
		return ir.Operand{}, false, err
	}
	if !ok {
		return ir.Operand{}, false, nil
	}
	return ir.Const(def.Type, v), true, nil
}

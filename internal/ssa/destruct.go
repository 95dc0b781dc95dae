package ssa

import (
	"github.com/jncronin/tysos-sub010/internal/cfg"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/pmove"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Destruct replaces the phis of g with copies. Edges into blocks with phis are
// split first when they are critical, so that every copy can be placed at the
// end of its predecessor, before the branch, without running on other paths.
// The copies of one edge behave as a parallel copy; cycles between phis of the
// same block go through a fresh virtual register.
//
// It reports whether the CFG changed, in which case dominance information
// must be recomputed.
func Destruct(g *ir.Graph) (bool, error) {
	split := cfg.SplitCriticalEdges(g, func(b *ir.Block) bool { return len(b.Phis()) > 0 })

	for _, blk := range g.Blocks {
		phis := blk.Phis()
		if len(phis) == 0 {
			continue
		}
		for _, phi := range phis {
			if len(phi.Uses) != len(blk.Preds) {
				return split, tysilaapi.Structural("ssa", "phi in blk%d has %d incoming values for %d predecessors",
					blk.ID, len(phi.Uses), len(blk.Preds)).At(phi.String(), phi.Offset)
			}
		}

		for j, p := range blk.Preds {
			moves := make([]pmove.Move[ir.VReg], 0, len(phis))
			for k, phi := range phis {
				src := phi.Uses[j]
				m := pmove.Move[ir.VReg]{Dst: phi.Defs[0].SSA, Index: k}
				if src.IsRenamed() {
					m.Src = src.SSA
				} else {
					m.Fixed = true
				}
				moves = append(moves, m)
			}

			tmp := g.NextVReg
			var copies []*ir.Instr
			for _, m := range pmove.Sequence(moves, tmp) {
				phi := phis[m.Index]
				t := phi.Defs[0].Type
				src := phi.Uses[j]
				if !m.Fixed {
					src = ir.Temp(m.Src, t)
				}
				dst := phi.Defs[0]
				if m.Dst == tmp {
					if tmp == g.NextVReg {
						g.AllocVReg()
					}
					dst = ir.Temp(tmp, t)
				}
				copies = append(copies, g.NewInstr(ir.OpStore, []ir.Operand{dst}, src))
			}
			g.Blocks[p].InsertBeforeTerminator(copies...)
		}

		for _, phi := range phis {
			phi.MakeNop()
		}
		blk.Instrs = blk.Instrs[len(phis):]
	}
	return split, nil
}

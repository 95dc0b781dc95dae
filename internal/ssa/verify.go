package ssa

import (
	"github.com/jncronin/tysos-sub010/internal/cfg"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Verify checks that g is in SSA form: every id has exactly one definition,
// and every use is dominated by it. A phi's i-th incoming value counts as a
// use at the end of the i-th predecessor.
func Verify(g *ir.Graph, dom *cfg.Dominance) error {
	type site struct {
		blk ir.BlockID
		pos int
	}
	defs := map[ir.VReg]site{}
	for _, blk := range g.Blocks {
		for pos, instr := range blk.Instrs {
			for _, d := range instr.Defs {
				if !d.IsVReg() {
					continue
				}
				if !d.IsRenamed() {
					return tysilaapi.Structural("ssa", "definition of %s is not renamed", d).At(instr.String(), instr.Offset)
				}
				if _, ok := defs[d.SSA]; ok {
					return tysilaapi.Structural("ssa", "v%d is defined twice", d.SSA).At(instr.String(), instr.Offset)
				}
				defs[d.SSA] = site{blk.ID, pos}
			}
		}
	}

	dominated := func(def site, blk ir.BlockID, pos int) bool {
		if def.blk == blk {
			return def.pos < pos
		}
		return dom.StrictlyDominates(def.blk, blk)
	}
	for _, blk := range g.Blocks {
		for pos, instr := range blk.Instrs {
			for i, u := range instr.Uses {
				if !u.IsVReg() {
					continue
				}
				def, ok := defs[u.SSA]
				if !u.IsRenamed() || !ok {
					return tysilaapi.Structural("ssa", "use of %s has no definition", u).At(instr.String(), instr.Offset)
				}
				at, atPos := blk.ID, pos
				if instr.Op == ir.OpPhi {
					at = blk.Preds[i]
					atPos = len(g.Blocks[at].Instrs)
				}
				if !dominated(def, at, atPos) {
					return tysilaapi.Structural("ssa", "definition of v%d does not dominate its use in blk%d", u.SSA, blk.ID).
						At(instr.String(), instr.Offset)
				}
			}
		}
	}
	return nil
}

package ssa

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// EliminateDeadCode removes instructions whose results are never read. The
// worklist starts with every SSA id; an id whose only remaining use is its own
// defining instruction (a phi feeding itself around a loop) counts as unused.
// Instructions with side effects are never removed. When an instruction goes,
// the producers of its inputs lose a use and are queued again.
//
// Removed instructions are dropped from their blocks. It returns the number of
// instructions removed; a second run on the result removes nothing.
func EliminateDeadCode(g *ir.Graph, ud *UseDef, logger *zap.Logger) int {
	logger = tysilaapi.OrNop(logger)

	n := ud.NumIDs()
	work := make([]ir.VReg, 0, n)
	queued := make([]bool, n)
	for id := n - 1; id >= 0; id-- {
		if ud.Def(ir.VReg(id)) != nil {
			work = append(work, ir.VReg(id))
			queued[id] = true
		}
	}

	removed := 0
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		queued[id] = false

		def := ud.Def(id)
		if def == nil || def.IsNop() || !isDead(ud, def) {
			continue
		}

		for _, u := range def.Uses {
			if !u.IsRenamed() {
				continue
			}
			ud.RemoveUse(u.SSA, def)
			if u.SSA != id && !queued[u.SSA] {
				queued[u.SSA] = true
				work = append(work, u.SSA)
			}
		}
		def.MakeNop()
		removed++
	}
	if removed > 0 {
		compactNops(g)
	}
	logger.Debug("dead code eliminated", zap.Int("removed", removed))
	return removed
}

func isDead(ud *UseDef, def *ir.Instr) bool {
	if def.Op.HasSideEffect() {
		return false
	}
	for _, d := range def.Defs {
		if !d.IsRenamed() || !ud.unusedExceptSelf(d.SSA, def) {
			return false
		}
	}
	return len(def.Defs) > 0
}

package cfg

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
)

// Build assembles a graph from per-block instruction lists and successor lists.
// edges[i] are the successors of block i, in branch order. The result is
// validated: blocks unreachable from block 0 are rejected.
func Build(name string, blocks [][]*ir.Instr, edges [][]ir.BlockID) (*ir.Graph, error) {
	g := ir.NewGraph(name)
	for _, instrs := range blocks {
		blk := g.AddBlock()
		blk.Instrs = instrs
	}
	for from, succs := range edges {
		for _, to := range succs {
			if int(to) >= len(g.Blocks) || to < 0 || from >= len(g.Blocks) {
				return nil, errOutOfRange(from, to)
			}
			g.AddEdge(ir.BlockID(from), to)
		}
	}
	g.NextVReg = maxVReg(g) + 1
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

func maxVReg(g *ir.Graph) ir.VReg {
	max := ir.VReg(-1)
	see := func(ops []ir.Operand) {
		for _, o := range ops {
			if o.IsRenamed() && o.SSA > max {
				max = o.SSA
			}
		}
	}
	for _, blk := range g.Blocks {
		for _, i := range blk.Instrs {
			see(i.Defs)
			see(i.Uses)
		}
	}
	return max
}

// SplitCriticalEdges inserts an empty block on every edge whose source has
// several successors and whose destination has several predecessors. When into
// is not nil only edges into blocks it accepts are split. Edge positions are
// preserved, so branch successor order and phi slot order do not change. It
// reports whether the graph changed.
func SplitCriticalEdges(g *ir.Graph, into func(*ir.Block) bool) bool {
	changed := false
	n := len(g.Blocks)
	for p := 0; p < n; p++ {
		pred := g.Blocks[p]
		if len(pred.Succs) < 2 {
			continue
		}
		for si, s := range pred.Succs {
			succ := g.Blocks[s]
			if len(succ.Preds) < 2 || (into != nil && !into(succ)) {
				continue
			}
			mid := g.AddBlock()
			g.Emit(mid.ID, ir.OpBr, nil)
			mid.Preds = []ir.BlockID{pred.ID}
			mid.Succs = []ir.BlockID{succ.ID}
			pred.Succs[si] = mid.ID
			// A block may reach the same successor twice; replace one slot per edge.
			for pi, x := range succ.Preds {
				if x == pred.ID {
					succ.Preds[pi] = mid.ID
					break
				}
			}
			changed = true
		}
	}
	return changed
}

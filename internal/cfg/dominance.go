// Package cfg validates method control-flow graphs and computes the dominator
// tree and dominance frontiers over them.
package cfg

import (
	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Dominance is the dominator tree and dominance frontier of a graph. It is a
// read-only view: recompute it whenever the CFG shape changes.
type Dominance struct {
	// ReversePostOrder lists the blocks in reverse postorder from the entry.
	ReversePostOrder []ir.BlockID
	// IDom is the immediate dominator of each block. The entry is its own idom.
	IDom []ir.BlockID
	// Children is the dominator tree.
	Children [][]ir.BlockID
	// Frontier is the dominance frontier of each block.
	Frontier []*bitset.Set
	// LoopHeaders marks blocks that are the target of a back edge.
	LoopHeaders *bitset.Set

	rpo []int
}

// Compute calculates the dominance information of g. Graphs with a block that
// cannot be reached from the entry are rejected. Compute also refreshes
// Block.LoopDepth.
func Compute(g *ir.Graph) (*Dominance, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}
	d := &Dominance{}
	d.ReversePostOrder = reversePostOrder(g)
	d.rpo = make([]int, len(g.Blocks))
	for i, blk := range d.ReversePostOrder {
		d.rpo[blk] = i
	}
	d.IDom = make([]ir.BlockID, len(g.Blocks))
	d.calculateDominators(g)

	d.Children = make([][]ir.BlockID, len(g.Blocks))
	for _, blk := range d.ReversePostOrder[1:] {
		idom := d.IDom[blk]
		d.Children[idom] = append(d.Children[idom], blk)
	}
	d.calculateFrontier(g)
	d.detectLoops(g)
	return d, nil
}

// reversePostOrder walks the successors of the entry with an explicit stack and
// returns the blocks in reverse postorder.
func reversePostOrder(g *ir.Graph) []ir.BlockID {
	const visitStateUnseen, visitStateSeen, visitStateDone = 0, 1, 2
	visited := make([]byte, len(g.Blocks))
	order := make([]ir.BlockID, 0, len(g.Blocks))

	stack := []ir.BlockID{0}
	visited[0] = visitStateSeen
	for len(stack) > 0 {
		tail := len(stack) - 1
		blk := stack[tail]
		stack = stack[:tail]
		switch visited[blk] {
		case visitStateUnseen:
			panic("BUG: unseen block on the explore stack")
		case visitStateSeen:
			// Push blk again so that it is emitted after all its successors.
			stack = append(stack, blk)
			succs := g.Blocks[blk].Succs
			// Reverse push order keeps Succs[0] first in the final order.
			for i := len(succs) - 1; i >= 0; i-- {
				succ := succs[i]
				if visited[succ] == visitStateUnseen {
					visited[succ] = visitStateSeen
					stack = append(stack, succ)
				}
			}
			visited[blk] = visitStateDone
		case visitStateDone:
			// Postorder for now.
			order = append(order, blk)
		}
	}
	for i := len(order)/2 - 1; i >= 0; i-- {
		j := len(order) - 1 - i
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// calculateDominators is the iterative algorithm of Cooper, Harvey and Kennedy,
// "A Simple, Fast Dominance Algorithm".
func (d *Dominance) calculateDominators(g *ir.Graph) {
	const undefined = ir.BlockID(-1)
	for i := range d.IDom {
		d.IDom[i] = undefined
	}
	entry, rest := d.ReversePostOrder[0], d.ReversePostOrder[1:]
	d.IDom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, blk := range rest {
			u := undefined
			for _, pred := range g.Blocks[blk].Preds {
				// Predecessors not processed yet are skipped; this matters for loops.
				if d.IDom[pred] == undefined {
					continue
				}
				if u == undefined {
					u = pred
				} else {
					u = d.intersect(u, pred)
				}
			}
			if d.IDom[blk] != u {
				d.IDom[blk] = u
				changed = true
			}
		}
	}
}

func (d *Dominance) intersect(b1, b2 ir.BlockID) ir.BlockID {
	finger1, finger2 := b1, b2
	for finger1 != finger2 {
		for d.rpo[finger1] > d.rpo[finger2] {
			finger1 = d.IDom[finger1]
		}
		for d.rpo[finger2] > d.rpo[finger1] {
			finger2 = d.IDom[finger2]
		}
	}
	return finger1
}

// calculateFrontier uses the join-point definition: y is in DF(x) when x
// dominates a predecessor of y but does not strictly dominate y. Walking up
// from each predecessor of a join point to the join's idom visits exactly those x.
func (d *Dominance) calculateFrontier(g *ir.Graph) {
	d.Frontier = make([]*bitset.Set, len(g.Blocks))
	for i := range d.Frontier {
		d.Frontier[i] = &bitset.Set{}
	}
	for _, blk := range d.ReversePostOrder {
		preds := g.Blocks[blk].Preds
		if len(preds) < 2 {
			continue
		}
		for _, pred := range preds {
			runner := pred
			for runner != d.IDom[blk] {
				d.Frontier[runner].Add(int(blk))
				if runner == d.IDom[runner] {
					break
				}
				runner = d.IDom[runner]
			}
		}
	}
}

// detectLoops marks loop headers and sets Block.LoopDepth by counting the
// natural loops each block belongs to.
func (d *Dominance) detectLoops(g *ir.Graph) {
	d.LoopHeaders = &bitset.Set{}
	depth := make([]int, len(g.Blocks))
	for _, blk := range g.Blocks {
		for _, pred := range blk.Preds {
			if !d.Dominates(blk.ID, pred) {
				continue
			}
			d.LoopHeaders.Add(int(blk.ID))
			// Natural loop of the back edge pred -> blk.
			body := bitset.New(int(blk.ID))
			work := []ir.BlockID{pred}
			for len(work) > 0 {
				n := work[len(work)-1]
				work = work[:len(work)-1]
				if !body.Add(int(n)) {
					continue
				}
				work = append(work, g.Blocks[n].Preds...)
			}
			body.Range(func(id int) { depth[id]++ })
		}
	}
	for i, blk := range g.Blocks {
		blk.LoopDepth = depth[i]
	}
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (d *Dominance) Dominates(a, b ir.BlockID) bool {
	for {
		if a == b {
			return true
		}
		idom := d.IDom[b]
		if idom == b {
			return false
		}
		b = idom
	}
}

// StrictlyDominates reports whether a dominates b and a != b.
func (d *Dominance) StrictlyDominates(a, b ir.BlockID) bool {
	return a != b && d.Dominates(a, b)
}

// IteratedFrontier returns DF+ of the given blocks: the fixpoint of adding the
// frontier of every block already in the set.
func (d *Dominance) IteratedFrontier(blocks *bitset.Set) *bitset.Set {
	ret := &bitset.Set{}
	work := blocks.Slice()
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		d.Frontier[n].Range(func(y int) {
			if ret.Add(y) {
				work = append(work, y)
			}
		})
	}
	return ret
}

// Validate checks the structural invariants the passes rely on: a non-empty
// graph, consistent edge lists, operand counts that fit each opcode and every
// block reachable from the entry.
func Validate(g *ir.Graph) error {
	if len(g.Blocks) == 0 {
		return tysilaapi.Structural("cfg", "method %s has no blocks", g.Name)
	}
	if len(g.Blocks[0].Preds) > 0 {
		return tysilaapi.Structural("cfg", "entry block has predecessors %v", g.Blocks[0].Preds)
	}
	for i, blk := range g.Blocks {
		if blk.ID != ir.BlockID(i) {
			return tysilaapi.Structural("cfg", "block at index %d has id %d", i, blk.ID)
		}
		for _, s := range blk.Succs {
			if int(s) >= len(g.Blocks) || s < 0 {
				return tysilaapi.Structural("cfg", "blk%d has out of range successor %d", i, s)
			}
			if g.Blocks[s].PredIndex(blk.ID) < 0 {
				return tysilaapi.Structural("cfg", "edge blk%d -> blk%d missing from predecessor list", i, s)
			}
		}
		if i != 0 && len(blk.Preds) == 0 {
			return tysilaapi.Structural("cfg", "blk%d is unreachable from entry", i)
		}
		for _, instr := range blk.Instrs {
			if err := instr.CheckOperands(); err != nil {
				return tysilaapi.Structural("cfg", "blk%d: %v", i, err).At(instr.String(), instr.Offset)
			}
		}
	}
	reached := bitset.New(0)
	work := []ir.BlockID{0}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.Blocks[n].Succs {
			if reached.Add(int(s)) {
				work = append(work, s)
			}
		}
	}
	for i := range g.Blocks {
		if !reached.Has(i) {
			return tysilaapi.Structural("cfg", "blk%d is unreachable from entry", i)
		}
	}
	return nil
}

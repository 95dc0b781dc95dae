// Package liveness computes live variable sets by backward dataflow over a
// method's blocks, at the level of SSA values, virtual registers or physical
// registers depending on the view of the method it is given.
package liveness

import (
	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/ir"
)

// Function is the view of a method the analysis runs on. Keys are small
// non-negative integers naming whatever is tracked.
type Function interface {
	NumBlocks() int
	Succs(b ir.BlockID) []ir.BlockID
	// Instructions calls fn for every instruction of b in order with the keys
	// it reads and writes. The slices are only valid during the call.
	Instructions(b ir.BlockID, fn func(uses, defs []int))
}

// Result holds the per-block sets, indexed by block id.
type Result struct {
	Gen, Kill       []*bitset.Set
	LiveIn, LiveOut []*bitset.Set
	// Iterations is the number of passes until the fixpoint, including the
	// final one that changed nothing.
	Iterations int
}

// Analyze computes gen, kill and the live-in and live-out sets of every block
// of fn. gen holds the keys read before any definition in the block, kill
// those defined before any read. The fixpoint iterates
//
//	live_out(b) = U live_in(s) for s in succ(b)
//	live_in(b)  = gen(b) U (live_out(b) - kill(b))
//
// over the blocks in reverse linear order until nothing changes.
func Analyze(fn Function) *Result {
	n := fn.NumBlocks()
	r := &Result{
		Gen:     make([]*bitset.Set, n),
		Kill:    make([]*bitset.Set, n),
		LiveIn:  make([]*bitset.Set, n),
		LiveOut: make([]*bitset.Set, n),
	}
	for b := 0; b < n; b++ {
		gen, kill := &bitset.Set{}, &bitset.Set{}
		fn.Instructions(ir.BlockID(b), func(uses, defs []int) {
			for _, u := range uses {
				if !kill.Has(u) {
					gen.Add(u)
				}
			}
			for _, d := range defs {
				if !gen.Has(d) {
					kill.Add(d)
				}
			}
		})
		r.Gen[b], r.Kill[b] = gen, kill
		r.LiveIn[b], r.LiveOut[b] = gen.Clone(), &bitset.Set{}
	}

	tmp := &bitset.Set{}
	for changed := true; changed; {
		changed = false
		r.Iterations++
		for b := n - 1; b >= 0; b-- {
			out := r.LiveOut[b]
			for _, s := range fn.Succs(ir.BlockID(b)) {
				if out.Union(r.LiveIn[s]) {
					changed = true
				}
			}
			tmp.CopyFrom(out)
			tmp.Difference(r.Kill[b])
			if r.LiveIn[b].Union(tmp) {
				changed = true
			}
		}
	}
	return r
}

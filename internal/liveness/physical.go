package liveness

import (
	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

// Live is the set of physical registers live before and after an instruction.
type Live struct {
	In, Out target.RegSet
}

// PhysicalResult is register-level liveness of allocated machine code.
type PhysicalResult struct {
	*Result
	// At holds the sets of the instructions for which NeedsRegLiveness holds.
	At map[*ir.MInst]Live
}

// NeedsRegLiveness reports whether Physical records the live registers around m:
// the call markers, where caller-saved registers are saved and restored.
func NeedsRegLiveness(m *ir.MInst) bool {
	return m.Op == ir.MachPrecall || m.Op == ir.MachPostcall
}

// Physical computes physical register liveness over the machine code of g,
// once registers have been allocated. The block-level fixpoint is followed by
// a backward walk of each block, instruction by instruction.
func Physical(g *ir.Graph) *PhysicalResult {
	r := &PhysicalResult{Result: Analyze(Machine(g, ByReg)), At: map[*ir.MInst]Live{}}

	live := &bitset.Set{}
	var uses, defs []int
	for _, blk := range g.Blocks {
		code := blk.MachineCode()
		if !hasMarker(code) {
			continue
		}
		live.CopyFrom(r.LiveOut[blk.ID])
		for i := len(code) - 1; i >= 0; i-- {
			m := code[i]
			out := toRegSet(live)
			uses, defs = Operands(m, ByReg, uses[:0], defs[:0])
			for _, d := range defs {
				live.Remove(d)
			}
			for _, u := range uses {
				live.Add(u)
			}
			if NeedsRegLiveness(m) {
				r.At[m] = Live{In: toRegSet(live), Out: out}
			}
		}
	}
	return r
}

func hasMarker(code []*ir.MInst) bool {
	for _, m := range code {
		if NeedsRegLiveness(m) {
			return true
		}
	}
	return false
}

func toRegSet(s *bitset.Set) target.RegSet {
	var rs target.RegSet
	s.Range(func(id int) { rs = rs.Add(ir.RegID(id)) })
	return rs
}

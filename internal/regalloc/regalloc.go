// Package regalloc assigns physical registers to the virtual registers of
// lowered machine code by iterated register coalescing.
package regalloc

// References:
// * Appel, "Modern Compiler Implementation", chapter 11.
// * George and Appel, "Iterated Register Coalescing", TOPLAS 18(3), 1996.

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// maxRounds bounds the spill-and-retry loop. Each round spills at least one
// value that is not a spill temporary.
const maxRounds = 64

// Options configure Allocate.
type Options struct {
	// Registers limits allocation to the first Registers allocatable
	// registers of the target. Zero means all of them.
	Registers int
	// Validate checks the final coloring against the interference graph.
	Validate bool
	Logger   *zap.Logger
}

// Round describes one build-color cycle.
type Round struct {
	Spilled, Coalesced int
}

// Result is the outcome of Allocate.
type Result struct {
	Rounds []Round
	// Colors maps every virtual register of the final code to its register.
	Colors map[ir.VReg]ir.RegID
	// Clobbered holds every register written by the final code.
	Clobbered target.RegSet
	// SpillSlots is the number of pointer-sized spill slots used.
	SpillSlots int
}

// K returns the number of colors the allocator used.
func K(t *target.Target, opts Options) int {
	k := len(t.Allocatable())
	if opts.Registers > 0 && opts.Registers < k {
		k = opts.Registers
	}
	return k
}

// Allocate rewrites every virtual register operand of the machine code of g
// into a physical register, inserting spill code as needed.
func Allocate(g *ir.Graph, t *target.Target, opts Options) (*Result, error) {
	logger := tysilaapi.OrNop(opts.Logger)
	palette := t.Allocatable()[:K(t, opts)]
	if len(palette) == 0 {
		return nil, tysilaapi.Structural("regalloc", "no allocatable registers")
	}

	res := &Result{}
	spillTemps := map[ir.VReg]bool{}
	for round := 0; ; round++ {
		if round == maxRounds {
			return nil, tysilaapi.Structural("regalloc", "no coloring after %d rounds", maxRounds)
		}
		a := newAllocator(g, t, palette, spillTemps)
		if err := a.build(); err != nil {
			return nil, err
		}
		a.makeWorklist()
		a.reduce()
		a.assignColors()

		res.Rounds = append(res.Rounds, Round{Spilled: len(a.spilledNodes), Coalesced: a.coalescedMoves})
		logger.Debug("coloring round",
			zap.Int("round", round),
			zap.Int("nodes", a.numNodes()),
			zap.Int("spilled", len(a.spilledNodes)),
			zap.Int("coalesced", a.coalescedMoves))

		if len(a.spilledNodes) == 0 {
			if opts.Validate {
				if err := a.validate(); err != nil {
					return nil, err
				}
			}
			a.apply(res)
			return res, nil
		}

		progress := false
		for _, n := range a.spilledNodes {
			if !spillTemps[a.vreg(n)] {
				progress = true
			}
		}
		if !progress {
			return nil, tysilaapi.Structural("regalloc", "uncolorable: only spill temporaries left to spill")
		}
		if err := a.rewriteProgram(res, spillTemps); err != nil {
			return nil, err
		}
	}
}

// apply replaces virtual registers by their colors and fills res.
func (a *allocator) apply(res *Result) {
	res.Colors = map[ir.VReg]ir.RegID{}
	for _, blk := range a.g.Blocks {
		for _, instr := range blk.Instrs {
			for _, m := range instr.Machine {
				for i := range m.Args {
					o := &m.Args[i]
					if o.IsRenamed() {
						r := ir.RegID(a.color[a.node(o.SSA)])
						res.Colors[o.SSA] = r
						*o = ir.Operand{Kind: ir.OperandReg, Type: o.Type, Role: o.Role, Reg: r, SSA: ir.NoVReg}
					}
					if o.Kind == ir.OperandReg && o.Role == ir.RoleDef {
						res.Clobbered = res.Clobbered.Add(o.Reg)
					}
				}
			}
		}
	}
}

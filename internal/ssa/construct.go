// Package ssa converts method graphs into SSA form, runs the SSA level
// optimizations (constant propagation, dead code elimination) and converts
// the result back into copies.
package ssa

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/cfg"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Construct renames the evaluation-stack variables of g into SSA virtual
// registers. Phis are placed on the iterated dominance frontier of each
// variable's definition sites; the rename is a depth-first walk of the
// dominator tree keeping one stack of reaching definitions per variable.
// SSA ids are unique across the whole method.
//
// Operands that already carry an SSA id are left alone.
func Construct(g *ir.Graph, dom *cfg.Dominance, logger *zap.Logger) error {
	logger = tysilaapi.OrNop(logger)

	c := &constructor{g: g, dom: dom}
	c.collectDefSites()
	phis := c.placePhis()

	c.stacks = make([][]ir.VReg, len(c.types))
	if err := c.rename(0); err != nil {
		return err
	}
	removed, err := c.pruneUndefinedPhis()
	if err != nil {
		return err
	}
	logger.Debug("ssa constructed",
		zap.Int("variables", len(c.types)),
		zap.Int("phis", phis-removed),
		zap.Int("vregs", int(g.NextVReg)))
	return nil
}

type constructor struct {
	g   *ir.Graph
	dom *cfg.Dominance
	// defSites[a] are the blocks defining variable a ("Aorig" per block, inverted).
	defSites []*bitset.Set
	// types[a] is the type class of variable a, taken from its first definition.
	types   []ir.TypeClass
	defined []bool
	stacks  [][]ir.VReg
	// undefined holds phis with at least one slot no definition reaches.
	undefined []*ir.Instr
}

func (c *constructor) variable(o ir.Operand) (int, bool) {
	if o.Kind != ir.OperandVReg || o.SSA != ir.NoVReg || o.Var < 0 {
		return 0, false
	}
	return o.Var, true
}

func (c *constructor) grow(a int) {
	for len(c.types) <= a {
		c.types = append(c.types, ir.TypeVoid)
		c.defined = append(c.defined, false)
		c.defSites = append(c.defSites, &bitset.Set{})
	}
}

func (c *constructor) collectDefSites() {
	for _, blk := range c.g.Blocks {
		for _, instr := range blk.Instrs {
			for _, u := range instr.Uses {
				if a, ok := c.variable(u); ok {
					c.grow(a)
				}
			}
			for _, d := range instr.Defs {
				a, ok := c.variable(d)
				if !ok {
					continue
				}
				c.grow(a)
				if !c.defined[a] {
					c.types[a], c.defined[a] = d.Type, true
				}
				c.defSites[a].Add(int(blk.ID))
			}
		}
	}
}

// placePhis inserts one phi per variable per join block in the iterated
// dominance frontier of its definition sites. It returns the number of phis.
func (c *constructor) placePhis() int {
	count := 0
	for a := range c.types {
		if !c.defined[a] {
			continue
		}
		hasPhi := &bitset.Set{} // "Aphi"
		work := c.defSites[a].Slice()
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			c.dom.Frontier[n].Range(func(y int) {
				if !hasPhi.Add(y) {
					return
				}
				c.insertPhi(ir.BlockID(y), a)
				count++
				if !c.defSites[a].Has(y) {
					work = append(work, y)
				}
			})
		}
	}
	return count
}

func (c *constructor) insertPhi(at ir.BlockID, a int) {
	blk := c.g.Blocks[at]
	t := c.types[a]
	uses := make([]ir.Operand, len(blk.Preds))
	for i := range uses {
		uses[i] = ir.Var(a, t)
	}
	phi := c.g.NewInstr(ir.OpPhi, []ir.Operand{ir.Var(a, t)}, uses...)
	blk.Instrs = append([]*ir.Instr{phi}, blk.Instrs...)
}

func (c *constructor) top(a int) (ir.VReg, bool) {
	s := c.stacks[a]
	if len(s) == 0 {
		return ir.NoVReg, false
	}
	return s[len(s)-1], true
}

func (c *constructor) rename(n ir.BlockID) error {
	blk := c.g.Blocks[n]
	var pushed []int
	for _, instr := range blk.Instrs {
		if instr.Op != ir.OpPhi {
			for i := range instr.Uses {
				u := &instr.Uses[i]
				a, ok := c.variable(*u)
				if !ok {
					continue
				}
				id, ok := c.top(a)
				if !ok {
					return tysilaapi.Structural("ssa", "s%d used in blk%d before any definition", a, n).
						At(instr.String(), instr.Offset)
				}
				u.SSA = id
			}
		}
		for i := range instr.Defs {
			d := &instr.Defs[i]
			a, ok := c.variable(*d)
			if !ok {
				continue
			}
			id := c.g.AllocVReg()
			c.stacks[a] = append(c.stacks[a], id)
			pushed = append(pushed, a)
			d.SSA = id
		}
	}

	for _, s := range uniqueSuccs(blk) {
		succ := c.g.Blocks[s]
		for j, p := range succ.Preds {
			if p != n {
				continue
			}
			for _, phi := range succ.Phis() {
				u := &phi.Uses[j]
				a, ok := c.variable(*u)
				if !ok {
					continue
				}
				if id, ok := c.top(a); ok {
					u.SSA = id
				} else {
					u.Kind = ir.OperandNone
					c.undefined = append(c.undefined, phi)
				}
			}
		}
	}

	for _, child := range c.dom.Children[n] {
		if err := c.rename(child); err != nil {
			return err
		}
	}

	for _, a := range pushed {
		c.stacks[a] = c.stacks[a][:len(c.stacks[a])-1]
	}
	return nil
}

func uniqueSuccs(blk *ir.Block) []ir.BlockID {
	ret := make([]ir.BlockID, 0, len(blk.Succs))
	for _, s := range blk.Succs {
		dup := false
		for _, x := range ret {
			if x == s {
				dup = true
				break
			}
		}
		if !dup {
			ret = append(ret, s)
		}
	}
	return ret
}

// pruneUndefinedPhis runs when some phi merges a value that is not defined on
// every incoming path. Phis that no real instruction needs, directly or
// through other phis, are removed; a needed phi with an undefined slot means a
// variable is read on a path where it was never written.
func (c *constructor) pruneUndefinedPhis() (int, error) {
	if len(c.undefined) == 0 {
		return 0, nil
	}
	ud := BuildUseDef(c.g)
	needed := map[*ir.Instr]bool{}
	var work []*ir.Instr
	mark := func(uses []ir.Operand) {
		for _, u := range uses {
			if !u.IsRenamed() {
				continue
			}
			if p := ud.Def(u.SSA); p != nil && p.Op == ir.OpPhi && !needed[p] {
				needed[p] = true
				work = append(work, p)
			}
		}
	}
	for _, blk := range c.g.Blocks {
		for _, instr := range blk.Instrs {
			if instr.Op != ir.OpPhi {
				mark(instr.Uses)
			}
		}
	}
	for len(work) > 0 {
		phi := work[len(work)-1]
		work = work[:len(work)-1]
		mark(phi.Uses)
	}

	removed := 0
	for _, blk := range c.g.Blocks {
		for _, phi := range blk.Phis() {
			if !needed[phi] {
				phi.MakeNop()
				removed++
				continue
			}
			for _, u := range phi.Uses {
				if u.Kind == ir.OperandNone {
					return removed, tysilaapi.Structural("ssa", "s%d is not defined on every path into blk%d", phi.Defs[0].Var, blk.ID).
						At(phi.String(), phi.Offset)
				}
			}
		}
	}
	compactNops(c.g)
	return removed, nil
}

// compactNops drops removed instructions so that the phis of every block stay
// at its start.
func compactNops(g *ir.Graph) {
	for _, blk := range g.Blocks {
		out := blk.Instrs[:0]
		for _, i := range blk.Instrs {
			if i.Op == ir.OpNop && len(i.Machine) == 0 {
				continue
			}
			out = append(out, i)
		}
		blk.Instrs = out
	}
}

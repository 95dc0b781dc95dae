package ssa

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
)

// UseDef maps every SSA id to its defining instruction and to the
// instructions reading it. An instruction reading an id twice is listed twice.
type UseDef struct {
	defs  []*ir.Instr
	uses  [][]*ir.Instr
	block map[*ir.Instr]ir.BlockID
}

// BuildUseDef scans g and returns its use-def information.
func BuildUseDef(g *ir.Graph) *UseDef {
	ud := &UseDef{
		defs:  make([]*ir.Instr, g.NextVReg),
		uses:  make([][]*ir.Instr, g.NextVReg),
		block: make(map[*ir.Instr]ir.BlockID, g.NumInstrs()),
	}
	for _, blk := range g.Blocks {
		for _, instr := range blk.Instrs {
			ud.block[instr] = blk.ID
			for _, d := range instr.Defs {
				if d.IsRenamed() {
					ud.grow(d.SSA)
					ud.defs[d.SSA] = instr
				}
			}
			for _, u := range instr.Uses {
				if u.IsRenamed() {
					ud.grow(u.SSA)
					ud.uses[u.SSA] = append(ud.uses[u.SSA], instr)
				}
			}
		}
	}
	return ud
}

func (ud *UseDef) grow(id ir.VReg) {
	for int(id) >= len(ud.defs) {
		ud.defs = append(ud.defs, nil)
		ud.uses = append(ud.uses, nil)
	}
}

// NumIDs returns one more than the largest SSA id seen.
func (ud *UseDef) NumIDs() int { return len(ud.defs) }

// Def returns the instruction defining id, or nil.
func (ud *UseDef) Def(id ir.VReg) *ir.Instr {
	if int(id) >= len(ud.defs) || id < 0 {
		return nil
	}
	return ud.defs[id]
}

// Uses returns the instructions reading id.
func (ud *UseDef) Uses(id ir.VReg) []*ir.Instr {
	if int(id) >= len(ud.uses) || id < 0 {
		return nil
	}
	return ud.uses[id]
}

// Block returns the block holding instr.
func (ud *UseDef) Block(instr *ir.Instr) ir.BlockID { return ud.block[instr] }

// RemoveUse drops one occurrence of instr from the use-set of id. It reports
// whether there was one.
func (ud *UseDef) RemoveUse(id ir.VReg, instr *ir.Instr) bool {
	us := ud.Uses(id)
	for i, u := range us {
		if u == instr {
			ud.uses[id] = append(us[:i], us[i+1:]...)
			return true
		}
	}
	return false
}

// unusedExceptSelf reports whether id has no uses, or exactly one use which
// is its own defining instruction.
func (ud *UseDef) unusedExceptSelf(id ir.VReg, def *ir.Instr) bool {
	us := ud.Uses(id)
	return len(us) == 0 || (len(us) == 1 && us[0] == def)
}

package liveness

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
)

type irView struct {
	g          *ir.Graph
	uses, defs []int
}

// IR returns the view of g tracking SSA ids in its IR instructions. The i-th
// incoming value of a phi is read at the end of the i-th predecessor rather
// than in the phi's block.
func IR(g *ir.Graph) Function { return &irView{g: g} }

func (v *irView) NumBlocks() int { return len(v.g.Blocks) }

func (v *irView) Succs(b ir.BlockID) []ir.BlockID { return v.g.Blocks[b].Succs }

func (v *irView) Instructions(b ir.BlockID, fn func(uses, defs []int)) {
	blk := v.g.Blocks[b]
	for _, instr := range blk.Instrs {
		v.uses, v.defs = v.uses[:0], v.defs[:0]
		if instr.Op != ir.OpPhi {
			v.uses = appendRenamed(v.uses, instr.Uses)
		}
		v.defs = appendRenamed(v.defs, instr.Defs)
		fn(v.uses, v.defs)
	}
	for _, s := range blk.Succs {
		succ := v.g.Blocks[s]
		v.uses = v.uses[:0]
		for j, p := range succ.Preds {
			if p != b {
				continue
			}
			for _, phi := range succ.Phis() {
				if u := phi.Uses[j]; u.IsRenamed() {
					v.uses = append(v.uses, int(u.SSA))
				}
			}
		}
		if len(v.uses) > 0 {
			fn(v.uses, nil)
		}
	}
}

func appendRenamed(dst []int, ops []ir.Operand) []int {
	for _, o := range ops {
		if o.IsRenamed() {
			dst = append(dst, int(o.SSA))
		}
	}
	return dst
}

// Key maps a machine operand to the key tracked for it, if any.
type Key func(o ir.Operand) (int, bool)

// ByVReg tracks virtual registers by id.
func ByVReg(o ir.Operand) (int, bool) {
	if o.IsRenamed() {
		return int(o.SSA), true
	}
	return 0, false
}

// ByReg tracks physical registers by id.
func ByReg(o ir.Operand) (int, bool) {
	if o.Kind == ir.OperandReg {
		return int(o.Reg), true
	}
	return 0, false
}

type machineView struct {
	g          *ir.Graph
	key        Key
	uses, defs []int
}

// Machine returns the view of g tracking the machine operands selected by key.
func Machine(g *ir.Graph, key Key) Function { return &machineView{g: g, key: key} }

func (v *machineView) NumBlocks() int { return len(v.g.Blocks) }

func (v *machineView) Succs(b ir.BlockID) []ir.BlockID { return v.g.Blocks[b].Succs }

func (v *machineView) Instructions(b ir.BlockID, fn func(uses, defs []int)) {
	for _, instr := range v.g.Blocks[b].Instrs {
		for _, m := range instr.Machine {
			v.uses, v.defs = Operands(m, v.key, v.uses[:0], v.defs[:0])
			fn(v.uses, v.defs)
		}
	}
}

// Operands appends the keys read and written by m to uses and defs. The base
// register of a memory operand is read whatever the operand's role.
func Operands(m *ir.MInst, key Key, uses, defs []int) ([]int, []int) {
	for _, a := range m.Args {
		if a.Kind == ir.OperandMem {
			if k, ok := key(ir.Reg(a.Reg, ir.TypeVoid)); ok {
				uses = append(uses, k)
			}
			continue
		}
		k, ok := key(a)
		if !ok {
			continue
		}
		switch a.Role {
		case ir.RoleUse:
			uses = append(uses, k)
		case ir.RoleDef:
			defs = append(defs, k)
		}
	}
	return uses, defs
}

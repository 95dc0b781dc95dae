package regalloc

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// rewriteProgram gives every spilled virtual register a stack slot. Each
// machine instruction touching one reads it into a fresh temporary first and
// writes the temporary back after, so that the spilled value is only held in
// a register across a single instruction.
func (a *allocator) rewriteProgram(res *Result, spillTemps map[ir.VReg]bool) error {
	slots := make(map[ir.VReg]int, len(a.spilledNodes))
	for _, n := range a.spilledNodes {
		slots[a.vreg(n)] = res.SpillSlots
		res.SpillSlots++
	}

	for _, blk := range a.g.Blocks {
		for _, instr := range blk.Instrs {
			if len(instr.Machine) == 0 {
				continue
			}
			code := make([]*ir.MInst, 0, len(instr.Machine))
			for _, m := range instr.Machine {
				var before, after []*ir.MInst
				temps := map[ir.VReg]ir.VReg{}
				for i := range m.Args {
					o := &m.Args[i]
					if !o.IsRenamed() {
						continue
					}
					slot, ok := slots[o.SSA]
					if !ok {
						continue
					}
					mem := ir.Spill(slot, o.Type)
					t, seen := temps[o.SSA]
					if !seen {
						t = a.g.AllocVReg()
						temps[o.SSA] = t
						spillTemps[t] = true
					}
					tmp := ir.Temp(t, o.Type)

					switch o.Role {
					case ir.RoleUse:
						if !reads(before, t) {
							ld := a.t.Move(a.g, tmp, mem)
							if ld == nil {
								return tysilaapi.Unsupported("regalloc", "unable to reload spill slot").At(m.Format(a.t), instr.Offset)
							}
							before = append(before, ld)
						}
					case ir.RoleDef:
						if !writes(after, t) {
							st := a.t.Move(a.g, mem, tmp)
							if st == nil {
								return tysilaapi.Unsupported("regalloc", "unable to store spill slot").At(m.Format(a.t), instr.Offset)
							}
							after = append(after, st)
						}
					}
					tmp.Role = o.Role
					*o = tmp
				}
				code = append(code, before...)
				code = append(code, m)
				code = append(code, after...)
			}
			instr.Machine = code
		}
	}
	return nil
}

// reads reports whether the reloads in code already define t.
func reads(code []*ir.MInst, t ir.VReg) bool {
	for _, m := range code {
		if len(m.Args) > 0 && m.Args[0].IsRenamed() && m.Args[0].SSA == t {
			return true
		}
	}
	return false
}

// writes reports whether the stores in code already read t.
func writes(code []*ir.MInst, t ir.VReg) bool {
	for _, m := range code {
		if len(m.Args) > 1 && m.Args[1].IsRenamed() && m.Args[1].SSA == t {
			return true
		}
	}
	return false
}

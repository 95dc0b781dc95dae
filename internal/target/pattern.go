package target

import (
	"fmt"

	"github.com/jncronin/tysos-sub010/internal/ir"
)

// SlotKind says where the operand of a pattern instruction comes from.
type SlotKind byte

const (
	// SlotUse copies the N-th use of the IR instruction.
	SlotUse SlotKind = iota + 1
	// SlotDef copies the N-th def of the IR instruction.
	SlotDef
	// SlotTemp is the N-th fresh virtual register of the expansion.
	SlotTemp
	// SlotCond is the condition code of the IR instruction.
	SlotCond
	// SlotInvCond is its inverse.
	SlotInvCond
	// SlotBranch is the N-th successor of the instruction's block.
	SlotBranch
	// SlotConst is the pointer-sized literal Imm.
	SlotConst
	// SlotReg is the fixed physical register Reg.
	SlotReg
)

// Slot is an operand of a pattern instruction.
type Slot struct {
	Kind SlotKind
	N    int
	Role ir.Role
	Imm  int64
	Reg  ir.RegID
}

// Use returns the slot reading the n-th use.
func Use(n int) Slot { return Slot{Kind: SlotUse, N: n, Role: ir.RoleUse} }

// Def returns the slot writing the n-th def.
func Def(n int) Slot { return Slot{Kind: SlotDef, N: n, Role: ir.RoleDef} }

// DefRead returns the slot reading the n-th def, for two-address forms that
// read the destination they write.
func DefRead(n int) Slot { return Slot{Kind: SlotDef, N: n, Role: ir.RoleUse} }

// TempDef returns the slot writing the n-th temporary.
func TempDef(n int) Slot { return Slot{Kind: SlotTemp, N: n, Role: ir.RoleDef} }

// TempUse returns the slot reading the n-th temporary.
func TempUse(n int) Slot { return Slot{Kind: SlotTemp, N: n, Role: ir.RoleUse} }

// CondCode returns the condition code slot.
func CondCode() Slot { return Slot{Kind: SlotCond} }

// InvCondCode returns the inverted condition code slot.
func InvCondCode() Slot { return Slot{Kind: SlotInvCond} }

// Branch returns the slot of the n-th successor.
func Branch(n int) Slot { return Slot{Kind: SlotBranch, N: n} }

// ConstUse returns a literal slot.
func ConstUse(v int64) Slot { return Slot{Kind: SlotConst, Imm: v, Role: ir.RoleUse} }

// RegUse returns the slot reading a fixed register.
func RegUse(r ir.RegID) Slot { return Slot{Kind: SlotReg, Reg: r, Role: ir.RoleUse} }

// RegDef returns the slot writing a fixed register.
func RegDef(r ir.RegID) Slot { return Slot{Kind: SlotReg, Reg: r, Role: ir.RoleDef} }

// PatternInstr is one machine instruction of a pattern.
type PatternInstr struct {
	Op    ir.MachOp
	Slots []Slot
}

// I returns a pattern instruction.
func I(op ir.MachOp, slots ...Slot) PatternInstr {
	return PatternInstr{Op: op, Slots: slots}
}

// Pattern is the machine code template of one IR signature.
type Pattern []PatternInstr

// Temps returns the number of fresh virtual registers p needs.
func (p Pattern) Temps() int {
	n := 0
	for _, in := range p {
		for _, s := range in.Slots {
			if s.Kind == SlotTemp && s.N >= n {
				n = s.N + 1
			}
		}
	}
	return n
}

// PatternTable maps instruction signatures to patterns. It is filled once
// while a target is built and only read afterwards.
type PatternTable struct {
	m map[string]Pattern
}

// NewPatternTable returns an empty table.
func NewPatternTable() *PatternTable {
	return &PatternTable{m: map[string]Pattern{}}
}

// Add registers p for op with the given decorated use and def types.
func (pt *PatternTable) Add(op ir.Opcode, uses, defs []ir.Decorated, p Pattern) error {
	sig := ir.Signature{Op: op, Uses: uses, Defs: defs}
	k := sig.Key()
	if _, ok := pt.m[k]; ok {
		return fmt.Errorf("duplicate pattern for %s", sig)
	}
	if len(p) == 0 {
		return fmt.Errorf("empty pattern for %s", sig)
	}
	for _, in := range p {
		for _, s := range in.Slots {
			switch {
			case s.Kind == SlotUse && s.N >= len(uses):
				return fmt.Errorf("pattern for %s reads use %d", sig, s.N)
			case s.Kind == SlotDef && s.N >= len(defs):
				return fmt.Errorf("pattern for %s reads def %d", sig, s.N)
			}
		}
	}
	pt.m[k] = p
	return nil
}

// AddEach registers p for every combination of use types, uses[i] listing
// the candidates of the i-th use.
func (pt *PatternTable) AddEach(op ir.Opcode, uses [][]ir.Decorated, defs []ir.Decorated, p Pattern) error {
	cur := make([]ir.Decorated, len(uses))
	var walk func(i int) error
	walk = func(i int) error {
		if i == len(uses) {
			return pt.Add(op, append([]ir.Decorated(nil), cur...), defs, p)
		}
		for _, d := range uses[i] {
			cur[i] = d
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0)
}

// Len returns the number of patterns.
func (pt *PatternTable) Len() int { return len(pt.m) }

func (pt *PatternTable) lookup(sig ir.Signature) (Pattern, bool) {
	p, ok := pt.m[sig.Key()]
	return p, ok
}

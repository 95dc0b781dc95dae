package target

import (
	"fmt"

	"github.com/jncronin/tysos-sub010/internal/ir"
)

// ArgKind is where an argument is passed.
type ArgKind byte

const (
	// ArgKindReg is an argument passed in a register.
	ArgKindReg ArgKind = iota
	// ArgKindStack is an argument passed on the stack.
	ArgKindStack
)

// String implements fmt.Stringer.
func (k ArgKind) String() string {
	switch k {
	case ArgKindReg:
		return "reg"
	case ArgKindStack:
		return "stack"
	default:
		panic("BUG")
	}
}

// ArgLoc is the location of an argument.
type ArgLoc struct {
	Kind ArgKind
	// Reg is valid if Kind == ArgKindReg.
	Reg ir.RegID
	// Offset is valid if Kind == ArgKindStack. It is relative to the first
	// stack argument, which the caller pushes last.
	Offset int64
	// Type is the argument's class, with pointer-sized classes resolved.
	Type ir.TypeClass
}

// String implements fmt.Stringer.
func (a ArgLoc) String() string {
	if a.Kind == ArgKindReg {
		return fmt.Sprintf("reg r%d %s", a.Reg, a.Type)
	}
	return fmt.Sprintf("stack +%d %s", a.Offset, a.Type)
}

// Convention is a calling convention.
type Convention struct {
	Name string
	// ArgRegs are the registers of the first general purpose arguments, in order.
	ArgRegs   []ir.RegID
	ReturnReg ir.RegID
	// CallerSaved registers may be overwritten by a callee; CalleeSaved ones
	// must be restored by it.
	CallerSaved, CalleeSaved RegSet
}

// PlaceArgs returns the location of arguments of the given classes under
// conv and the number of bytes of stack arguments. Every stack slot is a
// pointer-aligned multiple of the pointer size.
func (t *Target) PlaceArgs(conv *Convention, types []ir.TypeClass) ([]ArgLoc, int64) {
	locs := make([]ArgLoc, len(types))
	var stack int64
	next := 0
	for i, c := range types {
		rc := c.Resolve(t.ptr)
		loc := &locs[i]
		loc.Type = rc
		if next < len(conv.ArgRegs) && t.ClassOf(rc) == ClassGPR && t.SizeOf(rc) <= t.ptrSize {
			loc.Kind, loc.Reg = ArgKindReg, conv.ArgRegs[next]
			next++
			continue
		}
		loc.Kind, loc.Offset = ArgKindStack, stack
		size := t.SizeOf(rc)
		if size < t.ptrSize {
			size = t.ptrSize
		}
		stack += t.Align(size)
	}
	return locs, stack
}

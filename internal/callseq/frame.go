// Package callseq turns the generic markers left by lowering into the frame
// setup, the callee-preserve saves and the call sequences of the method's
// calling convention, once registers are allocated. It also resolves stack
// slot operands into frame-pointer relative memory operands.
package callseq

import (
	"fmt"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

// Frame is the stack frame layout of a method. Offsets are relative to the
// frame pointer.
//
//	  [fp+2p+n]  stack arguments
//	  [fp+p]     return address
//	  [fp]       saved frame pointer
//	  [fp-...]   locals, homes of register arguments, spill slots
//	  [sp]       saved callee-preserved registers
//
// where p is the pointer size.
type Frame struct {
	// Size is the number of bytes reserved below the frame pointer.
	Size   int64
	Locals []int64
	Args   []int64
	Spills []int64
	// Preserved are the callee-saved registers the method saves.
	Preserved target.RegSet
	// RemovedMoves counts the register moves dropped because both operands
	// ended up in the same register.
	RemovedMoves int
}

// layout assigns the slots of g. Register-passed incoming arguments get a
// home slot so that the code can address every argument in memory.
func layout(g *ir.Graph, t *target.Target, conv *target.Convention, spills int) (*Frame, []target.ArgLoc) {
	f := &Frame{
		Locals: make([]int64, len(g.Locals)),
		Args:   make([]int64, len(g.Params)),
		Spills: make([]int64, spills),
	}
	var off int64
	slot := func(c ir.TypeClass) int64 {
		size := t.SizeOf(c)
		if size < t.PtrSize() {
			size = t.PtrSize()
		}
		off += t.Align(size)
		return -off
	}

	for i, c := range g.Locals {
		f.Locals[i] = slot(c)
	}
	locs, _ := t.PlaceArgs(conv, g.Params)
	for i, loc := range locs {
		if loc.Kind == target.ArgKindReg {
			f.Args[i] = slot(loc.Type)
		} else {
			f.Args[i] = 2*t.PtrSize() + loc.Offset
		}
	}
	for i := range f.Spills {
		f.Spills[i] = slot(t.PtrType())
	}
	f.Size = t.Align(off)
	return f, locs
}

// resolve returns the memory operand of a local, argument or spill slot
// operand, or o itself.
func (f *Frame) resolve(o ir.Operand, fp ir.RegID) (ir.Operand, error) {
	var disp int64
	switch o.Kind {
	case ir.OperandLocal:
		if o.Var >= len(f.Locals) {
			return o, fmt.Errorf("local %d out of range", o.Var)
		}
		disp = f.Locals[o.Var]
	case ir.OperandArg:
		if o.Var >= len(f.Args) {
			return o, fmt.Errorf("argument %d out of range", o.Var)
		}
		disp = f.Args[o.Var]
	case ir.OperandSpill:
		if o.Imm >= int64(len(f.Spills)) {
			return o, fmt.Errorf("spill slot %d out of range", o.Imm)
		}
		disp = f.Spills[o.Imm]
	default:
		return o, nil
	}
	m := ir.Mem(fp, disp, o.Type)
	m.Role = o.Role
	return m, nil
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("size=%d locals=%v args=%v spills=%v", f.Size, f.Locals, f.Args, f.Spills)
}

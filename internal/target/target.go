// Package target describes the machines code is generated for: register
// file, calling conventions, instruction patterns and the builders of the few
// machine instructions the passes create themselves. A Target is built once
// and only read afterwards, so it can be shared by concurrent compilations.
package target

import (
	"fmt"
	"sort"

	"github.com/jncronin/tysos-sub010/internal/ir"
)

// RegClass is the class of a register, or of the values a register can hold.
type RegClass byte

const (
	// ClassNone is the class of values that cannot live in a register.
	ClassNone RegClass = iota
	// ClassGPR is the class of general purpose integer registers.
	ClassGPR
)

// String implements fmt.Stringer.
func (c RegClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassGPR:
		return "gpr"
	default:
		return fmt.Sprintf("RegClass(%d)", c)
	}
}

// Reg describes a physical register.
type Reg struct {
	ID    ir.RegID
	Name  string
	Class RegClass
	// Size is the width in bytes.
	Size int64
}

// ISA builds the machine instructions that passes other than lowering need.
// Builders return nil when the combination of operands cannot be encoded.
type ISA interface {
	// Move returns dst = src. Memory to memory moves cannot be encoded.
	Move(g *ir.Graph, dst, src ir.Operand) *ir.MInst
	// IsMove reports whether m is a plain copy, returning its operands.
	IsMove(m *ir.MInst) (dst, src ir.Operand, ok bool)
	Push(g *ir.Graph, src ir.Operand) *ir.MInst
	Pop(g *ir.Graph, dst ir.Operand) *ir.MInst
	// AdjustStack adds delta to the stack pointer.
	AdjustStack(g *ir.Graph, delta int64) *ir.MInst
	// Call calls the symbol callee, whose result arrives in ret.
	Call(g *ir.Graph, callee string, ret ir.RegID) *ir.MInst
	// Ret returns to the caller; uses are the registers holding the result.
	Ret(g *ir.Graph, uses ...ir.RegID) *ir.MInst
}

// Desc is everything needed to build a Target.
type Desc struct {
	Name string
	// Ptr is the integer class of pointers.
	Ptr ir.TypeClass
	// Regs lists every register; Regs[i].ID must be i.
	Regs []Reg
	// Allocatable lists the registers the allocator may assign, in order of preference.
	Allocatable       []ir.RegID
	FramePointer      ir.RegID
	StackPointer      ir.RegID
	Conventions       []*Convention
	DefaultConvention string
	Classes           map[ir.TypeClass]RegClass
	Sizes             map[ir.TypeClass]int64
	Patterns          *PatternTable
	MachNames         map[ir.MachOp]string
	// Allocator is the symbol of the object allocation routine.
	Allocator string
	ISA       ISA
}

// Target is an immutable machine description.
type Target struct {
	ISA

	name           string
	ptr            ir.TypeClass
	ptrSize        int64
	regs           []Reg
	allocatable    []ir.RegID
	allocatableSet RegSet
	fp, sp         ir.RegID
	conventions    map[string]*Convention
	defaultConv    string
	classes        map[ir.TypeClass]RegClass
	sizes          map[ir.TypeClass]int64
	patterns       *PatternTable
	machNames      map[ir.MachOp]string
	allocator      string
}

var _ ir.MachNamer = (*Target)(nil)

// New validates d and returns the Target it describes.
func New(d Desc) (*Target, error) {
	if d.ISA == nil || d.Patterns == nil {
		return nil, fmt.Errorf("target %s: missing instruction set", d.Name)
	}
	if len(d.Regs) > 64 {
		return nil, fmt.Errorf("target %s: %d registers, at most 64 supported", d.Name, len(d.Regs))
	}
	for i, r := range d.Regs {
		if int(r.ID) != i {
			return nil, fmt.Errorf("target %s: register %s at index %d has id %d", d.Name, r.Name, i, r.ID)
		}
	}
	t := &Target{
		ISA:         d.ISA,
		name:        d.Name,
		ptr:         d.Ptr,
		regs:        d.Regs,
		allocatable: d.Allocatable,
		fp:          d.FramePointer,
		sp:          d.StackPointer,
		conventions: map[string]*Convention{},
		defaultConv: d.DefaultConvention,
		classes:     d.Classes,
		sizes:       d.Sizes,
		patterns:    d.Patterns,
		machNames:   d.MachNames,
		allocator:   d.Allocator,
	}
	t.ptrSize = d.Sizes[d.Ptr]
	if t.ptrSize == 0 {
		return nil, fmt.Errorf("target %s: no size for pointer class %s", d.Name, d.Ptr)
	}
	for _, r := range d.Allocatable {
		if int(r) >= len(d.Regs) || d.Regs[r].Class != ClassGPR {
			return nil, fmt.Errorf("target %s: register %d is not an allocatable general purpose register", d.Name, r)
		}
		if r == d.FramePointer || r == d.StackPointer {
			return nil, fmt.Errorf("target %s: %s is reserved", d.Name, d.Regs[r].Name)
		}
		t.allocatableSet = t.allocatableSet.Add(r)
	}
	for _, c := range d.Conventions {
		if _, ok := t.conventions[c.Name]; ok {
			return nil, fmt.Errorf("target %s: duplicate convention %s", d.Name, c.Name)
		}
		t.conventions[c.Name] = c
	}
	if _, ok := t.conventions[d.DefaultConvention]; !ok {
		return nil, fmt.Errorf("target %s: unknown default convention %q", d.Name, d.DefaultConvention)
	}
	return t, nil
}

// Name returns the name of the target.
func (t *Target) Name() string { return t.name }

// PtrType returns the integer class pointers resolve to.
func (t *Target) PtrType() ir.TypeClass { return t.ptr }

// PtrSize returns the size of a pointer in bytes.
func (t *Target) PtrSize() int64 { return t.ptrSize }

// SizeOf returns the size in bytes of a value of class c.
func (t *Target) SizeOf(c ir.TypeClass) int64 { return t.sizes[c.Resolve(t.ptr)] }

// Align rounds n up to a multiple of the pointer size.
func (t *Target) Align(n int64) int64 {
	return (n + t.ptrSize - 1) / t.ptrSize * t.ptrSize
}

// ClassOf returns the register class holding values of class c.
func (t *Target) ClassOf(c ir.TypeClass) RegClass { return t.classes[c.Resolve(t.ptr)] }

// Regs returns the register file indexed by register id.
func (t *Target) Regs() []Reg { return t.regs }

// NumRegs returns the number of registers.
func (t *Target) NumRegs() int { return len(t.regs) }

// Allocatable returns the registers the allocator may use, in order of preference.
func (t *Target) Allocatable() []ir.RegID { return t.allocatable }

// IsAllocatable reports whether r may be assigned by the allocator.
func (t *Target) IsAllocatable(r ir.RegID) bool { return t.allocatableSet.Has(r) }

// FramePointer returns the frame pointer register.
func (t *Target) FramePointer() ir.RegID { return t.fp }

// StackPointer returns the stack pointer register.
func (t *Target) StackPointer() ir.RegID { return t.sp }

// Allocator returns the symbol of the object allocation routine.
func (t *Target) Allocator() string { return t.allocator }

// Convention returns the named calling convention; the empty name is the default.
func (t *Target) Convention(name string) (*Convention, error) {
	if name == "" {
		name = t.defaultConv
	}
	c, ok := t.conventions[name]
	if !ok {
		return nil, fmt.Errorf("target %s has no calling convention %q", t.name, name)
	}
	return c, nil
}

// Conventions returns the names of the calling conventions, sorted.
func (t *Target) Conventions() []string {
	ret := make([]string, 0, len(t.conventions))
	for n := range t.conventions {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}

// Pattern returns the machine code template of sig, if there is one.
func (t *Target) Pattern(sig ir.Signature) (Pattern, bool) { return t.patterns.lookup(sig) }

// NumPatterns returns the size of the pattern table.
func (t *Target) NumPatterns() int { return t.patterns.Len() }

// RegName implements ir.RegNamer.
func (t *Target) RegName(r ir.RegID) string {
	if int(r) < len(t.regs) {
		return t.regs[r].Name
	}
	return fmt.Sprintf("r%d", r)
}

// MachOpName implements ir.MachNamer.
func (t *Target) MachOpName(op ir.MachOp) string {
	if n, ok := t.machNames[op]; ok {
		return n
	}
	return fmt.Sprintf("m%d", op)
}

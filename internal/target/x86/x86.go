// Package x86 is the 32-bit x86 target.
package x86

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

// Name is the name the target is registered under.
const Name = "x86"

// New returns the x86 target.
func New() (*target.Target, error) {
	pt, err := patterns()
	if err != nil {
		return nil, err
	}
	return target.New(target.Desc{
		Name:              Name,
		Ptr:               ir.TypeInt32,
		Regs:              regFile(),
		Allocatable:       allocatable,
		FramePointer:      EBP,
		StackPointer:      ESP,
		Conventions:       conventions(),
		DefaultConvention: ConvSysV,
		Classes:           map[ir.TypeClass]target.RegClass{ir.TypeInt32: target.ClassGPR},
		Sizes:             map[ir.TypeClass]int64{ir.TypeInt32: 4, ir.TypeInt64: 8},
		Patterns:          pt,
		MachNames:         machNames,
		Allocator:         "gcmalloc",
		ISA:               isa{},
	})
}

package x86

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
)

// Registers, numbered as in the ModRM encoding.
const (
	EAX ir.RegID = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	numRegs
)

var regNames = [numRegs]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func regFile() []target.Reg {
	ret := make([]target.Reg, numRegs)
	for i := range ret {
		ret[i] = target.Reg{ID: ir.RegID(i), Name: regNames[i], Class: target.ClassGPR, Size: 4}
	}
	return ret
}

// allocatable is in order of preference: caller-saved registers first, so
// that short-lived values do not force a callee-preserve save.
var allocatable = []ir.RegID{EAX, ECX, EDX, EBX, ESI, EDI}

// Calling convention names.
const (
	// ConvSysV passes every argument on the stack.
	ConvSysV = "sysv"
	// ConvRegParm passes the first three arguments in eax, edx and ecx.
	ConvRegParm = "regparm"
)

var (
	callerSaved = target.NewRegSet(EAX, ECX, EDX)
	calleeSaved = target.NewRegSet(EBX, ESI, EDI)
)

func conventions() []*target.Convention {
	return []*target.Convention{
		{
			Name:        ConvSysV,
			ReturnReg:   EAX,
			CallerSaved: callerSaved,
			CalleeSaved: calleeSaved,
		},
		{
			Name:        ConvRegParm,
			ArgRegs:     []ir.RegID{EAX, EDX, ECX},
			ReturnReg:   EAX,
			CallerSaved: callerSaved,
			CalleeSaved: calleeSaved,
		},
	}
}

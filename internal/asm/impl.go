// Package asm holds what the machine code encoders share: the node handle of
// an emitted instruction and the relocatable output of a method.
package asm

import "fmt"

// NodeOffsetInBinary is the offset of an instruction in the encoded method.
type NodeOffsetInBinary = uint64

// Node is an emitted instruction.
type Node interface {
	fmt.Stringer
	// OffsetInBinary is valid once the method has been assembled.
	OffsetInBinary() NodeOffsetInBinary
	// AssignJumpTarget makes the branch Node jump to target.
	AssignJumpTarget(target Node)
}

// RelocKind is how a relocation is applied.
type RelocKind byte

const (
	// RelocAbs32 stores the 32-bit address of the symbol plus the addend.
	RelocAbs32 RelocKind = iota + 1
	// RelocPC32 stores the symbol plus the addend minus the address of the field.
	RelocPC32
)

// String implements fmt.Stringer.
func (k RelocKind) String() string {
	switch k {
	case RelocAbs32:
		return "abs32"
	case RelocPC32:
		return "pc32"
	default:
		return fmt.Sprintf("RelocKind(%d)", k)
	}
}

// Relocation is a field of the code the linker fills with a symbol address.
type Relocation struct {
	// Offset of the field in Code.Bytes.
	Offset uint64
	Kind   RelocKind
	Symbol string
	Addend int64
}

// String implements fmt.Stringer.
func (r Relocation) String() string {
	return fmt.Sprintf("%#x %s %s%+d", r.Offset, r.Kind, r.Symbol, r.Addend)
}

// Code is the encoded body of a method.
type Code struct {
	Symbol string
	Bytes  []byte
	Relocs []Relocation
	// BlockOffsets holds the offset of the first instruction of each block.
	BlockOffsets []uint64
}

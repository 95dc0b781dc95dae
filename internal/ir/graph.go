package ir

import (
	"fmt"
	"strings"

	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Block is a basic block. Succs and Preds are indices into Graph.Blocks; the
// order of Preds is the order of phi incoming slots.
type Block struct {
	ID     BlockID
	Instrs []*Instr
	Succs  []BlockID
	Preds  []BlockID
	// LoopDepth is the loop nesting depth computed by the dominance pass.
	LoopDepth int
}

// Terminator returns the last instruction of b if it ends the block, or nil.
func (b *Block) Terminator() *Instr {
	if n := len(b.Instrs); n > 0 && b.Instrs[n-1].Op.IsTerminator() {
		return b.Instrs[n-1]
	}
	return nil
}

// InsertBeforeTerminator inserts is before b's terminator, or at the end if b has none.
func (b *Block) InsertBeforeTerminator(is ...*Instr) {
	at := len(b.Instrs)
	if b.Terminator() != nil {
		at--
	}
	tail := append([]*Instr(nil), b.Instrs[at:]...)
	b.Instrs = append(append(b.Instrs[:at], is...), tail...)
}

// Phis returns the leading phi instructions of b.
func (b *Block) Phis() []*Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

// PredIndex returns the position of p in b.Preds, or -1.
func (b *Block) PredIndex(p BlockID) int {
	for i, x := range b.Preds {
		if x == p {
			return i
		}
	}
	return -1
}

// MachineCode returns the lowered instructions of b in order.
func (b *Block) MachineCode() []*MInst {
	var ret []*MInst
	for _, i := range b.Instrs {
		ret = append(ret, i.Machine...)
	}
	return ret
}

// Graph is a method body: an arena of basic blocks with index-based edges.
// Block 0 is the entry.
type Graph struct {
	Name   string
	Blocks []*Block
	// NextVReg is the first unused virtual register id.
	NextVReg VReg
	// Params are the classes of the incoming arguments, Locals those of the local variables.
	Params, Locals []TypeClass
	// Convention is the calling convention of the method itself; empty means the target default.
	Convention string
	RetType    TypeClass

	instrs tysilaapi.Pool[Instr]
	minsts tysilaapi.Pool[MInst]
}

// NewGraph returns an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:   name,
		instrs: tysilaapi.NewPool[Instr](),
		minsts: tysilaapi.NewPool[MInst](),
	}
}

// Entry returns the entry block.
func (g *Graph) Entry() *Block { return g.Blocks[0] }

// AddBlock appends a new empty block.
func (g *Graph) AddBlock() *Block {
	b := &Block{ID: BlockID(len(g.Blocks))}
	g.Blocks = append(g.Blocks, b)
	return b
}

// AddEdge adds the edge from -> to. Edge order is significant: it is the order
// of successors for branches and of phi slots for the target.
func (g *Graph) AddEdge(from, to BlockID) {
	g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
	g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
}

// NewInstr allocates an instruction owned by g.
func (g *Graph) NewInstr(op Opcode, defs []Operand, uses ...Operand) *Instr {
	i := g.instrs.Allocate()
	i.Op, i.Defs, i.Uses, i.Offset = op, defs, uses, -1
	return i
}

// Emit appends a new instruction to block b and returns it.
func (g *Graph) Emit(b BlockID, op Opcode, defs []Operand, uses ...Operand) *Instr {
	i := g.NewInstr(op, defs, uses...)
	blk := g.Blocks[b]
	blk.Instrs = append(blk.Instrs, i)
	return i
}

// NewMInst allocates a machine instruction owned by g.
func (g *Graph) NewMInst(op MachOp, args ...Operand) *MInst {
	m := g.minsts.Allocate()
	m.Op, m.Args = op, args
	return m
}

// AllocVReg returns a fresh virtual register id.
func (g *Graph) AllocVReg() VReg {
	v := g.NextVReg
	g.NextVReg++
	return v
}

// NumInstrs returns the number of instructions ever allocated by g.
func (g *Graph) NumInstrs() int { return g.instrs.Allocated() }

// Format returns the IR listing of g.
func (g *Graph) Format() string {
	var sb strings.Builder
	for _, b := range g.Blocks {
		fmt.Fprintf(&sb, "blk%d: <-- %v --> %v\n", b.ID, b.Preds, b.Succs)
		for _, i := range b.Instrs {
			if i.IsNop() {
				continue
			}
			sb.WriteString("\t")
			sb.WriteString(i.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatMachine returns the machine code listing of g.
func (g *Graph) FormatMachine(n MachNamer) string {
	var sb strings.Builder
	for _, b := range g.Blocks {
		fmt.Fprintf(&sb, "blk%d:\n", b.ID)
		for _, m := range b.MachineCode() {
			sb.WriteString("\t")
			sb.WriteString(m.Format(n))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Package x86 encodes allocated x86 machine code into bytes with golang-asm.
package x86

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/jncronin/tysos-sub010/internal/asm"
	"github.com/jncronin/tysos-sub010/internal/asm/golang_asm"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	tx86 "github.com/jncronin/tysos-sub010/internal/target/x86"
)

var twoAddress = map[ir.MachOp]obj.As{
	tx86.Add:  x86.AADDL,
	tx86.Sub:  x86.ASUBL,
	tx86.Imul: x86.AIMULL,
	tx86.And:  x86.AANDL,
	tx86.Or:   x86.AORL,
	tx86.Xor:  x86.AXORL,
	tx86.Shl:  x86.ASHLL,
	tx86.Sar:  x86.ASARL,
}

var setcc = map[ir.CondCode]obj.As{
	ir.CondEq: x86.ASETEQ,
	ir.CondNe: x86.ASETNE,
	ir.CondLt: x86.ASETLT,
	ir.CondLe: x86.ASETLE,
	ir.CondGt: x86.ASETGT,
	ir.CondGe: x86.ASETGE,
	ir.CondB:  x86.ASETCS,
	ir.CondBe: x86.ASETLS,
	ir.CondA:  x86.ASETHI,
	ir.CondAe: x86.ASETCC,
}

var jcc = map[ir.CondCode]obj.As{
	ir.CondEq: x86.AJEQ,
	ir.CondNe: x86.AJNE,
	ir.CondLt: x86.AJLT,
	ir.CondLe: x86.AJLE,
	ir.CondGt: x86.AJGT,
	ir.CondGe: x86.AJGE,
	ir.CondB:  x86.AJCS,
	ir.CondBe: x86.AJLS,
	ir.CondA:  x86.AJHI,
	ir.CondAe: x86.AJCC,
}

type branch struct {
	node  asm.Node
	block ir.BlockID
}

type reloc struct {
	field  *golang_asm.GolangAsmNode
	kind   asm.RelocKind
	symbol string
	addend int64
}

type encoder struct {
	*golang_asm.GolangAsmBaseAssembler
	t        *target.Target
	labels   []asm.Node
	branches []branch
	relocs   []reloc
}

// Encode assembles the finished machine code of g. Every operand must be a
// register, frame memory, constant, symbol, block or condition.
func Encode(g *ir.Graph, t *target.Target) (*asm.Code, error) {
	base, err := golang_asm.NewGolangAsmBaseAssembler("386")
	if err != nil {
		return nil, err
	}
	e := &encoder{GolangAsmBaseAssembler: base, t: t, labels: make([]asm.Node, len(g.Blocks))}
	for _, blk := range g.Blocks {
		// Zero-length label so that empty blocks are valid branch targets.
		label := e.NewProg()
		label.As = obj.ANOP
		e.labels[blk.ID] = e.AddInstruction(label)
		for _, m := range blk.MachineCode() {
			if err := e.encode(m); err != nil {
				return nil, fmt.Errorf("%s: blk%d: %s: %w", g.Name, blk.ID, m.Format(t), err)
			}
		}
	}
	for _, br := range e.branches {
		if int(br.block) >= len(e.labels) {
			return nil, fmt.Errorf("%s: branch to missing blk%d", g.Name, br.block)
		}
		br.node.AssignJumpTarget(e.labels[br.block])
	}

	ret := &asm.Code{Symbol: g.Name}
	e.AddOnGenerateCallBack(func(code []byte) error {
		for _, l := range e.labels {
			ret.BlockOffsets = append(ret.BlockOffsets, l.OffsetInBinary())
		}
		for _, r := range e.relocs {
			off := r.field.OffsetInBinary()
			if off+4 > uint64(len(code)) {
				return fmt.Errorf("relocation of %s at %#x is outside the code", r.symbol, off)
			}
			ret.Relocs = append(ret.Relocs, asm.Relocation{Offset: off, Kind: r.kind, Symbol: r.symbol, Addend: r.addend})
		}
		return nil
	})
	code, err := e.Assemble()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.Name, err)
	}
	ret.Bytes = code
	return ret, nil
}

func (e *encoder) encode(m *ir.MInst) error {
	a := m.Args
	switch m.Op {
	case tx86.Mov:
		return e.binary(x86.AMOVL, a, 0, 1)
	case tx86.Add, tx86.Sub, tx86.Imul, tx86.And, tx86.Or, tx86.Xor, tx86.Shl, tx86.Sar:
		if len(a) != 3 || !a[0].SameLocation(a[1]) {
			return fmt.Errorf("malformed two-address instruction")
		}
		if (m.Op == tx86.Shl || m.Op == tx86.Sar) && a[2].Kind == ir.OperandReg && a[2].Reg != tx86.ECX {
			return fmt.Errorf("shift count must be in ecx")
		}
		return e.binary(twoAddress[m.Op], a, 0, 2)
	case tx86.Neg, tx86.Not:
		as := x86.ANEGL
		if m.Op == tx86.Not {
			as = x86.ANOTL
		}
		return e.unaryTo(as, a[0])
	case tx86.Cdq:
		e.none(x86.ACDQ)
		return nil
	case tx86.Idiv:
		if len(a) != 5 {
			return fmt.Errorf("malformed idiv")
		}
		p := e.NewProg()
		p.As = x86.AIDIVL
		if err := e.addr(&p.From, a[4]); err != nil {
			return err
		}
		e.AddInstruction(p)
		return nil
	case tx86.Cmp:
		// Go operand order: CMPL a, b sets flags for a - b.
		p := e.NewProg()
		p.As = x86.ACMPL
		if err := e.addr(&p.From, a[0]); err != nil {
			return err
		}
		if err := e.addr(&p.To, a[1]); err != nil {
			return err
		}
		e.AddInstruction(p)
		return nil
	case tx86.Setcc:
		as, ok := setcc[a[1].Cond]
		if !ok || a[0].Kind != ir.OperandReg || a[0].Reg > tx86.EBX {
			return fmt.Errorf("cannot set %s into %s", a[1].Cond, a[0].Format(e.t))
		}
		p := e.NewProg()
		p.As = as
		p.To.Type, p.To.Reg = obj.TYPE_REG, x86.REG_AL+int16(a[0].Reg)
		e.AddInstruction(p)
		return nil
	case tx86.Movzx:
		if a[1].Kind != ir.OperandReg || a[1].Reg > tx86.EBX {
			return fmt.Errorf("no low byte in %s", a[1].Format(e.t))
		}
		p := e.NewProg()
		p.As = x86.AMOVBLZX
		p.From.Type, p.From.Reg = obj.TYPE_REG, x86.REG_AL+int16(a[1].Reg)
		if err := e.addr(&p.To, a[0]); err != nil {
			return err
		}
		e.AddInstruction(p)
		return nil
	case tx86.Jcc:
		as, ok := jcc[a[0].Cond]
		if !ok {
			return fmt.Errorf("no jump for %s", a[0].Cond)
		}
		e.jump(as, a[1])
		return nil
	case tx86.Jmp:
		e.jump(obj.AJMP, a[0])
		return nil
	case tx86.Call:
		if a[0].Kind != ir.OperandSymbol {
			return fmt.Errorf("indirect calls are not supported")
		}
		// call rel32, filled by the linker.
		e.bytes(0xE8)
		e.field(asm.RelocPC32, a[0].Sym, a[0].Imm-4)
		return nil
	case ir.MachLoadAddress:
		if a[0].Kind != ir.OperandReg || a[1].Kind != ir.OperandSymbol {
			return fmt.Errorf("load address needs a register and a symbol")
		}
		// mov r32, imm32
		e.bytes(0xB8 + byte(a[0].Reg))
		e.field(asm.RelocAbs32, a[1].Sym, a[1].Imm)
		return nil
	case tx86.Ret:
		e.none(obj.ARET)
		return nil
	case tx86.Push:
		if a[0].Kind == ir.OperandSymbol {
			// push imm32, filled by the linker.
			e.bytes(0x68)
			e.field(asm.RelocAbs32, a[0].Sym, a[0].Imm)
			return nil
		}
		p := e.NewProg()
		p.As = x86.APUSHL
		if err := e.addr(&p.From, a[0]); err != nil {
			return err
		}
		e.AddInstruction(p)
		return nil
	case tx86.Pop:
		return e.unaryTo(x86.APOPL, a[0])
	case tx86.LdInd:
		if a[1].Kind != ir.OperandReg {
			return fmt.Errorf("address must be in a register")
		}
		return e.binary(x86.AMOVL, []ir.Operand{a[0], ir.Mem(a[1].Reg, 0, ir.TypeInt32)}, 0, 1)
	case tx86.StInd:
		if a[0].Kind != ir.OperandReg {
			return fmt.Errorf("address must be in a register")
		}
		return e.binary(x86.AMOVL, []ir.Operand{ir.Mem(a[0].Reg, 0, ir.TypeInt32), a[1]}, 0, 1)
	default:
		return fmt.Errorf("unknown instruction %s", e.t.MachOpName(m.Op))
	}
}

// binary emits as src, dst with dst = args[d] and src = args[s].
func (e *encoder) binary(as obj.As, args []ir.Operand, d, s int) error {
	if len(args) <= d || len(args) <= s {
		return fmt.Errorf("missing operands")
	}
	p := e.NewProg()
	p.As = as
	if err := e.addr(&p.From, args[s]); err != nil {
		return err
	}
	if err := e.addr(&p.To, args[d]); err != nil {
		return err
	}
	e.AddInstruction(p)
	return nil
}

func (e *encoder) unaryTo(as obj.As, o ir.Operand) error {
	p := e.NewProg()
	p.As = as
	if err := e.addr(&p.To, o); err != nil {
		return err
	}
	e.AddInstruction(p)
	return nil
}

func (e *encoder) none(as obj.As) {
	p := e.NewProg()
	p.As = as
	e.AddInstruction(p)
}

func (e *encoder) jump(as obj.As, to ir.Operand) {
	p := e.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	e.branches = append(e.branches, branch{node: e.AddInstruction(p), block: to.Block})
}

func (e *encoder) bytes(bs ...byte) {
	for _, b := range bs {
		p := e.NewProg()
		p.As = x86.ABYTE
		p.From.Type, p.From.Offset = obj.TYPE_CONST, int64(b)
		e.AddInstruction(p)
	}
}

// field emits a zero 32-bit field the linker fills with symbol.
func (e *encoder) field(kind asm.RelocKind, symbol string, addend int64) {
	p := e.NewProg()
	p.As = x86.ALONG
	p.From.Type = obj.TYPE_CONST
	n := e.AddInstruction(p).(*golang_asm.GolangAsmNode)
	e.relocs = append(e.relocs, reloc{field: n, kind: kind, symbol: symbol, addend: addend})
}

func (e *encoder) addr(a *obj.Addr, o ir.Operand) error {
	switch o.Kind {
	case ir.OperandReg:
		a.Type, a.Reg = obj.TYPE_REG, x86.REG_AX+int16(o.Reg)
	case ir.OperandMem:
		a.Type, a.Reg, a.Offset = obj.TYPE_MEM, x86.REG_AX+int16(o.Reg), o.Imm
	case ir.OperandConst:
		a.Type, a.Offset = obj.TYPE_CONST, o.Imm
	default:
		return fmt.Errorf("operand %s cannot be encoded", o.Format(e.t))
	}
	return nil
}

package x86

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/asm"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	tx86 "github.com/jncronin/tysos-sub010/internal/target/x86"
)

func newTarget(t *testing.T) *target.Target {
	tgt, err := tx86.New()
	require.NoError(t, err)
	return tgt
}

func r(id ir.RegID) ir.Operand { return ir.Reg(id, ir.TypeInt32) }

func TestEncode_call(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	g.AddBlock()
	g.Emit(0, ir.OpNop, nil).Machine = []*ir.MInst{
		tgt.Push(g, r(tx86.EBP)),
		tgt.Move(g, r(tx86.EBP), r(tx86.ESP)),
		tgt.Call(g, "Foo", tx86.EAX),
		g.NewMInst(ir.MachLoadAddress, r(tx86.ECX).Def(), ir.Symbol("Bar", 8).Use()),
		tgt.Pop(g, r(tx86.EBP)),
		tgt.Ret(g, tx86.EAX),
	}

	code, err := Encode(g, tgt)
	require.NoError(t, err)
	require.Equal(t, "f", code.Symbol)
	require.Equal(t, byte(0x55), code.Bytes[0])
	require.Equal(t, byte(0xC3), code.Bytes[len(code.Bytes)-1])
	require.Equal(t, []uint64{0}, code.BlockOffsets)

	require.Len(t, code.Relocs, 2)
	call := code.Relocs[0]
	require.Equal(t, asm.RelocPC32, call.Kind)
	require.Equal(t, "Foo", call.Symbol)
	require.Equal(t, int64(-4), call.Addend)
	require.Equal(t, byte(0xE8), code.Bytes[call.Offset-1])
	require.Equal(t, []byte{0, 0, 0, 0}, code.Bytes[call.Offset:call.Offset+4])

	addr := code.Relocs[1]
	require.Equal(t, asm.RelocAbs32, addr.Kind)
	require.Equal(t, "Bar", addr.Symbol)
	require.Equal(t, int64(8), addr.Addend)
	require.Equal(t, call.Offset+5, addr.Offset)
	require.Equal(t, byte(0xB9), code.Bytes[addr.Offset-1])
}

func TestEncode_pushSymbol(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	g.AddBlock()
	g.Emit(0, ir.OpNop, nil).Machine = []*ir.MInst{
		g.NewMInst(tx86.Push, ir.Symbol("Foo#size", 0).Use()),
		tgt.Call(g, "gcmalloc", tx86.EAX),
		tgt.Ret(g, tx86.EAX),
	}

	code, err := Encode(g, tgt)
	require.NoError(t, err)
	require.Len(t, code.Relocs, 2)

	push := code.Relocs[0]
	require.Equal(t, asm.RelocAbs32, push.Kind)
	require.Equal(t, "Foo#size", push.Symbol)
	require.Equal(t, uint64(1), push.Offset)
	require.Equal(t, byte(0x68), code.Bytes[0])

	call := code.Relocs[1]
	require.Equal(t, "gcmalloc", call.Symbol)
	require.Equal(t, push.Offset+5, call.Offset)
}

func TestEncode_branches(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	for i := 0; i < 3; i++ {
		g.AddBlock()
	}
	g.Emit(0, ir.OpNop, nil).Machine = []*ir.MInst{
		g.NewMInst(tx86.Cmp, r(tx86.EAX).Use(), ir.Const(ir.TypeInt32, 0).Use()),
		g.NewMInst(tx86.Jcc, ir.Cond(ir.CondEq), ir.BlockTarget(2)),
		g.NewMInst(tx86.Jmp, ir.BlockTarget(1)),
	}
	// blk1 is empty and falls into blk2.
	g.Emit(2, ir.OpNop, nil).Machine = []*ir.MInst{tgt.Ret(g, tx86.EAX)}

	code, err := Encode(g, tgt)
	require.NoError(t, err)
	require.Len(t, code.BlockOffsets, 3)
	end := uint64(len(code.Bytes) - 1)
	require.Equal(t, end, code.BlockOffsets[1])
	require.Equal(t, end, code.BlockOffsets[2])
	require.Equal(t, byte(0xC3), code.Bytes[end])
	require.Empty(t, code.Relocs)
}

func TestEncode_errors(t *testing.T) {
	tgt := newTarget(t)
	for _, tc := range []struct {
		name string
		m    func(g *ir.Graph) *ir.MInst
	}{
		{name: "vreg", m: func(g *ir.Graph) *ir.MInst {
			return g.NewMInst(tx86.Mov, r(tx86.EAX).Def(), ir.Temp(3, ir.TypeInt32).Use())
		}},
		{name: "shift count", m: func(g *ir.Graph) *ir.MInst {
			return g.NewMInst(tx86.Shl, r(tx86.EAX).Def(), r(tx86.EAX).Use(), r(tx86.EDX).Use())
		}},
		{name: "setcc into esi", m: func(g *ir.Graph) *ir.MInst {
			return g.NewMInst(tx86.Setcc, r(tx86.ESI).Def(), ir.Cond(ir.CondLt))
		}},
		{name: "marker", m: func(g *ir.Graph) *ir.MInst {
			return g.NewMInst(ir.MachPrecall)
		}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := ir.NewGraph("f")
			g.AddBlock()
			g.Emit(0, ir.OpNop, nil).Machine = []*ir.MInst{tc.m(g)}
			_, err := Encode(g, tgt)
			require.Error(t, err)
		})
	}
}

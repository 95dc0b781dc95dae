package lower

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/target/x86"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

func v(id ir.VReg) ir.Operand { return ir.Temp(id, ir.TypeInt32) }

func i32(n int64) ir.Operand { return ir.Const(ir.TypeInt32, n) }

func newTarget(t *testing.T) *target.Target {
	tgt, err := x86.New()
	require.NoError(t, err)
	return tgt
}

// single returns a one-block graph holding instr and no other instruction.
func single(op ir.Opcode, defs []ir.Operand, uses ...ir.Operand) (*ir.Graph, *ir.Instr) {
	g := ir.NewGraph("single")
	g.AddBlock()
	i := g.Emit(0, op, defs, uses...)
	g.NextVReg = 2
	return g, i
}

func format(t *target.Target, ms []*ir.MInst) string {
	var lines []string
	for _, m := range ms {
		lines = append(lines, m.Format(t))
	}
	return strings.Join(lines, "\n")
}

func TestLower_direct(t *testing.T) {
	tgt := newTarget(t)
	for _, tc := range []struct {
		name string
		op   ir.Opcode
		defs []ir.Operand
		uses []ir.Operand
		cond ir.CondCode
		exp  string
	}{
		{
			name: "store",
			op:   ir.OpStore, defs: []ir.Operand{v(1)}, uses: []ir.Operand{ir.Arg(0, ir.TypeInt32)},
			exp: "mov v1:i32, arg0:i32",
		},
		{
			name: "add",
			op:   ir.OpAdd, defs: []ir.Operand{v(1)}, uses: []ir.Operand{v(0), i32(3)},
			exp: "mov v1:i32, v0:i32\nadd v1:i32, v1:i32, 3:i32",
		},
		{
			name: "div",
			op:   ir.OpDiv, defs: []ir.Operand{v(1)}, uses: []ir.Operand{v(0), ir.Local(0, ir.TypeInt32)},
			exp: "mov eax, v0:i32\ncdq edx, eax\nidiv eax, edx, eax, edx, loc0:i32\nmov v1:i32, eax",
		},
		{
			name: "cmp",
			op:   ir.OpCmp, defs: []ir.Operand{v(1)}, uses: []ir.Operand{v(0), i32(7)}, cond: ir.CondLt,
			exp: "cmp v0:i32, 7:i32\nsetcc eax, lt\nmovzx v1:i32, eax",
		},
		{
			name: "object operands resolve to the pointer width",
			op:   ir.OpStore, defs: []ir.Operand{ir.Temp(1, ir.TypeObject)}, uses: []ir.Operand{ir.Temp(0, ir.TypeObject)},
			exp: "mov v1:obj, v0:obj",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g, instr := single(tc.op, tc.defs, tc.uses...)
			instr.Cond = tc.cond
			stats, err := Lower(g, tgt, nil, nil)
			require.NoError(t, err)
			require.Equal(t, 0, stats.Rewrites)
			require.Equal(t, tc.exp, format(tgt, instr.Machine))
		})
	}
}

func TestLower_rewriteMemoryDestination(t *testing.T) {
	tgt := newTarget(t)

	direct, di := single(ir.OpAdd, []ir.Operand{v(3)}, v(1), i32(3))
	direct.NextVReg = 4
	_, err := Lower(direct, tgt, nil, nil)
	require.NoError(t, err)

	g, instr := single(ir.OpAdd, []ir.Operand{ir.Local(0, ir.TypeInt32)}, v(1), i32(3))
	g.NextVReg = 3
	instr.Offset = 0x10
	stats, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Rewrites)

	// The temporary takes the place of the destination, then is copied out.
	exp := format(tgt, di.Machine) + "\nmov loc0:i32, v3:i32"
	require.Equal(t, exp, format(tgt, instr.Machine))
	require.Equal(t, ir.RoleDef, instr.Machine[2].Args[0].Role)
	require.Equal(t, ir.RoleUse, instr.Machine[2].Args[1].Role)
}

func TestLower_rewriteSource(t *testing.T) {
	tgt := newTarget(t)

	// imul has no immediate form: the constant goes through a register.
	g, instr := single(ir.OpMul, []ir.Operand{v(1)}, v(0), i32(3))
	stats, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Rewrites)
	require.Equal(t, "mov v2:i32, 3:i32\nmov v1:i32, v0:i32\nimul v1:i32, v1:i32, v2:i32", format(tgt, instr.Machine))

	// Memory to memory.
	g, instr = single(ir.OpStore, []ir.Operand{ir.Local(0, ir.TypeInt32)}, ir.Arg(1, ir.TypeInt32))
	_, err = Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "mov v2:i32, arg1:i32\nmov loc0:i32, v2:i32", format(tgt, instr.Machine))
}

func TestLower_rewriteAliasedDestination(t *testing.T) {
	tgt := newTarget(t)
	g, instr := single(ir.OpSub, []ir.Operand{ir.Local(0, ir.TypeInt32)}, i32(10), ir.Local(0, ir.TypeInt32))
	_, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "mov v2:i32, 10:i32\nsub v2:i32, v2:i32, loc0:i32\nmov loc0:i32, v2:i32", format(tgt, instr.Machine))
}

func TestLower_unableToEncode(t *testing.T) {
	tgt := newTarget(t)
	g, instr := single(ir.OpAdd, []ir.Operand{ir.Temp(1, ir.TypeInt64)}, ir.Temp(0, ir.TypeInt64), ir.Const(ir.TypeInt64, 1))
	instr.Offset = 0x2a
	_, err := Lower(g, tgt, nil, nil)
	require.Error(t, err)
	require.Equal(t, tysilaapi.KindUnsupported, tysilaapi.KindOf(err))
	require.Contains(t, err.Error(), "unable to encode: add vreg64, const64 -> vreg64 at IL_002a")
	require.Nil(t, instr.Machine)
}

func TestLower_phiIsStructural(t *testing.T) {
	tgt := newTarget(t)
	g, _ := single(ir.OpPhi, []ir.Operand{v(1)}, v(0))
	_, err := Lower(g, tgt, nil, nil)
	require.Equal(t, tysilaapi.KindStructural, tysilaapi.KindOf(err))
}

func TestLower_branches(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("br")
	for i := 0; i < 3; i++ {
		g.AddBlock()
	}
	brif := g.Emit(0, ir.OpBrIf, nil, i32(1), v(0))
	brif.Cond = ir.CondGe
	br := g.Emit(1, ir.OpBr, nil)
	g.Emit(2, ir.OpRet, nil)
	g.AddEdge(0, 1)
	g.AddEdge(0, 2)
	g.AddEdge(1, 2)
	g.NextVReg = 1

	_, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "mov v1:i32, 1:i32\ncmp v1:i32, v0:i32\njcc ge, blk1\njmp blk2", format(tgt, brif.Machine))
	require.Equal(t, "jmp blk2", format(tgt, br.Machine))
}

func TestLower_enterRet(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	g.AddBlock()
	enter := g.Emit(0, ir.OpEnter, nil)
	ret := g.Emit(0, ir.OpRet, nil, v(0))
	g.NextVReg = 1

	_, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "setupstack\nsavecalleepreserves", format(tgt, enter.Machine))
	require.Equal(t, "mov eax, v0:i32\nrestorecalleepreserves\nret eax", format(tgt, ret.Machine))
}

func TestLower_call(t *testing.T) {
	tgt := newTarget(t)
	g, instr := single(ir.OpCall, []ir.Operand{v(1)}, v(0), ir.Temp(0, ir.TypeObject), i32(5))
	instr.Callee = "Foo.Bar"
	instr.Convention = x86.ConvRegParm

	_, err := Lower(g, tgt, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "precall Foo.Bar v0:i32, v0:obj, 5:i32\ncall Foo.Bar, eax\nmov v1:i32, eax\npostcall Foo.Bar",
		format(tgt, instr.Machine))

	pre, post := instr.Machine[0], instr.Machine[3]
	require.Same(t, pre.Call, post.Call)
	require.Equal(t, x86.ConvRegParm, pre.Call.Convention)
	require.Equal(t, []ir.TypeClass{ir.TypeInt32, ir.TypeInt32, ir.TypeInt32}, pre.Call.ArgTypes)

	g, instr = single(ir.OpCall, nil, ir.Temp(0, ir.TypeInt64))
	instr.Callee = "f"
	_, err = Lower(g, tgt, nil, nil)
	require.Equal(t, tysilaapi.KindUnsupported, tysilaapi.KindOf(err))
}

func TestLower_newObj(t *testing.T) {
	tgt := newTarget(t)
	g, instr := single(ir.OpNewObj, []ir.Operand{ir.Temp(1, ir.TypeObject)}, v(0))
	instr.TypeName = "System.Text.StringBuilder"
	instr.Callee = "System.Text.StringBuilder..ctor"
	req := &PendingRequests{}

	_, err := Lower(g, tgt, req, nil)
	require.NoError(t, err)
	require.Equal(t, `loadaddress v2:i32, System.Text.StringBuilder#size
ldind v3:i32, v2:i32
precall gcmalloc v3:i32
call gcmalloc, eax
mov v1:obj, eax
postcall gcmalloc
loadaddress v4:i32, System.Text.StringBuilder#vtbl
stind v1:obj, v4:i32
precall System.Text.StringBuilder..ctor v1:obj, v0:i32
call System.Text.StringBuilder..ctor, eax
postcall System.Text.StringBuilder..ctor`, format(tgt, instr.Machine))
	require.Equal(t, []string{"System.Text.StringBuilder"}, req.Layouts)
	require.Equal(t, []string{"System.Text.StringBuilder"}, req.VTables)
	require.Empty(t, req.Strings)
}

func TestLower_loadAddress(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("ldstr")
	g.AddBlock()
	a := g.Emit(0, ir.OpLdStr, []ir.Operand{ir.Temp(0, ir.TypeObject)}, ir.Str("hello"))
	b := g.Emit(0, ir.OpLdStr, []ir.Operand{ir.Local(0, ir.TypeObject)}, ir.Str("hello"))
	c := g.Emit(0, ir.OpLdLabAddr, []ir.Operand{ir.Temp(1, ir.TypeIntPtr)}, ir.Symbol("Foo#vtbl", 8))
	g.NextVReg = 2
	req := &PendingRequests{}

	_, err := Lower(g, tgt, req, nil)
	require.NoError(t, err)
	label := StringLabel("hello")
	require.Equal(t, "loadaddress v0:obj, "+label, format(tgt, a.Machine))
	require.Equal(t, "loadaddress v2:i32, "+label+"\nmov loc0:obj, v2:i32", format(tgt, b.Machine))
	require.Equal(t, "loadaddress v1:iptr, Foo#vtbl+8", format(tgt, c.Machine))
	require.Equal(t, []string{"hello"}, req.Strings)
	require.Equal(t, 1, req.Len())

	g, _ = single(ir.OpLdStr, []ir.Operand{v(0)}, i32(1))
	_, err = Lower(g, tgt, req, nil)
	require.Equal(t, tysilaapi.KindUnsupported, tysilaapi.KindOf(err))
}

func TestPendingRequests(t *testing.T) {
	var p PendingRequests
	require.Equal(t, "A#size", p.RequestLayout("A"))
	require.Equal(t, "A#size", p.RequestLayout("A"))
	require.Equal(t, "A#vtbl", p.RequestVTable("A"))
	require.Equal(t, "B#vtbl", p.RequestVTable("B"))
	s1, s2 := p.RequestString("x"), p.RequestString("y")
	require.NotEqual(t, s1, s2)
	require.Equal(t, s1, p.RequestString("x"))
	require.Equal(t, []string{"A"}, p.Layouts)
	require.Equal(t, []string{"A", "B"}, p.VTables)
	require.Equal(t, 5, p.Len())
}

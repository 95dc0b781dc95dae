package callseq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/liveness"
	"github.com/jncronin/tysos-sub010/internal/regalloc"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/target/x86"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

func newTarget(t *testing.T) *target.Target {
	tgt, err := x86.New()
	require.NoError(t, err)
	return tgt
}

func r(id ir.RegID) ir.Operand { return ir.Reg(id, ir.TypeInt32) }

func i32(v int64) ir.Operand { return ir.Const(ir.TypeInt32, v) }

// method returns a one block graph whose single instruction carries code.
func method(g *ir.Graph, code ...*ir.MInst) *ir.Graph {
	g.AddBlock()
	g.Emit(0, ir.OpNop, nil).Machine = code
	return g
}

// call returns the lowered form of a call to callee with args.
func call(g *ir.Graph, tgt *target.Target, callee, conv string, args ...ir.Operand) []*ir.MInst {
	cs := &ir.CallSite{Callee: callee, Convention: conv}
	uses := make([]ir.Operand, len(args))
	for i, a := range args {
		cs.ArgTypes = append(cs.ArgTypes, a.Type)
		uses[i] = a.Use()
	}
	pre := g.NewMInst(ir.MachPrecall, uses...)
	pre.Call = cs
	post := g.NewMInst(ir.MachPostcall)
	post.Call = cs
	return []*ir.MInst{pre, tgt.Call(g, callee, x86.EAX), post}
}

func finish(t *testing.T, g *ir.Graph, tgt *target.Target, alloc *regalloc.Result) (*Frame, string) {
	f, err := Finish(g, tgt, alloc, liveness.Physical(g), nil)
	require.NoError(t, err)
	var lines []string
	for _, m := range g.Blocks[0].MachineCode() {
		lines = append(lines, m.Format(tgt))
	}
	return f, strings.Join(lines, "\n")
}

// TestFinish_callerSavedAcrossCall has ecx and edx live across a call while
// eax is the call's result.
func TestFinish_callerSavedAcrossCall(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")

	var code []*ir.MInst
	code = append(code,
		tgt.Move(g, r(x86.ECX), i32(1)),
		tgt.Move(g, r(x86.EDX), i32(2)))
	code = append(code, call(g, tgt, "Foo", x86.ConvSysV, r(x86.ECX))...)
	code = append(code,
		g.NewMInst(x86.Add, r(x86.ECX).Def(), r(x86.ECX).Use(), r(x86.EDX).Use()),
		g.NewMInst(x86.Add, r(x86.ECX).Def(), r(x86.ECX).Use(), r(x86.EAX).Use()),
		tgt.Move(g, r(x86.EAX), r(x86.ECX)),
		tgt.Ret(g, x86.EAX))
	method(g, code...)

	_, got := finish(t, g, tgt, &regalloc.Result{Clobbered: target.NewRegSet(x86.EAX, x86.ECX, x86.EDX)})
	require.Equal(t, `mov ecx, 1:i32
mov edx, 2:i32
push ecx, esp
push edx, esp
push ecx, esp
call Foo, eax
add esp, esp, 4:i32
pop edx, esp
pop ecx, esp
add ecx, ecx, edx
add ecx, ecx, eax
mov eax, ecx
ret eax`, got)
}

func TestFinish_nothingLiveAcrossCall(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	code := call(g, tgt, "Foo", x86.ConvSysV, i32(3))
	code = append(code, tgt.Ret(g, x86.EAX))
	method(g, code...)

	_, got := finish(t, g, tgt, &regalloc.Result{})
	require.Equal(t, `push 3:i32, esp
call Foo, eax
add esp, esp, 4:i32
ret eax`, got)
}

func TestFinish_argumentCycles(t *testing.T) {
	tests := []struct {
		name string
		args []ir.Operand
		exp  string
	}{
		{
			name: "swap through a free caller-saved register",
			args: []ir.Operand{r(x86.EDX), r(x86.EAX)},
			exp: `mov ecx, eax
mov eax, edx
mov edx, ecx
call Foo, eax`,
		},
		{
			name: "rotation through a saved register",
			args: []ir.Operand{r(x86.EDX), r(x86.ECX), r(x86.EAX)},
			exp: `push ebx, esp
mov ebx, eax
mov eax, edx
mov edx, ecx
mov ecx, ebx
pop ebx, esp
call Foo, eax`,
		},
		{
			name: "constants after registers",
			args: []ir.Operand{i32(7), r(x86.EAX)},
			exp: `mov edx, eax
mov eax, 7:i32
call Foo, eax`,
		},
		{
			name: "in place",
			args: []ir.Operand{r(x86.EAX), r(x86.EDX)},
			exp:  `call Foo, eax`,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			tgt := newTarget(t)
			g := ir.NewGraph("f")
			method(g, call(g, tgt, "Foo", x86.ConvRegParm, tc.args...)...)
			_, got := finish(t, g, tgt, &regalloc.Result{})
			require.Equal(t, tc.exp, got)
		})
	}
}

func TestFinish_frame(t *testing.T) {
	tgt := newTarget(t)
	g := ir.NewGraph("f")
	g.Convention = x86.ConvRegParm
	g.Params = []ir.TypeClass{ir.TypeInt32, ir.TypeInt32, ir.TypeInt32, ir.TypeInt32}
	g.Locals = []ir.TypeClass{ir.TypeInt32, ir.TypeInt32}
	method(g,
		g.NewMInst(ir.MachSetupStack),
		g.NewMInst(ir.MachSaveCalleePreserves),
		tgt.Move(g, r(x86.EBX), ir.Local(1, ir.TypeInt32)),
		tgt.Move(g, ir.Spill(0, ir.TypeInt32), r(x86.EBX)),
		tgt.Move(g, r(x86.ECX), r(x86.ECX)),
		tgt.Move(g, r(x86.EAX), ir.Arg(3, ir.TypeInt32)),
		g.NewMInst(ir.MachRestoreCalleePreserves),
		tgt.Ret(g, x86.EAX))

	f, got := finish(t, g, tgt, &regalloc.Result{
		SpillSlots: 1,
		Clobbered:  target.NewRegSet(x86.EAX, x86.EBX, x86.ECX),
	})
	require.Equal(t, []int64{-4, -8}, f.Locals)
	require.Equal(t, []int64{-12, -16, -20, 8}, f.Args)
	require.Equal(t, []int64{-24}, f.Spills)
	require.Equal(t, int64(24), f.Size)
	require.Equal(t, target.NewRegSet(x86.EBX), f.Preserved)
	require.Equal(t, 1, f.RemovedMoves)
	require.Equal(t, `push ebp, esp
mov ebp, esp
sub esp, esp, 24:i32
mov [ebp-12], eax
mov [ebp-16], edx
mov [ebp-20], ecx
push ebx, esp
mov ebx, [ebp-8]
mov [ebp-24], ebx
mov eax, [ebp+8]
pop ebx, esp
mov esp, ebp
pop ebp, esp
ret eax`, got)
}

func TestFinish_errors(t *testing.T) {
	tgt := newTarget(t)

	t.Run("precall without call site", func(t *testing.T) {
		g := ir.NewGraph("f")
		method(g, g.NewMInst(ir.MachPrecall, r(x86.EAX).Use()))
		_, err := Finish(g, tgt, &regalloc.Result{}, nil, nil)
		require.Equal(t, tysilaapi.KindStructural, tysilaapi.KindOf(err))
	})

	t.Run("spill slot out of range", func(t *testing.T) {
		g := ir.NewGraph("f")
		method(g, tgt.Move(g, r(x86.EAX), ir.Spill(2, ir.TypeInt32)))
		_, err := Finish(g, tgt, &regalloc.Result{SpillSlots: 1}, nil, nil)
		require.Equal(t, tysilaapi.KindStructural, tysilaapi.KindOf(err))
	})

	t.Run("unknown convention", func(t *testing.T) {
		g := ir.NewGraph("f")
		g.Convention = "fastcall"
		method(g)
		_, err := Finish(g, tgt, &regalloc.Result{}, nil, nil)
		require.Equal(t, tysilaapi.KindUnsupported, tysilaapi.KindOf(err))
	})
}

package codegen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

func TestCompileAll(t *testing.T) {
	tgt := newTarget(t)
	var gs []*ir.Graph
	for n := 0; n < 10; n++ {
		g := ir.NewGraph(fmt.Sprintf("m%d", n))
		g.AddBlock()
		g.Emit(0, ir.OpStore, defs(s(0)), i32(int64(n)))
		g.Emit(0, ir.OpMul, defs(s(1)), s(0), s(0))
		g.Emit(0, ir.OpRet, nil, s(1))
		if n%4 == 3 {
			g.Convention = "fastcall"
		}
		gs = append(gs, g)
	}

	results, sum, err := CompileAll(gs, tgt, options(), 3)
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Contains(t, err.Error(), "(m3)")
	require.Contains(t, err.Error(), "(m7)")
	require.Equal(t, Summary{Compiled: 8, Failed: 2}, sum)

	for n, res := range results {
		if n%4 == 3 {
			require.Nil(t, res)
			continue
		}
		require.NotNil(t, res)
		require.Equal(t, fmt.Sprintf("mov eax, %d:i32", n*n), listing(res.Graph, tgt)[2])
	}
}

func TestCompileAll_empty(t *testing.T) {
	results, sum, err := CompileAll(nil, newTarget(t), options(), 0)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, Summary{}, sum)
}

func TestCompileAll_panic(t *testing.T) {
	tgt := newTarget(t)
	good := ir.NewGraph("good")
	good.AddBlock()
	good.Emit(0, ir.OpRet, nil, i32(1))

	results, sum, err := CompileAll([]*ir.Graph{nil, good}, tgt, options(), 2)
	require.Error(t, err)
	require.Equal(t, tysilaapi.KindStructural, tysilaapi.KindOf(err))
	require.Contains(t, err.Error(), "panic")
	require.Contains(t, err.Error(), "(<nil>)")
	require.Equal(t, Summary{Compiled: 1, Failed: 1}, sum)
	require.Nil(t, results[0])
	require.NotNil(t, results[1])
}

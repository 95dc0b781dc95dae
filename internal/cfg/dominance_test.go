package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

type edgesCase map[ir.BlockID][]ir.BlockID

func constructGraphFromEdges(t *testing.T, edges edgesCase) *ir.Graph {
	var max ir.BlockID
	for from, tos := range edges {
		if from > max {
			max = from
		}
		for _, to := range tos {
			if to > max {
				max = to
			}
		}
	}
	g := ir.NewGraph(t.Name())
	for i := ir.BlockID(0); i <= max; i++ {
		g.AddBlock()
	}
	for i := ir.BlockID(0); i <= max; i++ {
		for _, to := range edges[i] {
			g.AddEdge(i, to)
		}
	}
	return g
}

func TestCompute_dominators(t *testing.T) {
	for _, tc := range []struct {
		name     string
		edges    edgesCase
		expDoms  map[ir.BlockID]ir.BlockID
		expDF    map[ir.BlockID][]int
		expLoops []int
	}{
		{
			name: "linear",
			// 0 -> 1 -> 2 -> 3
			edges:   edgesCase{0: {1}, 1: {2}, 2: {3}},
			expDoms: map[ir.BlockID]ir.BlockID{1: 0, 2: 1, 3: 2},
		},
		{
			name: "diamond",
			//  0
			// / \
			// 1   2
			// \ /
			//  3
			edges:   edgesCase{0: {1, 2}, 1: {3}, 2: {3}},
			expDoms: map[ir.BlockID]ir.BlockID{1: 0, 2: 0, 3: 0},
			expDF:   map[ir.BlockID][]int{1: {3}, 2: {3}},
		},
		{
			name: "loop",
			// 0 -> 1 -> 2 -> 3
			//      ^    |
			//      +----+
			edges:    edgesCase{0: {1}, 1: {2}, 2: {1, 3}},
			expDoms:  map[ir.BlockID]ir.BlockID{1: 0, 2: 1, 3: 2},
			expDF:    map[ir.BlockID][]int{1: {1}, 2: {1}},
			expLoops: []int{1},
		},
		{
			name: "nested loops",
			// 0 -> 1 -> 2 -> 3 -> 4
			//      ^    ^    |    |
			//      |    +----+    |
			//      +--------------+
			edges:    edgesCase{0: {1}, 1: {2}, 2: {3}, 3: {2, 4}, 4: {1, 5}},
			expDoms:  map[ir.BlockID]ir.BlockID{1: 0, 2: 1, 3: 2, 4: 3, 5: 4},
			expDF:    map[ir.BlockID][]int{1: {1}, 2: {1, 2}, 3: {1, 2}, 4: {1}},
			expLoops: []int{1, 2},
		},
		{
			name: "multiple exits",
			//   0
			//  / \
			// 1   2 -> 4
			// |   |
			// 3 <-+
			edges:   edgesCase{0: {1, 2}, 1: {3}, 2: {3, 4}},
			expDoms: map[ir.BlockID]ir.BlockID{1: 0, 2: 0, 3: 0, 4: 2},
			expDF:   map[ir.BlockID][]int{1: {3}, 2: {3}},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := constructGraphFromEdges(t, tc.edges)
			d, err := Compute(g)
			require.NoError(t, err)
			for blk, exp := range tc.expDoms {
				require.Equal(t, exp, d.IDom[blk], "blk%d", blk)
			}
			for i := range g.Blocks {
				exp := tc.expDF[ir.BlockID(i)]
				require.Equal(t, exp, d.Frontier[i].Slice(), "DF(blk%d)", i)
			}
			require.Equal(t, tc.expLoops, d.LoopHeaders.Slice())

			// Idempotent.
			again, err := Compute(g)
			require.NoError(t, err)
			require.Equal(t, d, again)
		})
	}
}

func TestCompute_loopDepth(t *testing.T) {
	g := constructGraphFromEdges(t, edgesCase{0: {1}, 1: {2}, 2: {3}, 3: {2, 4}, 4: {1, 5}})
	_, err := Compute(g)
	require.NoError(t, err)
	var depths []int
	for _, blk := range g.Blocks {
		depths = append(depths, blk.LoopDepth)
	}
	require.Equal(t, []int{0, 1, 2, 2, 1, 0}, depths)
}

func TestDominance_IteratedFrontier(t *testing.T) {
	// 0 -> 1 -> 2 -> 4 -> 5
	//      |         ^
	//      +--> 3 ---+
	// 5 -> 1 (back edge)
	g := constructGraphFromEdges(t, edgesCase{0: {1}, 1: {2, 3}, 2: {4}, 3: {4}, 4: {5}, 5: {1, 6}})
	d, err := Compute(g)
	require.NoError(t, err)
	require.Equal(t, []int{4}, d.Frontier[2].Slice())
	require.Equal(t, []int{1}, d.Frontier[4].Slice())
	// DF(2) = {4}, DF(4) = {1}, DF(1) = {1}.
	require.Equal(t, []int{1, 4}, d.IteratedFrontier(bitset.New(2)).Slice())
}

func TestCompute_rejectsUnreachable(t *testing.T) {
	for _, tc := range []struct {
		name  string
		edges edgesCase
	}{
		{
			name: "no predecessors",
			// 0 -> 1    2 -> 1
			edges: edgesCase{0: {1}, 2: {1}},
		},
		{
			name: "unreachable cycle",
			// 0 -> 1    2 <-> 3
			edges: edgesCase{0: {1}, 2: {3}, 3: {2}},
		},
		{
			name:  "edge into entry",
			edges: edgesCase{0: {1}, 1: {0}},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := constructGraphFromEdges(t, tc.edges)
			_, err := Compute(g)
			require.Error(t, err)
			require.True(t, tysilaapi.IsKind(err, tysilaapi.KindStructural), err.Error())
		})
	}
}

func TestBuild(t *testing.T) {
	g0 := ir.NewGraph("scratch")
	blocks := [][]*ir.Instr{
		{g0.NewInstr(ir.OpStore, []ir.Operand{ir.Temp(4, ir.TypeInt32)}, ir.Const(ir.TypeInt32, 1)), g0.NewInstr(ir.OpBr, nil)},
		{g0.NewInstr(ir.OpRet, nil, ir.Temp(4, ir.TypeInt32))},
	}
	g, err := Build("m", blocks, [][]ir.BlockID{{1}})
	require.NoError(t, err)
	require.Equal(t, ir.VReg(5), g.NextVReg)
	require.Equal(t, []ir.BlockID{0}, g.Blocks[1].Preds)

	_, err = Build("m", blocks, [][]ir.BlockID{{7}})
	require.True(t, tysilaapi.IsKind(err, tysilaapi.KindStructural))

	_, err = Build("m", append(blocks, nil), [][]ir.BlockID{{1}})
	require.True(t, tysilaapi.IsKind(err, tysilaapi.KindStructural))
}

func TestSplitCriticalEdges(t *testing.T) {
	//   0
	//  / \
	// 1   |
	//  \  |
	//   2 <- 0 -> 2 is critical
	g := constructGraphFromEdges(t, edgesCase{0: {1, 2}, 1: {2}})
	require.False(t, SplitCriticalEdges(g, func(*ir.Block) bool { return false }))
	require.True(t, SplitCriticalEdges(g, nil))
	require.Equal(t, 4, len(g.Blocks))
	require.Equal(t, []ir.BlockID{1, 3}, g.Blocks[0].Succs)
	require.Equal(t, []ir.BlockID{3, 1}, g.Blocks[2].Preds)
	require.Equal(t, []ir.BlockID{0}, g.Blocks[3].Preds)
	require.Equal(t, []ir.BlockID{2}, g.Blocks[3].Succs)
	require.Equal(t, ir.OpBr, g.Blocks[3].Terminator().Op)
	require.False(t, SplitCriticalEdges(g, nil))
	require.NoError(t, Validate(g))
}

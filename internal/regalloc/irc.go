package regalloc

import (
	"math"

	"github.com/jncronin/tysos-sub010/internal/bitset"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/liveness"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Nodes 0 to NumRegs-1 are the physical registers, the rest are the virtual
// registers in id order.

type nodeState byte

const (
	nodeAbsent nodeState = iota
	nodePrecolored
	nodeInitial
	nodeSimplify
	nodeFreeze
	nodeSpill
	nodeCoalesced
	nodeOnStack
	nodeColored
	nodeSpilled
)

type moveState byte

const (
	moveWorklist moveState = iota
	moveActive
	moveCoalesced
	moveConstrained
	moveFrozen
)

type move struct {
	dst, src int
	state    moveState
}

// infiniteDegree is the degree of precolored nodes.
const infiniteDegree = math.MaxInt32

type allocator struct {
	g       *ir.Graph
	t       *target.Target
	palette []ir.RegID
	// usable holds the registers of palette.
	usable target.RegSet
	k      int
	nregs  int
	// avoid marks the nodes created by a spill rewrite.
	avoid func(n int) bool

	state    []nodeState
	types    []ir.TypeClass
	adjSet   map[uint64]struct{}
	adjList  [][]int
	degree   []int
	moveList [][]int
	moves    []move
	alias    []int
	color    []int
	cost     []float64

	simplifyWorklist, freezeWorklist, spillWorklist *bitset.Set
	worklistMoves, activeMoves                      *bitset.Set
	selectStack                                     []int
	spilledNodes                                    []int
	coalescedMoves                                  int
}

func newAllocator(g *ir.Graph, t *target.Target, palette []ir.RegID, spillTemps map[ir.VReg]bool) *allocator {
	nregs := t.NumRegs()
	n := nregs + int(g.NextVReg)
	a := &allocator{
		g:                g,
		t:                t,
		palette:          palette,
		usable:           target.NewRegSet(palette...),
		k:                len(palette),
		nregs:            nregs,
		state:            make([]nodeState, n),
		types:            make([]ir.TypeClass, n),
		adjSet:           map[uint64]struct{}{},
		adjList:          make([][]int, n),
		degree:           make([]int, n),
		moveList:         make([][]int, n),
		alias:            make([]int, n),
		color:            make([]int, n),
		cost:             make([]float64, n),
		simplifyWorklist: &bitset.Set{},
		freezeWorklist:   &bitset.Set{},
		spillWorklist:    &bitset.Set{},
		worklistMoves:    &bitset.Set{},
		activeMoves:      &bitset.Set{},
	}
	a.avoid = func(n int) bool { return n >= nregs && spillTemps[a.vreg(n)] }
	for i := range a.color {
		a.color[i] = -1
		a.alias[i] = i
	}
	for _, r := range t.Allocatable() {
		a.state[r] = nodePrecolored
		a.color[r] = int(r)
		a.degree[r] = infiniteDegree
	}
	return a
}

func (a *allocator) node(v ir.VReg) int { return a.nregs + int(v) }

func (a *allocator) vreg(n int) ir.VReg { return ir.VReg(n - a.nregs) }

func (a *allocator) precolored(n int) bool { return n < a.nregs }

func (a *allocator) numNodes() int {
	c := 0
	for _, s := range a.state[a.nregs:] {
		if s != nodeAbsent {
			c++
		}
	}
	return c
}

// key maps a machine operand to its node. Registers the target does not
// allocate, such as the stack and frame pointers, are not tracked.
func (a *allocator) key(o ir.Operand) (int, bool) {
	switch {
	case o.IsRenamed():
		return a.node(o.SSA), true
	case o.Kind == ir.OperandReg && a.t.IsAllocatable(o.Reg):
		return int(o.Reg), true
	}
	return 0, false
}

// isMove reports whether m is a register to register copy, returning its nodes.
func (a *allocator) isMove(m *ir.MInst) (dst, src int, ok bool) {
	d, s, ok := a.t.IsMove(m)
	if !ok || !d.InRegister() || !s.InRegister() {
		return 0, 0, false
	}
	dst, okd := a.key(d)
	src, oks := a.key(s)
	return dst, src, okd && oks
}

func adjKey(u, v int) uint64 { return uint64(u)<<32 | uint64(v) }

func (a *allocator) addEdge(u, v int) {
	if u == v {
		return
	}
	if _, ok := a.adjSet[adjKey(u, v)]; ok {
		return
	}
	a.adjSet[adjKey(u, v)] = struct{}{}
	a.adjSet[adjKey(v, u)] = struct{}{}
	if !a.precolored(u) {
		a.adjList[u] = append(a.adjList[u], v)
		a.degree[u]++
	}
	if !a.precolored(v) {
		a.adjList[v] = append(a.adjList[v], u)
		a.degree[v]++
	}
}

func (a *allocator) interferes(u, v int) bool {
	_, ok := a.adjSet[adjKey(u, v)]
	return ok
}

// build constructs the interference graph and the move lists from fresh
// liveness of the machine code, and accumulates spill costs.
func (a *allocator) build() error {
	live := liveness.Analyze(liveness.Machine(a.g, a.key))
	cur := &bitset.Set{}
	var uses, defs []int
	for _, blk := range a.g.Blocks {
		weight := math.Pow(10, float64(blk.LoopDepth))
		cur.CopyFrom(live.LiveOut[blk.ID])
		code := blk.MachineCode()
		for i := len(code) - 1; i >= 0; i-- {
			m := code[i]
			if err := a.record(m, weight); err != nil {
				return err
			}
			uses, defs = liveness.Operands(m, a.key, uses[:0], defs[:0])

			if dst, src, ok := a.isMove(m); ok {
				cur.Remove(src)
				idx := len(a.moves)
				a.moves = append(a.moves, move{dst: dst, src: src})
				a.moveList[dst] = append(a.moveList[dst], idx)
				if src != dst {
					a.moveList[src] = append(a.moveList[src], idx)
				}
				a.worklistMoves.Add(idx)
			}

			for _, d := range defs {
				cur.Add(d)
			}
			for _, d := range defs {
				cur.Range(func(l int) { a.addEdge(l, d) })
			}
			for _, d := range defs {
				cur.Remove(d)
			}
			for _, u := range uses {
				cur.Add(u)
			}
		}
	}
	return nil
}

// record registers the virtual registers of m as nodes and adds m's weight
// to their spill costs.
func (a *allocator) record(m *ir.MInst, weight float64) error {
	for _, o := range m.Args {
		if !o.IsRenamed() {
			continue
		}
		if a.t.ClassOf(o.Type) != target.ClassGPR {
			return tysilaapi.Unsupported("regalloc", "no register class for %s", o.Type).At(o.String(), -1)
		}
		n := a.node(o.SSA)
		if a.state[n] == nodeAbsent {
			a.state[n] = nodeInitial
			a.types[n] = o.Type
		}
		a.cost[n] += weight
	}
	return nil
}

func (a *allocator) makeWorklist() {
	for n := a.nregs; n < len(a.state); n++ {
		if a.state[n] != nodeInitial {
			continue
		}
		switch {
		case a.degree[n] >= a.k:
			a.state[n] = nodeSpill
			a.spillWorklist.Add(n)
		case a.moveRelated(n):
			a.state[n] = nodeFreeze
			a.freezeWorklist.Add(n)
		default:
			a.state[n] = nodeSimplify
			a.simplifyWorklist.Add(n)
		}
	}
}

// reduce runs simplify, coalesce, freeze and spill selection until every
// node is on the select stack or coalesced.
func (a *allocator) reduce() {
	for {
		switch {
		case !a.simplifyWorklist.Empty():
			a.simplify()
		case !a.worklistMoves.Empty():
			a.coalesce()
		case !a.freezeWorklist.Empty():
			a.freeze()
		case !a.spillWorklist.Empty():
			a.selectSpill()
		default:
			return
		}
	}
}

func (a *allocator) adjacent(n int, fn func(m int)) {
	for _, m := range a.adjList[n] {
		if s := a.state[m]; s != nodeOnStack && s != nodeCoalesced {
			fn(m)
		}
	}
}

func (a *allocator) nodeMoves(n int, fn func(idx int)) {
	for _, idx := range a.moveList[n] {
		if a.activeMoves.Has(idx) || a.worklistMoves.Has(idx) {
			fn(idx)
		}
	}
}

func (a *allocator) moveRelated(n int) bool {
	related := false
	a.nodeMoves(n, func(int) { related = true })
	return related
}

func (a *allocator) simplify() {
	n := a.simplifyWorklist.First()
	a.simplifyWorklist.Remove(n)
	a.state[n] = nodeOnStack
	a.selectStack = append(a.selectStack, n)
	a.adjacent(n, a.decrementDegree)
}

func (a *allocator) decrementDegree(m int) {
	if a.precolored(m) {
		return
	}
	d := a.degree[m]
	a.degree[m]--
	if d != a.k {
		return
	}
	a.enableMoves(m)
	a.adjacent(m, a.enableMoves)
	if !a.spillWorklist.Remove(m) {
		// Already chosen as a spill candidate.
		return
	}
	if a.moveRelated(m) {
		a.state[m] = nodeFreeze
		a.freezeWorklist.Add(m)
	} else {
		a.state[m] = nodeSimplify
		a.simplifyWorklist.Add(m)
	}
}

func (a *allocator) enableMoves(n int) {
	a.nodeMoves(n, func(idx int) {
		if a.activeMoves.Remove(idx) {
			a.moves[idx].state = moveWorklist
			a.worklistMoves.Add(idx)
		}
	})
}

func (a *allocator) getAlias(n int) int {
	for a.state[n] == nodeCoalesced {
		n = a.alias[n]
	}
	return n
}

func (a *allocator) coalesce() {
	idx := a.worklistMoves.First()
	a.worklistMoves.Remove(idx)
	mv := &a.moves[idx]
	x, y := a.getAlias(mv.dst), a.getAlias(mv.src)
	u, v := x, y
	if a.precolored(y) {
		u, v = y, x
	}

	switch {
	case u == v:
		mv.state = moveCoalesced
		a.coalescedMoves++
		a.addWorklist(u)
	// Registers left out of the palette never absorb a virtual register.
	case a.precolored(v) || a.interferes(u, v) || (a.precolored(u) && !a.usable.Has(ir.RegID(u))):
		mv.state = moveConstrained
		a.addWorklist(u)
		a.addWorklist(v)
	case a.precolored(u) && a.george(u, v), !a.precolored(u) && a.briggs(u, v):
		mv.state = moveCoalesced
		a.coalescedMoves++
		a.combine(u, v)
		a.addWorklist(u)
	default:
		mv.state = moveActive
		a.activeMoves.Add(idx)
	}
}

func (a *allocator) addWorklist(u int) {
	if !a.precolored(u) && !a.moveRelated(u) && a.degree[u] < a.k {
		a.freezeWorklist.Remove(u)
		a.state[u] = nodeSimplify
		a.simplifyWorklist.Add(u)
	}
}

// george is the test for coalescing v into the precolored u: every
// neighbor of v already interferes with u or has insignificant degree.
func (a *allocator) george(u, v int) bool {
	ok := true
	a.adjacent(v, func(t int) {
		if !(a.degree[t] < a.k || a.precolored(t) || a.interferes(t, u)) {
			ok = false
		}
	})
	return ok
}

// briggs is the conservative test: the merged node has fewer than K
// neighbors of significant degree.
func (a *allocator) briggs(u, v int) bool {
	seen := map[int]bool{}
	k := 0
	count := func(n int) {
		if !seen[n] {
			seen[n] = true
			if a.degree[n] >= a.k {
				k++
			}
		}
	}
	a.adjacent(u, count)
	a.adjacent(v, count)
	return k < a.k
}

func (a *allocator) combine(u, v int) {
	a.freezeWorklist.Remove(v)
	a.spillWorklist.Remove(v)
	a.simplifyWorklist.Remove(v)
	a.state[v] = nodeCoalesced
	a.alias[v] = u
	a.moveList[u] = append(a.moveList[u], a.moveList[v]...)
	a.enableMoves(v)
	a.adjacent(v, func(t int) {
		a.addEdge(t, u)
		a.decrementDegree(t)
	})
	if a.degree[u] >= a.k && a.freezeWorklist.Remove(u) {
		a.state[u] = nodeSpill
		a.spillWorklist.Add(u)
	}
}

func (a *allocator) freeze() {
	u := a.freezeWorklist.First()
	a.freezeWorklist.Remove(u)
	a.state[u] = nodeSimplify
	a.simplifyWorklist.Add(u)
	a.freezeMoves(u)
}

func (a *allocator) freezeMoves(u int) {
	a.nodeMoves(u, func(idx int) {
		mv := &a.moves[idx]
		x, y := a.getAlias(mv.dst), a.getAlias(mv.src)
		v := x
		if x == a.getAlias(u) {
			v = y
		}
		a.activeMoves.Remove(idx)
		a.worklistMoves.Remove(idx)
		mv.state = moveFrozen
		if !a.precolored(v) && a.state[v] == nodeFreeze && !a.moveRelated(v) && a.degree[v] < a.k {
			a.freezeWorklist.Remove(v)
			a.state[v] = nodeSimplify
			a.simplifyWorklist.Add(v)
		}
	})
}

// selectSpill picks the candidate with the lowest cost per neighbor.
// Temporaries of an earlier spill rewrite are only picked if nothing else is
// left, since spilling them again frees nothing.
func (a *allocator) selectSpill() {
	best, bestAvoid := -1, true
	var bestCost float64
	a.spillWorklist.Range(func(n int) {
		avoid := a.avoid(n)
		c := a.cost[n] / float64(a.degree[n])
		if best == -1 || (bestAvoid && !avoid) || (avoid == bestAvoid && c < bestCost) {
			best, bestAvoid, bestCost = n, avoid, c
		}
	})
	a.spillWorklist.Remove(best)
	a.state[best] = nodeSimplify
	a.simplifyWorklist.Add(best)
	a.freezeMoves(best)
}

func (a *allocator) assignColors() {
	for len(a.selectStack) > 0 {
		n := a.selectStack[len(a.selectStack)-1]
		a.selectStack = a.selectStack[:len(a.selectStack)-1]

		var taken target.RegSet
		for _, w := range a.adjList[n] {
			w = a.getAlias(w)
			if s := a.state[w]; s == nodeColored || s == nodePrecolored {
				taken = taken.Add(ir.RegID(a.color[w]))
			}
		}
		a.state[n] = nodeSpilled
		for _, r := range a.palette {
			if !taken.Has(r) {
				a.state[n] = nodeColored
				a.color[n] = int(r)
				break
			}
		}
		if a.state[n] == nodeSpilled {
			a.spilledNodes = append(a.spilledNodes, n)
		}
	}
	for n := a.nregs; n < len(a.state); n++ {
		if a.state[n] == nodeCoalesced {
			a.color[n] = a.color[a.getAlias(n)]
		}
	}
}

// validate checks that interfering nodes received different colors.
func (a *allocator) validate() error {
	for n := a.nregs; n < len(a.state); n++ {
		if a.state[n] == nodeAbsent {
			continue
		}
		if a.color[n] < 0 {
			return tysilaapi.Structural("regalloc", "v%d has no color", a.vreg(n))
		}
		for _, w := range a.adjList[n] {
			if a.color[w] == a.color[n] {
				return tysilaapi.Structural("regalloc", "v%d and node %d interfere but share %s",
					a.vreg(n), w, a.t.RegName(ir.RegID(a.color[n])))
			}
		}
	}
	return nil
}

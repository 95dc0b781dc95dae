package callseq

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/liveness"
	"github.com/jncronin/tysos-sub010/internal/pmove"
	"github.com/jncronin/tysos-sub010/internal/regalloc"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

type finisher struct {
	g      *ir.Graph
	t      *target.Target
	frame  *Frame
	params []target.ArgLoc
	phys   *liveness.PhysicalResult
	// saved holds the caller-saved registers pushed by each precall, for the
	// matching postcall.
	saved map[*ir.CallSite]target.RegSet
}

// Finish expands the markers of g, whose registers have been allocated by
// alloc, and resolves its stack slot operands. phys is the physical register
// liveness of the allocated code.
func Finish(g *ir.Graph, t *target.Target, alloc *regalloc.Result, phys *liveness.PhysicalResult, logger *zap.Logger) (*Frame, error) {
	logger = tysilaapi.OrNop(logger)
	conv, err := t.Convention(g.Convention)
	if err != nil {
		return nil, tysilaapi.Unsupported("callseq", "%v", err)
	}
	frame, params := layout(g, t, conv, alloc.SpillSlots)
	frame.Preserved = preserved(alloc.Clobbered, conv.CalleeSaved)
	f := &finisher{
		g: g, t: t, frame: frame, params: params, phys: phys,
		saved: map[*ir.CallSite]target.RegSet{},
	}

	for _, blk := range g.Blocks {
		between := definedDuringCalls(blk.MachineCode())
		for _, instr := range blk.Instrs {
			if len(instr.Machine) == 0 {
				continue
			}
			code := make([]*ir.MInst, 0, len(instr.Machine))
			for _, m := range instr.Machine {
				expanded, err := f.expand(m, between)
				if err != nil {
					return nil, err.At(m.Format(t), instr.Offset)
				}
				for _, e := range expanded {
					if err := f.resolveOperands(e); err != nil {
						return nil, tysilaapi.Structural("callseq", "%v", err).At(e.Format(t), instr.Offset)
					}
					if f.isSelfMove(e) {
						frame.RemovedMoves++
						continue
					}
					code = append(code, e)
				}
			}
			instr.Machine = code
		}
	}

	logger.Debug("finished frame",
		zap.Int64("size", frame.Size),
		zap.String("preserved", frame.Preserved.Format(t)),
		zap.Int("removed moves", frame.RemovedMoves))
	return frame, nil
}

// preserved returns the callee-saved registers in clobbered.
func preserved(clobbered, calleeSaved target.RegSet) target.RegSet {
	var rs target.RegSet
	clobbered.Range(func(r ir.RegID) {
		if calleeSaved.Has(r) {
			rs = rs.Add(r)
		}
	})
	return rs
}

// definedDuringCalls returns, for each call in code, the registers written
// between its precall and postcall markers: the call's own results.
func definedDuringCalls(code []*ir.MInst) map[*ir.CallSite]target.RegSet {
	ret := map[*ir.CallSite]target.RegSet{}
	var open *ir.CallSite
	for _, m := range code {
		switch {
		case m.Op == ir.MachPrecall:
			open = m.Call
			ret[open] = 0
		case m.Op == ir.MachPostcall:
			open = nil
		case open != nil:
			m.Defs(func(_ int, o *ir.Operand) {
				if o.Kind == ir.OperandReg {
					ret[open] = ret[open].Add(o.Reg)
				}
			})
		}
	}
	return ret
}

func (f *finisher) expand(m *ir.MInst, between map[*ir.CallSite]target.RegSet) ([]*ir.MInst, *tysilaapi.Error) {
	switch m.Op {
	case ir.MachSetupStack:
		return f.setupStack()
	case ir.MachSaveCalleePreserves:
		var ret []*ir.MInst
		f.frame.Preserved.Range(func(r ir.RegID) {
			ret = append(ret, f.t.Push(f.g, ir.Reg(r, f.t.PtrType())))
		})
		return ret, nil
	case ir.MachRestoreCalleePreserves:
		return f.restore(), nil
	case ir.MachPrecall:
		return f.precall(m, between[m.Call])
	case ir.MachPostcall:
		return f.postcall(m), nil
	default:
		return []*ir.MInst{m}, nil
	}
}

func (f *finisher) reg(r ir.RegID) ir.Operand { return ir.Reg(r, f.t.PtrType()) }

// setupStack builds the frame and copies register arguments to their homes.
func (f *finisher) setupStack() ([]*ir.MInst, *tysilaapi.Error) {
	fp, sp := f.reg(f.t.FramePointer()), f.reg(f.t.StackPointer())
	ret := []*ir.MInst{f.t.Push(f.g, fp), f.t.Move(f.g, fp, sp)}
	if f.frame.Size > 0 {
		ret = append(ret, f.t.AdjustStack(f.g, -f.frame.Size))
	}
	for i, loc := range f.params {
		if loc.Kind != target.ArgKindReg {
			continue
		}
		home := ir.Mem(f.t.FramePointer(), f.frame.Args[i], loc.Type)
		mv := f.t.Move(f.g, home, ir.Reg(loc.Reg, loc.Type))
		if mv == nil {
			return nil, tysilaapi.Unsupported("callseq", "cannot store argument %d", i)
		}
		ret = append(ret, mv)
	}
	return ret, nil
}

// restore pops the callee-saved registers and tears the frame down.
func (f *finisher) restore() []*ir.MInst {
	var ret []*ir.MInst
	regs := f.frame.Preserved.Slice()
	for i := len(regs) - 1; i >= 0; i-- {
		ret = append(ret, f.t.Pop(f.g, f.reg(regs[i])))
	}
	fp, sp := f.reg(f.t.FramePointer()), f.reg(f.t.StackPointer())
	return append(ret, f.t.Move(f.g, sp, fp), f.t.Pop(f.g, fp))
}

// precall saves the caller-saved registers live across the call, pushes the
// stack arguments last to first and moves the register arguments in place.
// defined are the registers the call sequence itself writes.
func (f *finisher) precall(m *ir.MInst, defined target.RegSet) ([]*ir.MInst, *tysilaapi.Error) {
	cs := m.Call
	if cs == nil || len(cs.ArgTypes) != len(m.Args) {
		return nil, tysilaapi.Structural("callseq", "precall without a matching call site")
	}
	conv, err := f.t.Convention(cs.Convention)
	if err != nil {
		return nil, tysilaapi.Unsupported("callseq", "%v", err)
	}

	var saved target.RegSet
	if live, ok := f.liveAt(m); ok {
		across := live.In
		if post, ok := f.postcallOf(cs); ok {
			out, _ := f.liveAt(post)
			across = intersect(across, out.Out)
		}
		saved = intersect(across, conv.CallerSaved)
		defined.Range(func(r ir.RegID) { saved = saved.Remove(r) })
	}
	f.saved[cs] = saved

	var ret []*ir.MInst
	saved.Range(func(r ir.RegID) { ret = append(ret, f.t.Push(f.g, f.reg(r))) })

	locs, stackBytes := f.t.PlaceArgs(conv, cs.ArgTypes)
	cs.StackBytes = stackBytes
	for i := len(locs) - 1; i >= 0; i-- {
		if locs[i].Kind == target.ArgKindStack {
			ret = append(ret, f.t.Push(f.g, m.Args[i]))
		}
	}

	moves, err2 := f.argumentMoves(conv, m.Args, locs, saved)
	if err2 != nil {
		return nil, err2
	}
	return append(ret, moves...), nil
}

// argumentMoves places register arguments as one parallel move. Cycles go
// through a scratch register: a caller-saved one that is neither read nor
// written by the move is either dead or already saved, otherwise any other
// allocatable register is saved around the move.
func (f *finisher) argumentMoves(conv *target.Convention, args []ir.Operand, locs []target.ArgLoc, saved target.RegSet) ([]*ir.MInst, *tysilaapi.Error) {
	var moves []pmove.Move[ir.RegID]
	var busy target.RegSet
	for i, loc := range locs {
		if loc.Kind != target.ArgKindReg {
			continue
		}
		busy = busy.Add(loc.Reg)
		src := args[i]
		if src.Kind == ir.OperandReg {
			busy = busy.Add(src.Reg)
			moves = append(moves, pmove.Move[ir.RegID]{Dst: loc.Reg, Src: src.Reg, Index: i})
		} else {
			moves = append(moves, pmove.Move[ir.RegID]{Dst: loc.Reg, Fixed: true, Index: i})
		}
	}
	if len(moves) == 0 {
		return nil, nil
	}

	scratch, free := f.scratch(conv, busy, saved)
	seq := pmove.Sequence(moves, scratch)

	var ret []*ir.MInst
	usesScratch := false
	for _, mv := range seq {
		var src ir.Operand
		switch {
		case mv.Fixed:
			src = args[mv.Index]
		default:
			src = ir.Reg(mv.Src, locs[mv.Index].Type)
		}
		if mv.Dst == scratch || (!mv.Fixed && mv.Src == scratch) {
			usesScratch = true
		}
		ins := f.t.Move(f.g, ir.Reg(mv.Dst, locs[mv.Index].Type), src)
		if ins == nil {
			return nil, tysilaapi.Unsupported("callseq", "cannot move argument %d", mv.Index)
		}
		ret = append(ret, ins)
	}
	if usesScratch && !free {
		ret = append([]*ir.MInst{f.t.Push(f.g, f.reg(scratch))}, ret...)
		ret = append(ret, f.t.Pop(f.g, f.reg(scratch)))
	}
	return ret, nil
}

// scratch picks a register outside busy, reporting whether it may be
// overwritten without being saved.
func (f *finisher) scratch(conv *target.Convention, busy, saved target.RegSet) (ir.RegID, bool) {
	for _, r := range f.t.Allocatable() {
		if !busy.Has(r) && (conv.CallerSaved.Has(r) || saved.Has(r)) {
			return r, true
		}
	}
	for _, r := range f.t.Allocatable() {
		if !busy.Has(r) {
			return r, false
		}
	}
	panic("BUG: no scratch register")
}

// postcall drops the stack arguments and restores what precall saved.
func (f *finisher) postcall(m *ir.MInst) []*ir.MInst {
	var ret []*ir.MInst
	if m.Call.StackBytes > 0 {
		ret = append(ret, f.t.AdjustStack(f.g, m.Call.StackBytes))
	}
	regs := f.saved[m.Call].Slice()
	for i := len(regs) - 1; i >= 0; i-- {
		ret = append(ret, f.t.Pop(f.g, f.reg(regs[i])))
	}
	return ret
}

func (f *finisher) liveAt(m *ir.MInst) (liveness.Live, bool) {
	if f.phys == nil {
		return liveness.Live{}, false
	}
	l, ok := f.phys.At[m]
	return l, ok
}

func (f *finisher) postcallOf(cs *ir.CallSite) (*ir.MInst, bool) {
	if f.phys == nil {
		return nil, false
	}
	for m := range f.phys.At {
		if m.Op == ir.MachPostcall && m.Call == cs {
			return m, true
		}
	}
	return nil, false
}

func intersect(a, b target.RegSet) target.RegSet { return a & b }

func (f *finisher) resolveOperands(m *ir.MInst) error {
	for i := range m.Args {
		r, err := f.frame.resolve(m.Args[i], f.t.FramePointer())
		if err != nil {
			return err
		}
		m.Args[i] = r
	}
	return nil
}

func (f *finisher) isSelfMove(m *ir.MInst) bool {
	dst, src, ok := f.t.IsMove(m)
	return ok && dst.Kind == ir.OperandReg && dst.SameLocation(src)
}

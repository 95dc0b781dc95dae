// Package lower selects machine instructions for the IR instructions of a
// method. Most opcodes are looked up in the target's pattern table; an
// instruction without a pattern is rewritten into simpler instructions and
// tried again.
package lower

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// maxRewriteDepth bounds the nesting of rewrites of one instruction.
const maxRewriteDepth = 4

// Stats counts what lowering did.
type Stats struct {
	Instrs, Rewrites int
}

type lowerer struct {
	g     *ir.Graph
	t     *target.Target
	req   Requestor
	blk   *ir.Block
	stats Stats
}

// Lower fills the Machine code of every instruction of g. Phis must have been
// removed. Requests for type layouts, vtables and strings go to req.
func Lower(g *ir.Graph, t *target.Target, req Requestor, logger *zap.Logger) (Stats, error) {
	logger = tysilaapi.OrNop(logger)
	if req == nil {
		req = &PendingRequests{}
	}
	l := &lowerer{g: g, t: t, req: req}
	for _, blk := range g.Blocks {
		l.blk = blk
		for _, instr := range blk.Instrs {
			if instr.IsNop() {
				continue
			}
			if instr.Op == ir.OpPhi {
				return l.stats, tysilaapi.Structural("lower", "phi left in blk%d", blk.ID).At(instr.String(), instr.Offset)
			}
			ms, err := l.lower(instr, 0)
			if err != nil {
				return l.stats, err
			}
			instr.Machine = ms
			l.stats.Instrs++
		}
	}
	logger.Debug("lowered", zap.Int("instrs", l.stats.Instrs), zap.Int("rewrites", l.stats.Rewrites))
	return l.stats, nil
}

func (l *lowerer) lower(instr *ir.Instr, depth int) ([]*ir.MInst, error) {
	switch instr.Op {
	case ir.OpEnter:
		return l.enter(), nil
	case ir.OpRet:
		return l.ret(instr)
	case ir.OpCall:
		return l.call(instr)
	case ir.OpNewObj:
		return l.newObj(instr, depth)
	case ir.OpLdStr, ir.OpLdLabAddr:
		return l.loadAddress(instr, depth)
	}

	ms, err := l.match(instr)
	if err == nil || !tysilaapi.IsKind(err, tysilaapi.KindRetry) {
		return ms, err
	}
	return l.retry(instr, depth, err)
}

// retry rewrites instr into two simpler instructions and lowers those.
func (l *lowerer) retry(instr *ir.Instr, depth int, cause error) ([]*ir.MInst, error) {
	first, second, ok := l.rewrite(instr)
	if !ok || depth >= maxRewriteDepth {
		return nil, l.unableToEncode(instr, cause)
	}
	l.stats.Rewrites++
	a, err := l.lower(first, depth+1)
	if err != nil {
		return nil, l.unableToEncode(instr, err)
	}
	b, err := l.lower(second, depth+1)
	if err != nil {
		return nil, l.unableToEncode(instr, err)
	}
	return append(a, b...), nil
}

func (l *lowerer) unableToEncode(instr *ir.Instr, cause error) error {
	e := tysilaapi.Unsupported("lower", "unable to encode").
		At(ir.SignatureOf(instr, l.t.PtrType()).String(), instr.Offset)
	if tysilaapi.IsKind(cause, tysilaapi.KindUnsupported) {
		e.Err = cause
	}
	return e
}

// match instantiates the pattern of instr's signature.
func (l *lowerer) match(instr *ir.Instr) ([]*ir.MInst, error) {
	sig := ir.SignatureOf(instr, l.t.PtrType())
	p, ok := l.t.Pattern(sig)
	if !ok {
		return nil, tysilaapi.Retry("lower", "no pattern").At(sig.String(), instr.Offset)
	}
	if destinationAliasesSource(instr) {
		return nil, tysilaapi.Retry("lower", "destination is read after it is written").At(sig.String(), instr.Offset)
	}
	return l.instantiate(instr, p)
}

// destinationAliasesSource reports whether a two-address template would
// overwrite a source operand before reading it: d = u0; d = d op u1 with d == u1.
func destinationAliasesSource(instr *ir.Instr) bool {
	if len(instr.Defs) != 1 {
		return false
	}
	for _, u := range instr.Uses[min(1, len(instr.Uses)):] {
		if u.SameLocation(instr.Defs[0]) {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (l *lowerer) instantiate(instr *ir.Instr, p target.Pattern) ([]*ir.MInst, error) {
	ptr := l.t.PtrType()
	temps := make([]ir.Operand, p.Temps())
	for i := range temps {
		temps[i] = ir.Temp(l.g.AllocVReg(), ptr)
	}

	ret := make([]*ir.MInst, 0, len(p))
	for _, in := range p {
		args := make([]ir.Operand, 0, len(in.Slots))
		for _, s := range in.Slots {
			var o ir.Operand
			switch s.Kind {
			case target.SlotUse:
				if s.N >= len(instr.Uses) {
					return nil, tysilaapi.Structural("lower", "pattern reads use %d", s.N).At(instr.String(), instr.Offset)
				}
				o = instr.Uses[s.N]
			case target.SlotDef:
				if s.N >= len(instr.Defs) {
					return nil, tysilaapi.Structural("lower", "pattern reads def %d", s.N).At(instr.String(), instr.Offset)
				}
				o = instr.Defs[s.N]
			case target.SlotTemp:
				o = temps[s.N]
			case target.SlotCond:
				o = ir.Cond(instr.Cond)
			case target.SlotInvCond:
				o = ir.Cond(instr.Cond.Invert())
			case target.SlotBranch:
				if s.N >= len(l.blk.Succs) {
					return nil, tysilaapi.Structural("lower", "blk%d has no successor %d", l.blk.ID, s.N).At(instr.String(), instr.Offset)
				}
				o = ir.BlockTarget(l.blk.Succs[s.N])
			case target.SlotConst:
				o = ir.Const(ptr, s.Imm)
			case target.SlotReg:
				o = ir.Reg(s.Reg, ptr)
			}
			o.Role = s.Role
			args = append(args, o)
		}
		ret = append(ret, l.g.NewMInst(in.Op, args...))
	}
	return ret, nil
}

// rewrite splits instr so that each half has a better chance of matching a
// pattern. A memory destination, or one that aliases a source, is written
// through a temporary: t = op(inputs); dest = store t. Otherwise the first
// input that is not in a register is loaded into one first: t = store input;
// dest = op(t, ...).
func (l *lowerer) rewrite(instr *ir.Instr) (first, second *ir.Instr, ok bool) {
	if len(instr.Defs) == 1 && (!instr.Defs[0].InRegister() || destinationAliasesSource(instr)) && instr.Op != ir.OpStore {
		dest := instr.Defs[0]
		t := ir.Temp(l.g.AllocVReg(), dest.Type)
		first = l.clone(instr)
		first.Defs = []ir.Operand{t}
		second = l.g.NewInstr(ir.OpStore, []ir.Operand{dest}, t)
		second.Offset = instr.Offset
		return first, second, true
	}
	if instr.Op == ir.OpStore && len(instr.Defs) == 1 && instr.Defs[0].InRegister() {
		// Loading the source into a register is what the store itself does.
		return nil, nil, false
	}

	for i, u := range instr.Uses {
		switch u.Kind {
		case ir.OperandConst, ir.OperandLocal, ir.OperandArg, ir.OperandSymbol:
		default:
			continue
		}
		t := ir.Temp(l.g.AllocVReg(), u.Type)
		first = l.g.NewInstr(ir.OpStore, []ir.Operand{t}, u)
		first.Offset = instr.Offset
		second = l.clone(instr)
		second.Uses[i] = t
		return first, second, true
	}
	return nil, nil, false
}

func (l *lowerer) clone(instr *ir.Instr) *ir.Instr {
	c := l.g.NewInstr(instr.Op, append([]ir.Operand(nil), instr.Defs...), append([]ir.Operand(nil), instr.Uses...)...)
	c.Cond, c.Offset, c.Callee, c.Convention, c.TypeName = instr.Cond, instr.Offset, instr.Callee, instr.Convention, instr.TypeName
	return c
}

package ssa

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// PromoteLocals turns the local variables of g, and every argument that g
// writes to, into evaluation-stack variables so that Construct renames them
// like any other slot. The IR cannot take the address of a local or an
// argument, so all of them qualify.
//
// Promoted slots are numbered after the highest slot already in use. The entry
// block gets one store per promoted variable ahead of its first instruction:
// locals start at zero and written arguments at their incoming value. Stores
// that are never read are left to EliminateDeadCode.
//
// g.Locals is cleared since no local operand remains. It returns the number of
// promoted variables.
func PromoteLocals(g *ir.Graph, logger *zap.Logger) int {
	logger = tysilaapi.OrNop(logger)

	p := &promoter{locals: map[int]int{}, args: map[int]int{}}
	written := map[int]bool{}
	p.scan(g, written)

	var inits []*ir.Instr
	for _, i := range p.order {
		src := ir.Arg(i.index, i.typ)
		if i.kind == ir.OperandLocal {
			src = ir.Const(i.typ, 0)
		}
		inits = append(inits, g.NewInstr(ir.OpStore, []ir.Operand{ir.Var(i.slot, i.typ)}, src))
	}
	g.Locals = nil
	if len(inits) == 0 {
		return 0
	}

	for _, blk := range g.Blocks {
		for _, instr := range blk.Instrs {
			p.rewrite(instr.Defs, written)
			p.rewrite(instr.Uses, written)
		}
	}

	entry := g.Entry()
	at := 0
	for at < len(entry.Instrs) && (entry.Instrs[at].Op == ir.OpEnter || entry.Instrs[at].IsNop()) {
		at++
	}
	instrs := make([]*ir.Instr, 0, len(entry.Instrs)+len(inits))
	instrs = append(instrs, entry.Instrs[:at]...)
	instrs = append(instrs, inits...)
	entry.Instrs = append(instrs, entry.Instrs[at:]...)

	logger.Debug("locals promoted", zap.Int("variables", len(inits)))
	return len(inits)
}

type promoted struct {
	kind  ir.OperandKind
	index int
	slot  int
	typ   ir.TypeClass
}

type promoter struct {
	next         int
	locals, args map[int]int
	order        []promoted
}

// scan finds the first free slot and numbers the promoted locals and
// arguments in order of first appearance.
func (p *promoter) scan(g *ir.Graph, written map[int]bool) {
	for _, blk := range g.Blocks {
		for _, instr := range blk.Instrs {
			for _, ops := range [2][]ir.Operand{instr.Defs, instr.Uses} {
				for _, o := range ops {
					if o.Kind == ir.OperandVReg && o.SSA == ir.NoVReg && o.Var >= p.next {
						p.next = o.Var + 1
					}
				}
			}
			for _, d := range instr.Defs {
				if d.Kind == ir.OperandArg {
					written[d.Var] = true
				}
			}
		}
	}
	for _, blk := range g.Blocks {
		for _, instr := range blk.Instrs {
			for _, ops := range [2][]ir.Operand{instr.Defs, instr.Uses} {
				for _, o := range ops {
					switch {
					case o.Kind == ir.OperandLocal:
						p.number(o.Kind, o.Var, declared(g.Locals, o))
					case o.Kind == ir.OperandArg && written[o.Var]:
						p.number(o.Kind, o.Var, declared(g.Params, o))
					}
				}
			}
		}
	}
}

// declared is the declared class of the local or argument o, or its own
// class when the method does not declare one.
func declared(classes []ir.TypeClass, o ir.Operand) ir.TypeClass {
	if o.Var < len(classes) {
		return classes[o.Var]
	}
	return o.Type
}

func (p *promoter) number(kind ir.OperandKind, index int, t ir.TypeClass) {
	m := p.locals
	if kind == ir.OperandArg {
		m = p.args
	}
	if _, ok := m[index]; ok {
		return
	}
	m[index] = p.next
	p.order = append(p.order, promoted{kind: kind, index: index, slot: p.next, typ: t})
	p.next++
}

func (p *promoter) rewrite(ops []ir.Operand, written map[int]bool) {
	for i := range ops {
		o := &ops[i]
		var slot int
		switch {
		case o.Kind == ir.OperandLocal:
			slot = p.locals[o.Var]
		case o.Kind == ir.OperandArg && written[o.Var]:
			slot = p.args[o.Var]
		default:
			continue
		}
		v := ir.Var(slot, o.Type)
		v.Role = o.Role
		*o = v
	}
}

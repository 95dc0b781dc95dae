// Package codegen runs the backend pipeline over methods: SSA construction,
// constant propagation and dead code elimination, SSA destruction, instruction
// selection, register allocation, call sequence finishing and, optionally,
// encoding.
package codegen

import (
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/asm"
	"github.com/jncronin/tysos-sub010/internal/callseq"
	"github.com/jncronin/tysos-sub010/internal/cfg"
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/liveness"
	"github.com/jncronin/tysos-sub010/internal/lower"
	"github.com/jncronin/tysos-sub010/internal/regalloc"
	"github.com/jncronin/tysos-sub010/internal/ssa"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Encoder turns the finished machine code of a method into bytes.
type Encoder func(g *ir.Graph, t *target.Target) (*asm.Code, error)

// Options configures a compilation.
type Options struct {
	// Convention is used for methods that do not name a calling convention.
	Convention string
	// Registers limits the allocatable registers; zero means all.
	Registers int
	// PromoteLocals renames locals and written arguments along with the
	// evaluation-stack slots.
	PromoteLocals       bool
	ConstantPropagation bool
	DeadCodeElimination bool
	Debug               tysilaapi.Debug
	// Encode is nil when no bytes are wanted.
	Encode Encoder
	Logger *zap.Logger
}

// DefaultOptions enables every optimisation and no encoding.
func DefaultOptions() Options {
	return Options{PromoteLocals: true, ConstantPropagation: true, DeadCodeElimination: true}
}

// Result is a compiled method.
type Result struct {
	Graph *ir.Graph
	Frame *callseq.Frame
	Alloc *regalloc.Result
	// Code is nil unless an encoder ran.
	Code     *asm.Code
	Requests *lower.PendingRequests
	Stats    Stats
}

// Stats counts what the passes did to one method.
type Stats struct {
	Promoted         int
	ConstantRewrites int
	DeadInstrs       int
	Lowered          int
	Rewrites         int
	Rounds           int
	Spilled          int
}

// Compile runs the pipeline over g, which it modifies in place. Errors carry
// the method name.
func Compile(g *ir.Graph, t *target.Target, opts Options) (*Result, error) {
	res, err := compile(g, t, opts)
	return res, tysilaapi.WithMethod(err, g.Name)
}

func compile(g *ir.Graph, t *target.Target, opts Options) (*Result, error) {
	logger := tysilaapi.OrNop(opts.Logger).With(zap.String("method", g.Name))
	if g.Convention == "" {
		g.Convention = opts.Convention
	}
	if _, err := t.Convention(g.Convention); err != nil {
		return nil, tysilaapi.Unsupported("codegen", "%v", err)
	}
	res := &Result{Graph: g, Requests: &lower.PendingRequests{}}
	dump := func(pass string) {
		if opts.Debug.PrintPasses {
			logger.Debug("after "+pass, zap.String("ir", g.Format()))
		}
	}
	addEnter(g)
	if opts.PromoteLocals {
		res.Stats.Promoted = ssa.PromoteLocals(g, logger)
	}

	dom, err := cfg.Compute(g)
	if err != nil {
		return nil, err
	}
	if err = ssa.Construct(g, dom, logger); err != nil {
		return nil, err
	}
	if opts.Debug.ValidateSSA {
		if err = ssa.Verify(g, dom); err != nil {
			return nil, err
		}
	}
	dump("ssa")

	if opts.ConstantPropagation || opts.DeadCodeElimination {
		ud := ssa.BuildUseDef(g)
		if opts.ConstantPropagation {
			c, err := ssa.PropagateConstants(g, ud, t.PtrType(), logger)
			if err != nil {
				return nil, err
			}
			res.Stats.ConstantRewrites = c.Rewrites
		}
		if opts.DeadCodeElimination {
			res.Stats.DeadInstrs = ssa.EliminateDeadCode(g, ud, logger)
		}
		dump("optimise")
	}

	changed, err := ssa.Destruct(g)
	if err != nil {
		return nil, err
	}
	if changed {
		// Loop depths of the split blocks feed the spill costs.
		if _, err = cfg.Compute(g); err != nil {
			return nil, err
		}
	}
	dump("destruct")

	ls, err := lower.Lower(g, t, res.Requests, logger)
	if err != nil {
		return nil, err
	}
	res.Stats.Lowered, res.Stats.Rewrites = ls.Instrs, ls.Rewrites

	res.Alloc, err = regalloc.Allocate(g, t, regalloc.Options{
		Registers: opts.Registers,
		Validate:  opts.Debug.ValidateRegAlloc,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	res.Stats.Rounds = len(res.Alloc.Rounds)
	for _, r := range res.Alloc.Rounds {
		res.Stats.Spilled += r.Spilled
	}

	if res.Frame, err = callseq.Finish(g, t, res.Alloc, liveness.Physical(g), logger); err != nil {
		return nil, err
	}
	dump("finish")

	if opts.Encode != nil {
		if res.Code, err = opts.Encode(g, t); err != nil {
			return nil, err
		}
	}
	logger.Debug("compiled",
		zap.Int("blocks", len(g.Blocks)),
		zap.Int64("frame", res.Frame.Size),
		zap.Int("spilled", res.Stats.Spilled),
		zap.Int("rounds", res.Stats.Rounds))
	return res, nil
}

// addEnter makes sure the entry block starts with the method entry marker.
func addEnter(g *ir.Graph) {
	entry := g.Entry()
	for _, i := range entry.Instrs {
		if i.IsNop() {
			continue
		}
		if i.Op == ir.OpEnter {
			return
		}
		break
	}
	entry.Instrs = append([]*ir.Instr{g.NewInstr(ir.OpEnter, nil)}, entry.Instrs...)
}

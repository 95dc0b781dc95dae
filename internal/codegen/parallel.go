package codegen

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// Summary counts the outcome of CompileAll.
type Summary struct {
	Compiled, Failed, Spilled int64
}

// compileRecover is Compile with a panic in any pass turned into a
// KindStructural error, so that one bad method cannot take down the workers.
func compileRecover(g *ir.Graph, t *target.Target, opts Options) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			name := "<nil>"
			if g != nil {
				name = g.Name
			}
			res, err = nil, tysilaapi.WithMethod(tysilaapi.Structural("codegen", "panic: %v", r), name)
		}
	}()
	return Compile(g, t, opts)
}

// CompileAll compiles gs on up to workers goroutines. Each method is compiled
// by a single goroutine and t is only read, so methods do not share mutable
// state. A failing method does not stop the others: results[i] is nil for
// every failed gs[i] and the returned error combines all failures in method
// order. A pass that panics fails only its own method.
func CompileAll(gs []*ir.Graph, t *target.Target, opts Options, workers int) ([]*Result, Summary, error) {
	if workers < 1 {
		workers = 1
	}
	logger := tysilaapi.OrNop(opts.Logger)

	var compiled, failed, spilled atomic.Int64
	results := make([]*Result, len(gs))
	errs := make([]error, len(gs))

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers && w < len(gs); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				res, err := compileRecover(gs[i], t, opts)
				if err != nil {
					failed.Inc()
					errs[i] = err
					logger.Warn("method failed", zap.Int("index", i), zap.Error(err))
					continue
				}
				compiled.Inc()
				spilled.Add(int64(res.Stats.Spilled))
				results[i] = res
			}
		}()
	}
	for i := range gs {
		work <- i
	}
	close(work)
	wg.Wait()

	sum := Summary{Compiled: compiled.Load(), Failed: failed.Load(), Spilled: spilled.Load()}
	logger.Info("compiled methods",
		zap.Int64("compiled", sum.Compiled),
		zap.Int64("failed", sum.Failed),
		zap.Int64("spilled", sum.Spilled))
	return results, sum, multierr.Combine(errs...)
}

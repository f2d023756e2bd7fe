package registry

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/ilgen/metadata"
)

// Pool translates batches of methods through a registry with a bounded
// number of goroutines.
type Pool struct {
	reg     *Registry
	workers int
}

// NewPool creates a pool. workers <= 0 uses one worker per CPU.
func NewPool(reg *Registry, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{reg: reg, workers: workers}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Run translates every method and returns one result per method, in
// input order. Methods never scheduled because ctx ended are left with
// the context error. The returned error aggregates every failure.
func (p *Pool) Run(ctx context.Context, methods []*metadata.Method) ([]Result, error) {
	results := make([]Result, len(methods))
	var g errgroup.Group
	g.SetLimit(p.workers)

	scheduled := 0
	for i, m := range methods {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			results[i] = p.reg.Translate(ctx, m)
			return nil
		})
	}
	// Workers never fail the group; per-method errors are gathered from results.
	_ = g.Wait()

	var errs *multierror.Error
	for i := scheduled; i < len(methods); i++ {
		results[i] = Result{Method: methods[i], Err: ctx.Err()}
	}
	for _, res := range results {
		if res.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", res.Method.Name, res.Err))
		}
	}
	if scheduled < len(methods) {
		log.Noticef("batch stopped after %d of %d methods", scheduled, len(methods))
	}
	return results, errs.ErrorOrNil()
}

// RunAll translates every method of img that has a body.
func (p *Pool) RunAll(ctx context.Context, img *metadata.Image) ([]Result, error) {
	var methods []*metadata.Method
	for _, m := range img.Methods {
		if m.HasBody() {
			methods = append(methods, m)
		}
	}
	return p.Run(ctx, methods)
}

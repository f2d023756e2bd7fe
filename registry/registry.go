// Package registry owns translated methods. Each method is translated at
// most once no matter how many goroutines ask for it; a failed
// translation is remembered and never published as IR.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/translate"
)

var log = commonlog.GetLogger("ilgen.registry")

// Result is the outcome of translating one method.
type Result struct {
	Method *metadata.Method
	IR     *ir.Method // nil when Err is set
	Err    error
	// Hash is the xxh3 hash of the method's encoded body, 0 when the
	// body could not be read.
	Hash     uint64
	Duration time.Duration
}

// entry is the per-method slot. once guards the single translation; done
// publishes res to readers that did not take part in it.
type entry struct {
	once sync.Once
	done atomic.Bool
	res  Result
}

func (e *entry) result() (Result, bool) {
	if !e.done.Load() {
		return Result{}, false
	}
	return e.res, true
}

// Stats counts registry activity.
type Stats struct {
	Translated int64
	Failed     int64
	Requests   int64
}

// Registry translates methods of one binary on demand.
type Registry struct {
	res    metadata.Resolver
	layout metadata.Layout
	opts   translate.Options

	mu      sync.Mutex
	entries map[uint32]*entry

	translated atomic.Int64
	failed     atomic.Int64
	requests   atomic.Int64
}

// New creates a registry over a resolver and layout service.
func New(res metadata.Resolver, layout metadata.Layout, opts translate.Options) *Registry {
	return &Registry{
		res:     res,
		layout:  layout,
		opts:    opts,
		entries: make(map[uint32]*entry),
	}
}

func (r *Registry) slot(tok uint32) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[tok]
	if !ok {
		e = &entry{}
		r.entries[tok] = e
	}
	return e
}

// Translate returns the result for m, translating it if no other caller
// has. Concurrent callers for the same method wait for the one
// translation. A cancelled ctx only prevents starting a new translation.
func (r *Registry) Translate(ctx context.Context, m *metadata.Method) Result {
	r.requests.Add(1)
	e := r.slot(m.Token)
	if err := ctx.Err(); err != nil {
		if res, done := e.result(); done {
			return res
		}
		return Result{Method: m, Err: err}
	}
	started := false
	e.once.Do(func() {
		started = true
		e.res = r.translate(m)
		e.done.Store(true)
	})
	if !started {
		log.Debugf("%s: already translated", m.Name)
	}
	return e.res
}

// Method implements interp.Loader.
func (r *Registry) Method(ctx context.Context, m *metadata.Method) (*ir.Method, error) {
	res := r.Translate(ctx, m)
	return res.IR, res.Err
}

func (r *Registry) translate(m *metadata.Method) Result {
	res := Result{Method: m}
	start := time.Now()

	body, err := metadata.ReadBody(r.res, m)
	if err != nil {
		// Let the translator classify the failure.
		res.IR, res.Err = translate.Translate(r.res, r.layout, m, r.opts)
	} else {
		res.Hash = xxh3.Hash(body.Encode())
		res.IR, res.Err = translate.TranslateBody(r.res, r.layout, m, body, r.opts)
	}
	res.Duration = time.Since(start)
	if res.Err != nil {
		res.IR = nil
		r.failed.Add(1)
		log.Warningf("%s: %s", m.Name, res.Err)
		return res
	}
	r.translated.Add(1)
	log.Infof("%s: %d instructions in %s", res.IR.Name, res.IR.Len(), res.Duration)
	return res
}

// Lookup returns the IR of a method already translated successfully.
func (r *Registry) Lookup(tok uint32) (*ir.Method, bool) {
	r.mu.Lock()
	e, ok := r.entries[tok]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	res, done := e.result()
	if !done || res.IR == nil {
		return nil, false
	}
	return res.IR, true
}

// Failures returns the failed results recorded so far.
func (r *Registry) Failures() []Result {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	var out []Result
	for _, e := range entries {
		if res, done := e.result(); done && res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Translated: r.translated.Load(),
		Failed:     r.failed.Load(),
		Requests:   r.requests.Load(),
	}
}

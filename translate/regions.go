package translate

import (
	"errors"
	"sort"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// BlockID indexes Regions.Blocks.
type BlockID int

// HandlerID indexes Regions.Handlers.
type HandlerID int

// NoBlock is the parent of a root block.
const NoBlock BlockID = -1

// Handler is one catch, filter, finally or fault handler.
type Handler struct {
	Kind        cil.ClauseKind
	Start, End  int // handler byte range
	FilterStart int
	Type        *metadata.Type // caught type; nil when it failed to resolve
	TypeErr     error
	Block       BlockID

	StartLabel  *Label
	FilterLabel *Label
	// Saved holds the exception a catch handler is running for, so
	// rethrow can find it. -1 for finally and fault handlers.
	Saved int
}

// Contains reports whether offset lies in the handler body.
func (h *Handler) Contains(offset int) bool {
	return offset >= h.Start && offset < h.End
}

// Block is a protected range with its handlers.
type Block struct {
	TryStart, TryEnd int
	Catches          []HandlerID // catch and filter handlers, in clause order
	Finallies        []HandlerID // finally and fault handlers, in clause order
	Parent           BlockID
	Children         []BlockID
	Baseline         *Stack
	StartLabel       *Label
	EndLabel         *Label
}

// Contains reports whether offset lies in the protected range.
func (b *Block) Contains(offset int) bool {
	return offset >= b.TryStart && offset < b.TryEnd
}

// Regions is the arena of protected blocks and handlers of one method.
type Regions struct {
	Blocks   []Block
	Handlers []Handler
	Roots    []BlockID
}

// Block returns block id.
func (r *Regions) Block(id BlockID) *Block {
	return &r.Blocks[id]
}

// Handler returns handler id.
func (r *Regions) Handler(id HandlerID) *Handler {
	return &r.Handlers[id]
}

// Empty reports whether the method has no protected blocks.
func (r *Regions) Empty() bool {
	return len(r.Blocks) == 0
}

// BuildRegions decodes the exception clauses of a body into the block
// tree and allocates region labels. baseline is the stack with only
// parameters and locals. Clauses whose catch type does not resolve keep a
// nil Type and compile to a type-load failure.
func BuildRegions(clauses []cil.Clause, codeSize int, res metadata.Resolver, labels *LabelTable, m *ir.Method, baseline *Stack) (*Regions, error) {
	r := &Regions{}
	index := make(map[[2]int]BlockID)
	for _, c := range clauses {
		if !inBody(c.TryOffset, c.TryLength, codeSize) || !inBody(c.HandlerOffset, c.HandlerLength, codeSize) {
			return nil, newError(CodeBadBody, "clause %v try %d+%d handler %d+%d outside body of %d bytes",
				c.Kind, c.TryOffset, c.TryLength, c.HandlerOffset, c.HandlerLength, codeSize)
		}
		tryStart, tryEnd := int(c.TryOffset), int(c.TryEnd())
		hStart, hEnd := int(c.HandlerOffset), int(c.HandlerEnd())
		key := [2]int{tryStart, tryEnd}
		id, ok := index[key]
		if !ok {
			id = BlockID(len(r.Blocks))
			index[key] = id
			r.Blocks = append(r.Blocks, Block{
				TryStart: tryStart,
				TryEnd:   tryEnd,
				Parent:   NoBlock,
				Baseline: baseline.Clone(),
			})
		}
		h := Handler{
			Kind:        c.Kind,
			Start:       hStart,
			End:         hEnd,
			FilterStart: int(c.FilterOffset),
			Block:       id,
			Saved:       -1,
		}
		switch c.Kind {
		case cil.ClauseCatch:
			t, err := res.ResolveType(c.ClassToken)
			switch {
			case err == nil:
				h.Type = t
			case errors.Is(err, metadata.ErrNotFound):
				h.TypeErr = err
			default:
				return nil, &Error{Code: CodeBadToken, Offset: -1, Msg: "catch type", Err: err}
			}
		case cil.ClauseFilter:
			if c.FilterOffset >= c.HandlerOffset {
				return nil, newError(CodeBadBody, "filter at %d does not precede its handler at %d", c.FilterOffset, c.HandlerOffset)
			}
		case cil.ClauseFinally, cil.ClauseFault:
		default:
			return nil, newError(CodeBadBody, "clause kind %d", uint32(c.Kind))
		}
		hid := HandlerID(len(r.Handlers))
		r.Handlers = append(r.Handlers, h)
		b := &r.Blocks[id]
		if c.Kind == cil.ClauseCatch || c.Kind == cil.ClauseFilter {
			b.Catches = append(b.Catches, hid)
		} else {
			b.Finallies = append(b.Finallies, hid)
		}
	}
	r.nest()
	r.allocateLabels(labels, m, baseline, codeSize)
	if len(r.Blocks) > 0 {
		log.Debugf("%d protected blocks, %d handlers, %d roots", len(r.Blocks), len(r.Handlers), len(r.Roots))
	}
	return r, nil
}

// nest links every block to the smallest enclosing try range or handler
// range. A block nested in a handler becomes a child of that handler's
// block.
func (r *Regions) nest() {
	for i := range r.Blocks {
		b := &r.Blocks[i]
		best, bestLen := NoBlock, -1
		consider := func(owner BlockID, start, end int) {
			if owner == BlockID(i) || start > b.TryStart || end < b.TryEnd || (start == b.TryStart && end == b.TryEnd) {
				return
			}
			if bestLen < 0 || end-start < bestLen {
				best, bestLen = owner, end-start
			}
		}
		for j := range r.Blocks {
			o := &r.Blocks[j]
			consider(BlockID(j), o.TryStart, o.TryEnd)
		}
		for _, h := range r.Handlers {
			if h.Block != BlockID(i) {
				consider(h.Block, h.Start, h.End)
				if h.Kind == cil.ClauseFilter {
					consider(h.Block, h.FilterStart, h.Start)
				}
			}
		}
		b.Parent = best
	}
	r.Roots = r.Roots[:0]
	for i := range r.Blocks {
		if p := r.Blocks[i].Parent; p != NoBlock {
			r.Blocks[p].Children = append(r.Blocks[p].Children, BlockID(i))
		} else {
			r.Roots = append(r.Roots, BlockID(i))
		}
	}
	byStart := func(ids []BlockID) {
		sort.SliceStable(ids, func(x, y int) bool {
			return r.Blocks[ids[x]].TryStart < r.Blocks[ids[y]].TryStart
		})
	}
	byStart(r.Roots)
	for i := range r.Blocks {
		byStart(r.Blocks[i].Children)
	}
}

// inBody reports whether the non-empty range [start, start+n) lies within
// a body of codeSize bytes. The sum is taken in 64 bits so it cannot wrap.
func inBody(start, n uint32, codeSize int) bool {
	return n > 0 && uint64(start)+uint64(n) <= uint64(codeSize)
}

// allocateLabels creates the region boundary labels. Handler and filter
// entries come first: a handler often starts where a try range or another
// handler ends, and the label at that offset must carry the entry stack.
func (r *Regions) allocateLabels(labels *LabelTable, m *ir.Method, baseline *Stack, codeSize int) {
	region := func(offset int, st *Stack) *Label {
		if offset >= codeSize {
			return nil
		}
		l := labels.GetOrCreate(offset, 0, st)
		l.Kind = LabelRegion
		return l
	}
	for i := range r.Handlers {
		h := &r.Handlers[i]
		switch h.Kind {
		case cil.ClauseCatch, cil.ClauseFilter:
			entry := baseline.Clone()
			entry.Push(Value{Kind: ir.KindRef, Type: h.Type, NonNull: true})
			h.StartLabel = region(h.Start, entry)
			h.Saved = m.NewTemp(ir.KindRef, h.Type.Ref(), ir.RoleException)
			if h.Kind == cil.ClauseFilter {
				fentry := baseline.Clone()
				fentry.Push(Value{Kind: ir.KindRef, NonNull: true})
				h.FilterLabel = region(h.FilterStart, fentry)
				h.FilterLabel.Marker = ir.OpStartFilter
				h.FilterLabel.Handlers = append(h.FilterLabel.Handlers, HandlerID(i))
			}
		default:
			h.StartLabel = region(h.Start, baseline)
			h.StartLabel.Marker = ir.OpStartFinally
		}
		h.StartLabel.Handlers = append(h.StartLabel.Handlers, HandlerID(i))
	}
	for i := range r.Handlers {
		h := &r.Handlers[i]
		if end := region(h.End, baseline); end != nil {
			end.Handlers = append(end.Handlers, HandlerID(i))
		}
	}
	for i := range r.Blocks {
		b := &r.Blocks[i]
		b.StartLabel = region(b.TryStart, baseline)
		b.StartLabel.Blocks = append(b.StartLabel.Blocks, BlockID(i))
		if b.EndLabel = region(b.TryEnd, baseline); b.EndLabel != nil {
			b.EndLabel.Blocks = append(b.EndLabel.Blocks, BlockID(i))
		}
	}
}

// exits returns the finally handlers a leave from offset to target runs,
// innermost first: those of every block whose try range, or one of whose
// catch handlers, contains offset but not target.
func (r *Regions) exits(offset, target int) []HandlerID {
	type exit struct {
		size int
		id   BlockID
	}
	var found []exit
	for i := range r.Blocks {
		b := &r.Blocks[i]
		if b.Contains(offset) && !b.Contains(target) {
			found = append(found, exit{b.TryEnd - b.TryStart, BlockID(i)})
			continue
		}
		for _, hid := range b.Catches {
			h := &r.Handlers[hid]
			if h.Contains(offset) && !h.Contains(target) {
				found = append(found, exit{h.End - h.Start, BlockID(i)})
				break
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].size < found[j].size })
	var out []HandlerID
	for _, e := range found {
		for _, hid := range r.Blocks[e.id].Finallies {
			if r.Handlers[hid].Kind == cil.ClauseFinally {
				out = append(out, hid)
			}
		}
	}
	return out
}

// catchHandlerAt returns the innermost catch or filter handler whose body
// contains offset.
func (r *Regions) catchHandlerAt(offset int) (*Handler, bool) {
	var best *Handler
	for i := range r.Handlers {
		h := &r.Handlers[i]
		if (h.Kind == cil.ClauseCatch || h.Kind == cil.ClauseFilter) && h.Contains(offset) {
			if best == nil || h.End-h.Start < best.End-best.Start {
				best = h
			}
		}
	}
	return best, best != nil
}

package codegen

import (
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/scope"
)

type blockKind int

const (
	moduleBlock blockKind = iota
	classBlock
	functionBlock
)

// loop is the innermost-loop context used by break and continue.
type loop struct {
	start, end *ir.Label
	// regions is the depth of the region stack when the loop began.
	regions int
	// Checkpoint trampolines, created when break or continue has to run a
	// finally on the way out.
	breakCP, continueCP *ir.Label
}

type regionKind int

const (
	exceptRegion regionKind = iota
	finallyRegion
)

// region is a protected try/with region and the number of checkpoints it
// currently holds on the frame's stack.
type region struct {
	kind   regionKind
	held   int
	final  *ir.Label
	inBody bool
}

// Block is the compilation state of one lexical scope: a module, a class
// body or a function. Each one lowers into its own ir.Func.
type Block struct {
	kind   blockKind
	parent *Block
	name   string
	scope  *scope.Scope
	depth  int
	ctx    *Context

	fn  *ir.Func
	cur *ir.BasicBlock

	labelCount int
	temps      []*ir.Temporary
	free       map[ir.Type][]*ir.Temporary
	live       map[*ir.Temporary]bool

	loops   []*loop
	regions []*region
}

func (ctx *Context) newBlock(kind blockKind, parent *Block, name string, sc *scope.Scope) *Block {
	b := &Block{
		kind:   kind,
		parent: parent,
		name:   name,
		scope:  sc,
		ctx:    ctx,
		free:   make(map[ir.Type][]*ir.Temporary),
		live:   make(map[*ir.Temporary]bool),
	}
	fk := ir.FuncModule
	switch kind {
	case classBlock:
		fk = ir.FuncClass
	case functionBlock:
		fk = ir.FuncDef
	}
	if parent != nil {
		b.depth = parent.depth + 1
	}
	b.fn = &ir.Func{Name: name, Kind: fk, Depth: b.depth}
	b.startBlock(nil)
	return b
}

func (b *Block) newLabel() *ir.Label {
	b.labelCount++
	l := &ir.Label{ID: b.labelCount}
	b.fn.Labels = append(b.fn.Labels, l)
	return l
}

func (b *Block) newCheckpoint() *ir.Label {
	l := b.newLabel()
	l.Checkpoint = true
	return l
}

func (b *Block) startBlock(label *ir.Label) {
	bb := &ir.BasicBlock{Label: label}
	b.fn.Blocks = append(b.fn.Blocks, bb)
	b.cur = bb
}

// terminated reports whether the current position is unreachable.
func (b *Block) terminated() bool { return b.cur == nil }

func (b *Block) emit(in *ir.Instr) {
	if b.cur == nil {
		b.startBlock(nil)
	}
	b.cur.Instrs = append(b.cur.Instrs, in)
	if in.Op.IsTerminator() {
		b.cur = nil
	}
}

// allocTemp hands out a free slot of the given type, preferring the one that
// was freed earliest, and mints a new slot only when none is free.
func (b *Block) allocTemp(typ ir.Type) *ir.Temporary {
	if q := b.free[typ]; len(q) > 0 {
		t := q[0]
		b.free[typ] = q[1:]
		b.live[t] = true
		return t
	}
	t := &ir.Temporary{ID: len(b.temps), Typ: typ}
	b.temps = append(b.temps, t)
	b.live[t] = true
	return t
}

func (b *Block) freeTemp(t *ir.Temporary) {
	if !b.live[t] {
		panic("codegen: temporary freed twice: " + t.String())
	}
	delete(b.live, t)
	b.free[t.Typ] = append(b.free[t.Typ], t)
}

// release frees v if it is a temporary; other values are not owned.
func (b *Block) release(vs ...ir.Value) {
	for _, v := range vs {
		if t, ok := v.(*ir.Temporary); ok && b.live[t] {
			b.freeTemp(t)
		}
	}
}

func (b *Block) pushLoop(start, end *ir.Label) *loop {
	l := &loop{start: start, end: end, regions: len(b.regions)}
	b.loops = append(b.loops, l)
	return l
}

func (b *Block) popLoop() { b.loops = b.loops[:len(b.loops)-1] }

func (b *Block) innerLoop() *loop {
	if len(b.loops) == 0 { return nil }
	return b.loops[len(b.loops)-1]
}

func (b *Block) pushRegion(r *region) { b.regions = append(b.regions, r) }
func (b *Block) popRegion()           { b.regions = b.regions[:len(b.regions)-1] }

// inFinallyBody reports whether a finally is protecting the current position.
func (b *Block) inFinallyBody() bool {
	for _, r := range b.regions {
		if r.kind == finallyRegion && r.inBody {
			return true
		}
	}
	return false
}

// finish closes the function body and records its declarations.
func (b *Block) finish() *ir.Func {
	if !b.terminated() {
		b.emit(&ir.Instr{Op: ir.OpMove, Result: ir.RegReturn, Args: []ir.Value{ir.None}})
		b.emit(&ir.Instr{Op: ir.OpUnwind})
	}
	b.fn.Temps = b.temps
	return b.fn
}

package codegen

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/util"
)

// qbeBackend renders a program as QBE IL against the C runtime.
//
// Every lowered function becomes `function $sym(l %frame, l %env)`. Its state
// lives in %env, an array of 64-bit slots the runtime allocates with the size
// passed next to the symbol: slot 0 is the env of the creating function, then
// one slot per local, one per temporary, and the registers return, exception,
// sent, args and class in that order. The runtime fills slot 0 and the last
// three registers before entering. Results leave through $pyrt_return or, for
// a generator step, $pyrt_yield.
//
// Every primitive takes the frame first and returns a word. A failing object
// primitive returns 0, a failing bool primitive returns -1, and the exception
// is then taken with $pyrt_take_exc. Error-only primitives return the
// exception itself.
type qbeBackend struct {
	out    *strings.Builder
	data   *strings.Builder
	prog   *ir.Program
	cfg    *config.Config
	prefix string

	strs     map[string]string
	interned map[string]int
	syms     map[*ir.Func]string
	parents  map[*ir.Func]*ir.Func
	layouts  map[*ir.Func]*qbeLayout
	nData    int

	fn       *ir.Func
	dispatch bool
	nTemp    int
	nLabel   int
	done     bool
}

type qbeLayout struct {
	locals map[string]int
	temps  map[int]int
	regs   int
	size   int
}

const qbeWord = 8

func NewQBEBackend() Backend { return &qbeBackend{} }

// Generate renders the program as QBE IL and assembles it for cfg.QbeTarget.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	il, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}
	asm, err := assemble(cfg.QbeTarget, prog.Module+".ssa", il)
	if err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nqbe error: %w", il, err)
	}
	return asm, nil
}

func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	if prog.Main == nil {
		return "", fmt.Errorf("program has no module body")
	}
	if len(prog.NativeImports) > 0 {
		return "", fmt.Errorf("qbe backend: native import of %s is not supported", prog.NativeImports[0])
	}
	var out, data strings.Builder
	b.out, b.data = &out, &data
	b.prog, b.cfg = prog, cfg
	b.prefix = "py_" + qbeSanitize(prog.Module)
	b.strs = make(map[string]string)
	b.interned = make(map[string]int)
	b.syms = make(map[*ir.Func]string)
	b.parents = make(map[*ir.Func]*ir.Func)
	b.layouts = make(map[*ir.Func]*qbeLayout)
	b.nData = 0

	for i, name := range prog.Interned {
		b.interned[name] = i
	}
	for i, f := range prog.Funcs() {
		b.syms[f] = fmt.Sprintf("$%s_f%d", b.prefix, i)
		b.layouts[f] = newQBELayout(f)
		for _, c := range f.Children() {
			b.parents[c] = f
		}
	}

	fmt.Fprintf(b.out, "# module %s (%s)\n", prog.Module, prog.Filename)
	for _, f := range prog.Funcs() {
		b.genFunc(f)
	}
	b.genInit()

	for i := range prog.Interned {
		fmt.Fprintf(b.data, "data $%s_i%d = { l 0 }\n", b.prefix, i)
	}
	return out.String() + "\n" + data.String(), nil
}

func newQBELayout(f *ir.Func) *qbeLayout {
	l := &qbeLayout{locals: make(map[string]int), temps: make(map[int]int)}
	next := 1
	for _, v := range f.Locals {
		l.locals[v.Name] = next
		next++
	}
	for _, t := range f.Temps {
		l.temps[t.ID] = next
		next++
	}
	l.regs = next
	l.size = next + int(ir.RegClass) + 1
	return l
}

func qbeSanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r < 128 && (r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('_')
	}
	return sb.String()
}

func (b *qbeBackend) genInit() {
	main := b.prog.Main
	fmt.Fprintf(b.out, "\nexport function $%s_init() {\n@start\n", b.prefix)
	b.line("call $pyrt_register_module(l %s, l %s, l %s, l %d)",
		b.cstr(b.prog.Module), b.cstr(b.prog.Filename), b.syms[main], b.layouts[main].size)
	b.line("ret")
	b.out.WriteString("}\n")
}

func (b *qbeBackend) line(format string, args ...interface{}) {
	b.out.WriteString("\t")
	fmt.Fprintf(b.out, format, args...)
	b.out.WriteString("\n")
	b.done = false
}

func (b *qbeBackend) terminate(format string, args ...interface{}) {
	b.line(format, args...)
	b.done = true
}

func (b *qbeBackend) label(name string) {
	fmt.Fprintf(b.out, "@%s\n", name)
	b.done = false
}

func (b *qbeBackend) tmp() string {
	b.nTemp++
	return fmt.Sprintf("%%v%d", b.nTemp)
}

func (b *qbeBackend) freshLabel(kind string) string {
	b.nLabel++
	return fmt.Sprintf("%s%d", kind, b.nLabel)
}

// unwindTarget is where a failing path goes: the dispatch chain when the
// function has checkpoints, its exit otherwise.
func (b *qbeBackend) unwindTarget() string {
	if b.dispatch { return "@unwind" }
	return "@exit"
}

func (b *qbeBackend) genFunc(f *ir.Func) {
	b.fn, b.dispatch = f, f.UsesDispatch()
	b.nTemp, b.nLabel = 0, 0
	layout := b.layouts[f]

	fmt.Fprintf(b.out, "\n# %s, line %d\nfunction %s(l %%frame, l %%env) {\n@start\n", f.Name, f.Line, b.syms[f])
	if b.dispatch {
		b.terminate("jmp @dispatch")
	}
	b.label("body")
	if f == b.prog.Main {
		for i, name := range b.prog.Interned {
			s := b.tmp()
			b.line("%s =l call $pyrt_intern(l %s)", s, b.cstr(name))
			b.line("storel %s, $%s_i%d", s, b.prefix, i)
		}
	}
	for _, v := range f.Locals {
		val := b.load(ir.UnboundLocal)
		if v.Param >= 0 {
			val = b.load(&ir.Elem{Of: ir.RegArgs, Index: v.Param})
		}
		b.line("storel %s, %s", val, b.slot(layout.locals[v.Name]))
	}

	for i, blk := range f.Blocks {
		switch {
		case blk.Label != nil:
			b.label(fmt.Sprintf("L%d", blk.Label.ID))
		case i > 0:
			b.label(b.freshLabel("u"))
		}
		for _, in := range blk.Instrs {
			b.genInstr(in)
		}
	}
	if !b.done {
		b.terminate("jmp %s", b.unwindTarget())
	}

	b.label("raise")
	e := b.tmp()
	b.line("%s =l call $pyrt_take_exc(l %%frame)", e)
	b.store(ir.RegExc, e)
	b.terminate("jmp %s", b.unwindTarget())

	if b.dispatch {
		b.genDispatch(f)
	}

	b.label("exit")
	r, ex := b.load(ir.RegReturn), b.load(ir.RegExc)
	b.line("call $pyrt_return(l %%frame, l %s, l %s)", r, ex)
	b.terminate("ret")
	b.out.WriteString("}\n")
}

// genDispatch writes the resume loop: unwinding pops a checkpoint and the
// saved state selects the label to continue at.
func (b *qbeBackend) genDispatch(f *ir.Func) {
	b.label("unwind")
	b.line("call $pyrt_pop_checkpoint(l %%frame)")
	b.terminate("jmp @dispatch")

	b.label("dispatch")
	st := b.tmp()
	b.line("%s =l call $pyrt_state(l %%frame)", st)
	neg := b.tmp()
	b.line("%s =w csltl %s, 0", neg, st)
	next := b.freshLabel("d")
	b.terminate("jnz %s, @exit, @%s", neg, next)
	for _, tr := range f.Dispatch() {
		b.label(next)
		target := "@body"
		if tr.Target != nil {
			target = fmt.Sprintf("@L%d", tr.Target.ID)
		}
		c := b.tmp()
		b.line("%s =w ceql %s, %d", c, st, tr.State)
		next = b.freshLabel("d")
		b.terminate("jnz %s, %s, @%s", c, target, next)
	}
	b.label(next)
	b.line("call $pyrt_bad_state(l %%frame)")
	b.terminate("hlt")
}

// slot returns the address of slot i of the current env.
func (b *qbeBackend) slot(i int) string {
	a := b.tmp()
	b.line("%s =l add %%env, %d", a, i*qbeWord)
	return a
}

// addr returns the address a storable value lives at.
func (b *qbeBackend) addr(v ir.Value) string {
	layout := b.layouts[b.fn]
	switch v := v.(type) {
	case *ir.Temporary:
		return b.slot(layout.temps[v.ID])
	case ir.Register:
		return b.slot(layout.regs + int(v))
	case *ir.Local:
		owner, env := b.fn, "%env"
		for owner.Depth > v.Depth {
			up := b.tmp()
			b.line("%s =l loadl %s", up, env)
			owner, env = b.parents[owner], up
		}
		i, ok := b.layouts[owner].locals[v.Name]
		if !ok {
			panic(fmt.Sprintf("qbe backend: no slot for local %s at depth %d", v.Name, v.Depth))
		}
		a := b.tmp()
		b.line("%s =l add %s, %d", a, env, i*qbeWord)
		return a
	case *ir.Elem:
		base := b.load(v.Of)
		a := b.tmp()
		b.line("%s =l add %s, %d", a, base, v.Index*qbeWord)
		return a
	}
	panic(fmt.Sprintf("qbe backend: %T is not storable", v))
}

func (b *qbeBackend) store(dst ir.Value, val string) {
	b.line("storel %s, %s", val, b.addr(dst))
}

var qbeBuiltins = map[ir.Builtin]string{
	ir.None:           "$pyrt_None",
	ir.True:           "$pyrt_True",
	ir.False:          "$pyrt_False",
	ir.UnboundLocal:   "$pyrt_UnboundLocal",
	ir.EllipsisObj:    "$pyrt_Ellipsis",
	ir.TypeType:       "$pyrt_TypeType",
	ir.StopIteration:  "$pyrt_StopIterationType",
	ir.AssertionError: "$pyrt_AssertionErrorType",
}

// load returns an operand holding the value of v.
func (b *qbeBackend) load(v ir.Value) string {
	switch v := v.(type) {
	case *ir.Temporary, ir.Register, *ir.Local, *ir.Elem:
		a := b.addr(v)
		r := b.tmp()
		b.line("%s =l loadl %s", r, a)
		return r
	case *ir.Interned:
		return b.loadInterned(v.Name)
	case ir.Builtin:
		r := b.tmp()
		b.line("%s =l loadl %s", r, qbeBuiltins[v])
		return r
	case ir.Nil:
		return "0"
	case ir.Bool:
		if v { return "1" }
		return "0"
	case ir.Int:
		return strconv.FormatInt(int64(v), 10)
	case ir.Str:
		return b.cstr(string(v))
	case *ir.Literal:
		return b.literal(v)
	case *ir.Label:
		return strconv.Itoa(v.ID)
	}
	panic(fmt.Sprintf("qbe backend: unhandled value %T", v))
}

func (b *qbeBackend) loadInterned(name string) string {
	r := b.tmp()
	b.line("%s =l loadl $%s_i%d", r, b.prefix, b.interned[name])
	return r
}

// cstr returns the symbol of a NUL terminated copy of s in the data section.
func (b *qbeBackend) cstr(s string) string {
	if sym, ok := b.strs[s]; ok { return sym }
	sym := b.bytesData([]byte(s), true)
	b.strs[s] = sym
	return sym
}

func (b *qbeBackend) bytesData(bs []byte, nul bool) string {
	sym := fmt.Sprintf("$%s_c%d", b.prefix, b.nData)
	b.nData++
	items := make([]string, 0, len(bs)+1)
	for _, c := range bs {
		items = append(items, "b "+strconv.Itoa(int(c)))
	}
	if nul || len(items) == 0 {
		items = append(items, "b 0")
	}
	fmt.Fprintf(b.data, "data %s = { %s }\n", sym, strings.Join(items, ", "))
	return sym
}

func qbeFloat(f float64) string {
	return "d_" + strconv.FormatFloat(f, 'g', -1, 64)
}

func (b *qbeBackend) literal(l *ir.Literal) string {
	r := b.tmp()
	switch l.Kind {
	case ir.LitInt:
		b.line("%s =l call $pyrt_new_int(l %d)", r, l.Int)
	case ir.LitLong:
		b.line("%s =l call $pyrt_new_long(l %s, l %d, l %d)", r, b.bytesData(l.Bytes, false), len(l.Bytes), qbeBool(l.Neg))
	case ir.LitFloat:
		b.line("%s =l call $pyrt_new_float(d %s)", r, qbeFloat(l.Float))
	case ir.LitComplex:
		b.line("%s =l call $pyrt_new_complex(d %s)", r, qbeFloat(l.Float))
	case ir.LitUnicode:
		b.line("%s =l call $pyrt_new_unicode(l %s, l %d)", r, b.cstr(l.Str), len(l.Str))
	default:
		if l.Interned {
			return b.loadInterned(l.Str)
		}
		b.line("%s =l call $pyrt_new_str(l %s, l %d)", r, b.cstr(l.Str), len(l.Str))
	}
	return r
}

func qbeBool(v bool) int {
	if v { return 1 }
	return 0
}

// branch jumps to taken when cond is set and opens the fall-through block.
func (b *qbeBackend) branch(cond, taken string) {
	next := b.freshLabel("k")
	b.terminate("jnz %s, %s, @%s", cond, taken, next)
	b.label(next)
}

func (b *qbeBackend) genInstr(in *ir.Instr) {
	switch in.Op {
	case ir.OpLine:
		if b.cfg.IsFeatureEnabled(config.FeatLineComments) {
			if src := strings.TrimSpace(util.SourceLine(0, in.Line)); src != "" {
				fmt.Fprintf(b.out, "# line %d: %s\n", in.Line, src)
			}
		}
		b.line("call $pyrt_set_lineno(l %%frame, l %d)", in.Line)

	case ir.OpCall:
		b.genCall(in)

	case ir.OpMove:
		b.store(in.Result, b.load(in.Args[0]))

	case ir.OpJmp:
		b.terminate("jmp @L%d", in.Target.ID)
	case ir.OpJnz, ir.OpJz, ir.OpJnil, ir.OpJnotnil:
		v := b.load(in.Args[0])
		c := b.tmp()
		if in.Op == ir.OpJz || in.Op == ir.OpJnil {
			b.line("%s =w ceql %s, 0", c, v)
		} else {
			b.line("%s =w cnel %s, 0", c, v)
		}
		b.branch(c, fmt.Sprintf("@L%d", in.Target.ID))

	case ir.OpPushCheckpoint:
		b.line("call $pyrt_push_checkpoint(l %%frame, l %d)", in.Target.ID)
	case ir.OpPopCheckpoint:
		b.line("call $pyrt_pop_checkpoint(l %%frame)")
	case ir.OpUnwind:
		b.terminate("jmp %s", b.unwindTarget())
	case ir.OpYield:
		b.line("call $pyrt_yield(l %%frame, l %s)", b.load(in.Args[0]))
		b.terminate("ret")

	case ir.OpMakeFunction:
		b.genMakeFunction(in)

	case ir.OpClassBody:
		ns := b.load(in.Args[0])
		e := b.tmp()
		b.line("%s =l call $pyrt_run_class_body(l %%frame, l %s, l %s, l %%env, l %d)", e, ns, b.syms[in.Func], b.layouts[in.Func].size)
		b.checkErr(e)

	case ir.OpKWArgs:
		kw := b.tmp()
		b.line("%s =l call $pyrt_make_kwargs(l %%frame, l %d)", kw, len(in.Names))
		for i, name := range in.Names {
			b.line("call $pyrt_kwargs_set(l %s, l %d, l %s, l %s)", kw, i, b.cstr(name), b.load(in.Args[i]))
		}
		b.store(in.Result, kw)

	default:
		panic(fmt.Sprintf("qbe backend: unhandled op %s", in.Op))
	}
}

// checkErr stores an error-only result and unwinds when it is set.
func (b *qbeBackend) checkErr(e string) {
	b.store(ir.RegExc, e)
	c := b.tmp()
	b.line("%s =w cnel %s, 0", c, e)
	b.branch(c, b.unwindTarget())
}

func (b *qbeBackend) genMakeFunction(in *ir.Instr) {
	f := in.Func
	params, defs := "0", "0"
	if len(f.Params) > 0 {
		names := make([]string, len(f.Params))
		for i, p := range f.Params {
			names[i] = "l " + b.cstr(p.Name)
		}
		params = fmt.Sprintf("$%s_c%d", b.prefix, b.nData)
		b.nData++
		fmt.Fprintf(b.data, "data %s = { %s }\n", params, strings.Join(names, ", "))

		defs = b.tmp()
		b.line("%s =l call $pyrt_make_args(l %%frame, l %d)", defs, len(f.Params))
		for i := range f.Params {
			val := "0"
			if i < len(in.Args) && in.Args[i] != nil {
				val = b.load(in.Args[i])
			}
			a := b.tmp()
			b.line("%s =l add %s, %d", a, defs, i*qbeWord)
			b.line("storel %s, %s", val, a)
		}
	}
	flags := 0
	if f.Vararg != "" { flags |= 1 }
	if f.Kwarg != "" { flags |= 2 }
	r := b.tmp()
	b.line("%s =l call $pyrt_make_function(l %%frame, l %s, l %s, l %s, l %d, l %s, l %d, l %s, l %%env, l %d)",
		r, b.cstr(f.Name), b.cstr(b.prog.Filename), params, len(f.Params), defs, flags, b.syms[f], b.layouts[f].size)
	b.store(in.Result, r)
}

func (b *qbeBackend) genCall(in *ir.Instr) {
	p := primitive(in.Callee)
	args := []string{"l %frame"}
	if p.Results == 2 {
		args = append(args, "l "+b.addr(in.Result2))
	}
	for _, a := range in.Args {
		args = append(args, "l "+b.load(a))
	}
	call := fmt.Sprintf("call $%s(%s)", p.QBE, strings.Join(args, ", "))

	switch p.Result {
	case ir.Plain:
		if p.HasResult() && in.Result != nil {
			r := b.tmp()
			b.line("%s =l %s", r, call)
			b.store(in.Result, r)
			return
		}
		b.line("%s", call)

	case ir.Fallible:
		r := b.tmp()
		b.line("%s =l %s", r, call)
		if in.Result != nil {
			b.store(in.Result, r)
		}
		if in.Mode == ir.Capture {
			e := b.tmp()
			b.line("%s =l call $pyrt_take_exc(l %%frame)", e)
			b.store(ir.RegExc, e)
			return
		}
		c := b.tmp()
		if p.Type == ir.TypeBool {
			b.line("%s =w csltl %s, 0", c, r)
		} else {
			b.line("%s =w ceql %s, 0", c, r)
		}
		b.branch(c, "@raise")

	case ir.ErrOnly:
		e := b.tmp()
		b.line("%s =l %s", e, call)
		if in.Mode == ir.Capture {
			b.store(ir.RegExc, e)
			return
		}
		b.checkErr(e)
	}
}

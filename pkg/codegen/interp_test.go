package codegen

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/xplshn/gpyc/pkg/ir"
)

// interp executes lowered functions against a small in-memory runtime so
// tests can check what a program does rather than how it is laid out. It
// follows the resume loop of the Go backend: an unwind pops the innermost
// checkpoint and resumes there, or leaves the function when none is left.
type interp struct {
	t        *testing.T
	globals  map[string]any
	builtins map[string]any
	out      []string
	exc      *fakeExc
	tb       any
	steps    int
}

const maxSteps = 100000

type sentinel string

const (
	noneObj     sentinel = "None"
	unboundObj  sentinel = "<unbound>"
	ellipsisObj sentinel = "Ellipsis"
)

type fakeType struct {
	name  string
	base  *fakeType
	attrs map[string]any
}

type fakeObj struct {
	typ   *fakeType
	attrs map[string]any
}

type fakeExc struct {
	typ  *fakeType
	args []any
}

type fakeSeq struct {
	items []any
	tuple bool
}

type fakeDict struct {
	keys []any
	m    map[any]any
}

type fakeIter struct {
	items []any
	pos   int
}

type fakeFunc struct {
	fn       *ir.Func
	defaults []any
	parent   *frame
}

type fakeGen struct {
	fr      *frame
	started bool
	done    bool
}

type builtin struct {
	name string
	fn   func(in *interp, args []any) (any, *fakeExc)
}

type frame struct {
	fn     *ir.Func
	parent *frame
	locals map[string]any
	temps  map[int]any
	ret    any
	exc    any
	sent   any
	class  *fakeDict
	cps    []int
	state  int
	index  map[int]int
}

var typeType = &fakeType{name: "type"}

func newInterp(t *testing.T) *interp {
	t.Helper()
	in := &interp{t: t, globals: map[string]any{"__name__": "m"}, builtins: map[string]any{}}
	object := &fakeType{name: "object"}
	base := &fakeType{name: "BaseException", base: object}
	exception := &fakeType{name: "Exception", base: base}
	in.builtins["object"] = object
	in.builtins["type"] = typeType
	in.builtins["BaseException"] = base
	in.builtins["Exception"] = exception
	for _, n := range []string{"StopIteration", "ValueError", "KeyError", "TypeError", "NameError",
		"AttributeError", "AssertionError", "UnboundLocalError"} {
		in.builtins[n] = &fakeType{name: n, base: exception}
	}
	in.builtins["quiet"] = in.newManager("quiet", true)
	in.builtins["loud"] = in.newManager("loud", false)
	return in
}

// newManager returns a context manager whose __exit__ prints the exception
// type it sees and reports suppress.
func (in *interp) newManager(name string, suppress bool) *fakeObj {
	typ := &fakeType{name: name + "_manager", base: in.builtins["object"].(*fakeType), attrs: map[string]any{
		"__enter__": &builtin{name: "__enter__", fn: func(in *interp, args []any) (any, *fakeExc) {
			self := args[0].(*fakeObj)
			in.out = append(in.out, "enter "+show(self.attrs["name"]))
			return self.attrs["name"], nil
		}},
		"__exit__": &builtin{name: "__exit__", fn: func(in *interp, args []any) (any, *fakeExc) {
			self := args[0].(*fakeObj)
			in.out = append(in.out, "exit "+show(self.attrs["name"])+" "+show(args[1]))
			return suppress, nil
		}},
	}}
	return &fakeObj{typ: typ, attrs: map[string]any{"name": name}}
}

func (in *interp) builtinType(name string) *fakeType { return in.builtins[name].(*fakeType) }

func (in *interp) raise(e *fakeExc) *fakeExc {
	in.exc, in.tb = e, "<traceback>"
	return e
}

func (in *interp) newExc(name string, args ...any) *fakeExc {
	return in.raise(&fakeExc{typ: in.builtinType(name), args: args})
}

func excValue(e *fakeExc) any {
	if e == nil { return nil }
	return e
}

func asExc(v any) *fakeExc {
	if v == nil { return nil }
	return v.(*fakeExc)
}

func isSubtype(t, of *fakeType) bool {
	for ; t != nil; t = t.base {
		if t == of { return true }
	}
	return false
}

func (in *interp) typeOf(v any) *fakeType {
	switch v := v.(type) {
	case *fakeObj:
		return v.typ
	case *fakeExc:
		return v.typ
	case *fakeType:
		return typeType
	}
	return in.builtinType("object")
}

func show(v any) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case sentinel:
		return string(v)
	case bool:
		if v { return "True" }
		return "False"
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	case *fakeType:
		return v.name
	case *fakeExc:
		return v.typ.name
	case *fakeSeq:
		parts := make([]string, len(v.items))
		for i, x := range v.items {
			parts[i] = show(x)
		}
		if v.tuple { return "(" + strings.Join(parts, ", ") + ")" }
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("<%T>", v)
}

func truth(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case sentinel:
		return v != noneObj
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v != ""
	case *fakeSeq:
		return len(v.items) > 0
	case *fakeDict:
		return len(v.keys) > 0
	}
	return true
}

func (d *fakeDict) set(k, v any) {
	if _, ok := d.m[k]; !ok {
		d.keys = append(d.keys, k)
	}
	d.m[k] = v
}

func (d *fakeDict) del(k any) bool {
	if _, ok := d.m[k]; !ok { return false }
	delete(d.m, k)
	for i, x := range d.keys {
		if x == k {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

func (in *interp) newFrame(fn *ir.Func, parent *frame) *frame {
	fr := &frame{fn: fn, parent: parent, locals: map[string]any{}, temps: map[int]any{}, index: map[int]int{}}
	for i, b := range fn.Blocks {
		if b.Label != nil {
			fr.index[b.Label.ID] = i
		}
	}
	return fr
}

// owner finds the frame of the function at depth, walking outwards.
func (in *interp) owner(fr *frame, depth int) *frame {
	for f := fr; f != nil; f = f.parent {
		if f.fn.Depth == depth { return f }
	}
	in.t.Fatalf("no frame at depth %d from %s", depth, fr.fn.Name)
	return nil
}

var builtinValues = map[ir.Builtin]func(in *interp) any{
	ir.None:           func(*interp) any { return noneObj },
	ir.True:           func(*interp) any { return true },
	ir.False:          func(*interp) any { return false },
	ir.UnboundLocal:   func(*interp) any { return unboundObj },
	ir.EllipsisObj:    func(*interp) any { return ellipsisObj },
	ir.TypeType:       func(*interp) any { return typeType },
	ir.StopIteration:  func(in *interp) any { return in.builtinType("StopIteration") },
	ir.AssertionError: func(in *interp) any { return in.builtinType("AssertionError") },
}

func (in *interp) val(fr *frame, v ir.Value) any {
	switch v := v.(type) {
	case nil:
		return nil
	case *ir.Temporary:
		return fr.temps[v.ID]
	case *ir.Local:
		return in.owner(fr, v.Depth).locals[v.Name]
	case *ir.Interned:
		return v.Name
	case ir.Register:
		switch v {
		case ir.RegReturn:
			return fr.ret
		case ir.RegExc:
			return fr.exc
		case ir.RegSent:
			return fr.sent
		case ir.RegClass:
			return fr.class
		}
	case ir.Builtin:
		return builtinValues[v](in)
	case ir.Nil:
		return nil
	case ir.Bool:
		return bool(v)
	case ir.Int:
		return int64(v)
	case ir.Str:
		return string(v)
	case *ir.Literal:
		switch v.Kind {
		case ir.LitInt:
			return v.Int
		case ir.LitStr, ir.LitUnicode:
			return v.Str
		}
	case *ir.Elem:
		return in.val(fr, v.Of).([]any)[v.Index]
	}
	in.t.Fatalf("cannot evaluate %v", v)
	return nil
}

func (in *interp) store(fr *frame, dst ir.Value, x any) {
	switch d := dst.(type) {
	case *ir.Temporary:
		fr.temps[d.ID] = x
	case *ir.Local:
		in.owner(fr, d.Depth).locals[d.Name] = x
	case ir.Register:
		switch d {
		case ir.RegReturn:
			fr.ret = x
		case ir.RegExc:
			fr.exc = x
		case ir.RegSent:
			fr.sent = x
		default:
			in.t.Fatalf("cannot store to %s", d)
		}
	case *ir.Elem:
		in.val(fr, d.Of).([]any)[d.Index] = x
	default:
		in.t.Fatalf("cannot store to %v", dst)
	}
}

// run executes fr from its current state until it returns or yields.
func (in *interp) run(fr *frame) (v any, yielded bool, exc *fakeExc) {
	dispatch := fr.fn.UsesDispatch()
	for {
		start := 0
		if fr.state != 0 {
			i, ok := fr.index[fr.state]
			if !ok {
				in.t.Fatalf("%s: no label for state %d", fr.fn.Name, fr.state)
			}
			start = i
		}
		if v, yielded := in.exec(fr, start); yielded {
			return v, true, nil
		}
		if !dispatch || len(fr.cps) == 0 {
			fr.state = -1
			return fr.ret, false, asExc(fr.exc)
		}
		fr.state = fr.cps[len(fr.cps)-1]
		fr.cps = fr.cps[:len(fr.cps)-1]
	}
}

// exec runs blocks from bi until an unwind or a yield.
func (in *interp) exec(fr *frame, bi int) (any, bool) {
	blocks := fr.fn.Blocks
	for bi < len(blocks) {
		jumped := false
		for _, ins := range blocks[bi].Instrs {
			if in.steps++; in.steps > maxSteps {
				in.t.Fatalf("%s: step limit exceeded", fr.fn.Name)
			}
			target := -1
			switch ins.Op {
			case ir.OpLine:
			case ir.OpCall:
				if in.call(fr, ins) { return nil, false }
			case ir.OpMove:
				in.store(fr, ins.Result, in.val(fr, ins.Args[0]))
			case ir.OpJmp:
				target = fr.index[ins.Target.ID]
			case ir.OpJnz, ir.OpJz:
				if in.val(fr, ins.Args[0]).(bool) == (ins.Op == ir.OpJnz) {
					target = fr.index[ins.Target.ID]
				}
			case ir.OpJnil, ir.OpJnotnil:
				if (in.val(fr, ins.Args[0]) == nil) == (ins.Op == ir.OpJnil) {
					target = fr.index[ins.Target.ID]
				}
			case ir.OpPushCheckpoint:
				fr.cps = append(fr.cps, ins.Target.ID)
			case ir.OpPopCheckpoint:
				fr.cps = fr.cps[:len(fr.cps)-1]
			case ir.OpUnwind:
				return nil, false
			case ir.OpYield:
				return in.val(fr, ins.Args[0]), true
			case ir.OpMakeFunction:
				f := &fakeFunc{fn: ins.Func, parent: fr}
				for _, a := range ins.Args {
					f.defaults = append(f.defaults, in.val(fr, a))
				}
				in.store(fr, ins.Result, f)
			case ir.OpClassBody:
				body := in.newFrame(ins.Func, fr)
				body.class = in.val(fr, ins.Args[0]).(*fakeDict)
				_, _, exc := in.run(body)
				fr.exc = excValue(exc)
				if exc != nil { return nil, false }
			default:
				in.t.Fatalf("%s: unsupported op %s", fr.fn.Name, ins.Op)
			}
			if target >= 0 {
				bi, jumped = target, true
				break
			}
		}
		if !jumped {
			bi++
		}
	}
	in.t.Fatalf("%s: control fell off the last block", fr.fn.Name)
	return nil, false
}

// call runs one primitive and reports whether the frame must unwind.
func (in *interp) call(fr *frame, ins *ir.Instr) bool {
	p, ok := ir.LookupPrimitive(ins.Callee)
	if !ok {
		in.t.Fatalf("unknown primitive %s", ins.Callee)
	}
	args := make([]any, len(ins.Args))
	for i, a := range ins.Args {
		args[i] = in.val(fr, a)
	}
	res, res2, exc := in.primitive(fr, ins.Callee, args)
	if ins.Result != nil {
		in.store(fr, ins.Result, res)
	}
	if ins.Result2 != nil {
		in.store(fr, ins.Result2, res2)
	}
	if p.Result == ir.Plain {
		return false
	}
	fr.exc = excValue(exc)
	return exc != nil && ins.Mode == ir.Checked
}

func (in *interp) primitive(fr *frame, name string, args []any) (any, any, *fakeExc) {
	switch name {
	case "SetLineno", "FreeArgs":
		return nil, nil, nil
	case "MakeArgs":
		return make([]any, args[0].(int64)), nil, nil
	case "Raise":
		return nil, nil, in.raiseValue(args[0], args[1])
	case "ExcInfo":
		return excValue(in.exc), in.tb, nil
	case "RestoreExc":
		in.exc, in.tb = asExc(args[0]), args[1]
		return nil, nil, nil
	case "ExcObject":
		return args[0], nil, nil
	case "TracebackObject":
		if args[0] == nil { return noneObj, nil, nil }
		return args[0], nil, nil
	case "Type":
		return in.typeOf(args[0]), nil, nil
	case "IsTrue":
		return truth(args[0]), nil, nil
	case "Not":
		return !truth(args[0]), nil, nil
	case "IsInstance":
		typ, ok := args[1].(*fakeType)
		if !ok { return nil, nil, in.newExc("TypeError", "isinstance() arg 2 must be a type") }
		return isSubtype(in.typeOf(args[0]), typ), nil, nil
	case "Is":
		return args[0] == args[1], nil, nil
	case "Eq":
		return args[0] == args[1], nil, nil
	case "NE":
		return args[0] != args[1], nil, nil
	case "LT", "GT":
		a, aok := args[0].(int64)
		b, bok := args[1].(int64)
		if !aok || !bok { return nil, nil, in.newExc("TypeError", "unorderable types") }
		if name == "LT" { return a < b, nil, nil }
		return a > b, nil, nil
	case "Add", "IAdd":
		switch a := args[0].(type) {
		case int64:
			if b, ok := args[1].(int64); ok { return a + b, nil, nil }
		case string:
			if b, ok := args[1].(string); ok { return a + b, nil, nil }
		}
		return nil, nil, in.newExc("TypeError", "unsupported operand types for +")
	case "Print":
		var parts []string
		if vals, ok := args[0].([]any); ok {
			for _, v := range vals {
				parts = append(parts, show(v))
			}
		}
		in.out = append(in.out, strings.Join(parts, " "))
		return nil, nil, nil
	case "NewTuple", "NewList":
		return &fakeSeq{items: append([]any(nil), args[0].([]any)...), tuple: name == "NewTuple"}, nil, nil
	case "NewDict":
		return &fakeDict{m: map[any]any{}}, nil, nil
	case "SetItem":
		if d, ok := args[0].(*fakeDict); ok {
			d.set(args[1], args[2])
			return nil, nil, nil
		}
	case "GetItem":
		return in.getItem(args[0], args[1])
	case "DictLookup":
		return args[0].(*fakeDict).m[args[1]], nil, nil
	case "Unpack":
		seq, ok := args[0].(*fakeSeq)
		if !ok || int64(len(seq.items)) != args[1].(int64) {
			return nil, nil, in.newExc("ValueError", "cannot unpack")
		}
		return append([]any(nil), seq.items...), nil, nil
	case "GetAttr":
		if v, ok := in.lookupAttr(args[0], args[1].(string)); ok { return v, nil, nil }
		return nil, nil, in.newExc("AttributeError", args[1])
	case "Call":
		if args[2] != nil {
			in.t.Fatalf("keyword arguments are not supported")
		}
		callArgs, _ := args[1].([]any)
		v, exc := in.callValue(args[0], callArgs)
		return v, nil, exc
	case "Iter":
		switch x := args[0].(type) {
		case *fakeSeq:
			return &fakeIter{items: x.items}, nil, nil
		case *fakeIter, *fakeGen:
			return x, nil, nil
		}
		return nil, nil, in.newExc("TypeError", "object is not iterable")
	case "Next":
		v, exc := in.next(args[0])
		return v, nil, exc
	case "ToList":
		var items []any
		savedExc, savedTb := in.exc, in.tb
		for {
			v, exc := in.next(args[0])
			if exc != nil {
				if !isSubtype(exc.typ, in.builtinType("StopIteration")) { return nil, nil, exc }
				break
			}
			items = append(items, v)
		}
		in.exc, in.tb = savedExc, savedTb
		return &fakeSeq{items: items}, nil, nil
	case "LoadGlobal":
		return in.loadGlobal(args[0].(string))
	case "StoreGlobal":
		in.globals[args[0].(string)] = args[1]
		return nil, nil, nil
	case "DelGlobal":
		if _, ok := in.globals[args[0].(string)]; !ok {
			return nil, nil, in.newExc("NameError", "name '"+args[0].(string)+"' is not defined")
		}
		delete(in.globals, args[0].(string))
		return nil, nil, nil
	case "LoadClass":
		if v, ok := args[0].(*fakeDict).m[args[1]]; ok { return v, nil, nil }
		if args[2] != nil && args[2] != unboundObj { return args[2], nil, nil }
		return in.loadGlobal(args[1].(string))
	case "StoreClass":
		args[0].(*fakeDict).set(args[1], args[2])
		return nil, nil, nil
	case "DelClass":
		if !args[0].(*fakeDict).del(args[1]) {
			return nil, nil, in.newExc("NameError", "name '"+args[1].(string)+"' is not defined")
		}
		return nil, nil, nil
	case "CheckLocal":
		if args[0] == unboundObj {
			return nil, nil, in.newExc("UnboundLocalError", "local variable '"+args[1].(string)+"' referenced before assignment")
		}
		return nil, nil, nil
	}
	in.t.Fatalf("unsupported primitive %s%v", name, args)
	return nil, nil, nil
}

func (in *interp) raiseValue(typ, inst any) *fakeExc {
	switch x := typ.(type) {
	case nil:
		if in.exc == nil {
			return in.newExc("TypeError", "exceptions must be old-style classes or derived from BaseException, not NoneType")
		}
		return in.raise(in.exc)
	case *fakeExc:
		return in.raise(x)
	case *fakeType:
		e := &fakeExc{typ: x}
		if inst != nil {
			e.args = []any{inst}
		}
		return in.raise(e)
	}
	return in.newExc("TypeError", "exceptions must derive from BaseException")
}

func (in *interp) loadGlobal(name string) (any, any, *fakeExc) {
	if v, ok := in.globals[name]; ok { return v, nil, nil }
	if v, ok := in.builtins[name]; ok { return v, nil, nil }
	return nil, nil, in.newExc("NameError", "name '"+name+"' is not defined")
}

func (in *interp) getItem(obj, key any) (any, any, *fakeExc) {
	switch o := obj.(type) {
	case *fakeDict:
		if v, ok := o.m[key]; ok { return v, nil, nil }
		return nil, nil, in.newExc("KeyError", key)
	case *fakeSeq:
		if i, ok := key.(int64); ok && i >= 0 && i < int64(len(o.items)) {
			return o.items[i], nil, nil
		}
		return nil, nil, in.newExc("TypeError", "bad index")
	}
	return nil, nil, in.newExc("TypeError", "object is not subscriptable")
}

func (in *interp) lookupAttr(obj any, name string) (any, bool) {
	var typ *fakeType
	switch o := obj.(type) {
	case *fakeObj:
		if v, ok := o.attrs[name]; ok { return v, true }
		typ = o.typ
	case *fakeType:
		typ = o
	default:
		return nil, false
	}
	for ; typ != nil; typ = typ.base {
		if v, ok := typ.attrs[name]; ok { return v, true }
	}
	return nil, false
}

func (in *interp) callValue(fn any, args []any) (any, *fakeExc) {
	switch f := fn.(type) {
	case *builtin:
		return f.fn(in, args)
	case *fakeFunc:
		return in.invoke(f, args)
	case *fakeType:
		if f == typeType && len(args) == 3 {
			cls := &fakeType{name: args[0].(string), attrs: map[string]any{}}
			if bases := args[1].(*fakeSeq); len(bases.items) > 0 {
				cls.base = bases.items[0].(*fakeType)
			}
			ns := args[2].(*fakeDict)
			for _, k := range ns.keys {
				cls.attrs[k.(string)] = ns.m[k]
			}
			return cls, nil
		}
		if isSubtype(f, in.builtinType("BaseException")) {
			return &fakeExc{typ: f, args: args}, nil
		}
		return &fakeObj{typ: f, attrs: map[string]any{}}, nil
	}
	return nil, in.newExc("TypeError", "object is not callable")
}

func (in *interp) invoke(f *fakeFunc, args []any) (any, *fakeExc) {
	fn := f.fn
	if len(args) > len(fn.Params) && fn.Vararg == "" {
		return nil, in.newExc("TypeError", fn.Name+"() takes too many arguments")
	}
	bound := make([]any, len(fn.Params))
	for i := range fn.Params {
		switch {
		case i < len(args):
			bound[i] = args[i]
		case i < len(f.defaults) && f.defaults[i] != nil:
			bound[i] = f.defaults[i]
		default:
			return nil, in.newExc("TypeError", fn.Name+"() takes more arguments")
		}
	}
	if fn.Vararg != "" {
		var rest []any
		if len(args) > len(fn.Params) {
			rest = args[len(fn.Params):]
		}
		bound = append(bound, &fakeSeq{items: rest, tuple: true})
	}
	if fn.Kwarg != "" {
		bound = append(bound, &fakeDict{m: map[any]any{}})
	}
	fr := in.newFrame(fn, f.parent)
	for _, l := range fn.Locals {
		if l.Param >= 0 {
			fr.locals[l.Name] = bound[l.Param]
		} else {
			fr.locals[l.Name] = unboundObj
		}
	}
	if fn.IsGenerator {
		return &fakeGen{fr: fr}, nil
	}
	v, _, exc := in.run(fr)
	if exc != nil { return nil, exc }
	return v, nil
}

// next advances an iterator. A generator resumes at the checkpoint its last
// yield pushed.
func (in *interp) next(it any) (any, *fakeExc) {
	switch x := it.(type) {
	case *fakeIter:
		if x.pos >= len(x.items) { return nil, in.newExc("StopIteration") }
		x.pos++
		return x.items[x.pos-1], nil
	case *fakeGen:
		if x.done { return nil, in.newExc("StopIteration") }
		fr := x.fr
		if x.started {
			fr.state = fr.cps[len(fr.cps)-1]
			fr.cps = fr.cps[:len(fr.cps)-1]
		}
		x.started = true
		fr.sent = noneObj
		v, yielded, exc := in.run(fr)
		if yielded { return v, nil }
		x.done = true
		if exc != nil { return nil, exc }
		return nil, in.newExc("StopIteration")
	}
	return nil, in.newExc("TypeError", "object is not an iterator")
}

// runProgram executes the module body and returns the printed lines and the
// name of the exception that escaped it, if any.
func runProgram(t *testing.T, prog *ir.Program) (out []string, escaped string) {
	t.Helper()
	in := newInterp(t)
	_, _, exc := in.run(in.newFrame(prog.Main, nil))
	if exc != nil {
		escaped = exc.typ.name
	}
	return in.out, escaped
}

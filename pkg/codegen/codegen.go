// Package codegen lowers a Python 2.7 module into the ir representation and
// renders it through one of the backends.
package codegen

import (
	"fmt"

	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/imports"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/scope"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

// Context is the state of one compilation unit. It is discarded once the
// unit has been lowered.
type Context struct {
	cfg      *config.Config
	prog     *ir.Program
	future   imports.FutureFeatures
	importer *imports.Visitor
	interned map[string]bool
	native   map[string]bool
	blk      *Block
}

func NewContext(cfg *config.Config, resolver imports.Resolver) *Context {
	return &Context{
		cfg:      cfg,
		prog:     &ir.Program{},
		importer: &imports.Visitor{Resolver: resolver, NativeAllowed: cfg.IsFeatureEnabled(config.FeatNativeImports)},
		interned: make(map[string]bool),
		native:   make(map[string]bool),
	}
}

// Compile lowers module, named name and read from filename, into a program.
// The first error aborts the unit.
func Compile(module *ast.Node, name, filename string, cfg *config.Config, resolver imports.Resolver) (*ir.Program, error) {
	if module == nil || module.Type != ast.Module {
		return nil, fmt.Errorf("codegen: expected a Module node")
	}
	return NewContext(cfg, resolver).Compile(module, name, filename)
}

func (ctx *Context) Compile(module *ast.Node, name, filename string) (prog *ir.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*util.CompileError)
			if !ok { panic(r) }
			prog, err = nil, ce
		}
	}()

	ff, err := imports.ParseFutureFeatures(module)
	if err != nil { return nil, err }
	ctx.future = ff
	ctx.importer.Future = ff

	body := module.Data.(ast.ModuleNode).Body
	sc, err := scope.ClassifyModule(body)
	if err != nil { return nil, err }

	ctx.prog.Module, ctx.prog.Filename = name, filename
	ctx.blk = ctx.newBlock(moduleBlock, nil, "<module>", sc)
	ctx.codegenStmts(body)
	ctx.prog.Main = ctx.blk.finish()
	ctx.blk = nil
	return ctx.prog, nil
}

func (ctx *Context) errorf(kind util.ErrorKind, tok token.Token, format string, args ...interface{}) {
	panic(util.Errorf(kind, tok, format, args...))
}

// fail aborts the unit with err, positioning it at tok unless it already
// carries a position.
func (ctx *Context) fail(tok token.Token, err error) {
	if ce, ok := err.(*util.CompileError); ok { panic(ce) }
	ctx.errorf(util.LoweringError, tok, "%v", err)
}

func (ctx *Context) intern(name string) *ir.Interned {
	if !ctx.interned[name] {
		ctx.interned[name] = true
		ctx.prog.Interned = append(ctx.prog.Interned, name)
	}
	return &ir.Interned{Name: name}
}

func isIdentifier(s string) bool {
	if s == "" { return false }
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// strConst returns a str or unicode constant object. Short identifier-like
// byte strings share the module's interned constants.
func (ctx *Context) strConst(s string, isUnicode bool) ir.Value {
	if isUnicode || ctx.future.UnicodeLiterals {
		return &ir.Literal{Kind: ir.LitUnicode, Str: s}
	}
	if len(s) < 32 && isIdentifier(s) {
		ctx.intern(s)
		return &ir.Literal{Kind: ir.LitStr, Str: s, Interned: true}
	}
	return &ir.Literal{Kind: ir.LitStr, Str: s}
}

func (ctx *Context) newTemp(typ ir.Type) *ir.Temporary { return ctx.blk.allocTemp(typ) }
func (ctx *Context) newLabel() *ir.Label               { return ctx.blk.newLabel() }
func (ctx *Context) startBlock(label *ir.Label)        { ctx.blk.startBlock(label) }
func (ctx *Context) addInstr(instr *ir.Instr)          { ctx.blk.emit(instr) }
func (ctx *Context) release(vs ...ir.Value)            { ctx.blk.release(vs...) }

func primitive(name string) ir.Primitive {
	p, ok := ir.LookupPrimitive(name)
	if !ok { panic("codegen: unknown runtime primitive " + name) }
	return p
}

// call emits a checked call and returns a fresh temporary holding its
// result, or nil for primitives without one.
func (ctx *Context) call(name string, args ...ir.Value) ir.Value {
	p := primitive(name)
	in := &ir.Instr{Op: ir.OpCall, Callee: name, Args: args}
	var res *ir.Temporary
	if p.HasResult() {
		res = ctx.newTemp(p.Type)
		in.Result = res
	}
	ctx.addInstr(in)
	if res == nil { return nil }
	return res
}

// callInto emits a checked call storing its result in dst.
func (ctx *Context) callInto(dst ir.Value, name string, args ...ir.Value) {
	primitive(name)
	ctx.addInstr(&ir.Instr{Op: ir.OpCall, Callee: name, Result: dst, Args: args})
}

// capture emits a call whose error lands in the exception register without
// unwinding.
func (ctx *Context) capture(dst ir.Value, name string, args ...ir.Value) {
	primitive(name)
	ctx.addInstr(&ir.Instr{Op: ir.OpCall, Callee: name, Result: dst, Args: args, Mode: ir.Capture})
}

// excInfo returns the exception being handled and its traceback.
func (ctx *Context) excInfo(exc, tb ir.Value) {
	ctx.addInstr(&ir.Instr{Op: ir.OpCall, Callee: "ExcInfo", Result: exc, Result2: tb})
}

func (ctx *Context) move(dst, src ir.Value) {
	ctx.addInstr(&ir.Instr{Op: ir.OpMove, Result: dst, Args: []ir.Value{src}})
}

func (ctx *Context) jump(target *ir.Label) {
	ctx.addInstr(&ir.Instr{Op: ir.OpJmp, Target: target})
}

func (ctx *Context) branch(op ir.Op, cond ir.Value, target *ir.Label) {
	ctx.addInstr(&ir.Instr{Op: op, Args: []ir.Value{cond}, Target: target})
}

func (ctx *Context) pushCheckpoint(l *ir.Label) {
	ctx.addInstr(&ir.Instr{Op: ir.OpPushCheckpoint, Target: l})
}

func (ctx *Context) popCheckpoint() { ctx.addInstr(&ir.Instr{Op: ir.OpPopCheckpoint}) }
func (ctx *Context) unwind()        { ctx.addInstr(&ir.Instr{Op: ir.OpUnwind}) }

// isTrue evaluates the truthiness of v into a bool temporary.
func (ctx *Context) isTrue(v ir.Value) ir.Value { return ctx.call("IsTrue", v) }

// guardPending keeps unwinding when a label reached by unwinding finds an
// exception or a return still in flight.
func (ctx *Context) guardPending() {
	for _, reg := range []ir.Register{ir.RegExc, ir.RegReturn} {
		ok := ctx.newLabel()
		ctx.branch(ir.OpJnil, reg, ok)
		ctx.unwind()
		ctx.startBlock(ok)
	}
}

// newArgs builds an argument vector from already lowered values.
func (ctx *Context) newArgs(vals []ir.Value) ir.Value {
	args := ctx.call("MakeArgs", ir.Int(len(vals)))
	for i, v := range vals {
		ctx.move(&ir.Elem{Of: args, Index: i}, v)
	}
	return args
}

func (ctx *Context) freeArgs(args ir.Value) {
	ctx.call("FreeArgs", args)
	ctx.release(args)
}

// codegenArgs lowers exprs left to right into an argument vector.
func (ctx *Context) codegenArgs(exprs []*ast.Node) ir.Value {
	args := ctx.call("MakeArgs", ir.Int(len(exprs)))
	for i, e := range exprs {
		v := ctx.codegenExpr(e)
		ctx.move(&ir.Elem{Of: args, Index: i}, v)
		ctx.release(v)
	}
	return args
}

package codegen

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/scope"
	"github.com/xplshn/gpyc/pkg/util"
)

// codegenFunction lowers a FunctionDef into its own function and returns a
// temporary holding the function object. Defaults are evaluated here, in the
// enclosing block.
func (ctx *Context) codegenFunction(node *ast.Node) ir.Value {
	d := node.Data.(ast.FunctionDefNode)
	sc, err := scope.ClassifyFunction(node)
	if err != nil {
		ctx.fail(node.Tok, err)
	}

	args := d.Args
	firstDefault := len(args.Args) - len(args.Defaults)
	defaults := make([]ir.Value, len(args.Args))
	for i, def := range args.Defaults {
		defaults[firstDefault+i] = ctx.codegenExpr(def)
	}

	parent := ctx.blk
	child := ctx.newBlock(functionBlock, parent, d.Name, sc)
	fn := child.fn
	fn.Line = node.Tok.Line
	fn.IsGenerator = sc.IsGenerator
	fn.Vararg, fn.Kwarg = args.Vararg, args.Kwarg
	for i, a := range args.Args {
		fn.Params = append(fn.Params, ir.Param{Name: a.Data.(ast.NameNode).Id, HasDefault: i >= firstDefault})
	}
	for _, v := range sc.Vars.All() {
		if v.Kind == scope.Global { continue }
		fn.Locals = append(fn.Locals, ir.LocalVar{Name: v.Name, Param: v.Index})
	}

	ctx.blk = child
	ctx.codegenStmts(d.Body)
	child.finish()
	ctx.blk = parent

	res := ctx.newTemp(ir.TypeObject)
	ctx.addInstr(&ir.Instr{Op: ir.OpMakeFunction, Result: res, Func: fn, Args: defaults})
	for _, v := range defaults {
		if v != nil {
			ctx.release(v)
		}
	}
	return res
}

// codegenClass runs the class body once against a fresh namespace, picks the
// metaclass and binds the class it builds.
func (ctx *Context) codegenClass(node *ast.Node) {
	d := node.Data.(ast.ClassDefNode)
	bases := ctx.codegenDisplay("NewTuple", d.Bases)
	ns := ctx.call("NewDict")

	sc, err := scope.ClassifyClass(d.Body)
	if err != nil {
		ctx.fail(node.Tok, err)
	}
	if sc.IsGenerator {
		ctx.errorf(util.LoweringError, node.Tok, "'yield' outside function")
	}

	parent := ctx.blk
	child := ctx.newBlock(classBlock, parent, d.Name, sc)
	child.fn.Line = node.Tok.Line
	ctx.blk = child
	mod := ctx.call("LoadGlobal", ctx.intern("__name__"))
	ctx.call("StoreClass", ir.RegClass, ctx.intern("__module__"), mod)
	ctx.release(mod)
	ctx.codegenStmts(d.Body)
	child.finish()
	ctx.blk = parent

	ctx.addInstr(&ir.Instr{Op: ir.OpClassBody, Func: child.fn, Args: []ir.Value{ns}})
	meta := ctx.newTemp(ir.TypeObject)
	ctx.callInto(meta, "DictLookup", ns, ctx.strConst("__metaclass__", false))
	found := ctx.newLabel()
	ctx.branch(ir.OpJnotnil, meta, found)
	ctx.move(meta, ir.TypeType)
	ctx.startBlock(found)

	args := ctx.newArgs([]ir.Value{ctx.strConst(d.Name, false), bases, ns})
	cls := ctx.call("Call", meta, args, ir.Nil{})
	ctx.freeArgs(args)
	ctx.release(meta, bases, ns)
	ctx.bindVar(node.Tok, d.Name, cls)
	ctx.release(cls)
	ctx.applyDecorators(node.Tok, d.Name, d.Decorators)
}

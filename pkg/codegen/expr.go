package codegen

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

var binaryOps = map[token.Type]string{
	token.Plus: "Add", token.Minus: "Sub", token.Star: "Mul", token.Slash: "Div",
	token.SlashSlash: "FloorDiv", token.Rem: "Mod", token.StarStar: "Pow",
	token.Shl: "LShift", token.Shr: "RShift", token.Or: "Or", token.Xor: "Xor", token.And: "And",
}

var unaryOps = map[token.Type]string{
	token.Complement: "Invert", token.Not: "Not", token.UPlus: "Pos", token.UMinus: "Neg",
}

var compareOps = map[token.Type]string{
	token.EqEq: "Eq", token.Neq: "NE", token.Lt: "LT", token.Lte: "LE", token.Gt: "GT", token.Gte: "GE",
	token.Is: "Is", token.IsNot: "IsNot", token.In: "In", token.NotIn: "NotIn",
}

var compNames = map[ast.NodeType]string{
	ast.ListComp: "<listcomp>", ast.SetComp: "<setcomp>", ast.DictComp: "<dictcomp>", ast.GeneratorExp: "<genexpr>",
}

func (ctx *Context) binaryOp(tok token.Token, op token.Type) string {
	name, ok := binaryOps[op]
	if !ok {
		ctx.errorf(util.LoweringError, tok, "binary op '%s' is not implemented", op)
	}
	if name == "Div" && ctx.future.Division {
		name = "TrueDiv"
	}
	return name
}

// codegenExpr lowers an expression and returns the value holding its result.
// A temporary result belongs to the caller, which must release it.
func (ctx *Context) codegenExpr(node *ast.Node) ir.Value {
	switch node.Type {
	case ast.BoolOp:
		return ctx.codegenBoolOp(node)

	case ast.BinOp:
		d := node.Data.(ast.BinOpNode)
		name := ctx.binaryOp(node.Tok, d.Op)
		l := ctx.codegenExpr(d.Left)
		r := ctx.codegenExpr(d.Right)
		res := ctx.call(name, l, r)
		ctx.release(l, r)
		return res

	case ast.UnaryOp:
		d := node.Data.(ast.UnaryOpNode)
		name, ok := unaryOps[d.Op]
		if !ok {
			ctx.errorf(util.LoweringError, node.Tok, "unary op '%s' is not implemented", d.Op)
		}
		v := ctx.codegenExpr(d.Operand)
		res := ctx.call(name, v)
		ctx.release(v)
		return res

	case ast.Lambda:
		d := node.Data.(ast.LambdaNode)
		args := d.Args
		if args == nil {
			args = &ast.Arguments{}
		}
		// A generator lambda drops its body's value, as a generator cannot
		// return one.
		body := ast.NewReturn(node.Tok, d.Body)
		if containsYield(d.Body) {
			body = ast.NewExprStmt(node.Tok, d.Body)
		}
		def := ast.NewFunctionDef(node.Tok, "<lambda>", args, []*ast.Node{body}, nil)
		return ctx.codegenFunction(def)

	case ast.IfExp:
		d := node.Data.(ast.IfExpNode)
		res := ctx.newTemp(ir.TypeObject)
		orElse, end := ctx.newLabel(), ctx.newLabel()
		test := ctx.codegenExpr(d.Test)
		cond := ctx.isTrue(test)
		ctx.release(test)
		ctx.branch(ir.OpJz, cond, orElse)
		ctx.release(cond)
		v := ctx.codegenExpr(d.Body)
		ctx.move(res, v)
		ctx.release(v)
		ctx.jump(end)
		ctx.startBlock(orElse)
		v = ctx.codegenExpr(d.OrElse)
		ctx.move(res, v)
		ctx.release(v)
		ctx.startBlock(end)
		return res

	case ast.Dict:
		d := node.Data.(ast.DictNode)
		dict := ctx.call("NewDict")
		for i := range d.Keys {
			k := ctx.codegenExpr(d.Keys[i])
			v := ctx.codegenExpr(d.Values[i])
			ctx.call("SetItem", dict, k, v)
			ctx.release(k, v)
		}
		return dict

	case ast.Set:
		return ctx.codegenDisplay("NewSet", node.Data.(ast.SetNode).Elts)
	case ast.List:
		return ctx.codegenDisplay("NewList", node.Data.(ast.ListNode).Elts)
	case ast.Tuple:
		return ctx.codegenDisplay("NewTuple", node.Data.(ast.TupleNode).Elts)

	case ast.ListComp, ast.SetComp, ast.DictComp, ast.GeneratorExp:
		return ctx.codegenComprehension(node)

	case ast.Yield:
		return ctx.codegenYield(node)

	case ast.Compare:
		return ctx.codegenCompare(node)

	case ast.Call:
		return ctx.codegenCall(node)

	case ast.Repr:
		v := ctx.codegenExpr(node.Data.(ast.ReprNode).Value)
		res := ctx.call("Repr", v)
		ctx.release(v)
		return res

	case ast.Num:
		return ctx.codegenNum(node)

	case ast.Str:
		d := node.Data.(ast.StrNode)
		return ctx.strConst(d.Value, d.IsUnicode)

	case ast.Attribute:
		d := node.Data.(ast.AttributeNode)
		obj := ctx.codegenExpr(d.Value)
		res := ctx.call("GetAttr", obj, ctx.intern(d.Attr))
		ctx.release(obj)
		return res

	case ast.Subscript:
		d := node.Data.(ast.SubscriptNode)
		obj := ctx.codegenExpr(d.Value)
		key := ctx.codegenSlice(d.Slice)
		res := ctx.call("GetItem", obj, key)
		ctx.release(obj, key)
		return res

	case ast.Name:
		return ctx.resolveName(node.Tok, node.Data.(ast.NameNode).Id)
	}
	ctx.errorf(util.LoweringError, node.Tok, "%s is not implemented as an expression", node.Type)
	return nil
}

// codegenDisplay builds a tuple, list or set from its elements.
func (ctx *Context) codegenDisplay(ctor string, elts []*ast.Node) ir.Value {
	args := ctx.codegenArgs(elts)
	res := ctx.call(ctor, args)
	ctx.freeArgs(args)
	return res
}

func (ctx *Context) codegenSlice(node *ast.Node) ir.Value {
	switch d := node.Data.(type) {
	case ast.IndexNode:
		return ctx.codegenExpr(d.Value)
	case ast.SliceNode:
		bound := func(n *ast.Node) ir.Value {
			if n == nil { return ir.None }
			return ctx.codegenExpr(n)
		}
		lo, hi, step := bound(d.Lower), bound(d.Upper), bound(d.Step)
		res := ctx.call("NewSlice", lo, hi, step)
		ctx.release(lo, hi, step)
		return res
	case ast.EllipsisNode:
		return ir.EllipsisObj
	case ast.ExtSliceNode:
		dims := make([]ir.Value, len(d.Dims))
		for i, dim := range d.Dims {
			dims[i] = ctx.codegenSlice(dim)
		}
		args := ctx.newArgs(dims)
		ctx.release(dims...)
		res := ctx.call("NewTuple", args)
		ctx.freeArgs(args)
		return res
	}
	return ctx.codegenExpr(node)
}

func (ctx *Context) codegenNum(node *ast.Node) ir.Value {
	d := node.Data.(ast.NumNode)
	switch d.Kind {
	case ast.NumLong:
		if !d.Big.IsInt64() && !ctx.cfg.IsFeatureEnabled(config.FeatBigLiterals) {
			ctx.errorf(util.LoweringError, node.Tok, "integer literal %s does not fit in 64 bits", d.Big)
		}
		return ir.NewLong(d.Big)
	case ast.NumFloat:
		return &ir.Literal{Kind: ir.LitFloat, Float: d.Float}
	case ast.NumComplex:
		return &ir.Literal{Kind: ir.LitComplex, Float: d.Float}
	}
	return &ir.Literal{Kind: ir.LitInt, Int: d.Int}
}

func (ctx *Context) codegenBoolOp(node *ast.Node) ir.Value {
	d := node.Data.(ast.BoolOpNode)
	op := ir.OpJz
	if d.Op == token.OrOr {
		op = ir.OpJnz
	}
	res := ctx.newTemp(ir.TypeObject)
	end := ctx.newLabel()
	for i, operand := range d.Values {
		v := ctx.codegenExpr(operand)
		ctx.move(res, v)
		ctx.release(v)
		if i == len(d.Values)-1 { break }
		cond := ctx.isTrue(res)
		ctx.branch(op, cond, end)
		ctx.release(cond)
	}
	ctx.startBlock(end)
	return res
}

// codegenCompare lowers a comparison chain. Each operand is evaluated once
// and the chain stops at the first false link.
func (ctx *Context) codegenCompare(node *ast.Node) ir.Value {
	d := node.Data.(ast.CompareNode)
	res := ctx.newTemp(ir.TypeObject)
	end := ctx.newLabel()
	left := ctx.codegenExpr(d.Left)
	for i, op := range d.Ops {
		name, ok := compareOps[op]
		if !ok {
			ctx.errorf(util.LoweringError, node.Tok, "comparison '%s' is not implemented", op)
		}
		right := ctx.codegenExpr(d.Comparators[i])
		ctx.callInto(res, name, left, right)
		ctx.release(left)
		left = right
		if i < len(d.Ops)-1 {
			cond := ctx.isTrue(res)
			ctx.branch(ir.OpJz, cond, end)
			ctx.release(cond)
		}
	}
	ctx.release(left)
	ctx.startBlock(end)
	return res
}

func (ctx *Context) codegenCall(node *ast.Node) ir.Value {
	d := node.Data.(ast.CallNode)
	fn := ctx.codegenExpr(d.Func)
	var args ir.Value = ir.Nil{}
	if len(d.Args) > 0 {
		args = ctx.codegenArgs(d.Args)
	}
	var kw ir.Value = ir.Nil{}
	if len(d.Keywords) > 0 {
		names := make([]string, len(d.Keywords))
		vals := make([]ir.Value, len(d.Keywords))
		for i, k := range d.Keywords {
			names[i] = k.Arg
			vals[i] = ctx.codegenExpr(k.Value)
		}
		t := ctx.newTemp(ir.TypeKWArgs)
		ctx.addInstr(&ir.Instr{Op: ir.OpKWArgs, Result: t, Names: names, Args: vals})
		ctx.release(vals...)
		kw = t
	}

	var res ir.Value
	if d.StarArgs != nil || d.KWArgs != nil {
		var star, kwargs ir.Value = ir.Nil{}, ir.Nil{}
		if d.StarArgs != nil {
			star = ctx.codegenExpr(d.StarArgs)
		}
		if d.KWArgs != nil {
			kwargs = ctx.codegenExpr(d.KWArgs)
		}
		res = ctx.call("Invoke", fn, args, star, kw, kwargs)
		ctx.release(star, kwargs)
	} else {
		res = ctx.call("Call", fn, args, kw)
	}
	if _, ok := args.(ir.Nil); !ok {
		ctx.freeArgs(args)
	}
	ctx.release(fn, kw)
	return res
}

// codegenComprehension rewrites a comprehension into a generator function
// made of nested for and if statements around a yield, calls it, and
// materializes the result unless it is a generator expression.
func (ctx *Context) codegenComprehension(node *ast.Node) ir.Value {
	d := node.Data.(ast.CompNode)
	tok := node.Tok
	elt := d.Elt
	if node.Type == ast.DictComp {
		elt = ast.NewTuple(tok, []*ast.Node{d.Elt, d.Value})
	}
	if containsYield(elt) {
		ctx.errorf(util.LoweringError, tok, "'yield' inside %s is not implemented", compNames[node.Type])
	}
	body := []*ast.Node{ast.NewExprStmt(tok, ast.NewYield(tok, elt))}
	for i := len(d.Generators) - 1; i >= 0; i-- {
		g := d.Generators[i]
		if containsYield(g.Iter) {
			ctx.errorf(util.LoweringError, tok, "'yield' inside %s is not implemented", compNames[node.Type])
		}
		for j := len(g.Ifs) - 1; j >= 0; j-- {
			body = []*ast.Node{ast.NewIf(tok, g.Ifs[j], body, nil)}
		}
		body = []*ast.Node{ast.NewFor(tok, g.Target, g.Iter, body, nil)}
	}

	fn := ctx.codegenFunction(ast.NewFunctionDef(tok, compNames[node.Type], &ast.Arguments{}, body, nil))
	gen := ctx.call("Call", fn, ir.Nil{}, ir.Nil{})
	ctx.release(fn)
	var materialize string
	switch node.Type {
	case ast.ListComp:
		materialize = "ToList"
	case ast.SetComp:
		materialize = "ToSet"
	case ast.DictComp:
		materialize = "ToDict"
	default:
		return gen
	}
	res := ctx.call(materialize, gen)
	ctx.release(gen)
	return res
}

func containsYield(n *ast.Node) bool {
	found := false
	ast.Walk(n, func(c *ast.Node) bool {
		switch c.Type {
		case ast.Yield:
			found = true
		case ast.Lambda, ast.ListComp, ast.SetComp, ast.DictComp, ast.GeneratorExp:
			return false
		}
		return !found
	})
	return found
}

// codegenYield suspends the generator. The runtime pops the resume
// checkpoint before re-entering, and the sent value becomes the result.
func (ctx *Context) codegenYield(node *ast.Node) ir.Value {
	b := ctx.blk
	if b.kind != functionBlock {
		ctx.errorf(util.LoweringError, node.Tok, "'yield' outside function")
	}
	var v ir.Value = ir.None
	if d := node.Data.(ast.YieldNode); d.Value != nil {
		v = ctx.codegenExpr(d.Value)
	}
	if b.inFinallyBody() {
		util.Warn(ctx.cfg, config.WarnFinallyGenerator, node.Tok, "'yield' inside 'try' with 'finally'; the finally block is skipped if the generator is not resumed")
	}
	resume := b.newCheckpoint()
	ctx.pushCheckpoint(resume)
	ctx.addInstr(&ir.Instr{Op: ir.OpYield, Args: []ir.Value{v}})
	ctx.release(v)
	ctx.startBlock(resume)
	res := ctx.newTemp(ir.TypeObject)
	ctx.move(res, ir.RegSent)
	return res
}

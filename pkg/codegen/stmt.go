package codegen

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

func (ctx *Context) codegenStmts(stmts []*ast.Node) (terminates bool) {
	for _, stmt := range stmts {
		if terminates {
			util.Warn(ctx.cfg, config.WarnUnreachableCode, stmt.Tok, "Unreachable code")
			continue
		}
		terminates = ctx.codegenStmt(stmt)
	}
	return terminates
}

func (ctx *Context) codegenStmt(node *ast.Node) (terminates bool) {
	if ctx.cfg.IsFeatureEnabled(config.FeatLineNumbers) {
		ctx.addInstr(&ir.Instr{Op: ir.OpLine, Line: node.Tok.Line})
	}
	switch node.Type {
	case ast.ExprStmt:
		v := ctx.codegenExpr(node.Data.(ast.ExprStmtNode).Value)
		ctx.release(v)
		return false

	case ast.Assign:
		d := node.Data.(ast.AssignNode)
		v := ctx.codegenExpr(d.Value)
		for _, target := range d.Targets {
			ctx.codegenStore(target, v)
		}
		ctx.release(v)
		return false

	case ast.AugAssign:
		ctx.codegenAugAssign(node)
		return false

	case ast.Delete:
		for _, target := range node.Data.(ast.DeleteNode).Targets {
			ctx.codegenDelete(target)
		}
		return false

	case ast.Print:
		d := node.Data.(ast.PrintNode)
		var args, dest ir.Value = ir.Nil{}, ir.Nil{}
		if d.Dest != nil {
			dest = ctx.codegenExpr(d.Dest)
		}
		if len(d.Values) > 0 {
			args = ctx.codegenArgs(d.Values)
		}
		ctx.call("Print", args, ir.Bool(d.NL), dest)
		if _, ok := args.(ir.Nil); !ok {
			ctx.freeArgs(args)
		}
		ctx.release(dest)
		return false

	case ast.Return:
		if ctx.blk.kind != functionBlock {
			ctx.errorf(util.LoweringError, node.Tok, "'return' outside function")
		}
		var v ir.Value = ir.None
		if d := node.Data.(ast.ReturnNode); d.Value != nil {
			v = ctx.codegenExpr(d.Value)
		}
		ctx.move(ir.RegReturn, v)
		ctx.release(v)
		ctx.unwind()
		return true

	case ast.Raise:
		d := node.Data.(ast.RaiseNode)
		operand := func(n *ast.Node) ir.Value {
			if n == nil { return ir.Nil{} }
			return ctx.codegenExpr(n)
		}
		typ := operand(d.Type)
		inst := operand(d.Inst)
		tb := operand(d.Tback)
		ctx.call("Raise", typ, inst, tb)
		ctx.release(typ, inst, tb)
		ctx.unwind()
		return true

	case ast.Assert:
		d := node.Data.(ast.AssertNode)
		ok := ctx.newLabel()
		test := ctx.codegenExpr(d.Test)
		cond := ctx.isTrue(test)
		ctx.release(test)
		ctx.branch(ir.OpJnz, cond, ok)
		ctx.release(cond)
		var msg ir.Value = ir.Nil{}
		if d.Msg != nil {
			msg = ctx.codegenExpr(d.Msg)
		}
		ctx.call("Raise", ir.AssertionError, msg, ir.Nil{})
		ctx.release(msg)
		ctx.unwind()
		ctx.startBlock(ok)
		return false

	case ast.If:
		return ctx.codegenIf(node)
	case ast.While:
		return ctx.codegenWhile(node)
	case ast.For:
		return ctx.codegenFor(node)
	case ast.Break:
		return ctx.codegenLoopExit(node, true)
	case ast.Continue:
		return ctx.codegenLoopExit(node, false)
	case ast.Try:
		return ctx.codegenTry(node)
	case ast.With:
		return ctx.codegenWith(node)

	case ast.FunctionDef:
		d := node.Data.(ast.FunctionDefNode)
		fn := ctx.codegenFunction(node)
		ctx.bindVar(node.Tok, d.Name, fn)
		ctx.release(fn)
		ctx.applyDecorators(node.Tok, d.Name, d.Decorators)
		return false

	case ast.ClassDef:
		ctx.codegenClass(node)
		return false

	case ast.Import, ast.ImportFrom:
		ctx.codegenImport(node)
		return false

	case ast.Global:
		if ctx.blk.kind == moduleBlock {
			util.Warn(ctx.cfg, config.WarnExtra, node.Tok, "'global' at module level has no effect")
		}
		return false

	case ast.Exec:
		ctx.errorf(util.LoweringError, node.Tok, "exec is not implemented")

	case ast.Pass:
		return false

	case ast.Module:
		ctx.errorf(util.LoweringError, node.Tok, "nested module")
	}
	ctx.errorf(util.LoweringError, node.Tok, "%s is not implemented as a statement", node.Type)
	return false
}

// codegenStore assigns value to an assignment target.
func (ctx *Context) codegenStore(target *ast.Node, value ir.Value) {
	switch d := target.Data.(type) {
	case ast.NameNode:
		ctx.bindVar(target.Tok, d.Id, value)
	case ast.AttributeNode:
		obj := ctx.codegenExpr(d.Value)
		ctx.call("SetAttr", obj, ctx.intern(d.Attr), value)
		ctx.release(obj)
	case ast.SubscriptNode:
		obj := ctx.codegenExpr(d.Value)
		key := ctx.codegenSlice(d.Slice)
		ctx.call("SetItem", obj, key, value)
		ctx.release(obj, key)
	case ast.TupleNode:
		ctx.codegenUnpack(d.Elts, value)
	case ast.ListNode:
		ctx.codegenUnpack(d.Elts, value)
	default:
		ctx.errorf(util.LoweringError, target.Tok, "can't assign to %s", target.Type)
	}
}

func (ctx *Context) codegenUnpack(targets []*ast.Node, value ir.Value) {
	elems := ctx.call("Unpack", value, ir.Int(len(targets)))
	for i, t := range targets {
		ctx.codegenStore(t, &ir.Elem{Of: elems, Index: i})
	}
	ctx.release(elems)
}

// codegenAugAssign evaluates the target once and stores the in-place result
// back into it.
func (ctx *Context) codegenAugAssign(node *ast.Node) {
	d := node.Data.(ast.AugAssignNode)
	op := "I" + ctx.binaryOp(node.Tok, d.Op)
	switch t := d.Target.Data.(type) {
	case ast.NameNode:
		cur := ctx.resolveName(d.Target.Tok, t.Id)
		v := ctx.codegenExpr(d.Value)
		res := ctx.call(op, cur, v)
		ctx.release(cur, v)
		ctx.bindVar(d.Target.Tok, t.Id, res)
		ctx.release(res)
	case ast.AttributeNode:
		obj := ctx.codegenExpr(t.Value)
		attr := ctx.intern(t.Attr)
		cur := ctx.call("GetAttr", obj, attr)
		v := ctx.codegenExpr(d.Value)
		res := ctx.call(op, cur, v)
		ctx.release(cur, v)
		ctx.call("SetAttr", obj, attr, res)
		ctx.release(obj, res)
	case ast.SubscriptNode:
		obj := ctx.codegenExpr(t.Value)
		key := ctx.codegenSlice(t.Slice)
		cur := ctx.call("GetItem", obj, key)
		v := ctx.codegenExpr(d.Value)
		res := ctx.call(op, cur, v)
		ctx.release(cur, v)
		ctx.call("SetItem", obj, key, res)
		ctx.release(obj, key, res)
	default:
		ctx.errorf(util.LoweringError, d.Target.Tok, "illegal expression for augmented assignment")
	}
}

func (ctx *Context) codegenDelete(target *ast.Node) {
	switch d := target.Data.(type) {
	case ast.NameNode:
		ctx.delVar(target.Tok, d.Id)
	case ast.AttributeNode:
		obj := ctx.codegenExpr(d.Value)
		ctx.call("DelAttr", obj, ctx.intern(d.Attr))
		ctx.release(obj)
	case ast.SubscriptNode:
		obj := ctx.codegenExpr(d.Value)
		key := ctx.codegenSlice(d.Slice)
		ctx.call("DelItem", obj, key)
		ctx.release(obj, key)
	case ast.TupleNode:
		for _, elt := range d.Elts {
			ctx.codegenDelete(elt)
		}
	case ast.ListNode:
		for _, elt := range d.Elts {
			ctx.codegenDelete(elt)
		}
	default:
		ctx.errorf(util.LoweringError, target.Tok, "can't delete %s", target.Type)
	}
}

// applyDecorators rebinds name to each decorator applied to it, innermost
// first, after the decorated object has been bound.
func (ctx *Context) applyDecorators(tok token.Token, name string, decorators []*ast.Node) {
	for i := len(decorators) - 1; i >= 0; i-- {
		dec := decorators[i]
		call := ast.NewCall(dec.Tok, dec, []*ast.Node{ast.NewName(tok, name)}, nil, nil, nil)
		ctx.codegenStmt(ast.NewAssign(dec.Tok, []*ast.Node{ast.NewName(tok, name)}, call))
	}
}

package codegen

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/util"
)

type ifClause struct {
	test *ast.Node
	body []*ast.Node
}

// codegenIf tests every clause of an if/elif chain in order, then lays out
// the bodies, each jumping to a shared end label.
func (ctx *Context) codegenIf(node *ast.Node) bool {
	var clauses []ifClause
	var orElse []*ast.Node
	for n := node; ; {
		d := n.Data.(ast.IfNode)
		clauses = append(clauses, ifClause{d.Test, d.Body})
		if len(d.OrElse) == 1 && d.OrElse[0].Type == ast.If {
			n = d.OrElse[0]
			continue
		}
		orElse = d.OrElse
		break
	}

	end := ctx.newLabel()
	bodies := make([]*ir.Label, len(clauses))
	for i, c := range clauses {
		bodies[i] = ctx.newLabel()
		test := ctx.codegenExpr(c.test)
		cond := ctx.isTrue(test)
		ctx.release(test)
		ctx.branch(ir.OpJnz, cond, bodies[i])
		ctx.release(cond)
	}
	elseLabel := end
	if len(orElse) > 0 {
		elseLabel = ctx.newLabel()
	}
	ctx.jump(elseLabel)

	allTerminate := len(orElse) > 0
	for i, c := range clauses {
		ctx.startBlock(bodies[i])
		if !ctx.codegenStmts(c.body) {
			allTerminate = false
		}
		if !ctx.blk.terminated() {
			ctx.jump(end)
		}
	}
	if len(orElse) > 0 {
		ctx.startBlock(elseLabel)
		if !ctx.codegenStmts(orElse) {
			allTerminate = false
		}
	}
	ctx.startBlock(end)
	return allTerminate
}

func (ctx *Context) codegenWhile(node *ast.Node) bool {
	d := node.Data.(ast.WhileNode)
	b := ctx.blk
	start, end := ctx.newLabel(), ctx.newLabel()
	elseLabel := end
	if len(d.OrElse) > 0 {
		elseLabel = ctx.newLabel()
	}

	ctx.startBlock(start)
	test := ctx.codegenExpr(d.Test)
	cond := ctx.isTrue(test)
	ctx.release(test)
	ctx.branch(ir.OpJz, cond, elseLabel)
	ctx.release(cond)

	l := b.pushLoop(start, end)
	ctx.codegenStmts(d.Body)
	b.popLoop()
	if !b.terminated() {
		ctx.jump(start)
	}
	if len(d.OrElse) > 0 {
		ctx.startBlock(elseLabel)
		ctx.codegenStmts(d.OrElse)
	}
	ctx.startBlock(end)
	ctx.emitTrampolines(l)
	return false
}

// codegenFor drives the iterator protocol. Next runs in capture mode so
// exhaustion can be told apart from a real exception, which keeps unwinding.
func (ctx *Context) codegenFor(node *ast.Node) bool {
	d := node.Data.(ast.ForNode)
	b := ctx.blk
	seq := ctx.codegenExpr(d.Iter)
	it := ctx.call("Iter", seq)
	ctx.release(seq)

	start, body, done, end := ctx.newLabel(), ctx.newLabel(), ctx.newLabel(), ctx.newLabel()
	elseLabel := end
	if len(d.OrElse) > 0 {
		elseLabel = ctx.newLabel()
	}

	ctx.startBlock(start)
	item := ctx.newTemp(ir.TypeObject)
	ctx.capture(item, "Next", it)
	ctx.branch(ir.OpJnil, ir.RegExc, body)
	exc, tb := ctx.newTemp(ir.TypeException), ctx.newTemp(ir.TypeTraceback)
	ctx.excInfo(exc, tb)
	excObj := ctx.call("ExcObject", exc)
	ctx.release(exc, tb)
	stop := ctx.call("IsInstance", excObj, ir.StopIteration)
	ctx.release(excObj)
	ctx.branch(ir.OpJnz, stop, done)
	ctx.release(stop)
	ctx.unwind()

	ctx.startBlock(done)
	ctx.move(ir.RegExc, ir.Nil{})
	ctx.call("RestoreExc", ir.Nil{}, ir.Nil{})
	ctx.jump(elseLabel)

	ctx.startBlock(body)
	ctx.codegenStore(d.Target, item)
	ctx.release(item)
	l := b.pushLoop(start, end)
	ctx.codegenStmts(d.Body)
	b.popLoop()
	if !b.terminated() {
		ctx.jump(start)
	}
	if len(d.OrElse) > 0 {
		ctx.startBlock(elseLabel)
		ctx.codegenStmts(d.OrElse)
	}
	ctx.startBlock(end)
	ctx.emitTrampolines(l)
	ctx.release(it)
	return false
}

// codegenLoopExit lowers break and continue. Leaving protected regions pops
// the checkpoints they hold; when finally blocks are crossed the target
// becomes a checkpoint under them and the finally blocks run innermost first
// on the way.
func (ctx *Context) codegenLoopExit(node *ast.Node, isBreak bool) bool {
	b := ctx.blk
	l := b.innerLoop()
	if l == nil {
		if isBreak {
			ctx.errorf(util.LoweringError, node.Tok, "'break' outside loop")
		}
		ctx.errorf(util.LoweringError, node.Tok, "'continue' not properly in loop")
	}
	target := l.start
	if isBreak {
		target = l.end
	}

	crossed := b.regions[l.regions:]
	held := 0
	var finals []*region
	for _, r := range crossed {
		held += r.held
		if r.kind != finallyRegion { continue }
		if r.inBody {
			finals = append(finals, r)
		} else if !isBreak {
			ctx.errorf(util.LoweringError, node.Tok, "'continue' not supported inside 'finally' clause")
		}
	}
	for i := 0; i < held; i++ {
		ctx.popCheckpoint()
	}
	if len(finals) == 0 {
		ctx.jump(target)
		return true
	}

	var cp *ir.Label
	if isBreak {
		if l.breakCP == nil {
			l.breakCP = b.newCheckpoint()
		}
		cp = l.breakCP
	} else {
		if l.continueCP == nil {
			l.continueCP = b.newCheckpoint()
		}
		cp = l.continueCP
	}
	ctx.pushCheckpoint(cp)
	for _, r := range finals {
		ctx.pushCheckpoint(r.final)
	}
	ctx.unwind()
	return true
}

// emitTrampolines lays out the checkpoint targets break and continue resume
// at after running finally blocks.
func (ctx *Context) emitTrampolines(l *loop) {
	if l.breakCP == nil && l.continueCP == nil { return }
	skip := ctx.newLabel()
	ctx.jump(skip)
	if l.continueCP != nil {
		ctx.startBlock(l.continueCP)
		ctx.guardPending()
		ctx.jump(l.start)
	}
	if l.breakCP != nil {
		ctx.startBlock(l.breakCP)
		ctx.guardPending()
		ctx.jump(l.end)
	}
	ctx.startBlock(skip)
}

func (ctx *Context) codegenTry(node *ast.Node) bool {
	d := node.Data.(ast.TryNode)
	if len(d.FinalBody) == 0 {
		return ctx.codegenExcept(d)
	}
	fs := ctx.beginFinally()
	if len(d.Handlers) > 0 {
		ctx.codegenExcept(d)
	} else {
		ctx.codegenStmts(d.Body)
	}
	ctx.enterFinalizer(fs)
	ctx.codegenStmts(d.FinalBody)
	ctx.leaveFinalizer(fs)
	return false
}

// codegenExcept lowers try/except/else. The handler checkpoint is reached
// only by unwinding: with no exception in flight a return or break is
// passing through and keeps unwinding.
func (ctx *Context) codegenExcept(d ast.TryNode) bool {
	b := ctx.blk
	handler := b.newCheckpoint()
	end := ctx.newLabel()

	ctx.pushCheckpoint(handler)
	b.pushRegion(&region{kind: exceptRegion, held: 1})
	ctx.codegenStmts(d.Body)
	b.popRegion()
	if !b.terminated() {
		ctx.popCheckpoint()
		ctx.codegenStmts(d.OrElse)
		if !b.terminated() {
			ctx.jump(end)
		}
	}

	ctx.startBlock(handler)
	dispatch := ctx.newLabel()
	ctx.branch(ir.OpJnotnil, ir.RegExc, dispatch)
	ctx.unwind()

	ctx.startBlock(dispatch)
	ctx.move(ir.RegExc, ir.Nil{})
	exc, tb := ctx.newTemp(ir.TypeException), ctx.newTemp(ir.TypeTraceback)
	ctx.excInfo(exc, tb)
	excObj := ctx.call("ExcObject", exc)
	for i, h := range d.Handlers {
		if h.Type == nil && i != len(d.Handlers)-1 {
			ctx.errorf(util.LoweringError, h.Tok, "default 'except:' must be last")
		}
		next := ctx.newLabel()
		if h.Type != nil {
			typ := ctx.codegenExpr(h.Type)
			match := ctx.call("IsInstance", excObj, typ)
			ctx.release(typ)
			ctx.branch(ir.OpJz, match, next)
			ctx.release(match)
		}
		if h.Name != nil {
			ctx.codegenStore(h.Name, excObj)
		}
		ctx.codegenStmts(h.Body)
		if !b.terminated() {
			ctx.call("RestoreExc", ir.Nil{}, ir.Nil{})
			ctx.jump(end)
		}
		ctx.startBlock(next)
	}
	ctx.call("RestoreExc", exc, tb)
	ctx.move(ir.RegExc, exc)
	ctx.unwind()
	ctx.release(exc, tb, excObj)

	ctx.startBlock(end)
	return false
}

type finallyState struct {
	r    *region
	exit *ir.Label
	exc  *ir.Temporary
	tb   *ir.Temporary
	ret  *ir.Temporary
}

// beginFinally opens a region protected by a finalizer: the exit checkpoint
// goes under the finalizer checkpoint.
func (ctx *Context) beginFinally() *finallyState {
	b := ctx.blk
	fs := &finallyState{exit: b.newCheckpoint()}
	fs.r = &region{kind: finallyRegion, held: 2, final: b.newCheckpoint(), inBody: true}
	ctx.pushCheckpoint(fs.exit)
	ctx.pushCheckpoint(fs.r.final)
	b.pushRegion(fs.r)
	return fs
}

// enterFinalizer closes the protected body and starts the finalizer. Normal
// completion of the body unwinds into it like every other exit. The
// in-flight exception and any pending return are saved and cleared.
func (ctx *Context) enterFinalizer(fs *finallyState) {
	if !ctx.blk.terminated() {
		ctx.unwind()
	}
	fs.r.held, fs.r.inBody = 1, false
	ctx.startBlock(fs.r.final)
	fs.exc = ctx.newTemp(ir.TypeException)
	fs.tb = ctx.newTemp(ir.TypeTraceback)
	fs.ret = ctx.newTemp(ir.TypeObject)
	ctx.move(fs.exc, ir.RegExc)
	ctx.move(ir.RegExc, ir.Nil{})
	ctx.move(fs.ret, ir.RegReturn)
	ctx.move(ir.RegReturn, ir.Nil{})
	body := ctx.newLabel()
	ctx.branch(ir.OpJnil, fs.exc, body)
	ctx.excInfo(fs.exc, fs.tb)
	ctx.call("RestoreExc", ir.Nil{}, ir.Nil{})
	ctx.startBlock(body)
}

// leaveFinalizer re-raises the saved exception, or restores the saved
// return, and unwinds. A finalizer that returns or raises never gets here,
// so its own outcome wins.
func (ctx *Context) leaveFinalizer(fs *finallyState) {
	b := ctx.blk
	if !b.terminated() {
		restore := ctx.newLabel()
		ctx.branch(ir.OpJnil, fs.exc, restore)
		ctx.call("RestoreExc", fs.exc, fs.tb)
		ctx.move(ir.RegExc, fs.exc)
		ctx.unwind()
		ctx.startBlock(restore)
		ctx.move(ir.RegReturn, fs.ret)
		ctx.unwind()
	}
	ctx.release(fs.exc, fs.tb, fs.ret)
	b.popRegion()
	ctx.startBlock(fs.exit)
	ctx.guardPending()
}

func (ctx *Context) codegenWith(node *ast.Node) bool {
	d := node.Data.(ast.WithNode)
	if len(d.Items) > 1 {
		if !ctx.cfg.IsFeatureEnabled(config.FeatMultiWith) {
			ctx.errorf(util.LoweringError, node.Tok, "with statement with multiple items is not implemented")
		}
		inner := ast.NewWith(node.Tok, d.Items[1:], d.Body)
		return ctx.codegenWithItem(d.Items[0], []*ast.Node{inner})
	}
	return ctx.codegenWithItem(d.Items[0], d.Body)
}

// codegenWithItem runs body under one context manager. __enter__ and
// __exit__ come from the manager's type.
func (ctx *Context) codegenWithItem(item *ast.WithItem, body []*ast.Node) bool {
	v := ctx.codegenExpr(item.ContextExpr)
	mgr := ctx.newTemp(ir.TypeObject)
	ctx.move(mgr, v)
	ctx.release(v)
	typ := ctx.call("Type", mgr)
	exit := ctx.call("GetAttr", typ, ctx.intern("__exit__"))
	enter := ctx.call("GetAttr", typ, ctx.intern("__enter__"))
	ctx.release(typ)
	args := ctx.newArgs([]ir.Value{mgr})
	val := ctx.call("Call", enter, args, ir.Nil{})
	ctx.freeArgs(args)
	ctx.release(enter)

	fs := ctx.beginFinally()
	if item.OptionalVars != nil {
		ctx.codegenStore(item.OptionalVars, val)
	}
	ctx.release(val)
	ctx.codegenStmts(body)

	ctx.enterFinalizer(fs)
	exitArgs := ctx.call("MakeArgs", ir.Int(4))
	ctx.move(&ir.Elem{Of: exitArgs, Index: 0}, mgr)
	noExc, done := ctx.newLabel(), ctx.newLabel()
	ctx.branch(ir.OpJnil, fs.exc, noExc)
	excObj := ctx.call("ExcObject", fs.exc)
	tbObj := ctx.call("TracebackObject", fs.tb)
	excType := ctx.call("Type", excObj)
	for i, x := range []ir.Value{excType, excObj, tbObj} {
		ctx.move(&ir.Elem{Of: exitArgs, Index: i + 1}, x)
	}
	ctx.release(excType, excObj, tbObj)
	res := ctx.call("Call", exit, exitArgs, ir.Nil{})
	suppress := ctx.isTrue(res)
	ctx.release(res)
	ctx.branch(ir.OpJz, suppress, done)
	ctx.release(suppress)
	ctx.move(fs.exc, ir.Nil{})
	ctx.jump(done)

	ctx.startBlock(noExc)
	for i := 1; i < 4; i++ {
		ctx.move(&ir.Elem{Of: exitArgs, Index: i}, ir.None)
	}
	res = ctx.call("Call", exit, exitArgs, ir.Nil{})
	ctx.release(res)

	ctx.startBlock(done)
	ctx.freeArgs(exitArgs)
	ctx.release(exit, mgr)
	ctx.leaveFinalizer(fs)
	return false
}

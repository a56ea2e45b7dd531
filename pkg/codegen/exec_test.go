package codegen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/scope"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

func str(s string) *ast.Node { return ast.NewStr(at(1), s, false) }

func list(elts ...*ast.Node) *ast.Node { return ast.NewList(at(1), elts) }

func raise(exc string) *ast.Node { return ast.NewRaise(at(1), name(exc), nil, nil) }

func ret(v *ast.Node) *ast.Node { return ast.NewReturn(at(1), v) }

func eq(l, r *ast.Node) *ast.Node {
	return ast.NewCompare(at(1), l, []token.Type{token.EqEq}, []*ast.Node{r})
}

func body(stmts ...*ast.Node) []*ast.Node { return stmts }

func handler(typ string, stmts ...*ast.Node) *ast.ExceptHandler {
	h := &ast.ExceptHandler{Tok: at(1), Body: stmts}
	if typ != "" {
		h.Type = name(typ)
	}
	return h
}

func tryExcept(try []*ast.Node, handlers ...*ast.ExceptHandler) *ast.Node {
	return ast.NewTry(at(1), try, handlers, nil, nil)
}

func tryFinally(try, final []*ast.Node) *ast.Node {
	return ast.NewTry(at(1), try, nil, nil, final)
}

func forIn(target string, iter *ast.Node, loopBody, orElse []*ast.Node) *ast.Node {
	return ast.NewFor(at(1), name(target), iter, loopBody, orElse)
}

func with(managers []string, as string, stmts ...*ast.Node) *ast.Node {
	var items []*ast.WithItem
	for _, m := range managers {
		items = append(items, &ast.WithItem{ContextExpr: name(m)})
	}
	if as != "" {
		items[0].OptionalVars = name(as)
	}
	return ast.NewWith(at(1), items, stmts)
}

func execConfig() *config.Config {
	cfg := newTestConfig()
	cfg.SetWarning(config.WarnFinallyGenerator, false)
	return cfg
}

func TestLoweredProgramsRun(t *testing.T) {
	tests := []struct {
		label   string
		body    []*ast.Node
		out     []string
		escaped string
	}{
		{
			label: "exhausted loop runs else",
			body: body(forIn("x", list(num(1), num(2)), body(printStmt(name("x"))), body(printStmt(str("done"))))),
			out:  []string{"1", "2", "done"},
		},
		{
			label: "break skips else",
			body: body(forIn("x", list(num(1), num(2)),
				body(printStmt(name("x")), ast.NewBreak(at(1))),
				body(printStmt(str("done"))))),
			out: []string{"1"},
		},
		{
			label: "StopIteration raised by the loop body is not exhaustion",
			body: body(tryExcept(
				body(forIn("x", list(num(1), num(2)),
					body(printStmt(name("x")), raise("StopIteration")),
					body(printStmt(str("else"))))),
				handler("StopIteration", printStmt(str("caught"))))),
			out: []string{"1", "caught"},
		},
		{
			label: "StopIteration from the loop body escapes",
			body:    body(forIn("x", list(num(1)), body(raise("StopIteration")), nil), printStmt(str("after"))),
			escaped: "StopIteration",
		},
		{
			label: "finally runs after normal completion",
			body:  body(tryFinally(body(printStmt(num(1))), body(printStmt(num(2)))), printStmt(num(3))),
			out:   []string{"1", "2", "3"},
		},
		{
			label:   "finally runs and the exception keeps propagating",
			body:    body(tryFinally(body(raise("ValueError")), body(printStmt(str("f")))), printStmt(str("after"))),
			out:     []string{"f"},
			escaped: "ValueError",
		},
		{
			label: "finally runs on return",
			body: body(
				def("f", nil, nil, tryFinally(body(ret(num(1))), body(printStmt(str("f"))))),
				printStmt(call("f"))),
			out: []string{"f", "1"},
		},
		{
			label: "return in finally overrides the pending return",
			body: body(
				def("f", nil, nil, tryFinally(body(ret(num(1))), body(ret(num(2))))),
				printStmt(call("f"))),
			out: []string{"2"},
		},
		{
			label: "return in finally discards the exception",
			body: body(
				def("f", nil, nil, tryFinally(body(raise("ValueError")), body(ret(num(3))))),
				printStmt(call("f"))),
			out: []string{"3"},
		},
		{
			label: "raise in finally overrides the pending return",
			body: body(
				def("f", nil, nil, tryFinally(body(ret(num(1))), body(raise("KeyError")))),
				tryExcept(body(printStmt(call("f"))), handler("KeyError", printStmt(str("key"))))),
			out: []string{"key"},
		},
		{
			label:   "raise in finally replaces the exception",
			body:    body(tryFinally(body(raise("ValueError")), body(raise("KeyError")))),
			escaped: "KeyError",
		},
		{
			label:   "unmatched handler re-raises",
			body:    body(tryExcept(body(raise("ValueError")), handler("KeyError", printStmt(str("key")))), printStmt(str("after"))),
			escaped: "ValueError",
		},
		{
			label: "re-raised exception reaches the outer handler",
			body: body(tryExcept(
				body(tryExcept(body(raise("ValueError")), handler("KeyError", printStmt(str("inner"))))),
				handler("ValueError", printStmt(str("outer"))))),
			out: []string{"outer"},
		},
		{
			label: "first matching handler wins",
			body: body(tryExcept(body(raise("ValueError")),
				handler("KeyError", printStmt(str("key"))),
				handler("Exception", printStmt(str("exception"))),
				handler("", printStmt(str("bare"))))),
			out: []string{"exception"},
		},
		{
			label: "handled exception is cleared",
			body: body(
				tryExcept(body(raise("ValueError")), handler("ValueError", ast.NewPass(at(1)))),
				printStmt(str("after"))),
			out: []string{"after"},
		},
		{
			label: "break and continue run finally once each",
			body: body(
				forIn("x", list(num(1), num(2), num(3)), body(
					tryFinally(body(
						ast.NewIf(at(1), eq(name("x"), num(2)), body(ast.NewContinue(at(1))), nil),
						ast.NewIf(at(1), eq(name("x"), num(3)), body(ast.NewBreak(at(1))), nil),
						printStmt(name("x")),
					), body(printStmt(str("f")))),
				), body(printStmt(str("else")))),
				printStmt(str("end"))),
			out: []string{"1", "f", "f", "f", "end"},
		},
		{
			label: "return inside a loop runs the finally",
			body: body(
				def("f", nil, nil, forIn("x", list(num(1), num(2)), body(
					tryFinally(body(ret(name("x"))), body(printStmt(str("f")))),
				), nil)),
				printStmt(call("f"))),
			out: []string{"f", "1"},
		},
		{
			label: "true __exit__ suppresses the exception",
			body:  body(with([]string{"quiet"}, "v", printStmt(name("v")), raise("ValueError")), printStmt(str("after"))),
			out:   []string{"enter quiet", "quiet", "exit quiet ValueError", "after"},
		},
		{
			label:   "false __exit__ lets the exception through",
			body:    body(with([]string{"loud"}, "", raise("ValueError")), printStmt(str("after"))),
			out:     []string{"enter loud", "exit loud ValueError"},
			escaped: "ValueError",
		},
		{
			label: "return passes through with",
			body: body(
				def("f", nil, nil, with([]string{"loud"}, "", ret(num(1)))),
				printStmt(call("f"))),
			out: []string{"enter loud", "exit loud None", "1"},
		},
		{
			label: "multiple items exit innermost first",
			body:  body(with([]string{"loud", "quiet"}, "", raise("ValueError")), printStmt(str("after"))),
			out:   []string{"enter loud", "enter quiet", "exit quiet ValueError", "exit loud None", "after"},
		},
		{
			label: "generator runs its finally when exhausted",
			body: body(
				def("g", nil, nil, tryFinally(
					body(expr(ast.NewYield(at(1), num(1))), expr(ast.NewYield(at(1), num(2)))),
					body(printStmt(str("f"))))),
				forIn("x", call("g"), body(printStmt(name("x"))), nil)),
			out: []string{"1", "2", "f"},
		},
		{
			label: "generator lambda yields once",
			body: body(
				assign("f", ast.NewLambda(at(1), nil, ast.NewYield(at(1), nil))),
				forIn("x", call("f"), body(printStmt(name("x"))), nil)),
			out: []string{"None"},
		},
		{
			label: "closure reads the enclosing local",
			body: body(
				def("outer", nil, nil,
					assign("n", num(41)),
					def("inner", nil, nil, ret(binop(token.Plus, name("n"), num(1)))),
					ret(call("inner"))),
				printStmt(call("outer"))),
			out: []string{"42"},
		},
		{
			label:   "reading a deleted local fails at runtime",
			body:    body(def("f", nil, nil, assign("x", num(1)), ast.NewDelete(at(1), []*ast.Node{name("x")}), ret(name("x"))), printStmt(call("f"))),
			escaped: "UnboundLocalError",
		},
		{
			label:   "module del of an unbound name fails at runtime",
			body:    body(printStmt(str("before")), ast.NewDelete(at(1), []*ast.Node{name("y")})),
			out:     []string{"before"},
			escaped: "NameError",
		},
		{
			label: "module del of a bound name",
			body: body(assign("y", num(1)), ast.NewDelete(at(1), []*ast.Node{name("y")}),
				tryExcept(body(printStmt(name("y"))), handler("NameError", printStmt(str("gone"))))),
			out: []string{"gone"},
		},
		{
			label:   "class body del of an unbound name fails at runtime",
			body:    body(ast.NewClassDef(at(1), "C", []*ast.Node{name("object")}, body(ast.NewDelete(at(1), []*ast.Node{name("y")})), nil)),
			escaped: "NameError",
		},
		{
			label: "class body del of its own binding",
			body: body(
				ast.NewClassDef(at(1), "C", []*ast.Node{name("object")}, body(assign("x", num(1)), ast.NewDelete(at(1), []*ast.Node{name("x")})), nil),
				printStmt(name("C"))),
			out: []string{"C"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			prog, err := compile(t, execConfig(), tt.body...)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			out, escaped := runProgram(t, prog)
			if diff := cmp.Diff(tt.out, out); diff != "" {
				t.Errorf("output (-want +got):\n%s", diff)
			}
			if escaped != tt.escaped {
				t.Errorf("escaped exception = %q, want %q", escaped, tt.escaped)
			}
		})
	}
}

func TestDeleteInNamespaces(t *testing.T) {
	del := ast.NewDelete(at(2), []*ast.Node{name("y")})
	tests := []struct {
		label string
		body  []*ast.Node
		fn    string
		want  string
	}{
		{"module", body(del), "<module>", "call DelGlobal 'y'"},
		{"class", body(ast.NewClassDef(at(1), "C", nil, body(del), nil)), "C", "call DelClass %class, 'y'"},
		{"global in function", body(def("f", nil, nil, ast.NewGlobal(at(1), []string{"y"}), del)), "f", "call DelGlobal 'y'"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			prog := mustCompile(t, tt.body...)
			if got := dumpFunc(findFunc(t, prog, tt.fn)); !strings.Contains(got, tt.want) {
				t.Errorf("%s lacks %q:\n%s", tt.fn, tt.want, got)
			}
		})
	}

	_, err := compile(t, nil, def("f", nil, nil, del))
	if !util.IsKind(err, util.ClassificationError) {
		t.Errorf("deleting an unbound function local: err = %v, want a classification error", err)
	}
}

func TestGeneratorLambda(t *testing.T) {
	prog := mustCompile(t, assign("f", ast.NewLambda(at(1), nil, ast.NewYield(at(1), num(1)))))
	fn := findFunc(t, prog, "<lambda>")
	if !fn.IsGenerator {
		t.Fatal("lambda containing yield should be a generator")
	}
	if got := dumpFunc(fn); strings.Contains(got, "%ret = move %t") {
		t.Errorf("generator lambda stores its body value as a return:\n%s", got)
	}

	prog = mustCompile(t, assign("f", ast.NewLambda(at(1), nil, num(1))))
	if got := dumpFunc(findFunc(t, prog, "<lambda>")); !strings.Contains(got, "%ret = move int(1)") {
		t.Errorf("lambda does not return its body:\n%s", got)
	}
}

func TestWithProtocol(t *testing.T) {
	prog := mustCompile(t, with([]string{"m"}, "v", ast.NewPass(at(2))))
	var instrs []*ir.Instr
	for _, b := range prog.Main.Blocks {
		instrs = append(instrs, b.Instrs...)
	}

	var typ ir.Value
	lookups := make(map[string]bool)
	var suppress ir.Value
	suppressTested, boundAs := false, false
	for _, in := range instrs {
		switch {
		case in.Op == ir.OpCall && in.Callee == "Type" && typ == nil:
			typ = in.Result
		case in.Op == ir.OpCall && in.Callee == "GetAttr":
			if attr, ok := in.Args[1].(*ir.Interned); ok && in.Args[0] == typ {
				lookups[attr.Name] = true
			}
		case in.Op == ir.OpCall && in.Callee == "IsTrue":
			suppress = in.Result
		case in.Op == ir.OpJz && suppress != nil && in.Args[0] == suppress:
			suppressTested = true
		case in.Op == ir.OpCall && in.Callee == "StoreGlobal":
			if v, ok := in.Args[0].(*ir.Interned); ok && v.Name == "v" {
				boundAs = true
			}
		}
	}
	if typ == nil {
		t.Fatal("manager type never fetched")
	}
	if diff := cmp.Diff(map[string]bool{"__enter__": true, "__exit__": true}, lookups); diff != "" {
		t.Errorf("protocol lookups on the type (-want +got):\n%s", diff)
	}
	if !suppressTested {
		t.Error("__exit__ result is not tested for suppression")
	}
	if !boundAs {
		t.Error("__enter__ result is not bound to the as target")
	}

	two := with([]string{"a", "b"}, "", ast.NewPass(at(2)))
	cfg := newTestConfig()
	cfg.SetFeature(config.FeatMultiWith, false)
	if _, err := compile(t, cfg, two); !util.IsKind(err, util.LoweringError) {
		t.Errorf("multiple items with multi-with off: err = %v, want a lowering error", err)
	}
	prog = mustCompile(t, two)
	if n := strings.Count(dumpFunc(prog.Main), "'__enter__'"); n != 2 {
		t.Errorf("%d __enter__ lookups for two items, want 2", n)
	}
}

func TestBindingUnclassifiedNameIsLoweringError(t *testing.T) {
	ctx := NewContext(newTestConfig(), nil)
	modScope, err := scope.ClassifyModule(nil)
	if err != nil {
		t.Fatal(err)
	}
	fnScope, err := scope.ClassifyFunction(def("f", nil, nil, ast.NewPass(at(1))))
	if err != nil {
		t.Fatal(err)
	}
	mod := ctx.newBlock(moduleBlock, nil, "<module>", modScope)
	ctx.blk = ctx.newBlock(functionBlock, mod, "f", fnScope)

	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				ce, ok := r.(*util.CompileError)
				if !ok {
					panic(r)
				}
				err = ce
			}
		}()
		ctx.bindVar(token.At(4, 2), "ghost", ir.None)
		return nil
	}()
	if !util.IsKind(err, util.LoweringError) {
		t.Fatalf("err = %v, want a lowering error", err)
	}
	if !strings.HasPrefix(err.Error(), "line 4:") || !strings.Contains(err.Error(), "'ghost'") {
		t.Errorf("unexpected message %q", err)
	}
}

package ast

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gpyc/pkg/token"
)

func decodeString(t *testing.T, src string) *Node {
	t.Helper()
	root, err := Decode(strings.NewReader(src), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return root
}

func body(t *testing.T, root *Node) []*Node {
	t.Helper()
	return root.Data.(ModuleNode).Body
}

func TestDecodePositions(t *testing.T) {
	root := decodeString(t, `{"_type": "Module", "body": [
		{"_type": "Expr", "lineno": 3, "col_offset": 4,
		 "value": {"_type": "Name", "id": "x", "ctx": {"_type": "Load"}}}]}`)
	stmt := body(t, root)[0]
	if stmt.Type != ExprStmt {
		t.Fatalf("statement type = %s, want Expr", stmt.Type)
	}
	if stmt.Tok.Line != 3 || stmt.Tok.Column != 5 {
		t.Errorf("position = %d:%d, want 3:5", stmt.Tok.Line, stmt.Tok.Column)
	}
	name := stmt.Data.(ExprStmtNode).Value
	if name.Line() != 3 {
		t.Errorf("child without lineno got line %d, want the enclosing 3", name.Line())
	}
	if name.Parent != stmt {
		t.Error("child is not linked to its parent")
	}
}

func TestDecodeNumbers(t *testing.T) {
	tests := []struct {
		n    string
		kind string
		want NumNode
	}{
		{`42`, "", NumNode{Kind: NumInt, Int: 42}},
		{`"0x10"`, "", NumNode{Kind: NumInt, Int: 16}},
		{`2.5`, "", NumNode{Kind: NumFloat, Float: 2.5}},
		{`"3j"`, "", NumNode{Kind: NumComplex, Float: 3}},
		{`7`, "long", NumNode{Kind: NumLong}},
		{`"99999999999999999999"`, "", NumNode{Kind: NumLong}},
	}
	for _, tt := range tests {
		src := `{"_type": "Module", "body": [{"_type": "Expr", "lineno": 1, "value": {"_type": "Num", "n": ` + tt.n
		if tt.kind != "" {
			src += `, "kind": "` + tt.kind + `"`
		}
		src += `}}]}`
		num := body(t, decodeString(t, src))[0].Data.(ExprStmtNode).Value.Data.(NumNode)
		if num.Kind != tt.want.Kind || num.Int != tt.want.Int || num.Float != tt.want.Float {
			t.Errorf("n=%s: got %+v, want %+v", tt.n, num, tt.want)
		}
		if num.Kind == NumLong && num.Big == nil {
			t.Errorf("n=%s: long literal has no value", tt.n)
		}
	}
}

func TestDecodeTryFinallyMerge(t *testing.T) {
	root := decodeString(t, `{"_type": "Module", "body": [
		{"_type": "TryFinally", "lineno": 1, "body": [
			{"_type": "TryExcept", "lineno": 1,
			 "body": [{"_type": "Pass", "lineno": 2}],
			 "handlers": [{"_type": "ExceptHandler", "lineno": 3, "type": null, "name": "e",
			               "body": [{"_type": "Pass", "lineno": 4}]}],
			 "orelse": []}],
		 "finalbody": [{"_type": "Pass", "lineno": 6}]}]}`)
	stmts := body(t, root)
	if len(stmts) != 1 || stmts[0].Type != Try {
		t.Fatalf("got %d statements, first %v", len(stmts), stmts[0].Type)
	}
	try := stmts[0].Data.(TryNode)
	if len(try.Handlers) != 1 || len(try.FinalBody) != 1 || len(try.Body) != 1 {
		t.Fatalf("try/except/finally not merged: %+v", try)
	}
	if h := try.Handlers[0]; h.Name == nil || h.Name.Data.(NameNode).Id != "e" {
		t.Errorf("handler name not decoded: %+v", h)
	}
}

func TestDecodeWithForms(t *testing.T) {
	py2 := decodeString(t, `{"_type": "Module", "body": [{"_type": "With", "lineno": 1,
		"context_expr": {"_type": "Name", "id": "m"}, "optional_vars": {"_type": "Name", "id": "v"},
		"body": [{"_type": "Pass", "lineno": 2}]}]}`)
	py3 := decodeString(t, `{"_type": "Module", "body": [{"_type": "With", "lineno": 1,
		"items": [{"context_expr": {"_type": "Name", "id": "a"}, "optional_vars": null},
		          {"context_expr": {"_type": "Name", "id": "b"}, "optional_vars": null}],
		"body": [{"_type": "Pass", "lineno": 2}]}]}`)
	if n := len(body(t, py2)[0].Data.(WithNode).Items); n != 1 {
		t.Errorf("py2 with: %d items, want 1", n)
	}
	items := body(t, py3)[0].Data.(WithNode).Items
	var names []string
	for _, it := range items {
		names = append(names, it.ContextExpr.Data.(NameNode).Id)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("with items (-want +got):\n%s", diff)
	}
}

func TestDecodeOperatorsAndArgs(t *testing.T) {
	root := decodeString(t, `{"_type": "Module", "body": [
		{"_type": "FunctionDef", "lineno": 1, "name": "f", "decorator_list": [],
		 "args": {"args": [{"_type": "Name", "id": "a"}, {"_type": "arg", "arg": "b"}],
		          "vararg": "rest", "kwarg": null, "defaults": [{"_type": "Num", "n": 1}]},
		 "body": [{"_type": "Return", "lineno": 2,
		           "value": {"_type": "BinOp", "op": {"_type": "Add"},
		                     "left": {"_type": "Name", "id": "a"}, "right": {"_type": "Name", "id": "b"}}}]}]}`)
	fn := body(t, root)[0].Data.(FunctionDefNode)
	var params []string
	for _, p := range fn.Args.Args {
		params = append(params, p.Data.(NameNode).Id)
	}
	if diff := cmp.Diff([]string{"a", "b"}, params); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
	if fn.Args.Vararg != "rest" || fn.Args.Kwarg != "" || len(fn.Args.Defaults) != 1 {
		t.Errorf("arguments = %+v", fn.Args)
	}
	bin := fn.Body[0].Data.(ReturnNode).Value.Data.(BinOpNode)
	if bin.Op != token.Plus {
		t.Errorf("op = %v, want Plus", bin.Op)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"not json":      `{`,
		"not a module":  `{"_type": "Pass"}`,
		"unknown node":  `{"_type": "Module", "body": [{"_type": "Match", "lineno": 5}]}`,
		"unknown op":    `{"_type": "Module", "body": [{"_type": "Expr", "value": {"_type": "BinOp", "op": "Spaceship"}}]}`,
		"bad dict":      `{"_type": "Module", "body": [{"_type": "Expr", "value": {"_type": "Dict", "keys": [{"_type": "Num", "n": 1}], "values": []}}]}`,
		"bad number":    `{"_type": "Module", "body": [{"_type": "Expr", "value": {"_type": "Num", "n": "zz"}}]}`,
		"list expected": `{"_type": "Module", "body": {"_type": "Pass"}}`,
	}
	for name, src := range tests {
		if _, err := Decode(strings.NewReader(src), 0); err == nil {
			t.Errorf("%s: Decode succeeded", name)
		}
	}
	_, err := Decode(strings.NewReader(`{"_type": "Module", "body": [{"_type": "Match", "lineno": 5}]}`), 0)
	if err == nil || !strings.Contains(err.Error(), "line 5") {
		t.Errorf("error %v does not carry the line", err)
	}
}

func TestWalkVisitsInSourceOrder(t *testing.T) {
	root := decodeString(t, `{"_type": "Module", "body": [
		{"_type": "Assign", "lineno": 1, "targets": [{"_type": "Name", "id": "x"}],
		 "value": {"_type": "Call", "func": {"_type": "Name", "id": "f"},
		           "args": [{"_type": "Name", "id": "y"}], "keywords": [], "starargs": null, "kwargs": null}}]}`)
	var ids []string
	Walk(root, func(n *Node) bool {
		if n.Type == Name {
			ids = append(ids, n.Data.(NameNode).Id)
		}
		return true
	})
	if diff := cmp.Diff([]string{"x", "f", "y"}, ids); diff != "" {
		t.Errorf("walk order (-want +got):\n%s", diff)
	}
}

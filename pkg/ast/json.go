package ast

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/xplshn/gpyc/pkg/token"
)

// Decode reads a module tree serialized as JSON. Objects carry their CPython
// ast class name in "_type" and use the ast module's field names; "lineno" and
// "col_offset" give positions. Both the Python 2 (TryExcept/TryFinally, Print,
// With with a single context_expr) and the Python 3 spellings (Try, With items)
// are accepted.
func Decode(r io.Reader, fileIndex int) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding ast: %w", err)
	}
	d := &decoder{fileIndex: fileIndex}
	root, err := d.node(raw)
	if err != nil {
		return nil, err
	}
	if root == nil || root.Type != Module {
		return nil, fmt.Errorf("decoding ast: top-level node is not a Module")
	}
	return root, nil
}

type decoder struct {
	fileIndex int
	lastLine  int
}

type decodeError struct {
	line int
	msg  string
}

func (e *decodeError) Error() string { return fmt.Sprintf("decoding ast: line %d: %s", e.line, e.msg) }

func (d *decoder) fail(format string, args ...interface{}) {
	panic(&decodeError{line: d.lastLine, msg: fmt.Sprintf(format, args...)})
}

func (d *decoder) node(m map[string]interface{}) (n *Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			de, ok := r.(*decodeError)
			if !ok { panic(r) }
			n, err = nil, de
		}
	}()
	return d.decode(m), nil
}

func (d *decoder) tok(m map[string]interface{}) token.Token {
	line, col := d.int(m["lineno"]), d.int(m["col_offset"])
	if line == 0 {
		line = d.lastLine
	} else {
		d.lastLine = line
	}
	return token.Token{FileIndex: d.fileIndex, Line: line, Column: col + 1}
}

func (d *decoder) int(v interface{}) int {
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil { d.fail("invalid integer %q", x) }
		return int(i)
	case float64:
		return int(x)
	case nil:
		return 0
	}
	d.fail("expected integer, got %T", v)
	return 0
}

func (d *decoder) str(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case map[string]interface{}:
		// Python 3 arg objects and py2 Name nodes used as handler names.
		if s, ok := x["arg"].(string); ok { return s }
		if s, ok := x["id"].(string); ok { return s }
	}
	d.fail("expected string, got %T", v)
	return ""
}

func (d *decoder) opt(v interface{}) *Node {
	if v == nil { return nil }
	m, ok := v.(map[string]interface{})
	if !ok { d.fail("expected node, got %T", v) }
	return d.decode(m)
}

func (d *decoder) list(v interface{}) []*Node {
	if v == nil { return nil }
	items, ok := v.([]interface{})
	if !ok { d.fail("expected list, got %T", v) }
	out := make([]*Node, 0, len(items))
	for _, item := range items {
		out = append(out, d.opt(item))
	}
	return out
}

func (d *decoder) op(v interface{}) token.Type {
	name := ""
	switch x := v.(type) {
	case string:
		name = x
	case map[string]interface{}:
		name, _ = x["_type"].(string)
	}
	op, ok := token.OpNames[name]
	if !ok { d.fail("unknown operator %q", name) }
	return op
}

func (d *decoder) args(v interface{}) *Arguments {
	m, _ := v.(map[string]interface{})
	if m == nil { return &Arguments{} }
	args := &Arguments{
		Vararg:   d.str(m["vararg"]),
		Kwarg:    d.str(m["kwarg"]),
		Defaults: d.list(m["defaults"]),
	}
	items, _ := m["args"].([]interface{})
	for _, item := range items {
		im, ok := item.(map[string]interface{})
		if !ok { d.fail("expected parameter node") }
		if im["_type"] == "arg" {
			args.Args = append(args.Args, NewName(d.tok(im), d.str(im["arg"])))
			continue
		}
		args.Args = append(args.Args, d.decode(im))
	}
	return args
}

func (d *decoder) num(tok token.Token, m map[string]interface{}) *Node {
	kind, _ := m["kind"].(string)
	var text string
	switch x := m["n"].(type) {
	case json.Number:
		text = x.String()
	case string:
		text = x
	default:
		d.fail("invalid number literal %v", m["n"])
	}
	text = strings.TrimSuffix(strings.TrimSuffix(text, "L"), "l")
	switch {
	case kind == "complex" || strings.HasSuffix(text, "j"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(text, "j"), 64)
		if err != nil { d.fail("invalid complex literal %q", text) }
		return NewComplex(tok, f)
	case strings.ContainsAny(text, ".eE") || text == "inf" || text == "nan":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil { d.fail("invalid float literal %q", text) }
		return NewFloat(tok, f)
	}
	b, ok := new(big.Int).SetString(text, 0)
	if !ok { d.fail("invalid integer literal %q", text) }
	if kind == "long" || !b.IsInt64() {
		return NewLong(tok, b)
	}
	return NewInt(tok, b.Int64())
}

func (d *decoder) decode(m map[string]interface{}) *Node {
	typ, _ := m["_type"].(string)
	tok := d.tok(m)
	switch typ {
	case "Module", "Interactive":
		return NewModule(d.list(m["body"]))
	case "FunctionDef":
		return NewFunctionDef(tok, d.str(m["name"]), d.args(m["args"]), d.list(m["body"]), d.list(m["decorator_list"]))
	case "ClassDef":
		return NewClassDef(tok, d.str(m["name"]), d.list(m["bases"]), d.list(m["body"]), d.list(m["decorator_list"]))
	case "Return":
		return NewReturn(tok, d.opt(m["value"]))
	case "Delete":
		return NewDelete(tok, d.list(m["targets"]))
	case "Assign":
		return NewAssign(tok, d.list(m["targets"]), d.opt(m["value"]))
	case "AugAssign":
		return NewAugAssign(tok, d.opt(m["target"]), d.op(m["op"]), d.opt(m["value"]))
	case "Print":
		nl, _ := m["nl"].(bool)
		return NewPrint(tok, d.opt(m["dest"]), d.list(m["values"]), nl)
	case "For":
		return NewFor(tok, d.opt(m["target"]), d.opt(m["iter"]), d.list(m["body"]), d.list(m["orelse"]))
	case "While":
		return NewWhile(tok, d.opt(m["test"]), d.list(m["body"]), d.list(m["orelse"]))
	case "If":
		return NewIf(tok, d.opt(m["test"]), d.list(m["body"]), d.list(m["orelse"]))
	case "With":
		var items []*WithItem
		if raw, ok := m["items"].([]interface{}); ok {
			for _, r := range raw {
				im, _ := r.(map[string]interface{})
				items = append(items, &WithItem{ContextExpr: d.opt(im["context_expr"]), OptionalVars: d.opt(im["optional_vars"])})
			}
		} else {
			items = []*WithItem{{ContextExpr: d.opt(m["context_expr"]), OptionalVars: d.opt(m["optional_vars"])}}
		}
		return NewWith(tok, items, d.list(m["body"]))
	case "Raise":
		if _, py3 := m["exc"]; py3 {
			return NewRaise(tok, d.opt(m["exc"]), nil, nil)
		}
		return NewRaise(tok, d.opt(m["type"]), d.opt(m["inst"]), d.opt(m["tback"]))
	case "TryExcept":
		return NewTry(tok, d.list(m["body"]), d.handlers(m["handlers"]), d.list(m["orelse"]), nil)
	case "TryFinally":
		body := d.list(m["body"])
		final := d.list(m["finalbody"])
		// try/except/finally arrives as TryFinally wrapping a single TryExcept.
		if len(body) == 1 && body[0].Type == Try {
			inner := body[0].Data.(TryNode)
			if inner.FinalBody == nil {
				return NewTry(body[0].Tok, inner.Body, inner.Handlers, inner.OrElse, final)
			}
		}
		return NewTry(tok, body, nil, nil, final)
	case "Try":
		return NewTry(tok, d.list(m["body"]), d.handlers(m["handlers"]), d.list(m["orelse"]), d.list(m["finalbody"]))
	case "Assert":
		return NewAssert(tok, d.opt(m["test"]), d.opt(m["msg"]))
	case "Import":
		return NewImport(tok, d.aliases(m["names"]))
	case "ImportFrom":
		return NewImportFrom(tok, d.str(m["module"]), d.aliases(m["names"]), d.int(m["level"]))
	case "Exec":
		return NewExec(tok, d.opt(m["body"]), d.opt(m["globals"]), d.opt(m["locals"]))
	case "Global":
		var names []string
		raw, _ := m["names"].([]interface{})
		for _, r := range raw {
			names = append(names, d.str(r))
		}
		return NewGlobal(tok, names)
	case "Expr":
		return NewExprStmt(tok, d.opt(m["value"]))
	case "Pass":
		return NewPass(tok)
	case "Break":
		return NewBreak(tok)
	case "Continue":
		return NewContinue(tok)

	case "BoolOp":
		return NewBoolOp(tok, d.op(m["op"]), d.list(m["values"]))
	case "BinOp":
		return NewBinOp(tok, d.op(m["op"]), d.opt(m["left"]), d.opt(m["right"]))
	case "UnaryOp":
		return NewUnaryOp(tok, d.op(m["op"]), d.opt(m["operand"]))
	case "Lambda":
		return NewLambda(tok, d.args(m["args"]), d.opt(m["body"]))
	case "IfExp":
		return NewIfExp(tok, d.opt(m["test"]), d.opt(m["body"]), d.opt(m["orelse"]))
	case "Dict":
		keys, values := d.list(m["keys"]), d.list(m["values"])
		if len(keys) != len(values) { d.fail("dict display has %d keys and %d values", len(keys), len(values)) }
		return NewDict(tok, keys, values)
	case "Set":
		return NewSet(tok, d.list(m["elts"]))
	case "ListComp":
		return NewComp(tok, ListComp, d.opt(m["elt"]), nil, d.comprehensions(m["generators"]))
	case "SetComp":
		return NewComp(tok, SetComp, d.opt(m["elt"]), nil, d.comprehensions(m["generators"]))
	case "GeneratorExp":
		return NewComp(tok, GeneratorExp, d.opt(m["elt"]), nil, d.comprehensions(m["generators"]))
	case "DictComp":
		return NewComp(tok, DictComp, d.opt(m["key"]), d.opt(m["value"]), d.comprehensions(m["generators"]))
	case "Yield":
		return NewYield(tok, d.opt(m["value"]))
	case "Compare":
		var ops []token.Type
		raw, _ := m["ops"].([]interface{})
		for _, r := range raw {
			ops = append(ops, d.op(r))
		}
		return NewCompare(tok, d.opt(m["left"]), ops, d.list(m["comparators"]))
	case "Call":
		var kws []*Keyword
		raw, _ := m["keywords"].([]interface{})
		for _, r := range raw {
			km, _ := r.(map[string]interface{})
			kws = append(kws, &Keyword{Arg: d.str(km["arg"]), Value: d.opt(km["value"])})
		}
		return NewCall(tok, d.opt(m["func"]), d.list(m["args"]), kws, d.opt(m["starargs"]), d.opt(m["kwargs"]))
	case "Repr":
		return NewRepr(tok, d.opt(m["value"]))
	case "Num":
		return d.num(tok, m)
	case "Str":
		s, _ := m["s"].(string)
		isUnicode, _ := m["unicode"].(bool)
		return NewStr(tok, s, isUnicode)
	case "Attribute":
		return NewAttribute(tok, d.opt(m["value"]), d.str(m["attr"]))
	case "Subscript":
		return NewSubscript(tok, d.opt(m["value"]), d.opt(m["slice"]))
	case "Name":
		return NewName(tok, d.str(m["id"]))
	case "List":
		return NewList(tok, d.list(m["elts"]))
	case "Tuple":
		return NewTuple(tok, d.list(m["elts"]))
	case "Index":
		return NewIndex(tok, d.opt(m["value"]))
	case "Slice":
		return NewSlice(tok, d.opt(m["lower"]), d.opt(m["upper"]), d.opt(m["step"]))
	case "Ellipsis":
		return NewEllipsis(tok)
	case "ExtSlice":
		return NewExtSlice(tok, d.list(m["dims"]))
	}
	d.fail("unsupported node type %q", typ)
	return nil
}

func (d *decoder) handlers(v interface{}) []*ExceptHandler {
	raw, _ := v.([]interface{})
	var out []*ExceptHandler
	for _, r := range raw {
		hm, _ := r.(map[string]interface{})
		h := &ExceptHandler{Tok: d.tok(hm), Type: d.opt(hm["type"]), Body: d.list(hm["body"])}
		switch name := hm["name"].(type) {
		case string:
			h.Name = NewName(h.Tok, name)
		case map[string]interface{}:
			h.Name = d.decode(name)
		}
		out = append(out, h)
	}
	return out
}

func (d *decoder) comprehensions(v interface{}) []*Comprehension {
	raw, _ := v.([]interface{})
	var out []*Comprehension
	for _, r := range raw {
		cm, _ := r.(map[string]interface{})
		out = append(out, &Comprehension{Target: d.opt(cm["target"]), Iter: d.opt(cm["iter"]), Ifs: d.list(cm["ifs"])})
	}
	return out
}

func (d *decoder) aliases(v interface{}) []*Alias {
	raw, _ := v.([]interface{})
	var out []*Alias
	for _, r := range raw {
		am, _ := r.(map[string]interface{})
		out = append(out, &Alias{Name: d.str(am["name"]), AsName: d.str(am["asname"])})
	}
	return out
}

// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
// of a Python 2.7 compilation unit, as produced by an external parser.
package ast

import (
	"math/big"

	"github.com/xplshn/gpyc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	BoolOp NodeType = iota
	BinOp
	UnaryOp
	Lambda
	IfExp
	Dict
	Set
	ListComp
	SetComp
	DictComp
	GeneratorExp
	Yield
	Compare
	Call
	Repr
	Num
	Str
	Attribute
	Subscript
	Name
	List
	Tuple

	// Slices
	Index
	Slice
	Ellipsis
	ExtSlice

	// Statements
	Module
	FunctionDef
	ClassDef
	Return
	Delete
	Assign
	AugAssign
	Print
	For
	While
	If
	With
	Raise
	Try
	Assert
	Import
	ImportFrom
	Exec
	Global
	ExprStmt
	Pass
	Break
	Continue

	nodeTypeCount
)

var nodeTypeNames = [...]string{
	BoolOp: "BoolOp", BinOp: "BinOp", UnaryOp: "UnaryOp", Lambda: "Lambda", IfExp: "IfExp",
	Dict: "Dict", Set: "Set", ListComp: "ListComp", SetComp: "SetComp", DictComp: "DictComp",
	GeneratorExp: "GeneratorExp", Yield: "Yield", Compare: "Compare", Call: "Call", Repr: "Repr",
	Num: "Num", Str: "Str", Attribute: "Attribute", Subscript: "Subscript", Name: "Name",
	List: "List", Tuple: "Tuple", Index: "Index", Slice: "Slice", Ellipsis: "Ellipsis",
	ExtSlice: "ExtSlice", Module: "Module", FunctionDef: "FunctionDef", ClassDef: "ClassDef",
	Return: "Return", Delete: "Delete", Assign: "Assign", AugAssign: "AugAssign", Print: "Print",
	For: "For", While: "While", If: "If", With: "With", Raise: "Raise", Try: "Try",
	Assert: "Assert", Import: "Import", ImportFrom: "ImportFrom", Exec: "Exec", Global: "Global",
	ExprStmt: "Expr", Pass: "Pass", Break: "Break", Continue: "Continue",
}

func (t NodeType) String() string {
	if t >= 0 && t < nodeTypeCount { return nodeTypeNames[t] }
	return "Unknown"
}

// NodeTypes returns every node type, in declaration order.
func NodeTypes() []NodeType {
	types := make([]NodeType, 0, nodeTypeCount)
	for t := NodeType(0); t < nodeTypeCount; t++ {
		types = append(types, t)
	}
	return types
}

// IsStmt reports whether nodes of this type appear in statement position
func (t NodeType) IsStmt() bool { return t >= Module && t < nodeTypeCount }

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
}

// Line is the source line the node starts on
func (n *Node) Line() int { return n.Tok.Line }

// NumKind distinguishes the numeric literal subtypes
type NumKind int

const (
	NumInt NumKind = iota
	NumLong
	NumFloat
	NumComplex
)

// --- Node Data Structs ---
type BoolOpNode struct{ Op token.Type; Values []*Node }
type BinOpNode struct{ Op token.Type; Left, Right *Node }
type UnaryOpNode struct{ Op token.Type; Operand *Node }
type LambdaNode struct{ Args *Arguments; Body *Node }
type IfExpNode struct{ Test, Body, OrElse *Node }
type DictNode struct{ Keys, Values []*Node }
type SetNode struct{ Elts []*Node }

// CompNode is shared by ListComp, SetComp, GeneratorExp and DictComp. For a
// DictComp, Elt is the key and Value the value.
type CompNode struct {
	Elt        *Node
	Value      *Node
	Generators []*Comprehension
}
type Comprehension struct {
	Target, Iter *Node
	Ifs          []*Node
}
type YieldNode struct{ Value *Node }
type CompareNode struct {
	Left        *Node
	Ops         []token.Type
	Comparators []*Node
}
type CallNode struct {
	Func     *Node
	Args     []*Node
	Keywords []*Keyword
	StarArgs *Node
	KWArgs   *Node
}
type Keyword struct{ Arg string; Value *Node }
type ReprNode struct{ Value *Node }
type NumNode struct {
	Kind  NumKind
	Int   int64
	Big   *big.Int
	Float float64
}
type StrNode struct{ Value string; IsUnicode bool }
type AttributeNode struct{ Value *Node; Attr string }
type SubscriptNode struct{ Value, Slice *Node }
type NameNode struct{ Id string }
type ListNode struct{ Elts []*Node }
type TupleNode struct{ Elts []*Node }
type IndexNode struct{ Value *Node }
type SliceNode struct{ Lower, Upper, Step *Node }
type EllipsisNode struct{}
type ExtSliceNode struct{ Dims []*Node }

type ModuleNode struct{ Body []*Node }

// Arguments describes a formal parameter list. Args holds Name nodes.
type Arguments struct {
	Args     []*Node
	Vararg   string
	Kwarg    string
	Defaults []*Node
}
type FunctionDefNode struct {
	Name       string
	Args       *Arguments
	Body       []*Node
	Decorators []*Node
}
type ClassDefNode struct {
	Name       string
	Bases      []*Node
	Body       []*Node
	Decorators []*Node
}
type ReturnNode struct{ Value *Node }
type DeleteNode struct{ Targets []*Node }
type AssignNode struct{ Targets []*Node; Value *Node }
type AugAssignNode struct{ Target *Node; Op token.Type; Value *Node }
type PrintNode struct {
	Dest   *Node
	Values []*Node
	NL     bool
}
type ForNode struct {
	Target, Iter *Node
	Body, OrElse []*Node
}
type WhileNode struct {
	Test         *Node
	Body, OrElse []*Node
}
type IfNode struct {
	Test         *Node
	Body, OrElse []*Node
}
type WithItem struct{ ContextExpr, OptionalVars *Node }
type WithNode struct {
	Items []*WithItem
	Body  []*Node
}
type RaiseNode struct{ Type, Inst, Tback *Node }
type ExceptHandler struct {
	Tok  token.Token
	Type *Node
	Name *Node
	Body []*Node
}
type TryNode struct {
	Body      []*Node
	Handlers  []*ExceptHandler
	OrElse    []*Node
	FinalBody []*Node
}
type AssertNode struct{ Test, Msg *Node }
type Alias struct{ Name, AsName string }
type ImportNode struct{ Names []*Alias }
type ImportFromNode struct {
	Module string
	Names  []*Alias
	Level  int
}
type ExecNode struct{ Body, Globals, Locals *Node }
type GlobalNode struct{ Names []string }
type ExprStmtNode struct{ Value *Node }
type PassNode struct{}
type BreakNode struct{}
type ContinueNode struct{}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func adopt(parent *Node, lists ...[]*Node) *Node {
	for _, list := range lists {
		for _, child := range list {
			if child != nil {
				child.Parent = parent
			}
		}
	}
	return parent
}

func NewBoolOp(tok token.Token, op token.Type, values []*Node) *Node {
	return adopt(newNode(tok, BoolOp, BoolOpNode{Op: op, Values: values}), values)
}
func NewBinOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, BinOp, BinOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnaryOp(tok token.Token, op token.Type, operand *Node) *Node {
	return newNode(tok, UnaryOp, UnaryOpNode{Op: op, Operand: operand}, operand)
}
func NewLambda(tok token.Token, args *Arguments, body *Node) *Node {
	return newNode(tok, Lambda, LambdaNode{Args: args, Body: body}, body)
}
func NewIfExp(tok token.Token, test, body, orElse *Node) *Node {
	return newNode(tok, IfExp, IfExpNode{Test: test, Body: body, OrElse: orElse}, test, body, orElse)
}
func NewDict(tok token.Token, keys, values []*Node) *Node {
	return adopt(newNode(tok, Dict, DictNode{Keys: keys, Values: values}), keys, values)
}
func NewSet(tok token.Token, elts []*Node) *Node {
	return adopt(newNode(tok, Set, SetNode{Elts: elts}), elts)
}

// NewComp builds a ListComp, SetComp, DictComp or GeneratorExp node.
func NewComp(tok token.Token, kind NodeType, elt, value *Node, gens []*Comprehension) *Node {
	n := newNode(tok, kind, CompNode{Elt: elt, Value: value, Generators: gens}, elt, value)
	for _, g := range gens {
		adopt(n, []*Node{g.Target, g.Iter}, g.Ifs)
	}
	return n
}
func NewYield(tok token.Token, value *Node) *Node {
	return newNode(tok, Yield, YieldNode{Value: value}, value)
}
func NewCompare(tok token.Token, left *Node, ops []token.Type, comparators []*Node) *Node {
	return adopt(newNode(tok, Compare, CompareNode{Left: left, Ops: ops, Comparators: comparators}, left), comparators)
}
func NewCall(tok token.Token, fn *Node, args []*Node, keywords []*Keyword, starArgs, kwArgs *Node) *Node {
	n := adopt(newNode(tok, Call, CallNode{Func: fn, Args: args, Keywords: keywords, StarArgs: starArgs, KWArgs: kwArgs}, fn, starArgs, kwArgs), args)
	for _, kw := range keywords {
		adopt(n, []*Node{kw.Value})
	}
	return n
}
func NewRepr(tok token.Token, value *Node) *Node {
	return newNode(tok, Repr, ReprNode{Value: value}, value)
}
func NewInt(tok token.Token, value int64) *Node {
	return newNode(tok, Num, NumNode{Kind: NumInt, Int: value})
}
func NewLong(tok token.Token, value *big.Int) *Node {
	return newNode(tok, Num, NumNode{Kind: NumLong, Big: value})
}
func NewFloat(tok token.Token, value float64) *Node {
	return newNode(tok, Num, NumNode{Kind: NumFloat, Float: value})
}
func NewComplex(tok token.Token, imag float64) *Node {
	return newNode(tok, Num, NumNode{Kind: NumComplex, Float: imag})
}
func NewStr(tok token.Token, value string, isUnicode bool) *Node {
	return newNode(tok, Str, StrNode{Value: value, IsUnicode: isUnicode})
}
func NewAttribute(tok token.Token, value *Node, attr string) *Node {
	return newNode(tok, Attribute, AttributeNode{Value: value, Attr: attr}, value)
}
func NewSubscript(tok token.Token, value, slice *Node) *Node {
	return newNode(tok, Subscript, SubscriptNode{Value: value, Slice: slice}, value, slice)
}
func NewName(tok token.Token, id string) *Node {
	return newNode(tok, Name, NameNode{Id: id})
}
func NewList(tok token.Token, elts []*Node) *Node {
	return adopt(newNode(tok, List, ListNode{Elts: elts}), elts)
}
func NewTuple(tok token.Token, elts []*Node) *Node {
	return adopt(newNode(tok, Tuple, TupleNode{Elts: elts}), elts)
}
func NewIndex(tok token.Token, value *Node) *Node {
	return newNode(tok, Index, IndexNode{Value: value}, value)
}
func NewSlice(tok token.Token, lower, upper, step *Node) *Node {
	return newNode(tok, Slice, SliceNode{Lower: lower, Upper: upper, Step: step}, lower, upper, step)
}
func NewEllipsis(tok token.Token) *Node { return newNode(tok, Ellipsis, EllipsisNode{}) }
func NewExtSlice(tok token.Token, dims []*Node) *Node {
	return adopt(newNode(tok, ExtSlice, ExtSliceNode{Dims: dims}), dims)
}

func NewModule(body []*Node) *Node {
	return adopt(newNode(token.Token{Line: 1}, Module, ModuleNode{Body: body}), body)
}
func NewFunctionDef(tok token.Token, name string, args *Arguments, body, decorators []*Node) *Node {
	if args == nil {
		args = &Arguments{}
	}
	return adopt(newNode(tok, FunctionDef, FunctionDefNode{Name: name, Args: args, Body: body, Decorators: decorators}), body, decorators, args.Args, args.Defaults)
}
func NewClassDef(tok token.Token, name string, bases, body, decorators []*Node) *Node {
	return adopt(newNode(tok, ClassDef, ClassDefNode{Name: name, Bases: bases, Body: body, Decorators: decorators}), bases, body, decorators)
}
func NewReturn(tok token.Token, value *Node) *Node {
	return newNode(tok, Return, ReturnNode{Value: value}, value)
}
func NewDelete(tok token.Token, targets []*Node) *Node {
	return adopt(newNode(tok, Delete, DeleteNode{Targets: targets}), targets)
}
func NewAssign(tok token.Token, targets []*Node, value *Node) *Node {
	return adopt(newNode(tok, Assign, AssignNode{Targets: targets, Value: value}, value), targets)
}
func NewAugAssign(tok token.Token, target *Node, op token.Type, value *Node) *Node {
	return newNode(tok, AugAssign, AugAssignNode{Target: target, Op: op, Value: value}, target, value)
}
func NewPrint(tok token.Token, dest *Node, values []*Node, nl bool) *Node {
	return adopt(newNode(tok, Print, PrintNode{Dest: dest, Values: values, NL: nl}, dest), values)
}
func NewFor(tok token.Token, target, iter *Node, body, orElse []*Node) *Node {
	return adopt(newNode(tok, For, ForNode{Target: target, Iter: iter, Body: body, OrElse: orElse}, target, iter), body, orElse)
}
func NewWhile(tok token.Token, test *Node, body, orElse []*Node) *Node {
	return adopt(newNode(tok, While, WhileNode{Test: test, Body: body, OrElse: orElse}, test), body, orElse)
}
func NewIf(tok token.Token, test *Node, body, orElse []*Node) *Node {
	return adopt(newNode(tok, If, IfNode{Test: test, Body: body, OrElse: orElse}, test), body, orElse)
}
func NewWith(tok token.Token, items []*WithItem, body []*Node) *Node {
	n := adopt(newNode(tok, With, WithNode{Items: items, Body: body}), body)
	for _, item := range items {
		adopt(n, []*Node{item.ContextExpr, item.OptionalVars})
	}
	return n
}
func NewRaise(tok token.Token, typ, inst, tback *Node) *Node {
	return newNode(tok, Raise, RaiseNode{Type: typ, Inst: inst, Tback: tback}, typ, inst, tback)
}
func NewTry(tok token.Token, body []*Node, handlers []*ExceptHandler, orElse, finalBody []*Node) *Node {
	n := adopt(newNode(tok, Try, TryNode{Body: body, Handlers: handlers, OrElse: orElse, FinalBody: finalBody}), body, orElse, finalBody)
	for _, h := range handlers {
		adopt(n, []*Node{h.Type, h.Name}, h.Body)
	}
	return n
}
func NewAssert(tok token.Token, test, msg *Node) *Node {
	return newNode(tok, Assert, AssertNode{Test: test, Msg: msg}, test, msg)
}
func NewImport(tok token.Token, names []*Alias) *Node {
	return newNode(tok, Import, ImportNode{Names: names})
}
func NewImportFrom(tok token.Token, module string, names []*Alias, level int) *Node {
	return newNode(tok, ImportFrom, ImportFromNode{Module: module, Names: names, Level: level})
}
func NewExec(tok token.Token, body, globals, locals *Node) *Node {
	return newNode(tok, Exec, ExecNode{Body: body, Globals: globals, Locals: locals}, body, globals, locals)
}
func NewGlobal(tok token.Token, names []string) *Node {
	return newNode(tok, Global, GlobalNode{Names: names})
}
func NewExprStmt(tok token.Token, value *Node) *Node {
	return newNode(tok, ExprStmt, ExprStmtNode{Value: value}, value)
}
func NewPass(tok token.Token) *Node     { return newNode(tok, Pass, PassNode{}) }
func NewBreak(tok token.Token) *Node    { return newNode(tok, Break, BreakNode{}) }
func NewContinue(tok token.Token) *Node { return newNode(tok, Continue, ContinueNode{}) }

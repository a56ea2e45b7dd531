// Package scope classifies the names bound inside a function or class body
// before any of it is lowered. Python resolves a name that is assigned
// anywhere in a function as local to the whole function, so the lowerer
// needs the full classification up front.
package scope

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

type VarKind int

const (
	Local VarKind = iota
	Param
	Global
)

func (k VarKind) String() string {
	switch k {
	case Local:
		return "local"
	case Param:
		return "param"
	case Global:
		return "global"
	}
	return "unknown"
}

// Var is one classified name. Index is the argument slot of a Param and -1
// for every other kind.
type Var struct {
	Name       string
	Kind       VarKind
	Index      int
	HasDefault bool
	Tok        token.Token
}

// Vars is an insertion-ordered name to Var map.
type Vars struct {
	order  []*Var
	byName map[string]*Var
}

func newVars() *Vars { return &Vars{byName: make(map[string]*Var)} }

func (v *Vars) Lookup(name string) (*Var, bool) {
	if v == nil { return nil, false }
	x, ok := v.byName[name]
	return x, ok
}

// All returns the vars in registration order.
func (v *Vars) All() []*Var {
	if v == nil { return nil }
	return v.order
}

func (v *Vars) Len() int {
	if v == nil { return 0 }
	return len(v.order)
}

func (v *Vars) add(x *Var) {
	v.order = append(v.order, x)
	v.byName[x.Name] = x
}

// Scope is the classification of one function or class body.
type Scope struct {
	Vars        *Vars
	IsGenerator bool
	// NumParams counts the positional parameters; *args and **kwargs follow.
	NumParams int
	Vararg    string
	Kwarg     string
}

// Globals returns the names declared global, in declaration order.
func (s *Scope) Globals() []string {
	var names []string
	for _, v := range s.Vars.All() {
		if v.Kind == Global {
			names = append(names, v.Name)
		}
	}
	return names
}

// IsGlobal reports whether name was declared global in this body.
func (s *Scope) IsGlobal(name string) bool {
	v, ok := s.Vars.Lookup(name)
	return ok && v.Kind == Global
}

type visitor struct {
	scope       *Scope
	function    bool
	deletes     []*ast.Node
	valueReturn *ast.Node
}

func (v *visitor) errorf(tok token.Token, format string, args ...interface{}) {
	panic(util.Errorf(util.ClassificationError, tok, format, args...))
}

func run(function bool, fn func(v *visitor)) (s *Scope, err error) {
	v := &visitor{scope: &Scope{Vars: newVars()}, function: function}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*util.CompileError)
			if !ok { panic(r) }
			s, err = nil, ce
		}
	}()
	fn(v)
	v.finish()
	return v.scope, nil
}

// ClassifyFunction classifies a FunctionDef node: its parameters first, then
// every name its body binds.
func ClassifyFunction(def *ast.Node) (*Scope, error) {
	d := def.Data.(ast.FunctionDefNode)
	return run(true, func(v *visitor) {
		v.params(def.Tok, d.Args)
		v.stmts(d.Body)
	})
}

// ClassifyClass classifies a class body. Only its global declarations affect
// lowering; other bindings go to the class namespace.
func ClassifyClass(body []*ast.Node) (*Scope, error) {
	return run(false, func(v *visitor) { v.stmts(body) })
}

// ClassifyModule checks a module body. Every module-level name is global, so
// the result is only used for generator and return checks.
func ClassifyModule(body []*ast.Node) (*Scope, error) {
	return run(false, func(v *visitor) { v.stmts(body) })
}

func (v *visitor) params(tok token.Token, args *ast.Arguments) {
	firstDefault := len(args.Args) - len(args.Defaults)
	for i, arg := range args.Args {
		if arg.Type != ast.Name {
			panic(util.Errorf(util.LoweringError, arg.Tok, "tuple parameters are not implemented"))
		}
		v.param(arg.Tok, arg.Data.(ast.NameNode).Id, i, i >= firstDefault)
	}
	v.scope.NumParams = len(args.Args)
	next := len(args.Args)
	if args.Vararg != "" {
		v.param(tok, args.Vararg, next, false)
		v.scope.Vararg = args.Vararg
		next++
	}
	if args.Kwarg != "" {
		v.param(tok, args.Kwarg, next, false)
		v.scope.Kwarg = args.Kwarg
	}
}

func (v *visitor) param(tok token.Token, name string, index int, hasDefault bool) {
	if _, ok := v.scope.Vars.Lookup(name); ok {
		v.errorf(tok, "duplicate argument '%s' in function definition", name)
	}
	v.scope.Vars.add(&Var{Name: name, Kind: Param, Index: index, HasDefault: hasDefault, Tok: tok})
}

func (v *visitor) local(tok token.Token, name string) {
	if _, ok := v.scope.Vars.Lookup(name); ok { return }
	v.scope.Vars.add(&Var{Name: name, Kind: Local, Index: -1, Tok: tok})
}

func (v *visitor) global(tok token.Token, name string) {
	if existing, ok := v.scope.Vars.Lookup(name); ok {
		switch existing.Kind {
		case Param:
			v.errorf(tok, "name '%s' is parameter and global", name)
		case Local:
			v.errorf(tok, "name '%s' is used prior to global declaration", name)
		}
		return
	}
	v.scope.Vars.add(&Var{Name: name, Kind: Global, Index: -1, Tok: tok})
}

// finish runs the checks that need the whole body. Deleting a name no
// statement binds is only an error for function locals; module and class
// namespaces fail at runtime.
func (v *visitor) finish() {
	if v.function {
		for _, del := range v.deletes {
			name := del.Data.(ast.NameNode).Id
			if _, ok := v.scope.Vars.Lookup(name); !ok {
				v.errorf(del.Tok, "cannot delete nonexistent local '%s'", name)
			}
		}
	}
	if v.scope.IsGenerator && v.valueReturn != nil {
		v.errorf(v.valueReturn.Tok, "'return' with argument inside generator")
	}
}

// target registers every name bound by an assignment target, descending into
// tuple and list unpacking.
func (v *visitor) target(n *ast.Node) {
	if n == nil { return }
	switch d := n.Data.(type) {
	case ast.NameNode:
		v.local(n.Tok, d.Id)
	case ast.TupleNode:
		for _, elt := range d.Elts {
			v.target(elt)
		}
	case ast.ListNode:
		for _, elt := range d.Elts {
			v.target(elt)
		}
	}
	v.expr(n)
}

// expr looks for yield inside expressions owned by this body.
func (v *visitor) expr(n *ast.Node) {
	ast.Walk(n, func(c *ast.Node) bool {
		switch c.Type {
		case ast.Yield:
			v.scope.IsGenerator = true
		case ast.Lambda, ast.ListComp, ast.SetComp, ast.DictComp, ast.GeneratorExp:
			return false
		}
		return true
	})
}

func (v *visitor) exprs(ns []*ast.Node) {
	for _, n := range ns {
		v.expr(n)
	}
}

func (v *visitor) stmts(body []*ast.Node) {
	for _, s := range body {
		v.stmt(s)
	}
}

func (v *visitor) stmt(n *ast.Node) {
	switch d := n.Data.(type) {
	case ast.FunctionDefNode:
		v.exprs(d.Decorators)
		v.exprs(d.Args.Defaults)
		v.local(n.Tok, d.Name)
	case ast.ClassDefNode:
		v.exprs(d.Decorators)
		v.exprs(d.Bases)
		v.local(n.Tok, d.Name)
	case ast.ReturnNode:
		if d.Value != nil && v.valueReturn == nil {
			v.valueReturn = n
		}
		v.expr(d.Value)
	case ast.DeleteNode:
		for _, t := range d.Targets {
			if t.Type == ast.Name {
				v.deletes = append(v.deletes, t)
			}
			v.expr(t)
		}
	case ast.AssignNode:
		v.expr(d.Value)
		for _, t := range d.Targets {
			v.target(t)
		}
	case ast.AugAssignNode:
		v.expr(d.Value)
		v.target(d.Target)
	case ast.ForNode:
		v.expr(d.Iter)
		v.target(d.Target)
		v.stmts(d.Body)
		v.stmts(d.OrElse)
	case ast.WhileNode:
		v.expr(d.Test)
		v.stmts(d.Body)
		v.stmts(d.OrElse)
	case ast.IfNode:
		v.expr(d.Test)
		v.stmts(d.Body)
		v.stmts(d.OrElse)
	case ast.WithNode:
		for _, item := range d.Items {
			v.expr(item.ContextExpr)
			v.target(item.OptionalVars)
		}
		v.stmts(d.Body)
	case ast.TryNode:
		v.stmts(d.Body)
		for _, h := range d.Handlers {
			v.expr(h.Type)
			v.target(h.Name)
			v.stmts(h.Body)
		}
		v.stmts(d.OrElse)
		v.stmts(d.FinalBody)
	case ast.ImportNode:
		for _, alias := range d.Names {
			v.local(n.Tok, ImportedName(alias))
		}
	case ast.ImportFromNode:
		if d.Module == "__future__" { return }
		for _, alias := range d.Names {
			if alias.Name == "*" { continue }
			v.local(n.Tok, ImportedName(alias))
		}
	case ast.GlobalNode:
		for _, name := range d.Names {
			v.global(n.Tok, name)
		}
	default:
		// Expression statements, print, raise, assert, exec and the like bind
		// nothing but may still contain a yield.
		for _, c := range ast.Children(n) {
			v.expr(c)
		}
	}
}

// ImportedName is the name an import alias binds: the alias if given,
// otherwise the first dotted component for plain imports.
func ImportedName(alias *ast.Alias) string {
	if alias.AsName != "" { return alias.AsName }
	for i := 0; i < len(alias.Name); i++ {
		if alias.Name[i] == '.' { return alias.Name[:i] }
	}
	return alias.Name
}

// Package ir is the lowered form of a module: functions made of labelled
// basic blocks, typed temporaries and calls into the runtime. Exceptions,
// generators and finally blocks are already expressed with checkpoints and
// jumps, so a backend only has to print what it is given.
package ir

import (
	"fmt"
	"math/big"
)

type Op int

const (
	// OpLine records the current source line.
	OpLine Op = iota
	// OpCall invokes runtime primitive Callee with Args.
	OpCall
	// OpMove copies Args[0] into Result.
	OpMove
	// OpJmp, OpJnz, OpJz, OpJnil and OpJnotnil transfer control to Target;
	// the conditional forms test Args[0] and otherwise fall through.
	OpJmp
	OpJnz
	OpJz
	OpJnil
	OpJnotnil
	// OpPushCheckpoint makes Target the place to resume at on the next unwind.
	OpPushCheckpoint
	// OpPopCheckpoint discards the innermost checkpoint.
	OpPopCheckpoint
	// OpUnwind leaves the current straight-line path: control resumes at the
	// innermost checkpoint, or the function returns when there is none.
	OpUnwind
	// OpYield suspends a generator, handing Args[0] to the caller.
	OpYield
	// OpMakeFunction builds a function object from Func. Args holds one
	// default value per positional parameter, nil when there is none.
	OpMakeFunction
	// OpClassBody runs Func once against the namespace in Args[0].
	OpClassBody
	// OpKWArgs builds a keyword argument list from Names and Args.
	OpKWArgs
	// OpImportNative builds a module from the Go package Module, binding each
	// of Names to the package member in the same position of Native. A name
	// that carries a prefix its member lacks binds the member's type.
	OpImportNative
)

var opNames = [...]string{
	OpLine: "line", OpCall: "call", OpMove: "move", OpJmp: "jmp", OpJnz: "jnz", OpJz: "jz",
	OpJnil: "jnil", OpJnotnil: "jnotnil", OpPushCheckpoint: "push_checkpoint",
	OpPopCheckpoint: "pop_checkpoint", OpUnwind: "unwind", OpYield: "yield",
	OpMakeFunction: "make_function", OpClassBody: "class_body", OpKWArgs: "kwargs",
	OpImportNative: "import_native",
}

func (o Op) String() string {
	if int(o) < len(opNames) { return opNames[o] }
	return fmt.Sprintf("op(%d)", int(o))
}

// IsTerminator reports whether control never falls through the instruction.
func (o Op) IsTerminator() bool {
	switch o {
	case OpJmp, OpUnwind, OpYield:
		return true
	}
	return false
}

type Type int

const (
	TypeObject Type = iota
	TypeBool
	TypeInt
	TypeArgs
	TypeKWArgs
	TypeException
	TypeTraceback
	TypeModules
)

var typeNames = [...]string{
	TypeObject: "object", TypeBool: "bool", TypeInt: "int", TypeArgs: "args",
	TypeKWArgs: "kwargs", TypeException: "exception", TypeTraceback: "traceback",
	TypeModules: "modules",
}

func (t Type) String() string {
	if int(t) < len(typeNames) { return typeNames[t] }
	return "?"
}

// CallMode says what happens to the error a runtime call may return.
type CallMode int

const (
	// Checked calls store a failure in the exception register and unwind.
	Checked CallMode = iota
	// Capture calls store the error and fall through so the caller can
	// inspect it.
	Capture
)

type Value interface {
	isValue()
	String() string
}

// Temporary is a pooled, typed scratch slot of the current function.
type Temporary struct {
	ID  int
	Typ Type
}

// Local is the slot of a classified function variable. Depth is the nesting
// depth of the function that owns it, which differs from the current one for
// free variables.
type Local struct {
	Name  string
	Depth int
}

// Interned is a module level string constant created once.
type Interned struct{ Name string }

type Register int

const (
	RegReturn Register = iota
	RegExc
	RegSent
	RegArgs
	RegClass
)

var registerNames = [...]string{RegReturn: "%ret", RegExc: "%exc", RegSent: "%sent", RegArgs: "%args", RegClass: "%class"}

// Builtin names a runtime singleton or type.
type Builtin string

const (
	None           Builtin = "None"
	True           Builtin = "True"
	False          Builtin = "False"
	UnboundLocal   Builtin = "UnboundLocal"
	EllipsisObj    Builtin = "Ellipsis"
	TypeType       Builtin = "Type"
	StopIteration  Builtin = "StopIteration"
	AssertionError Builtin = "AssertionError"
)

// Nil is the absent value: no exception, no traceback, no default.
type Nil struct{}

// Bool, Int and Str are raw constants passed to primitives, not objects.
type Bool bool
type Int int64
type Str string

type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitLong
	LitFloat
	LitComplex
	LitStr
	LitUnicode
)

// Literal constructs a constant object inline. A LitLong carries the big
// endian magnitude of the value in Bytes. An Interned LitStr refers to the
// module's interned constant of the same text instead.
type Literal struct {
	Kind     LiteralKind
	Int      int64
	Bytes    []byte
	Neg      bool
	Float    float64
	Str      string
	Interned bool
}

// Elem is element Index of an args or modules value.
type Elem struct {
	Of    Value
	Index int
}

// Label is a jump target. A checkpoint label may also be resumed at from the
// dispatch loop; its ID doubles as the saved state number.
type Label struct {
	ID         int
	Checkpoint bool
}

func (*Temporary) isValue() {}
func (*Local) isValue()     {}
func (*Interned) isValue()  {}
func (Register) isValue()   {}
func (Builtin) isValue()    {}
func (Nil) isValue()        {}
func (Bool) isValue()       {}
func (Int) isValue()        {}
func (Str) isValue()        {}
func (*Literal) isValue()   {}
func (*Elem) isValue()      {}
func (*Label) isValue()     {}

func (t *Temporary) String() string { return fmt.Sprintf("%%t%d.%s", t.ID, t.Typ) }
func (l *Local) String() string     { return fmt.Sprintf("$%s@%d", l.Name, l.Depth) }
func (i *Interned) String() string  { return "'" + i.Name + "'" }
func (r Register) String() string   { return registerNames[r] }
func (b Builtin) String() string    { return string(b) }
func (Nil) String() string          { return "nil" }
func (b Bool) String() string       { return fmt.Sprintf("%t", bool(b)) }
func (i Int) String() string        { return fmt.Sprintf("%d", int64(i)) }
func (s Str) String() string        { return fmt.Sprintf("%q", string(s)) }
func (e *Elem) String() string      { return fmt.Sprintf("%s[%d]", e.Of, e.Index) }
func (l *Label) String() string     { return fmt.Sprintf("L%d", l.ID) }

func (l *Literal) String() string {
	switch l.Kind {
	case LitInt:
		return fmt.Sprintf("int(%d)", l.Int)
	case LitLong:
		v := new(big.Int).SetBytes(l.Bytes)
		if l.Neg {
			v.Neg(v)
		}
		return fmt.Sprintf("long(%s)", v)
	case LitFloat:
		return fmt.Sprintf("float(%g)", l.Float)
	case LitComplex:
		return fmt.Sprintf("complex(%gj)", l.Float)
	case LitUnicode:
		return fmt.Sprintf("u%q", l.Str)
	}
	if l.Interned {
		return "str('" + l.Str + "')"
	}
	return fmt.Sprintf("%q", l.Str)
}

// BigValue returns the value of a LitLong.
func (l *Literal) BigValue() *big.Int {
	v := new(big.Int).SetBytes(l.Bytes)
	if l.Neg {
		v.Neg(v)
	}
	return v
}

// NewLong encodes v as a LitLong.
func NewLong(v *big.Int) *Literal {
	return &Literal{Kind: LitLong, Bytes: new(big.Int).Abs(v).Bytes(), Neg: v.Sign() < 0}
}

type Instr struct {
	Op      Op
	Result  Value
	Result2 Value
	Callee  string
	Args    []Value
	Mode    CallMode
	Target  *Label
	Func    *Func
	Names   []string
	Native  []string
	Module  string
	Line    int
}

type BasicBlock struct {
	// Label is nil for the entry block.
	Label  *Label
	Instrs []*Instr
}

type FuncKind int

const (
	FuncModule FuncKind = iota
	FuncDef
	FuncClass
)

type Param struct {
	Name       string
	HasDefault bool
}

// LocalVar is a slot declared at the top of a function.
type LocalVar struct {
	Name string
	// Param is the argument index the slot starts from, or -1 for a slot
	// that starts unbound.
	Param int
}

type Func struct {
	Name        string
	Kind        FuncKind
	Depth       int
	Line        int
	Params      []Param
	Vararg      string
	Kwarg       string
	IsGenerator bool
	Locals      []LocalVar
	Temps       []*Temporary
	Labels      []*Label
	Blocks      []*BasicBlock
}

// Transition maps a saved state to the label execution resumes at. A nil
// Target is the function entry.
type Transition struct {
	State  int
	Target *Label
}

// Checkpoints returns the labels that may be resumed at, in label order.
func (f *Func) Checkpoints() []*Label {
	var out []*Label
	for _, l := range f.Labels {
		if l.Checkpoint {
			out = append(out, l)
		}
	}
	return out
}

// Dispatch is the function's resume table: state 0 enters at the top and
// every checkpoint resumes at its own label.
func (f *Func) Dispatch() []Transition {
	table := []Transition{{State: 0}}
	for _, l := range f.Checkpoints() {
		table = append(table, Transition{State: l.ID, Target: l})
	}
	return table
}

// UsesDispatch reports whether the body must run inside the resume loop.
// Functions without checkpoints are emitted straight-line.
func (f *Func) UsesDispatch() bool { return len(f.Checkpoints()) > 0 }

// ReferencedLabels returns the set of labels some instruction or the
// dispatch table can reach.
func (f *Func) ReferencedLabels() map[*Label]bool {
	refs := make(map[*Label]bool)
	for _, l := range f.Checkpoints() {
		refs[l] = true
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Target != nil {
				refs[in.Target] = true
			}
		}
	}
	return refs
}

// Children returns the functions nested directly inside f.
func (f *Func) Children() []*Func {
	var out []*Func
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Func != nil {
				out = append(out, in.Func)
			}
		}
	}
	return out
}

type Program struct {
	Module   string
	Filename string
	// Interned holds every interned name in first-use order.
	Interned []string
	// NativeImports lists the Go packages native imports refer to.
	NativeImports []string
	Main          *Func
}

// Funcs returns every function of the program, outermost first.
func (p *Program) Funcs() []*Func {
	var out []*Func
	var walk func(f *Func)
	walk = func(f *Func) {
		out = append(out, f)
		for _, c := range f.Children() {
			walk(c)
		}
	}
	if p.Main != nil {
		walk(p.Main)
	}
	return out
}

package token

type Type int

const (
	EOF Type = iota
	Ident
	Number
	String

	// Binary operators
	Plus
	Minus
	Star
	Slash
	SlashSlash
	Rem
	StarStar
	Shl
	Shr
	Or
	Xor
	And
	MatMul

	// Unary operators
	Complement
	Not
	UPlus
	UMinus

	// Comparison operators
	EqEq
	Neq
	Lt
	Lte
	Gt
	Gte
	Is
	IsNot
	In
	NotIn

	// Boolean operators
	AndAnd
	OrOr
)

// OpNames maps the operator class names used by the CPython ast module to
// operator types. Decoders use it to read dumped trees.
var OpNames = map[string]Type{
	"Add":      Plus,
	"Sub":      Minus,
	"Mult":     Star,
	"Div":      Slash,
	"FloorDiv": SlashSlash,
	"Mod":      Rem,
	"Pow":      StarStar,
	"LShift":   Shl,
	"RShift":   Shr,
	"BitOr":    Or,
	"BitXor":   Xor,
	"BitAnd":   And,
	"MatMult":  MatMul,
	"Invert":   Complement,
	"Not":      Not,
	"UAdd":     UPlus,
	"USub":     UMinus,
	"Eq":       EqEq,
	"NotEq":    Neq,
	"Lt":       Lt,
	"LtE":      Lte,
	"Gt":       Gt,
	"GtE":      Gte,
	"Is":       Is,
	"IsNot":    IsNot,
	"In":       In,
	"NotIn":    NotIn,
	"And":      AndAnd,
	"Or":       OrOr,
}

// Reverse mapping from Type to the operator spelling
var TypeStrings = map[Type]string{
	Plus: "+", Minus: "-", Star: "*", Slash: "/", SlashSlash: "//", Rem: "%",
	StarStar: "**", Shl: "<<", Shr: ">>", Or: "|", Xor: "^", And: "&", MatMul: "@",
	Complement: "~", Not: "not", UPlus: "+", UMinus: "-",
	EqEq: "==", Neq: "!=", Lt: "<", Lte: "<=", Gt: ">", Gte: ">=",
	Is: "is", IsNot: "is not", In: "in", NotIn: "not in",
	AndAnd: "and", OrOr: "or",
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok { return s }
	return "?"
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}

// At returns a position-only token for the given line and column.
func At(line, col int) Token { return Token{Line: line, Column: col} }

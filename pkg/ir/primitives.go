package ir

// ResultKind describes what a runtime primitive hands back.
type ResultKind int

const (
	// Plain primitives cannot fail.
	Plain ResultKind = iota
	// Fallible primitives return a value and an exception.
	Fallible
	// ErrOnly primitives return only an exception.
	ErrOnly
)

// Primitive is one entry of the runtime surface the lowerer calls into.
type Primitive struct {
	Name   string
	Result ResultKind
	Type   Type
	// Frame primitives are methods on the running frame.
	Frame bool
	// Arity is the number of arguments after the frame.
	Arity int
	// QBE is the C symbol the QBE backend calls.
	QBE string
	// Void primitives produce nothing.
	Void bool
	// Results is 2 for primitives that produce a pair.
	Results int
}

// HasResult reports whether the primitive produces a value.
func (p Primitive) HasResult() bool { return p.Result != ErrOnly && !p.Void }

var primitives = map[string]Primitive{}

func def(name, qbe string, result ResultKind, typ Type, arity int) {
	primitives[name] = Primitive{Name: name, Result: result, Type: typ, Arity: arity, QBE: "pyrt_" + qbe}
}

func frameDef(name, qbe string, result ResultKind, typ Type, arity int) {
	def(name, qbe, result, typ, arity)
	p := primitives[name]
	p.Frame = true
	primitives[name] = p
}

func voidDef(name string) {
	p := primitives[name]
	p.Void = true
	primitives[name] = p
}

func init() {
	for _, op := range []struct{ name, qbe string }{
		{"Add", "add"}, {"Sub", "sub"}, {"Mul", "mul"}, {"Div", "div"}, {"TrueDiv", "truediv"},
		{"FloorDiv", "floordiv"}, {"Mod", "mod"}, {"Pow", "pow"}, {"LShift", "lshift"},
		{"RShift", "rshift"}, {"Or", "or"}, {"Xor", "xor"}, {"And", "and"},
	} {
		def(op.name, op.qbe, Fallible, TypeObject, 2)
		def("I"+op.name, "i"+op.qbe, Fallible, TypeObject, 2)
	}
	for _, op := range []struct{ name, qbe string }{
		{"Eq", "eq"}, {"NE", "ne"}, {"LT", "lt"}, {"LE", "le"}, {"GT", "gt"}, {"GE", "ge"},
		{"In", "in"}, {"NotIn", "not_in"},
	} {
		def(op.name, op.qbe, Fallible, TypeObject, 2)
	}
	def("Is", "is", Plain, TypeObject, 2)
	def("IsNot", "is_not", Plain, TypeObject, 2)
	for _, op := range []struct{ name, qbe string }{{"Invert", "invert"}, {"Neg", "neg"}, {"Pos", "pos"}, {"Not", "not"}} {
		def(op.name, op.qbe, Fallible, TypeObject, 1)
	}

	def("IsTrue", "is_true", Fallible, TypeBool, 1)
	def("IsInstance", "is_instance", Fallible, TypeBool, 2)

	def("GetAttr", "get_attr", Fallible, TypeObject, 2)
	def("SetAttr", "set_attr", ErrOnly, TypeObject, 3)
	def("DelAttr", "del_attr", ErrOnly, TypeObject, 2)
	def("GetItem", "get_item", Fallible, TypeObject, 2)
	def("SetItem", "set_item", ErrOnly, TypeObject, 3)
	def("DelItem", "del_item", ErrOnly, TypeObject, 2)

	def("Call", "call", Fallible, TypeObject, 3)
	def("Invoke", "invoke", Fallible, TypeObject, 5)
	frameDef("MakeArgs", "make_args", Plain, TypeArgs, 1)
	frameDef("FreeArgs", "free_args", Plain, TypeObject, 1)

	def("NewTuple", "new_tuple", Plain, TypeObject, 1)
	def("NewList", "new_list", Plain, TypeObject, 1)
	def("NewSet", "new_set", Fallible, TypeObject, 1)
	def("NewDict", "new_dict", Plain, TypeObject, 0)
	def("NewSlice", "new_slice", Plain, TypeObject, 3)
	def("DictLookup", "dict_lookup", Fallible, TypeObject, 2)
	def("Unpack", "unpack", Fallible, TypeArgs, 2)

	def("Iter", "iter", Fallible, TypeObject, 1)
	def("Next", "next", Fallible, TypeObject, 1)
	def("ToList", "to_list", Fallible, TypeObject, 1)
	def("ToSet", "to_set", Fallible, TypeObject, 1)
	def("ToDict", "to_dict", Fallible, TypeObject, 1)

	def("Print", "print", ErrOnly, TypeObject, 3)
	def("Repr", "repr", Fallible, TypeObject, 1)
	def("Type", "type", Plain, TypeObject, 1)

	def("LoadGlobal", "load_global", Fallible, TypeObject, 1)
	def("StoreGlobal", "store_global", ErrOnly, TypeObject, 2)
	def("DelGlobal", "del_global", ErrOnly, TypeObject, 1)
	def("LoadClass", "load_class", Fallible, TypeObject, 3)
	def("StoreClass", "store_class", ErrOnly, TypeObject, 3)
	def("DelClass", "del_class", ErrOnly, TypeObject, 2)
	def("CheckLocal", "check_local", ErrOnly, TypeObject, 2)

	frameDef("SetLineno", "set_lineno", Plain, TypeObject, 1)
	frameDef("Raise", "raise", ErrOnly, TypeObject, 3)
	frameDef("ExcInfo", "exc_info", Plain, TypeException, 0)
	frameDef("RestoreExc", "restore_exc", Plain, TypeObject, 2)
	def("ExcObject", "exc_object", Plain, TypeObject, 1)
	def("TracebackObject", "traceback_object", Plain, TypeObject, 1)

	def("ImportModule", "import_module", Fallible, TypeModules, 1)

	for _, name := range []string{"FreeArgs", "SetLineno", "RestoreExc"} {
		voidDef(name)
	}
	excInfo := primitives["ExcInfo"]
	excInfo.Results = 2
	primitives["ExcInfo"] = excInfo
}

// LookupPrimitive returns the runtime primitive called name.
func LookupPrimitive(name string) (Primitive, bool) {
	p, ok := primitives[name]
	return p, ok
}

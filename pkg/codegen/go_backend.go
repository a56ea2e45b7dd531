package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"math"
	"strconv"
	"strings"

	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/util"
)

// goBackend renders a program as a Go compilation unit built on the
// runtime package. The module body becomes a function registered from init.
type goBackend struct {
	out      *strings.Builder
	prog     *ir.Program
	cfg      *config.Config
	native   map[string]string
	needMath bool
}

func NewGoBackend() Backend { return &goBackend{} }

func (b *goBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	src, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}
	formatted, err := format.Source([]byte(src))
	if err != nil {
		return nil, fmt.Errorf("\n--- Go Formatting Failed ---\nGenerated source:\n%s\n\ngo/format error: %w", src, err)
	}
	return bytes.NewBuffer(formatted), nil
}

func (b *goBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	if prog.Main == nil {
		return "", fmt.Errorf("program has no module body")
	}
	b.prog, b.cfg = prog, cfg
	b.native = make(map[string]string)
	for i, path := range prog.NativeImports {
		b.native[path] = fmt.Sprintf("π%d", i)
	}

	var body strings.Builder
	b.out = &body
	b.genModule()

	var sb strings.Builder
	fmt.Fprintf(&sb, "package %s\n\n", b.packageName())
	sb.WriteString("import (\n")
	fmt.Fprintf(&sb, "\tπg %q\n", cfg.RuntimeImport)
	if b.needMath {
		sb.WriteString("\t\"math\"\n")
	}
	if len(prog.NativeImports) > 0 {
		sb.WriteString("\t\"reflect\"\n")
	}
	for _, path := range prog.NativeImports {
		fmt.Fprintf(&sb, "\t%s %q\n", b.native[path], path)
	}
	sb.WriteString(")\n\n")
	if len(prog.Interned) > 0 {
		sb.WriteString("var (\n")
		for _, name := range prog.Interned {
			fmt.Fprintf(&sb, "\tß%s = πg.InternStr(%q)\n", name, name)
		}
		sb.WriteString(")\n\n")
	}
	sb.WriteString(body.String())
	return sb.String(), nil
}

func (b *goBackend) packageName() string {
	name := b.cfg.PackageName
	if name == "" {
		name = b.prog.Module
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
	}
	if !isIdentifier(name) {
		return "main"
	}
	return name
}

func (b *goBackend) genModule() {
	fmt.Fprintf(b.out, "func init() {\n")
	fmt.Fprintf(b.out, "\tπg.RegisterModule(%q, πg.NewCode(\"<module>\", %q, nil, 0, func(πF *πg.Frame, _ []*πg.Object) (*πg.Object, *πg.BaseException) {\n", b.prog.Module, b.prog.Filename)
	b.genBody(b.prog.Main)
	b.out.WriteString("\t}))\n}\n")
}

var goTypes = map[ir.Type]string{
	ir.TypeObject:    "*πg.Object",
	ir.TypeBool:      "bool",
	ir.TypeInt:       "int",
	ir.TypeArgs:      "πg.Args",
	ir.TypeKWArgs:    "πg.KWArgs",
	ir.TypeException: "*πg.BaseException",
	ir.TypeTraceback: "*πg.Traceback",
	ir.TypeModules:   "[]*πg.Object",
}

// genBody declares every slot of f and writes its state machine.
func (b *goBackend) genBody(f *ir.Func) {
	for _, l := range f.Locals {
		init := "πg.UnboundLocal"
		if l.Param >= 0 {
			init = fmt.Sprintf("πArgs[%d]", l.Param)
		}
		fmt.Fprintf(b.out, "var µ%s *πg.Object = %s\n_ = µ%s\n", l.Name, init, l.Name)
	}
	for _, t := range f.Temps {
		fmt.Fprintf(b.out, "var %s %s\n_ = %s\n", b.val(t), goTypes[t.Typ], b.val(t))
	}
	b.out.WriteString("var πR *πg.Object\nvar πE *πg.BaseException\n")
	if f.IsGenerator {
		b.out.WriteString("return πg.NewGenerator(πF, func(πSent *πg.Object) (*πg.Object, *πg.BaseException) {\n")
		b.genStateMachine(f)
		b.out.WriteString("}).ToObject(), nil\n")
		return
	}
	b.genStateMachine(f)
}

func (b *goBackend) genStateMachine(f *ir.Func) {
	dispatch := f.UsesDispatch()
	if dispatch {
		b.out.WriteString("for ; πF.State() >= 0; πF.PopCheckpoint() {\nswitch πF.State() {\n")
		for _, tr := range f.Dispatch() {
			if tr.Target == nil {
				fmt.Fprintf(b.out, "case %d:\n", tr.State)
				continue
			}
			fmt.Fprintf(b.out, "case %d:\ngoto Label%d\n", tr.State, tr.Target.ID)
		}
		b.out.WriteString("default:\npanic(\"unexpected function state\")\n}\n")
	}
	refs := f.ReferencedLabels()
	for _, blk := range f.Blocks {
		if blk.Label != nil && refs[blk.Label] {
			fmt.Fprintf(b.out, "Label%d:\n", blk.Label.ID)
		}
		for _, in := range blk.Instrs {
			b.genInstr(in, dispatch)
		}
	}
	if dispatch {
		b.out.WriteString("}\n")
	}
	b.out.WriteString("return πR, πE\n")
}

func unwindStmt(dispatch bool) string {
	if dispatch { return "continue" }
	return "return πR, πE"
}

func (b *goBackend) genInstr(in *ir.Instr, dispatch bool) {
	switch in.Op {
	case ir.OpLine:
		if b.cfg.IsFeatureEnabled(config.FeatLineComments) {
			if src := strings.TrimSpace(util.SourceLine(0, in.Line)); src != "" {
				fmt.Fprintf(b.out, "// line %d: %s\n", in.Line, src)
			}
		}
		fmt.Fprintf(b.out, "πF.SetLineno(%d)\n", in.Line)

	case ir.OpCall:
		b.genCall(in, dispatch)

	case ir.OpMove:
		fmt.Fprintf(b.out, "%s = %s\n", b.val(in.Result), b.val(in.Args[0]))

	case ir.OpJmp:
		fmt.Fprintf(b.out, "goto Label%d\n", in.Target.ID)
	case ir.OpJnz:
		fmt.Fprintf(b.out, "if %s {\ngoto Label%d\n}\n", b.val(in.Args[0]), in.Target.ID)
	case ir.OpJz:
		fmt.Fprintf(b.out, "if !%s {\ngoto Label%d\n}\n", b.val(in.Args[0]), in.Target.ID)
	case ir.OpJnil:
		fmt.Fprintf(b.out, "if %s == nil {\ngoto Label%d\n}\n", b.val(in.Args[0]), in.Target.ID)
	case ir.OpJnotnil:
		fmt.Fprintf(b.out, "if %s != nil {\ngoto Label%d\n}\n", b.val(in.Args[0]), in.Target.ID)

	case ir.OpPushCheckpoint:
		fmt.Fprintf(b.out, "πF.PushCheckpoint(%d)\n", in.Target.ID)
	case ir.OpPopCheckpoint:
		b.out.WriteString("πF.PopCheckpoint()\n")
	case ir.OpUnwind:
		b.out.WriteString(unwindStmt(dispatch) + "\n")
	case ir.OpYield:
		fmt.Fprintf(b.out, "return %s, nil\n", b.val(in.Args[0]))

	case ir.OpMakeFunction:
		f := in.Func
		var params []string
		for i, p := range f.Params {
			if i < len(in.Args) && in.Args[i] != nil {
				params = append(params, fmt.Sprintf("{Name: %q, Def: %s}", p.Name, b.val(in.Args[i])))
				continue
			}
			params = append(params, fmt.Sprintf("{Name: %q}", p.Name))
		}
		var flags []string
		if f.Vararg != "" {
			flags = append(flags, "πg.CodeFlagVarArg")
		}
		if f.Kwarg != "" {
			flags = append(flags, "πg.CodeFlagKWArg")
		}
		flag := "0"
		if len(flags) > 0 {
			flag = strings.Join(flags, " | ")
		}
		paramList := "nil"
		if len(params) > 0 {
			paramList = "[]πg.Param{" + strings.Join(params, ", ") + "}"
		}
		fmt.Fprintf(b.out, "%s = πg.NewFunction(πg.NewCode(%q, %q, %s, %s, func(πF *πg.Frame, πArgs []*πg.Object) (*πg.Object, *πg.BaseException) {\n",
			b.val(in.Result), f.Name, b.prog.Filename, paramList, flag)
		b.genBody(f)
		b.out.WriteString("}), πF.Globals()).ToObject()\n")

	case ir.OpClassBody:
		fmt.Fprintf(b.out, "if πE = πg.RunClassBody(πF, %s, func(πF *πg.Frame, πClass *πg.Object) (*πg.Object, *πg.BaseException) {\n", b.val(in.Args[0]))
		b.genBody(in.Func)
		fmt.Fprintf(b.out, "}); πE != nil {\n%s\n}\n", unwindStmt(dispatch))

	case ir.OpKWArgs:
		var kws []string
		for i, name := range in.Names {
			kws = append(kws, fmt.Sprintf("{Name: %q, Value: %s}", name, b.val(in.Args[i])))
		}
		fmt.Fprintf(b.out, "%s = πg.KWArgs{%s}\n", b.val(in.Result), strings.Join(kws, ", "))

	case ir.OpImportNative:
		pkg := b.native[in.Module]
		fmt.Fprintf(b.out, "if %s, πE = πg.ImportNativeModule(πF, %q, map[string]reflect.Value{\n", b.val(in.Result), in.Module)
		for i, name := range in.Names {
			member := in.Native[i]
			if name != member {
				fmt.Fprintf(b.out, "%q: reflect.ValueOf(reflect.TypeOf((*%s.%s)(nil)).Elem()),\n", name, pkg, member)
				continue
			}
			fmt.Fprintf(b.out, "%q: reflect.ValueOf(%s.%s),\n", name, pkg, member)
		}
		fmt.Fprintf(b.out, "}); πE != nil {\n%s\n}\n", unwindStmt(dispatch))

	default:
		panic(fmt.Sprintf("go backend: unhandled op %s", in.Op))
	}
}

func (b *goBackend) genCall(in *ir.Instr, dispatch bool) {
	p := primitive(in.Callee)
	args := make([]string, 0, len(in.Args)+1)
	var call string
	if p.Frame {
		for _, a := range in.Args {
			args = append(args, b.val(a))
		}
		call = fmt.Sprintf("πF.%s(%s)", p.Name, strings.Join(args, ", "))
	} else {
		args = append(args, "πF")
		for _, a := range in.Args {
			args = append(args, b.val(a))
		}
		call = fmt.Sprintf("πg.%s(%s)", p.Name, strings.Join(args, ", "))
	}

	result := "_"
	if in.Result != nil {
		result = b.val(in.Result)
	}
	switch p.Result {
	case ir.Plain:
		switch {
		case p.Results == 2:
			fmt.Fprintf(b.out, "%s, %s = %s\n", result, b.val(in.Result2), call)
		case p.HasResult() && in.Result != nil:
			fmt.Fprintf(b.out, "%s = %s\n", result, call)
		default:
			fmt.Fprintf(b.out, "%s\n", call)
		}
	case ir.Fallible:
		if in.Mode == ir.Capture {
			fmt.Fprintf(b.out, "%s, πE = %s\n", result, call)
			return
		}
		fmt.Fprintf(b.out, "if %s, πE = %s; πE != nil {\n%s\n}\n", result, call, unwindStmt(dispatch))
	case ir.ErrOnly:
		if in.Mode == ir.Capture {
			fmt.Fprintf(b.out, "πE = %s\n", call)
			return
		}
		fmt.Fprintf(b.out, "if πE = %s; πE != nil {\n%s\n}\n", call, unwindStmt(dispatch))
	}
}

var goRegisters = map[ir.Register]string{
	ir.RegReturn: "πR", ir.RegExc: "πE", ir.RegSent: "πSent", ir.RegArgs: "πArgs", ir.RegClass: "πClass",
}

var goBuiltins = map[ir.Builtin]string{
	ir.None:           "πg.None",
	ir.True:           "πg.True.ToObject()",
	ir.False:          "πg.False.ToObject()",
	ir.UnboundLocal:   "πg.UnboundLocal",
	ir.EllipsisObj:    "πg.Ellipsis",
	ir.TypeType:       "πg.TypeType.ToObject()",
	ir.StopIteration:  "πg.StopIterationType.ToObject()",
	ir.AssertionError: "πg.AssertionErrorType.ToObject()",
}

func (b *goBackend) val(v ir.Value) string {
	switch v := v.(type) {
	case *ir.Temporary:
		return fmt.Sprintf("πT%d", v.ID)
	case *ir.Local:
		return "µ" + v.Name
	case *ir.Interned:
		return "ß" + v.Name
	case ir.Register:
		return goRegisters[v]
	case ir.Builtin:
		return goBuiltins[v]
	case ir.Nil:
		return "nil"
	case ir.Bool:
		return strconv.FormatBool(bool(v))
	case ir.Int:
		return strconv.FormatInt(int64(v), 10)
	case ir.Str:
		return strconv.Quote(string(v))
	case *ir.Literal:
		return b.literal(v)
	case *ir.Elem:
		return fmt.Sprintf("%s[%d]", b.val(v.Of), v.Index)
	case *ir.Label:
		return strconv.Itoa(v.ID)
	}
	panic(fmt.Sprintf("go backend: unhandled value %T", v))
}

func (b *goBackend) float(f float64) string {
	if math.IsInf(f, 0) {
		b.needMath = true
		if f < 0 { return "math.Inf(-1)" }
		return "math.Inf(1)"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func (b *goBackend) literal(l *ir.Literal) string {
	switch l.Kind {
	case ir.LitInt:
		return fmt.Sprintf("πg.NewInt(%d).ToObject()", l.Int)
	case ir.LitLong:
		bs := make([]string, len(l.Bytes))
		for i, c := range l.Bytes {
			bs[i] = fmt.Sprintf("0x%02x", c)
		}
		return fmt.Sprintf("πg.NewLongFromBytes([]byte{%s}, %t).ToObject()", strings.Join(bs, ", "), l.Neg)
	case ir.LitFloat:
		return fmt.Sprintf("πg.NewFloat(%s).ToObject()", b.float(l.Float))
	case ir.LitComplex:
		return fmt.Sprintf("πg.NewComplex(complex(0, %s)).ToObject()", b.float(l.Float))
	case ir.LitUnicode:
		return fmt.Sprintf("πg.NewUnicode(%s).ToObject()", strconv.Quote(l.Str))
	}
	if l.Interned {
		return "ß" + l.Str + ".ToObject()"
	}
	return fmt.Sprintf("πg.NewStr(%s).ToObject()", strconv.Quote(l.Str))
}

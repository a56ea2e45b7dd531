package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a readable listing of every function in p.
func Dump(w io.Writer, p *Program) {
	fmt.Fprintf(w, "module %s (%s)\n", p.Module, p.Filename)
	if len(p.Interned) > 0 {
		fmt.Fprintf(w, "interned %s\n", strings.Join(p.Interned, " "))
	}
	for _, f := range p.Funcs() {
		fmt.Fprintln(w)
		DumpFunc(w, f)
	}
}

var funcKinds = [...]string{FuncModule: "module", FuncDef: "def", FuncClass: "class"}

func DumpFunc(w io.Writer, f *Func) {
	var params []string
	for _, p := range f.Params {
		if p.HasDefault {
			params = append(params, p.Name+"=")
		} else {
			params = append(params, p.Name)
		}
	}
	if f.Vararg != "" {
		params = append(params, "*"+f.Vararg)
	}
	if f.Kwarg != "" {
		params = append(params, "**"+f.Kwarg)
	}
	kind := funcKinds[f.Kind]
	if f.IsGenerator {
		kind = "generator"
	}
	fmt.Fprintf(w, "%s %s(%s) depth=%d\n", kind, f.Name, strings.Join(params, ", "), f.Depth)
	for _, l := range f.Locals {
		if l.Param >= 0 {
			fmt.Fprintf(w, "  local %s = arg[%d]\n", l.Name, l.Param)
		} else {
			fmt.Fprintf(w, "  local %s = unbound\n", l.Name)
		}
	}
	for _, t := range f.Temps {
		fmt.Fprintf(w, "  temp %s\n", t)
	}
	if f.UsesDispatch() {
		var states []string
		for _, tr := range f.Dispatch() {
			if tr.Target == nil {
				states = append(states, fmt.Sprintf("%d->entry", tr.State))
			} else {
				states = append(states, fmt.Sprintf("%d->%s", tr.State, tr.Target))
			}
		}
		fmt.Fprintf(w, "  dispatch %s\n", strings.Join(states, " "))
	}
	for _, b := range f.Blocks {
		if b.Label != nil {
			fmt.Fprintf(w, "%s:\n", b.Label)
		}
		for _, in := range b.Instrs {
			fmt.Fprintf(w, "    %s\n", in)
		}
	}
}

func (in *Instr) String() string {
	var sb strings.Builder
	if in.Result != nil {
		sb.WriteString(in.Result.String())
		if in.Result2 != nil {
			sb.WriteString(", " + in.Result2.String())
		}
		sb.WriteString(" = ")
	}
	sb.WriteString(in.Op.String())
	switch in.Op {
	case OpCall:
		sb.WriteString(" " + in.Callee)
		if in.Mode == Capture {
			sb.WriteString("?")
		}
	case OpLine:
		fmt.Fprintf(&sb, " %d", in.Line)
	case OpMakeFunction, OpClassBody:
		sb.WriteString(" " + in.Func.Name)
	case OpKWArgs:
		sb.WriteString(" " + strings.Join(in.Names, ","))
	case OpImportNative:
		fmt.Fprintf(&sb, " %q %s", in.Module, strings.Join(in.Native, ","))
	}
	var args []string
	for _, a := range in.Args {
		if a == nil {
			args = append(args, "-")
			continue
		}
		args = append(args, a.String())
	}
	if len(args) > 0 {
		sb.WriteString(" " + strings.Join(args, ", "))
	}
	if in.Target != nil {
		sb.WriteString(" -> " + in.Target.String())
	}
	return sb.String()
}

package codegen

import (
	"strings"

	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/imports"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/util"
)

// nativeTypePrefix marks a member that names a Go type rather than a value.
const nativeTypePrefix = "Type_"

func (ctx *Context) codegenImport(node *ast.Node) {
	recs, err := ctx.importer.Visit(node)
	if err != nil {
		ctx.fail(node.Tok, err)
	}
	for _, imp := range recs {
		if imp.IsNative {
			ctx.codegenNativeImport(imp)
			continue
		}
		mods := ctx.call("ImportModule", ir.Str(imp.Name))
		last := strings.Count(imp.Name, ".")
		for _, b := range imp.Bindings {
			switch b.Kind {
			case imports.BindModule:
				ctx.bindVar(imp.Tok, b.Alias, &ir.Elem{Of: mods, Index: b.PathIndex()})
			case imports.BindMember:
				v := ctx.call("GetAttr", &ir.Elem{Of: mods, Index: last}, ctx.intern(b.Value))
				ctx.bindVar(imp.Tok, b.Alias, v)
				ctx.release(v)
			}
		}
		ctx.release(mods)
	}
}

// codegenNativeImport wraps members of a Go package in a module object and
// binds the requested names from it.
func (ctx *Context) codegenNativeImport(imp imports.Import) {
	if ctx.cfg.Backend == config.BackendQBE {
		ctx.errorf(util.LoweringError, imp.Tok, "native import of %s is not supported by the qbe backend", imp.Name)
	}
	path := strings.ReplaceAll(imp.Name, ".", "/")
	if len(ctx.cfg.NativePackages) > 0 && !containsString(ctx.cfg.NativePackages, path) {
		ctx.errorf(util.LoweringError, imp.Tok, "native package %s is not in the allowed list", path)
	}
	in := &ir.Instr{Op: ir.OpImportNative, Module: path}
	seen := make(map[string]bool)
	for _, b := range imp.Bindings {
		if seen[b.Value] { continue }
		seen[b.Value] = true
		in.Names = append(in.Names, b.Value)
		in.Native = append(in.Native, strings.TrimPrefix(b.Value, nativeTypePrefix))
	}
	if !ctx.native[path] {
		ctx.native[path] = true
		ctx.prog.NativeImports = append(ctx.prog.NativeImports, path)
	}

	mod := ctx.newTemp(ir.TypeObject)
	in.Result = mod
	ctx.addInstr(in)
	for _, b := range imp.Bindings {
		v := ctx.call("GetAttr", mod, ctx.intern(b.Value))
		ctx.bindVar(imp.Tok, b.Alias, v)
		ctx.release(v)
	}
	ctx.release(mod)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s { return true }
	}
	return false
}

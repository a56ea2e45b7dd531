package codegen

import (
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/scope"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
)

var builtinNames = map[string]bool{
	"abs": true, "all": true, "any": true, "bool": true, "callable": true, "chr": true,
	"dict": true, "dir": true, "enumerate": true, "filter": true, "float": true,
	"getattr": true, "hasattr": true, "hash": true, "id": true, "input": true, "int": true,
	"isinstance": true, "issubclass": true, "iter": true, "len": true, "list": true,
	"long": true, "map": true, "max": true, "min": true, "next": true, "object": true,
	"open": true, "ord": true, "range": true, "reduce": true, "repr": true, "set": true,
	"setattr": true, "sorted": true, "str": true, "sum": true, "super": true, "tuple": true,
	"type": true, "unicode": true, "xrange": true, "zip": true,
}

// functionVar finds name in the function blocks enclosing from, skipping
// class bodies and stopping at the module.
func functionVar(from *Block, name string) (*Block, *scope.Var) {
	for blk := from; blk != nil && blk.kind != moduleBlock; blk = blk.parent {
		if blk.kind == classBlock { continue }
		if v, ok := blk.scope.Vars.Lookup(name); ok {
			return blk, v
		}
	}
	return nil, nil
}

// resolveName lowers a read of name in the current block.
func (ctx *Context) resolveName(tok token.Token, name string) ir.Value {
	b := ctx.blk
	switch b.kind {
	case classBlock:
		if b.scope.IsGlobal(name) {
			return ctx.call("LoadGlobal", ctx.intern(name))
		}
		var fallback ir.Value = ir.Nil{}
		if owner, v := functionVar(b.parent, name); v != nil && v.Kind != scope.Global {
			fallback = &ir.Local{Name: name, Depth: owner.depth}
		}
		return ctx.call("LoadClass", ir.RegClass, ctx.intern(name), fallback)

	case functionBlock:
		owner, v := functionVar(b, name)
		if v == nil || v.Kind == scope.Global {
			return ctx.call("LoadGlobal", ctx.intern(name))
		}
		local := &ir.Local{Name: name, Depth: owner.depth}
		ctx.call("CheckLocal", local, ir.Str(name))
		return local
	}
	return ctx.call("LoadGlobal", ctx.intern(name))
}

// bindVar stores value under name in the current block.
func (ctx *Context) bindVar(tok token.Token, name string, value ir.Value) {
	b := ctx.blk
	if builtinNames[name] && b.kind != classBlock {
		util.Warn(ctx.cfg, config.WarnShadowBuiltin, tok, "'%s' shadows a builtin", name)
	}
	switch b.kind {
	case classBlock:
		if b.scope.IsGlobal(name) {
			ctx.call("StoreGlobal", ctx.intern(name), value)
			return
		}
		ctx.call("StoreClass", ir.RegClass, ctx.intern(name), value)

	case functionBlock:
		v, ok := b.scope.Vars.Lookup(name)
		if !ok {
			ctx.errorf(util.LoweringError, tok, "binding of unclassified name '%s'", name)
		}
		if v.Kind == scope.Global {
			ctx.call("StoreGlobal", ctx.intern(name), value)
			return
		}
		ctx.move(&ir.Local{Name: name, Depth: b.depth}, value)

	default:
		ctx.call("StoreGlobal", ctx.intern(name), value)
	}
}

// delVar unbinds name in the current block.
func (ctx *Context) delVar(tok token.Token, name string) {
	b := ctx.blk
	switch b.kind {
	case classBlock:
		if b.scope.IsGlobal(name) {
			ctx.call("DelGlobal", ctx.intern(name))
			return
		}
		ctx.call("DelClass", ir.RegClass, ctx.intern(name))

	case functionBlock:
		v, ok := b.scope.Vars.Lookup(name)
		if !ok {
			ctx.errorf(util.ClassificationError, tok, "cannot delete nonexistent local '%s'", name)
		}
		if v.Kind == scope.Global {
			ctx.call("DelGlobal", ctx.intern(name))
			return
		}
		local := &ir.Local{Name: name, Depth: b.depth}
		ctx.call("CheckLocal", local, ir.Str(name))
		ctx.move(local, ir.UnboundLocal)

	default:
		ctx.call("DelGlobal", ctx.intern(name))
	}
}

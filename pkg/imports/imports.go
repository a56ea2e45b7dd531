// Package imports turns import statements into resolved import records and
// scans a module for __future__ directives.
package imports

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/token"
	"github.com/xplshn/gpyc/pkg/util"
	"gopkg.in/yaml.v3"
)

// NativePrefix marks a module path that names a Go package.
const NativePrefix = "__go__"

type BindingKind int

const (
	// BindModule binds Alias to the module Value, one element of the dotted
	// path of the imported module.
	BindModule BindingKind = iota
	// BindMember binds Alias to attribute Value of the imported module.
	BindMember
)

func (k BindingKind) String() string {
	if k == BindModule { return "module" }
	return "member"
}

type Binding struct {
	Kind  BindingKind
	Alias string
	Value string
}

// Import is one module to load together with the names bound from it. A
// single statement may produce several.
type Import struct {
	Tok      token.Token
	Name     string
	IsNative bool
	Bindings []Binding
}

// PathIndex returns the position of module within the dotted path of the
// imported module: 0 for "a" when importing "a.b.c".
func (b Binding) PathIndex() int { return strings.Count(b.Value, ".") }

// Resolver locates modules by name.
type Resolver interface {
	// Resolve returns the fully qualified name of a module imported as name
	// with the given relative level.
	Resolve(name string, level int, absolute bool) (string, error)
	// IsModule reports whether fullName names a module.
	IsModule(fullName string) bool
}

// TableResolver resolves against a fixed list of known module names.
// Package is the package of the module being compiled, "" at top level.
type TableResolver struct {
	Package string
	modules map[string]bool
}

func NewTableResolver(pkg string, modules []string) *TableResolver {
	r := &TableResolver{Package: pkg, modules: make(map[string]bool)}
	for _, m := range modules {
		r.Add(m)
	}
	return r
}

// Add registers a module and every package on its path.
func (r *TableResolver) Add(name string) {
	parts := strings.Split(name, ".")
	for i := range parts {
		r.modules[strings.Join(parts[:i+1], ".")] = true
	}
}

// Modules returns the known module names, sorted.
func (r *TableResolver) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *TableResolver) IsModule(fullName string) bool { return r.modules[fullName] }

func (r *TableResolver) Resolve(name string, level int, absolute bool) (string, error) {
	if level > 0 {
		parts := []string{}
		if r.Package != "" {
			parts = strings.Split(r.Package, ".")
		}
		if level-1 > len(parts) {
			return "", fmt.Errorf("attempted relative import beyond toplevel package")
		}
		base := strings.Join(parts[:len(parts)-(level-1)], ".")
		full := name
		if base != "" && name != "" {
			full = base + "." + name
		} else if base != "" {
			full = base
		}
		if !r.modules[full] {
			return "", fmt.Errorf("no module named %s", full)
		}
		return full, nil
	}
	if !absolute && r.Package != "" {
		if rel := r.Package + "." + name; r.modules[rel] {
			return rel, nil
		}
	}
	if !r.modules[name] {
		return "", fmt.Errorf("no module named %s", name)
	}
	return name, nil
}

type tableFile struct {
	Package string   `yaml:"package"`
	Modules []string `yaml:"modules"`
}

// LoadTable reads a YAML module table:
//
//	package: app.sub
//	modules: [app.sub.helpers, os, os.path]
func LoadTable(r io.Reader) (*TableResolver, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var f tableFile
	if err := decoder.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("import table: %w", err)
	}
	return NewTableResolver(f.Package, f.Modules), nil
}

// Visitor converts import statements into records.
type Visitor struct {
	Resolver Resolver
	Future   FutureFeatures
	// NativeAllowed gates `from __go__... import` statements.
	NativeAllowed bool
}

// Visit returns the records for an Import or ImportFrom statement.
func (v *Visitor) Visit(n *ast.Node) ([]Import, error) {
	switch d := n.Data.(type) {
	case ast.ImportNode:
		return v.visitImport(n, d)
	case ast.ImportFromNode:
		return v.visitImportFrom(n, d)
	}
	return nil, util.Errorf(util.LoweringError, n.Tok, "%s is not an import statement", n.Type)
}

func (v *Visitor) visitImport(n *ast.Node, d ast.ImportNode) ([]Import, error) {
	var out []Import
	for _, alias := range d.Names {
		if alias.Name == NativePrefix || strings.HasPrefix(alias.Name, NativePrefix+".") {
			return nil, util.Errorf(util.LoweringError, n.Tok, "for native imports use 'from %s.pkg import member'", NativePrefix)
		}
		full, err := v.Resolver.Resolve(alias.Name, 0, v.Future.AbsoluteImport)
		if err != nil {
			return nil, util.Errorf(util.ImportResolutionError, n.Tok, "%v", err)
		}
		imp := Import{Tok: n.Tok, Name: full}
		if alias.AsName != "" {
			imp.Bindings = []Binding{{BindModule, alias.AsName, full}}
		} else {
			// `import a.b` binds a; resolution may have prefixed the package.
			prefixLen := strings.Count(full, ".") - strings.Count(alias.Name, ".")
			parts := strings.Split(full, ".")
			head := strings.Join(parts[:prefixLen+1], ".")
			imp.Bindings = []Binding{{BindModule, parts[prefixLen], head}}
		}
		out = append(out, imp)
	}
	return out, nil
}

func (v *Visitor) visitImportFrom(n *ast.Node, d ast.ImportFromNode) ([]Import, error) {
	if d.Module == "__future__" { return nil, nil }
	for _, alias := range d.Names {
		if alias.Name == "*" {
			return nil, util.Errorf(util.LoweringError, n.Tok, "wildcard member import is not implemented")
		}
	}
	if d.Level == 0 && strings.HasPrefix(d.Module, NativePrefix+".") {
		if !v.NativeAllowed {
			return nil, util.Errorf(util.LoweringError, n.Tok, "native imports are disabled")
		}
		imp := Import{Tok: n.Tok, Name: strings.TrimPrefix(d.Module, NativePrefix+"."), IsNative: true}
		for _, alias := range d.Names {
			imp.Bindings = append(imp.Bindings, Binding{BindMember, bound(alias), alias.Name})
		}
		return []Import{imp}, nil
	}

	full, err := v.Resolver.Resolve(d.Module, d.Level, v.Future.AbsoluteImport)
	if err != nil {
		return nil, util.Errorf(util.ImportResolutionError, n.Tok, "%v", err)
	}
	var out []Import
	members := Import{Tok: n.Tok, Name: full}
	for _, alias := range d.Names {
		sub := full + "." + alias.Name
		if full == "" {
			sub = alias.Name
		}
		if v.Resolver.IsModule(sub) {
			out = append(out, Import{Tok: n.Tok, Name: sub, Bindings: []Binding{{BindModule, bound(alias), sub}}})
			continue
		}
		members.Bindings = append(members.Bindings, Binding{BindMember, bound(alias), alias.Name})
	}
	if len(members.Bindings) > 0 {
		out = append(out, members)
	}
	return out, nil
}

func bound(alias *ast.Alias) string {
	if alias.AsName != "" { return alias.AsName }
	return alias.Name
}

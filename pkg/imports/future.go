package imports

import (
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/util"
)

// FutureFeatures records the __future__ directives that change how a module
// is compiled. Features that are always on in Python 2.7 are accepted but not
// recorded.
type FutureFeatures struct {
	AbsoluteImport  bool
	Division        bool
	PrintFunction   bool
	UnicodeLiterals bool
}

var futureFeatures = map[string]func(*FutureFeatures){
	"absolute_import":  func(f *FutureFeatures) { f.AbsoluteImport = true },
	"division":         func(f *FutureFeatures) { f.Division = true },
	"generators":       nil,
	"nested_scopes":    nil,
	"print_function":   func(f *FutureFeatures) { f.PrintFunction = true },
	"unicode_literals": func(f *FutureFeatures) { f.UnicodeLiterals = true },
	"with_statement":   nil,
}

func isFuture(n *ast.Node) bool {
	d, ok := n.Data.(ast.ImportFromNode)
	return ok && d.Module == "__future__" && d.Level == 0
}

func isDocString(n *ast.Node) bool {
	d, ok := n.Data.(ast.ExprStmtNode)
	return ok && d.Value != nil && d.Value.Type == ast.Str
}

// ParseFutureFeatures collects the __future__ imports at the top of module.
// They may only be preceded by a docstring; one found anywhere else is a
// "late future import" error.
func ParseFutureFeatures(module *ast.Node) (FutureFeatures, error) {
	var ff FutureFeatures
	body := module.Data.(ast.ModuleNode).Body
	i := 0
	if len(body) > 0 && isDocString(body[0]) {
		i++
	}
	for ; i < len(body) && isFuture(body[i]); i++ {
		for _, alias := range body[i].Data.(ast.ImportFromNode).Names {
			if alias.Name == "braces" {
				return ff, util.Errorf(util.LoweringError, body[i].Tok, "not a chance")
			}
			set, ok := futureFeatures[alias.Name]
			if !ok {
				return ff, util.Errorf(util.LoweringError, body[i].Tok, "future feature %s is not defined", alias.Name)
			}
			if set != nil {
				set(&ff)
			}
		}
	}

	var late *ast.Node
	ast.WalkList(body[i:], func(n *ast.Node) bool {
		if late == nil && isFuture(n) {
			late = n
		}
		return late == nil
	})
	if late != nil {
		return ff, util.Errorf(util.LoweringError, late.Tok, "late future import")
	}
	return ff, nil
}

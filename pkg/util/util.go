package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/token"
)

// Output receives every diagnostic. Tests swap it for a buffer.
var Output io.Writer = os.Stderr

// ErrorKind classifies a fatal compile error.
type ErrorKind int

const (
	// ClassificationError is raised by the scope pre-pass: duplicate
	// parameters, global/local conflicts, deleting an unassigned local, a
	// generator returning a value.
	ClassificationError ErrorKind = iota
	// LoweringError is raised while walking the tree: unsupported operators or
	// nodes, misplaced bare except, rejected imports, late futures.
	LoweringError
	// ImportResolutionError reports a module the resolver could not find.
	ImportResolutionError
)

func (k ErrorKind) String() string {
	switch k {
	case ClassificationError:
		return "classification error"
	case LoweringError:
		return "lowering error"
	case ImportResolutionError:
		return "import error"
	}
	return "error"
}

// CompileError is the single error a failed compilation reports.
type CompileError struct {
	Kind ErrorKind
	Tok  token.Token
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Tok.Line, e.Kind, e.Msg)
}

// Errorf builds a CompileError positioned at tok.
func Errorf(kind ErrorKind, tok token.Token, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a CompileError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Kind == kind
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var sourceFiles []SourceFileRecord

// SetSourceFiles stores the source code for all input files for rich error messages
func SetSourceFiles(files []SourceFileRecord) { sourceFiles = files }

// SourceLine returns line n (1-based) of the given file, or "" when the
// source is not available.
func SourceLine(fileIndex, n int) string {
	if fileIndex < 0 || fileIndex >= len(sourceFiles) || n <= 0 { return "" }
	lines := strings.Split(string(sourceFiles[fileIndex].Content), "\n")
	if n > len(lines) { return "" }
	return strings.TrimRight(lines[n-1], "\r")
}

func findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) {
		return "<input>", tok.Line, tok.Column
	}
	return sourceFiles[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func printErrorLine(w io.Writer, tok token.Token) {
	src := SourceLine(tok.FileIndex, tok.Line)
	if src == "" { return }
	fmt.Fprintf(w, "  %s\n", src)
	col := tok.Column
	if col < 1 {
		col = 1
	}
	fmt.Fprintf(w, "  %s\033[32m^", strings.Repeat(" ", col-1))
	if tok.Len > 1 {
		fmt.Fprint(w, strings.Repeat("~", tok.Len-1))
	}
	fmt.Fprintln(w, "\033[0m")
}

// Report prints err as a positioned diagnostic. Errors that are not
// CompileErrors are printed without a location.
func Report(err error) {
	var ce *CompileError
	if !errors.As(err, &ce) {
		fmt.Fprintf(Output, "gpyc: \033[31merror:\033[0m %v\n", err)
		return
	}
	filename, line, col := findFileAndLine(ce.Tok)
	fmt.Fprintf(Output, "%s:%d:%d: \033[31m%s:\033[0m %s\n", filename, line, col, ce.Kind, ce.Msg)
	printErrorLine(Output, ce.Tok)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if cfg == nil || !cfg.IsWarningEnabled(wt) { return }
	filename, line, col := findFileAndLine(tok)
	fmt.Fprintf(Output, "%s:%d:%d: \033[33mwarning:\033[0m ", filename, line, col)
	fmt.Fprintf(Output, format, args...)
	fmt.Fprintf(Output, " [-W%s]\n", cfg.Warnings[wt].Name)
	printErrorLine(Output, tok)
}

// Info prints a driver progress line unless quiet is set.
func Info(quiet bool, format string, args ...interface{}) {
	if quiet { return }
	fmt.Fprintf(Output, format, args...)
	fmt.Fprintln(Output)
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goforj/godump"
	"github.com/xplshn/gpyc/pkg/ast"
	"github.com/xplshn/gpyc/pkg/cli"
	"github.com/xplshn/gpyc/pkg/codegen"
	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/imports"
	"github.com/xplshn/gpyc/pkg/ir"
	"github.com/xplshn/gpyc/pkg/util"
)

const defaultProject = "gpyc.yml"

func main() {
	app := cli.NewApp("gpyc")
	app.InputHint = "[module.json] ..."
	app.Description = "Compiles Python 2.7 module trees, dumped as JSON, to Go source for the Grumpy runtime or to native code through QBE."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/gpyc>"
	app.Since = 2025

	var (
		outFile     string
		backendName string
		qbeTarget   string
		pkgName     string
		runtimeImp  string
		projectFile string
		moduleName  string
		modules     []string
		tables      []string
		searchPath  []string
		dumpAST     bool
		dumpIR      bool
		quiet       bool
		force       bool
		wall        bool
		wnoall      bool
	)

	flags := app.FlagSet
	flags.String(&outFile, "output", "o", "", "Place the output into <file> ('-' for stdout).", "file")
	flags.String(&projectFile, "config", "c", "", "Read settings from a project file (default ./"+defaultProject+" when present).", "file")
	flags.String(&moduleName, "module", "n", "", "Dotted name of the module being compiled.", "name")
	flags.Bool(&quiet, "quiet", "q", false, "Do not print progress messages.")
	flags.Bool(&force, "force", "f", false, "Rewrite outputs even when their fingerprint matches.")
	flags.Bool(&wall, "Wall", "", false, "Enable all warnings.")
	flags.Bool(&wnoall, "Wno-all", "", false, "Disable all warnings.")

	flags.Section("Code Generation")
	flags.String(&backendName, "backend", "b", "", "Select the code generator (go, qbe).", "backend")
	flags.String(&qbeTarget, "target", "t", "", "Set the QBE target ABI.", "target")
	flags.String(&pkgName, "package", "p", "", "Go package name of the generated file.", "name")
	flags.String(&runtimeImp, "runtime", "r", "", "Import path of the Python runtime package.", "path")

	flags.Section("Imports")
	flags.List(&modules, "known-module", "m", []string{}, "Declare an importable module.", "module")
	flags.List(&tables, "module-table", "M", []string{}, "Load importable modules from a YAML table.", "file")
	flags.List(&searchPath, "search-path", "I", []string{}, "Add a directory of .py modules to the import path.", "path")

	flags.Section("Debugging")
	flags.Bool(&dumpAST, "dump-ast", "", false, "Dump the decoded syntax tree and exit.")
	flags.Bool(&dumpIR, "dump-ir", "d", false, "Dump the intermediate representation and exit.")
	flags.Section("")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(flags)

	app.Action = func(inputFiles []string) error {
		if len(inputFiles) == 0 {
			err := errors.New("no input files specified")
			util.Report(err)
			return err
		}
		if moduleName != "" && len(inputFiles) > 1 {
			err := errors.New("--module applies to a single input file")
			util.Report(err)
			return err
		}

		// Project file first so command-line switches override it
		if projectFile == "" {
			if _, err := os.Stat(defaultProject); err == nil {
				projectFile = defaultProject
			}
		}
		if projectFile != "" {
			p, err := config.LoadProject(projectFile)
			if err == nil {
				err = cfg.ApplyProject(p)
			}
			if err != nil {
				util.Report(err)
				return err
			}
		}
		if wall {
			cfg.ApplyFlag("-Wall")
		}
		if wnoall {
			cfg.ApplyFlag("-Wno-all")
		}
		cfg.ApplyFlagGroups(warningFlags, featureFlags)

		if backendName != "" {
			if err := cfg.SetBackend(backendName); err != nil {
				util.Report(err)
				return err
			}
		}
		if runtimeImp != "" {
			cfg.RuntimeImport = runtimeImp
		}
		if pkgName != "" {
			cfg.PackageName = pkgName
		}
		if qbeTarget == "" {
			qbeTarget = cfg.QbeTarget
		}
		if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, qbeTarget); err != nil && cfg.Backend == config.BackendQBE {
			util.Report(err)
			return err
		}
		cfg.Modules = append(cfg.Modules, modules...)
		cfg.SearchPath = append(cfg.SearchPath, searchPath...)

		resolver, err := buildResolver(cfg, tables)
		if err != nil {
			util.Report(err)
			return err
		}

		var failed bool
		for i, input := range inputFiles {
			name := moduleName
			if name == "" {
				name = moduleNameFor(input)
			}
			opts := unitOptions{
				input: input, index: i, module: name, outFile: outFile,
				dumpAST: dumpAST, dumpIR: dumpIR, quiet: quiet, force: force,
			}
			if err := compileUnit(cfg, resolver, opts); err != nil {
				util.Report(err)
				failed = true
			}
		}
		if failed {
			return errors.New("compilation failed")
		}
		util.Info(quiet, "Done!")
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

type unitOptions struct {
	input   string
	index   int
	module  string
	outFile string
	dumpAST bool
	dumpIR  bool
	quiet   bool
	force   bool
}

func compileUnit(cfg *config.Config, base *imports.TableResolver, o unitOptions) error {
	data, err := os.ReadFile(o.input)
	if err != nil {
		return fmt.Errorf("could not read file '%s': %w", o.input, err)
	}
	util.SetSourceFiles(sourceRecords(o.input, o.index))

	util.Info(o.quiet, "Decoding %s...", o.input)
	root, err := ast.Decode(bytes.NewReader(data), o.index)
	if err != nil {
		return fmt.Errorf("%s: %w", o.input, err)
	}
	if o.dumpAST {
		godump.Dump(root)
		return nil
	}

	resolver := imports.NewTableResolver(packageOf(o.module, base.Package), base.Modules())
	filename := strings.TrimSuffix(o.input, ".json")

	util.Info(o.quiet, "Lowering module '%s'...", o.module)
	prog, err := codegen.Compile(root, o.module, filename, cfg, resolver)
	if err != nil {
		return err
	}
	if o.dumpIR {
		ir.Dump(os.Stdout, prog)
		return nil
	}

	backend, err := codegen.NewBackend(cfg)
	if err != nil {
		return err
	}
	out := o.outFile
	if out == "" {
		out = defaultOutput(o.module, cfg.Backend)
	}
	header := fingerprintHeader(cfg, data)
	if out != "-" && !o.force && upToDate(out, header) {
		util.Info(o.quiet, "%s is up to date", out)
		return nil
	}

	util.Info(o.quiet, "Generating code with '%s' backend...", cfg.Backend)
	generated, err := backend.Generate(prog, cfg)
	if err != nil {
		return fmt.Errorf("backend code generation failed: %w", err)
	}
	result := append([]byte(header), generated.Bytes()...)
	if out == "-" {
		_, err = os.Stdout.Write(result)
		return err
	}
	util.Info(o.quiet, "Writing '%s'...", out)
	return os.WriteFile(out, result, 0644)
}

// sourceRecords loads the .py file next to a dumped tree, if any, so
// diagnostics can quote source lines.
func sourceRecords(input string, index int) []util.SourceFileRecord {
	records := make([]util.SourceFileRecord, index+1)
	for i := range records {
		records[i].Name = "<input>"
	}
	pyFile := strings.TrimSuffix(input, ".json")
	if !strings.HasSuffix(pyFile, ".py") {
		pyFile += ".py"
	}
	records[index].Name = pyFile
	if content, err := os.ReadFile(pyFile); err == nil {
		records[index].Content = []rune(string(content))
	}
	return records
}

// moduleNameFor derives a module name from an input path: "pkg/foo.py.json"
// compiles as "foo".
func moduleNameFor(input string) string {
	name := filepath.Base(input)
	name = strings.TrimSuffix(name, ".json")
	name = strings.TrimSuffix(name, ".py")
	return name
}

// packageOf returns the package a module belongs to. An explicit package from
// a module table wins.
func packageOf(module, tablePackage string) string {
	if tablePackage != "" {
		return tablePackage
	}
	if i := strings.LastIndex(module, "."); i >= 0 {
		return module[:i]
	}
	return ""
}

func defaultOutput(module, backend string) string {
	base := module[strings.LastIndex(module, ".")+1:]
	if backend == config.BackendQBE {
		return base + ".s"
	}
	return base + ".go"
}

func buildResolver(cfg *config.Config, tables []string) (*imports.TableResolver, error) {
	resolver := imports.NewTableResolver("", cfg.Modules)
	for _, path := range tables {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		table, err := imports.LoadTable(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, m := range table.Modules() {
			resolver.Add(m)
		}
		if table.Package != "" {
			resolver.Package = table.Package
		}
	}
	for _, dir := range cfg.SearchPath {
		found, err := scanSearchPath(dir)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			resolver.Add(m)
		}
	}
	return resolver, nil
}

// scanSearchPath lists the modules under dir: "a/b.py" is a.b and
// "a/__init__.py" is the package a.
func scanSearchPath(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".py" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
		rel = strings.TrimSuffix(strings.TrimSuffix(rel, "__init__"), "/")
		if rel != "" {
			found = append(found, strings.ReplaceAll(rel, "/", "."))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search path %s: %w", dir, err)
	}
	sort.Strings(found)
	return found, nil
}

// fingerprintHeader hashes the input tree together with every setting that
// changes the generated output.
func fingerprintHeader(cfg *config.Config, input []byte) string {
	h := xxhash.New()
	h.Write(input)
	fmt.Fprintf(h, "\x00%s\x00%s\x00%s\x00%s", cfg.Backend, cfg.RuntimeImport, cfg.PackageName, cfg.QbeTarget)
	var switches []string
	for _, info := range cfg.Features {
		switches = append(switches, fmt.Sprintf("F%s=%v", info.Name, info.Enabled))
	}
	for _, info := range cfg.Warnings {
		switches = append(switches, fmt.Sprintf("W%s=%v", info.Name, info.Enabled))
	}
	sort.Strings(switches)
	fmt.Fprintf(h, "\x00%s\x00%s\x00%s", strings.Join(switches, ","), strings.Join(cfg.Modules, ","), strings.Join(cfg.NativePackages, ","))

	if cfg.Backend == config.BackendQBE {
		return fmt.Sprintf("# gpyc:fingerprint %016x\n\n", h.Sum64())
	}
	return fmt.Sprintf("// Code generated by gpyc. DO NOT EDIT.\n// gpyc:fingerprint %016x\n\n", h.Sum64())
}

func upToDate(path, header string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(header))
	n, _ := f.Read(buf)
	return string(buf[:n]) == header
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/gpyc/pkg/cli"
	"gopkg.in/yaml.v3"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatNativeImports Feature = iota
	FeatLineNumbers
	FeatLineComments
	FeatBigLiterals
	FeatMultiWith
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnShadowBuiltin
	WarnFinallyGenerator
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	BackendGo  = "go"
	BackendQBE = "qbe"

	DefaultRuntime = "grumpy"
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	Backend        string
	RuntimeImport  string
	PackageName    string
	QbeTarget      string
	TargetArch     string
	WordSize       int
	WordType       string
	SearchPath     []string
	Modules        []string
	NativePackages []string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:      make(map[Feature]Info),
		Warnings:      make(map[Warning]Info),
		FeatureMap:    make(map[string]Feature),
		WarningMap:    make(map[string]Warning),
		Backend:       BackendGo,
		RuntimeImport: DefaultRuntime,
	}

	features := map[Feature]Info{
		FeatNativeImports: {"native-imports", true, "Allow `from __go__... import` bindings to Go packages."},
		FeatLineNumbers:   {"line-numbers", true, "Record the source line before every statement."},
		FeatLineComments:  {"line-comments", true, "Annotate generated Go code with the originating source line."},
		FeatBigLiterals:   {"big-literals", true, "Allow integer literals that do not fit in 64 bits."},
		FeatMultiWith:     {"multi-with", true, "Accept `with a, b:` by nesting one `with` per item."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode:  {"unreachable-code", true, "Warn about code that will never be executed."},
		WarnShadowBuiltin:    {"shadow-builtin", false, "Warn when a binding hides a builtin name."},
		WarnFinallyGenerator: {"finally-generator", true, "Warn about `yield` inside `try` with `finally`; the finally does not run if the generator is abandoned."},
		WarnExtra:            {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures the QBE target. An empty qbeTarget selects the host.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) error {
	if qbeTarget == "" {
		qbeTarget = libqbe.DefaultTarget(goos, goarch)
	}
	c.QbeTarget, c.TargetArch = qbeTarget, goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType = 8, "l"
	case "arm", "rv32":
		c.WordSize, c.WordType = 4, "w"
	default:
		c.WordSize, c.WordType = 8, "l"
		return fmt.Errorf("unrecognized or unsupported QBE target '%s'", c.QbeTarget)
	}
	return nil
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

func (c *Config) SetBackend(name string) error {
	switch name {
	case BackendGo, BackendQBE:
		c.Backend = name
		return nil
	}
	return fmt.Errorf("unsupported backend '%s'. Supported: 'go', 'qbe'", name)
}

// ApplyFlag applies one -W/-F style switch such as "-Wall", "-Wno-extra" or
// "-Fno-multi-with". Unknown names are reported.
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	var isWarning bool
	switch {
	case strings.HasPrefix(trimmed, "W"):
		isWarning = true
		trimmed = trimmed[1:]
	case strings.HasPrefix(trimmed, "F"):
		trimmed = trimmed[1:]
	default:
		return fmt.Errorf("unrecognized flag '%s'", flag)
	}
	name := strings.TrimPrefix(trimmed, "no-")
	enable := name == trimmed

	if isWarning && name == "all" {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}
	if isWarning {
		w, ok := c.WarningMap[name]
		if !ok { return fmt.Errorf("unknown warning '%s'", name) }
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok { return fmt.Errorf("unknown feature '%s'", name) }
	c.SetFeature(f, enable)
	return nil
}

// SetupFlagGroups registers -W<name>/-Wno-<name> and -F<name>/-Fno-<name>
// switches on fs. The returned entries are indexed by Warning and Feature.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		warningFlags = append(warningFlags, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "W", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		})
	}
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		featureFlags = append(featureFlags, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "F", Usage: info.Description,
			Enabled: new(bool), Disabled: new(bool),
		})
	}
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings.", "warning flag", "Available Warnings:", warningFlags)
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific language features.", "feature flag", "Available Features:", featureFlags)
	return warningFlags, featureFlags
}

// ApplyFlagGroups copies the parsed switch state into the configuration.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}

// Project is the contents of a gpyc.yml project file.
type Project struct {
	Backend        string          `yaml:"backend"`
	Runtime        string          `yaml:"runtime"`
	Package        string          `yaml:"package"`
	Target         string          `yaml:"target"`
	Features       map[string]bool `yaml:"features"`
	Warnings       map[string]bool `yaml:"warnings"`
	SearchPath     []string        `yaml:"search_path"`
	Modules        []string        `yaml:"modules"`
	NativePackages []string        `yaml:"native_packages"`
}

// LoadProject parses a project file from disk.
func LoadProject(path string) (*Project, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("project: open %s: %w", path, err)
	}
	defer file.Close()
	return DecodeProject(file, path)
}

// DecodeProject parses project YAML; name is used in error messages.
func DecodeProject(r io.Reader, name string) (*Project, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var p Project
	if err := decoder.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, fmt.Errorf("project: parse %s: %w", name, err)
	}
	return &p, nil
}

// ApplyProject overlays the project settings on c. Command-line switches are
// applied afterwards so they win.
func (c *Config) ApplyProject(p *Project) error {
	if p.Backend != "" {
		if err := c.SetBackend(p.Backend); err != nil { return err }
	}
	if p.Runtime != "" {
		c.RuntimeImport = p.Runtime
	}
	if p.Package != "" {
		c.PackageName = p.Package
	}
	if p.Target != "" {
		c.QbeTarget = p.Target
	}
	for name, on := range p.Features {
		f, ok := c.FeatureMap[name]
		if !ok { return fmt.Errorf("project: unknown feature '%s'", name) }
		c.SetFeature(f, on)
	}
	for name, on := range p.Warnings {
		w, ok := c.WarningMap[name]
		if !ok { return fmt.Errorf("project: unknown warning '%s'", name) }
		c.SetWarning(w, on)
	}
	c.SearchPath = append(c.SearchPath, p.SearchPath...)
	c.Modules = append(c.Modules, p.Modules...)
	c.NativePackages = append(c.NativePackages, p.NativePackages...)
	return nil
}

package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gpyc/pkg/cli"
)

func TestApplyFlag(t *testing.T) {
	cfg := NewConfig()
	for _, flag := range []string{"-Wno-all", "-Wextra", "-Fno-multi-with"} {
		if err := cfg.ApplyFlag(flag); err != nil {
			t.Fatalf("ApplyFlag(%s): %v", flag, err)
		}
	}
	if cfg.IsWarningEnabled(WarnUnreachableCode) {
		t.Error("-Wno-all left unreachable-code enabled")
	}
	if !cfg.IsWarningEnabled(WarnExtra) {
		t.Error("-Wextra did not enable extra")
	}
	if cfg.IsFeatureEnabled(FeatMultiWith) {
		t.Error("-Fno-multi-with did not disable multi-with")
	}
	for _, bad := range []string{"-Wnope", "-Fnope", "-Xfoo"} {
		if err := cfg.ApplyFlag(bad); err == nil {
			t.Errorf("ApplyFlag(%s) succeeded", bad)
		}
	}
}

func TestSetBackendAndTarget(t *testing.T) {
	cfg := NewConfig()
	if cfg.Backend != BackendGo || cfg.RuntimeImport != DefaultRuntime {
		t.Errorf("defaults = %s/%s", cfg.Backend, cfg.RuntimeImport)
	}
	if err := cfg.SetBackend("llvm"); err == nil {
		t.Error("SetBackend(llvm) succeeded")
	}
	if err := cfg.SetBackend(BackendQBE); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target   string
		wordSize int
		wordType string
		wantErr  bool
	}{
		{"amd64_sysv", 8, "l", false},
		{"arm64", 8, "l", false},
		{"rv32", 4, "w", false},
		{"z80", 8, "l", true},
	}
	for _, tt := range tests {
		err := cfg.SetTarget("linux", "amd64", tt.target)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetTarget(%s) err = %v", tt.target, err)
		}
		if cfg.WordSize != tt.wordSize || cfg.WordType != tt.wordType {
			t.Errorf("SetTarget(%s) word = %d/%s", tt.target, cfg.WordSize, cfg.WordType)
		}
	}
	if err := cfg.SetTarget("linux", "amd64", ""); err != nil || cfg.QbeTarget == "" {
		t.Errorf("host target: %q, %v", cfg.QbeTarget, err)
	}
}

func TestProject(t *testing.T) {
	src := `
backend: qbe
runtime: example.com/pyrt
package: demo
features:
  line-comments: false
warnings:
  shadow-builtin: true
modules: [os.path]
native_packages: [strings]
`
	p, err := DecodeProject(strings.NewReader(src), "gpyc.yml")
	if err != nil {
		t.Fatalf("DecodeProject: %v", err)
	}
	cfg := NewConfig()
	if err := cfg.ApplyProject(p); err != nil {
		t.Fatalf("ApplyProject: %v", err)
	}
	if cfg.Backend != BackendQBE || cfg.RuntimeImport != "example.com/pyrt" || cfg.PackageName != "demo" {
		t.Errorf("settings not applied: %s %s %s", cfg.Backend, cfg.RuntimeImport, cfg.PackageName)
	}
	if cfg.IsFeatureEnabled(FeatLineComments) || !cfg.IsWarningEnabled(WarnShadowBuiltin) {
		t.Error("switches not applied")
	}
	if diff := cmp.Diff([]string{"strings"}, cfg.NativePackages); diff != "" {
		t.Errorf("native packages (-want +got):\n%s", diff)
	}

	if _, err := DecodeProject(strings.NewReader("bogus: 1\n"), "x.yml"); err == nil {
		t.Error("unknown project key accepted")
	}
	empty, err := DecodeProject(strings.NewReader(""), "empty.yml")
	if err != nil || empty == nil {
		t.Errorf("empty project: %v", err)
	}
	if err := NewConfig().ApplyProject(&Project{Features: map[string]bool{"nope": true}}); err == nil {
		t.Error("unknown feature accepted")
	}
}

func TestFlagGroups(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("gpyc")
	warnings, features := cfg.SetupFlagGroups(fs)
	if len(warnings) != int(WarnCount) || len(features) != int(FeatCount) {
		t.Fatalf("got %d warning and %d feature entries", len(warnings), len(features))
	}
	if err := fs.Parse([]string{"-Wshadow-builtin", "-Fno-line-numbers", "in.json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ApplyFlagGroups(warnings, features)
	if !cfg.IsWarningEnabled(WarnShadowBuiltin) || cfg.IsFeatureEnabled(FeatLineNumbers) {
		t.Error("group switches not applied")
	}
	if diff := cmp.Diff([]string{"in.json"}, fs.Args()); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

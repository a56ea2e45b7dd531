package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gpyc/pkg/config"
)

func TestModuleNaming(t *testing.T) {
	tests := []struct {
		input, module, pkg, table, goOut string
	}{
		{"tests/foo.py.json", "foo", "", "", "foo.go"},
		{"bar.json", "bar", "", "", "bar.go"},
		{"x", "x", "", "app", "x.go"},
	}
	for _, tt := range tests {
		if got := moduleNameFor(tt.input); got != tt.module {
			t.Errorf("moduleNameFor(%q) = %q, want %q", tt.input, got, tt.module)
		}
		if got := packageOf(tt.module, tt.table); got != tt.table {
			t.Errorf("packageOf(%q, %q) = %q, want %q", tt.module, tt.table, got, tt.table)
		}
		if got := defaultOutput(tt.module, config.BackendGo); got != tt.goOut {
			t.Errorf("defaultOutput(%q) = %q, want %q", tt.module, got, tt.goOut)
		}
	}
	if got := packageOf("app.sub.mod", ""); got != "app.sub" {
		t.Errorf("packageOf(app.sub.mod) = %q, want app.sub", got)
	}
	if got := defaultOutput("app.mod", config.BackendQBE); got != "mod.s" {
		t.Errorf("defaultOutput(app.mod, qbe) = %q, want mod.s", got)
	}
}

func TestScanSearchPath(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"top.py", "pkg/__init__.py", "pkg/leaf.py", "pkg/data.txt"} {
		path := filepath.Join(dir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := scanSearchPath(dir)
	if err != nil {
		t.Fatalf("scanSearchPath: %v", err)
	}
	if diff := cmp.Diff([]string{"pkg", "pkg.leaf", "top"}, got); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildResolverMergesTables(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "mods.yml")
	if err := os.WriteFile(table, []byte("package: app\nmodules: [app.util, os.path]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewConfig()
	cfg.Modules = []string{"sys"}
	r, err := buildResolver(cfg, []string{table})
	if err != nil {
		t.Fatalf("buildResolver: %v", err)
	}
	if r.Package != "app" {
		t.Errorf("Package = %q, want app", r.Package)
	}
	want := []string{"app", "app.util", "os", "os.path", "sys"}
	if diff := cmp.Diff(want, r.Modules()); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}
}

func TestFingerprint(t *testing.T) {
	cfg := config.NewConfig()
	input := []byte(`{"_type": "Module", "body": []}`)
	header := fingerprintHeader(cfg, input)
	if !strings.HasPrefix(header, "// Code generated by gpyc. DO NOT EDIT.\n// gpyc:fingerprint ") {
		t.Fatalf("unexpected header %q", header)
	}
	if again := fingerprintHeader(cfg, input); again != header {
		t.Errorf("fingerprint is not stable: %q vs %q", header, again)
	}

	cfg.SetFeature(config.FeatLineComments, false)
	if changed := fingerprintHeader(cfg, input); changed == header {
		t.Error("fingerprint ignores feature switches")
	}
	if err := cfg.SetBackend(config.BackendQBE); err != nil {
		t.Fatal(err)
	}
	if qbe := fingerprintHeader(cfg, input); !strings.HasPrefix(qbe, "# gpyc:fingerprint ") {
		t.Errorf("qbe header %q does not use an assembler comment", qbe)
	}

	out := filepath.Join(t.TempDir(), "m.go")
	if upToDate(out, header) {
		t.Error("missing file reported as up to date")
	}
	if err := os.WriteFile(out, []byte(header+"package m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !upToDate(out, header) {
		t.Error("file with matching header reported as stale")
	}
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writePipeline(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const linear = `
name: linear
elements:
  - {name: src, kind: counter, params: {limit: 2}}
  - {name: out, kind: collect, inputs: [src]}
`

func TestKinds(t *testing.T) {
	out, err := execute(t, "kinds")
	if err != nil {
		t.Fatalf("kinds: %v", err)
	}
	for _, k := range []string{"counter", "zip", "collect"} {
		if !strings.Contains(out, k) {
			t.Errorf("kinds output missing %q:\n%s", k, out)
		}
	}
}

func TestGraph_DOT(t *testing.T) {
	path := writePipeline(t, "p.yaml", linear)
	out, err := execute(t, "graph", "--format", "dot", path)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.HasPrefix(out, `digraph "linear"`) || !strings.Contains(out, `"src" -> "out"`) {
		t.Errorf("graph output = %q", out)
	}
}

func TestGraph_UnknownFormat(t *testing.T) {
	path := writePipeline(t, "p.yaml", linear)
	if _, err := execute(t, "graph", "--format", "svg", path); err == nil {
		t.Error("graph --format svg should fail")
	}
	graphFormat = "dot"
}

func TestValidate(t *testing.T) {
	good := writePipeline(t, "good.yaml", linear)
	bad := writePipeline(t, "bad.yaml", "name: bad\nelements:\n  - {name: a, kind: nope}\n")

	out, err := execute(t, "validate", good)
	if err != nil || !strings.Contains(out, "ok (2 elements)") {
		t.Errorf("validate good = %q, %v", out, err)
	}
	out, err = execute(t, "validate", good, bad)
	if err == nil || !strings.Contains(out, "bad.yaml") {
		t.Errorf("validate bad = %q, %v", out, err)
	}
}

func TestConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DATAFLOW_HOME", home)
	out, err := execute(t, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != filepath.Join(home, "config.toml") {
		t.Errorf("config path = %q", out)
	}
}

func TestRuns_Empty(t *testing.T) {
	t.Setenv("DATAFLOW_HOME", t.TempDir())
	out, err := execute(t, "runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Errorf("runs = %q", out)
	}
}

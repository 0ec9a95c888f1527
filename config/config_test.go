package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/arbor/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[arena]
words = 4096

[functions]
capacity = 128

[run]
finiteness = 50

[debug]
verbose = true
trace = true

[gc]
interval = "250ms"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Arena.Words != 4096 {
		t.Errorf("arena words = %d, want 4096", c.Arena.Words)
	}
	if c.Functions.Capacity != 128 {
		t.Errorf("functions capacity = %d, want 128", c.Functions.Capacity)
	}
	if c.Run.Finiteness != 50 {
		t.Errorf("finiteness = %d, want 50", c.Run.Finiteness)
	}
	if !c.Debug.Verbose || !c.Debug.Trace {
		t.Errorf("debug = %+v, want both set", c.Debug)
	}
	if time.Duration(c.GC.Interval) != 250*time.Millisecond {
		t.Errorf("gc interval = %s, want 250ms", time.Duration(c.GC.Interval))
	}
	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}

	opts := c.VMOptions()
	want := vm.Options{ArenaWords: 4096, Functions: 128, Finiteness: 50, Trace: true}
	if opts != want {
		t.Errorf("VMOptions = %+v, want %+v", opts, want)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[run]\nfiniteness = 9\n")
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Arena.Words != vm.DefaultArenaWords || c.Functions.Capacity != vm.DefaultFunctions {
		t.Errorf("defaults lost: %+v", c)
	}
	if c.GC.Interval != 0 {
		t.Errorf("gc interval = %s, want 0", time.Duration(c.GC.Interval))
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[arena\n", "parse error"},
		{"unknown key", "[arena]\nsize = 3\n", "unknown keys"},
		{"zero words", "[arena]\nwords = 0\n", "arena.words"},
		{"bad duration", "[gc]\ninterval = \"soon\"\n", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("missing file: got %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[run]\nfiniteness = 3\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Run.Finiteness != 3 {
		t.Fatalf("got %+v, want the root config", c)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvArenaWords, "2048")
	t.Setenv(EnvFunctions, "64")
	t.Setenv(EnvFiniteness, "7")
	t.Setenv(EnvVerbose, "true")
	t.Setenv(EnvGCInterval, "1m")

	c := Default()
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if c.Arena.Words != 2048 || c.Functions.Capacity != 64 || c.Run.Finiteness != 7 {
		t.Errorf("sizes not overridden: %+v", c)
	}
	if !c.Debug.Verbose {
		t.Error("verbose not set")
	}
	if time.Duration(c.GC.Interval) != time.Minute {
		t.Errorf("gc interval = %s, want 1m", time.Duration(c.GC.Interval))
	}
}

func TestApplyEnvSeesLaterChanges(t *testing.T) {
	t.Setenv(EnvFiniteness, "7")
	c := Default()
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvFiniteness, "12")
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if c.Run.Finiteness != 12 {
		t.Errorf("finiteness = %d, want 12", c.Run.Finiteness)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, value string
	}{
		{EnvArenaWords, "lots"},
		{EnvFunctions, "0"},
		{EnvFiniteness, "-4"},
		{EnvGCInterval, "often"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.name, tt.value)
			if err := Default().ApplyEnv(); err == nil || !strings.Contains(err.Error(), tt.name) {
				t.Errorf("got %v, want error naming %s", err, tt.name)
			}
		})
	}
}

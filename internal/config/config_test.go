package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"aotc/internal/config"
)

const sample = `
[output]
name = "libapp.so"

[compile]
threads = 4
ignore-errors = true

[backend]
command = "graalserve"

[linker]
path = "/opt/bin/ld"
`

func write(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	want := write(t, root, sample)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok, err := config.Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find = %q, %v, %v", got, ok, err)
	}
	if got != want {
		t.Errorf("Find = %q, want %q", got, want)
	}
}

func TestFindMiss(t *testing.T) {
	_, ok, err := config.Find(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Find reported a file in an empty tree")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := write(t, t.TempDir(), "[output]\nnmae = \"x\"\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("misspelled key must be an error")
	}
}

func TestMergeRespectsChangedFlags(t *testing.T) {
	f, err := config.Load(write(t, t.TempDir(), sample))
	if err != nil {
		t.Fatal(err)
	}

	v := config.Values{
		OutputName: "from-flag.so",
		Threads:    16,
	}
	changed := map[string]bool{"output": true}
	f.MergeInto(&v, func(flag string) bool { return changed[flag] })

	if v.OutputName != "from-flag.so" {
		t.Errorf("output overwritten to %q despite the flag", v.OutputName)
	}
	if v.Threads != 4 {
		t.Errorf("threads = %d, want the file value 4", v.Threads)
	}
	if !v.IgnoreErrors {
		t.Error("ignore-errors not taken from the file")
	}
	if v.BackendCommand != "graalserve" {
		t.Errorf("backend command = %q", v.BackendCommand)
	}
	if v.LinkerPath != "/opt/bin/ld" {
		t.Errorf("linker path = %q", v.LinkerPath)
	}
	// keys absent from the file stay untouched
	if v.ExitOnError {
		t.Error("exit-on-error set without a file value")
	}
}

func TestIsSet(t *testing.T) {
	f, err := config.Load(write(t, t.TempDir(), sample))
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsSet("compile", "threads") {
		t.Error("compile.threads is set")
	}
	if f.IsSet("compile", "exit-on-error") {
		t.Error("compile.exit-on-error is not set")
	}
}

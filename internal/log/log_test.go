package log

import (
	"os"
	"strings"
	"testing"
)

func TestLevelsNest(t *testing.T) {
	var out, errOut strings.Builder
	l := New(&out, &errOut, Options{Debug: true})

	if !l.InfoEnabled() || !l.VerboseEnabled() || !l.DebugEnabled() {
		t.Error("debug должен включать verbose и info")
	}

	l.Infof("i")
	l.Verbosef("v")
	l.Debugf("d")
	if out.String() != "i\nv\nd\n" {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestQuietByDefault(t *testing.T) {
	var out, errOut strings.Builder
	l := New(&out, &errOut, Options{})

	l.Infof("hidden")
	l.Verbosef("hidden")
	l.Debugf("hidden")
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}

	// Warnings and errors are printed regardless of level.
	l.Warningf("bad thread count %d", 0)
	l.Errorf("link failed")
	if !strings.Contains(errOut.String(), "Warning: bad thread count 0") {
		t.Errorf("missing warning prefix: %q", errOut.String())
	}
	if !strings.Contains(errOut.String(), "Error: link failed") {
		t.Errorf("missing error prefix: %q", errOut.String())
	}
}

func TestErrorfStackOnlyWhenVerbose(t *testing.T) {
	var out, errOut strings.Builder
	l := New(&out, &errOut, Options{Info: true})
	l.Errorf("boom")
	if strings.Contains(errOut.String(), "goroutine") {
		t.Error("stack dump printed without verbose")
	}

	errOut.Reset()
	l = New(&out, &errOut, Options{Verbose: true})
	l.Errorf("boom")
	if !strings.Contains(errOut.String(), "goroutine") {
		t.Error("expected stack dump at verbose")
	}
}

func TestCompilationLogDisabled(t *testing.T) {
	t.Setenv(CompilationLogEnv, "0")
	var out, errOut strings.Builder
	l := New(&out, &errOut, Options{})
	l.OpenCompilationLog()
	l.WriteLog("nope")
	l.CloseCompilationLog()
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Error("disabled compilation log must not produce output")
	}
}

func TestCompilationLogEnabled(t *testing.T) {
	t.Setenv(CompilationLogEnv, "1")
	// testing.T.Chdir needs Go 1.24; this toolchain is older.
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })

	var out, errOut strings.Builder
	l := New(&out, &errOut, Options{})
	l.OpenCompilationLog()
	if l.compilationLog == nil {
		t.Fatal("expected compilation log to be open")
	}
	l.WriteLog("compiled a.b.C.foo()V")
	l.CloseCompilationLog()
}

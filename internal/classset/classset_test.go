package classset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aotc/internal/log"
	"aotc/internal/unit"
)

func testClass(name string, methods ...string) unit.Class {
	c := unit.Class{Name: name, Super: "java.lang.Object"}
	for _, m := range methods {
		c.Methods = append(c.Methods, unit.Method{
			Owner: name, Name: m, Descriptor: "()V", Flags: unit.HasBody, Body: []byte{0x2a, 0xb1},
		})
	}
	return c
}

func writeClass(t *testing.T, dir string, c unit.Class) string {
	t.Helper()
	data, err := Marshal(&c)
	if err != nil {
		t.Fatal(err)
	}
	rel := filepath.FromSlash(strings.ReplaceAll(c.Name, ".", "/")) + ClassExt
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClassRoundTrip(t *testing.T) {
	dir := t.TempDir()
	orig := testClass("com.example.Greeter", "<init>", "greet")
	path := writeClass(t, dir, orig)

	got, err := readClassFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != orig.Name || got.Super != orig.Super || len(got.Methods) != 2 {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.Methods[1].Owner != "com.example.Greeter" {
		t.Errorf("owner not restored: %q", got.Methods[1].Owner)
	}
}

func TestNameProviderHonorsSearchPathOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeClass(t, first, testClass("a.b.C", "one"))
	writeClass(t, second, testClass("a.b.C", "one", "two"))

	p := &NameProvider{ClassName: "a.b.C", SearchPath: []string{first, second}}
	classes, err := p.Load(log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 1 || len(classes[0].Methods) != 1 {
		t.Error("provider should take the first search-path hit")
	}
}

func TestNameProviderMissIsFatal(t *testing.T) {
	p := &NameProvider{ClassName: "no.such.Class", SearchPath: []string{t.TempDir()}}
	if _, err := p.Load(log.Discard()); err == nil {
		t.Error("unresolved class name must be an error")
	}
}

func TestDirProviderSortedAndRecursive(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, testClass("z.Last", "m"))
	writeClass(t, dir, testClass("a.sub.First", "m"))

	p := &DirProvider{Dir: dir}
	classes, err := p.Load(log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(classes))
	}
	if classes[0].Name != "a.sub.First" || classes[1].Name != "z.Last" {
		t.Errorf("classes not in sorted path order: %s, %s", classes[0].Name, classes[1].Name)
	}
}

func TestSetProvider(t *testing.T) {
	bundle := []unit.Class{testClass("p.A", "m"), testClass("p.B", "m")}
	data, err := MarshalBundle(bundle)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "app"+BundleExt)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	p := &SetProvider{Path: path}
	classes, err := p.Load(log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 2 || classes[0].Name != "p.A" || classes[1].Name != "p.B" {
		t.Errorf("bundle decoded wrong: %+v", classes)
	}
}

func TestSearchDuplicateLastWins(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeClass(t, dirA, testClass("p.Dup", "old"))
	writeClass(t, dirB, testClass("p.Dup", "new", "extra"))

	var s Search
	s.Add(&DirProvider{Dir: dirA})
	s.Add(&DirProvider{Dir: dirB})

	var out, errOut strings.Builder
	logger := log.New(&out, &errOut, log.Options{Info: true})
	classes, err := s.Run(logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 1 {
		t.Fatalf("expected the duplicate to collapse, got %d classes", len(classes))
	}
	if len(classes[0].Methods) != 2 {
		t.Error("last definition should win")
	}
	if !strings.Contains(errOut.String(), "duplicate class p.Dup") {
		t.Errorf("expected a duplicate warning, got %q", errOut.String())
	}
	if !strings.Contains(out.String(), "1 classes found") {
		t.Errorf("expected the classes-found report, got %q", out.String())
	}
}

package repro

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSourceVersionFormat(t *testing.T) {
	got := SourceVersion("qscenario", "0.1.0", "2026-07-31", "abc1234")
	want := "qscenario_0.1.0_2026-07-31_abc1234"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCaptureEnvironmentPopulatesRuntimeFacts(t *testing.T) {
	env := CaptureEnvironment("qscenario", "0.1.0", "2026-07-31")
	if env.OS == "" || env.Arch == "" || env.GoVersion == "" {
		t.Fatalf("expected populated runtime facts, got %+v", env)
	}
	if env.NumCPU <= 0 {
		t.Error("expected positive NumCPU")
	}
	if env.CodeVersion == "" {
		t.Error("expected a non-empty code version even without a git repo")
	}
}

func TestWriteAtomicJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_meta.json")

	type payload struct {
		RunID string
		Seed  int64
	}
	want := payload{RunID: "abc", Seed: 42}
	if err := WriteAtomicJSON(path, want); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got payload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteAtomicJSONLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_meta.json")
	if err := WriteAtomicJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "run_meta.json" {
		t.Fatalf("expected only run_meta.json in dir, got %v", entries)
	}
}

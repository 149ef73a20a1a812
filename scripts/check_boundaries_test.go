package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, root string, rel string, imports ...string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src := "package x\n\nimport (\n"
	for _, imp := range imports {
		src += "\t_ \"" + imp + "\"\n"
	}
	src += ")\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestContextLayerRules(t *testing.T) {
	root := t.TempDir()
	ctx := "agora/contexts/governance/poll-registry"
	writeSource(t, root, "governance/poll-registry/domain/services/ok.go", "math", ctx+"/domain/entities")
	writeSource(t, root, "governance/poll-registry/domain/entities/bad.go", ctx+"/ports")
	writeSource(t, root, "governance/poll-registry/application/commands/bad.go", "github.com/google/uuid")
	writeSource(t, root, "governance/poll-registry/ports/bad.go", "agora/internal/platform/config")
	writeSource(t, root, "governance/poll-registry/adapters/sqlite/ok.go", "modernc.org/sqlite", "agora/internal/platform/storage/sqlitemigrate")
	writeSource(t, root, "governance/poll-registry/adapters/http/bad.go", "agora/internal/app/bootstrap")
	writeSource(t, root, "governance/other/domain/bad.go", ctx+"/domain/entities")

	got := map[string]string{}
	for _, v := range collectContextViolations(root) {
		rel, err := filepath.Rel(root, filepath.FromSlash(v.File))
		if err != nil {
			t.Fatalf("rel: %v", err)
		}
		got[filepath.ToSlash(rel)] = v.Rule
	}
	want := map[string]string{
		"governance/poll-registry/domain/entities/bad.go":     "domain import is outside its allowlist",
		"governance/poll-registry/application/commands/bad.go": "application import is outside its allowlist",
		"governance/poll-registry/ports/bad.go":                "ports import is outside its allowlist",
		"governance/poll-registry/adapters/http/bad.go":        "adapters import is outside its allowlist",
		"governance/other/domain/bad.go":                       "imports another context",
	}
	if len(got) != len(want) {
		t.Fatalf("expected violations %v, got %v", want, got)
	}
	for file, rule := range want {
		if got[file] != rule {
			t.Fatalf("%s: expected %q, got %q", file, rule, got[file])
		}
	}
}

func TestContractsStayStdlibOnly(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "gen/events/v1/ok.go", "encoding/json", "time")
	writeSource(t, root, "gen/events/v1/bad.go", "github.com/google/uuid")

	violations := collectContractViolations(root)
	if len(violations) != 1 || violations[0].Import != "github.com/google/uuid" {
		t.Fatalf("expected one contracts violation, got %+v", violations)
	}
}

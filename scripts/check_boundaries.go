package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "agora"

// layerRule lists what a context layer may import besides the standard
// library. Prefixes starting with "./" are relative to the context root.
// thirdParty admits modules outside agora.
type layerRule struct {
	allowed    []string
	thirdParty bool
}

var layerRules = map[string]layerRule{
	"domain": {
		allowed: []string{"./domain"},
	},
	"ports": {
		allowed: []string{"./domain", modulePath + "/contracts"},
	},
	"application": {
		allowed: []string{"./application", "./domain", "./ports", modulePath + "/contracts"},
	},
	"transport": {
		allowed: []string{"./transport"},
	},
	// Adapters reach outward to drivers and SDKs but never to process wiring.
	"adapters": {
		allowed: []string{
			"./adapters", "./application", "./domain", "./ports", "./transport",
			modulePath + "/contracts",
			modulePath + "/internal/platform",
		},
		thirdParty: true,
	},
}

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func main() {
	root := flag.String("root", ".", "repository root")
	flag.Parse()

	violations := collectContextViolations(filepath.Join(*root, "contexts"))
	violations = append(violations, collectContractViolations(filepath.Join(*root, "contracts"))...)
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectContextViolations checks contexts/<group>/<service>/<layer>/... files.
func collectContextViolations(root string) []violation {
	var violations []violation
	walkSources(root, func(path string, rel []string) {
		if len(rel) < 4 {
			return
		}
		contextRoot := fmt.Sprintf("%s/contexts/%s/%s", modulePath, rel[0], rel[1])
		layer := rel[2]
		rule, ok := layerRules[layer]
		if !ok {
			return
		}
		forEachImport(path, &violations, func(importPath string) string {
			if strings.HasPrefix(importPath, modulePath+"/contexts/") && !hasPrefix(importPath, contextRoot) {
				return "imports another context"
			}
			if isStdlib(importPath) {
				return ""
			}
			for _, allowed := range rule.allowed {
				if strings.HasPrefix(allowed, "./") {
					allowed = contextRoot + "/" + strings.TrimPrefix(allowed, "./")
				}
				if hasPrefix(importPath, allowed) {
					return ""
				}
			}
			if rule.thirdParty && !strings.HasPrefix(importPath, modulePath+"/") {
				return ""
			}
			return layer + " import is outside its allowlist"
		})
	})
	return violations
}

// collectContractViolations keeps event contracts free of module imports so
// other runtimes can generate against them.
func collectContractViolations(root string) []violation {
	var violations []violation
	walkSources(root, func(path string, _ []string) {
		forEachImport(path, &violations, func(importPath string) string {
			if isStdlib(importPath) {
				return ""
			}
			return "contracts may only import the standard library"
		})
	})
	return violations
}

func walkSources(root string, visit func(path string, rel []string)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		visit(path, strings.Split(filepath.ToSlash(rel), "/"))
		return nil
	})
}

// forEachImport records a violation for every import check rejects. check
// returns the broken rule, or "" when the import is fine.
func forEachImport(path string, violations *[]violation, check func(importPath string) string) {
	file := filepath.ToSlash(path)
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		*violations = append(*violations, violation{File: file, Line: 1, Rule: "file must parse"})
		return
	}
	for _, imp := range parsed.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		if rule := check(importPath); rule != "" {
			*violations = append(*violations, violation{
				File:   file,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   rule,
			})
		}
	}
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isStdlib(importPath string) bool {
	if strings.HasPrefix(importPath, modulePath+"/") {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}

// Package archcheck enforces the import rules between the layers of each
// bounded context under contexts/.
package archcheck

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
}

// layerRule lists the module-local and shared prefixes a layer may import
// besides the standard library. Paths are relative to the context root.
type layerRule struct {
	local  []string
	shared []string
}

var layerRules = map[string]layerRule{
	"domain": {
		local: []string{"domain"},
	},
	"ports": {
		local:  []string{"domain"},
		shared: []string{"contracts"},
	},
	"application": {
		local:  []string{"application", "domain", "ports"},
		shared: []string{"contracts"},
	},
}

// Check walks contextsDir and reports imports that break layer boundaries.
// contextsDir is laid out as <context>/<service>/<layer>/...; modulePath is
// the Go module path imports are resolved against.
func Check(contextsDir string, modulePath string) ([]Violation, error) {
	var violations []Violation

	err := filepath.WalkDir(contextsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(contextsDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			return nil
		}
		layer := ""
		if len(parts) > 3 {
			layer = parts[2]
		}
		servicePrefix := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[0], parts[1])
		violations = append(violations, checkFile(path, filepath.ToSlash(rel), layer, modulePath, servicePrefix)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Import < violations[j].Import
	})
	return violations, nil
}

func checkFile(path string, display string, layer string, modulePath string, servicePrefix string) []Violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []Violation{{File: display, Line: 1, Rule: "file must parse"}}
	}

	var violations []Violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		add := func(rule string) {
			violations = append(violations, Violation{
				File:   display,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   rule,
			})
		}

		if hasPrefix(importPath, modulePath+"/contexts") && !hasPrefix(importPath, servicePrefix) {
			add("cross-module imports are forbidden")
		}

		switch layer {
		case "domain", "ports", "application", "transport":
		default:
			continue
		}
		if hasPrefix(importPath, servicePrefix+"/adapters") {
			add(layer + " must not import adapters")
		}
		if hasPrefix(importPath, modulePath+"/internal") {
			add(layer + " must not import runtime infrastructure")
		}

		rule, ok := layerRules[layer]
		if !ok || isStdlib(importPath, modulePath) {
			continue
		}
		allowed := make([]string, 0, len(rule.local)+len(rule.shared))
		for _, p := range rule.local {
			allowed = append(allowed, servicePrefix+"/"+p)
		}
		for _, p := range rule.shared {
			allowed = append(allowed, modulePath+"/"+p)
		}
		if !isAllowed(importPath, allowed) {
			add(layer + " import is outside explicit allowlist")
		}
	}
	return violations
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string, modulePath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}

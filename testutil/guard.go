// Package testutil holds architecture guards shared by package tests: the
// domain model stays free of internal packages and the allocation engine
// stays free of storage and transport code.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ModulePath is the import path prefix of this repository.
const ModulePath = "cutledger"

// InternalImportForbidden matches any import of an internal package.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasPrefix(path, "internal/")
}

// PrefixForbidden matches imports under any of the given module-relative
// package prefixes, e.g. "internal/infra".
func PrefixForbidden(prefixes ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range prefixes {
			full := ModulePath + "/" + strings.TrimSuffix(p, "/")
			if path == full || strings.HasPrefix(path, full+"/") {
				return true
			}
		}
		return false
	}
}

// AssertNoImports parses every non-test .go file under dir, recursively
// when recursive is set, and fails on imports matched by forbidden.
func AssertNoImports(t testing.TB, dir string, recursive bool, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := importViolations(dir, recursive, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func importViolations(dir string, recursive bool, forbidden func(string) bool) ([]string, error) {
	fset := token.NewFileSet()
	var viols []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (!recursive || strings.HasPrefix(d.Name(), "_") || d.Name() == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+filepath.ToSlash(rel)+")")
			}
		}
		return nil
	})
	sort.Strings(viols)
	return viols, err
}

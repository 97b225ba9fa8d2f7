package gotestjson

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ModulePath returns the module path declared by dir/go.mod.
func ModulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("gotestjson: read go.mod: %w", err)
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return "", errors.New("gotestjson: go.mod declares no module path")
	}
	return mod, nil
}

// suiteName names a package relative to the module rooted at the run
// directory, the way file suites are named relative to the run root.
// Packages outside the module and the module's root package keep their
// import path.
func suiteName(module, pkg string) string {
	if module == "" {
		return pkg
	}
	if rel, ok := strings.CutPrefix(pkg, module+"/"); ok && rel != "" {
		return rel
	}
	return pkg
}

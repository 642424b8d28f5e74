package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AriseOS/amid/internal/errkind"
)

// ResolveWithinWorkdir enforces the path-safety invariant from spec.md
// §4.3: a file-path tool parameter must resolve under workdir. A leading
// "/" or "~" is permitted only if the path still normalizes inside
// workdir once resolved; anything that escapes returns PATH_TRAVERSAL.
func ResolveWithinWorkdir(workdir, rawPath string) (string, error) {
	if rawPath == "" {
		return "", errkind.New(errkind.InvalidInput, "path must not be empty")
	}

	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidInput, "invalid working directory", err)
	}

	expanded := rawPath
	if strings.HasPrefix(rawPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errkind.Wrap(errkind.InvalidInput, "cannot resolve ~", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(rawPath, "~"))
	}

	var candidate string
	if filepath.IsAbs(expanded) {
		candidate = filepath.Clean(expanded)
	} else {
		candidate = filepath.Clean(filepath.Join(absWorkdir, expanded))
	}

	rel, err := filepath.Rel(absWorkdir, candidate)
	if err != nil {
		return "", errkind.Wrap(errkind.PathTraversal, "path does not resolve under working directory", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errkind.New(errkind.PathTraversal, fmt.Sprintf("path %q escapes working directory %q", rawPath, workdir))
	}

	return candidate, nil
}

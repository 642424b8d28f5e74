package executor

import (
	"os"
	"path/filepath"
	"sort"
)

type workspaceEntry struct {
	path string
	size int64
}

// scanWorkspace lists up to max files under dir (by relative path) with
// their sizes, for replan_review_context's "current workspace with sizes"
// block (spec.md §4.7.1). Missing or unreadable directories just yield no
// entries rather than failing the tool call.
func scanWorkspace(dir string, max int) []workspaceEntry {
	if dir == "" {
		return nil
	}

	var out []workspaceEntry
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if len(out) >= max {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, workspaceEntry{path: rel, size: info.Size()})
		if len(out) >= max {
			return filepath.SkipAll
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

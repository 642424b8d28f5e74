package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// ListWorkspace handles GET /quick-task/workspace/{task_id}: the full file
// listing with sizes (spec.md §6).
func (h *Handler) ListWorkspace(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}

	var entries []v1.WorkspaceEntry
	_ = filepath.Walk(st.WorkingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(st.WorkingDir, path)
		if relErr != nil {
			rel = path
		}
		entries = append(entries, v1.WorkspaceEntry{Path: rel, Size: info.Size()})
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	c.JSON(http.StatusOK, v1.WorkspaceListResponse{TaskID: st.TaskID, Files: entries})
}

// ReadFile handles GET /quick-task/workspace/{task_id}/file/*path: a scoped
// file read, rejecting any path that escapes the task's working directory
// with 403 (spec.md §6).
func (h *Handler) ReadFile(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	full, err := tools.ResolveWithinWorkdir(st.WorkingDir, rel)
	if err != nil {
		c.JSON(errkind.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(full)
}

// DeleteWorkspace handles DELETE /quick-task/workspace/{task_id}: removes
// the task's entire workspace directory.
func (h *Handler) DeleteWorkspace(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	if err := os.RemoveAll(st.WorkingDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// DeleteFile handles DELETE /quick-task/workspace/{task_id}/file/*path: a
// scoped single-file delete, rejecting traversal with 403 (spec.md §6).
func (h *Handler) DeleteFile(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	full, err := tools.ResolveWithinWorkdir(st.WorkingDir, rel)
	if err != nil {
		c.JSON(errkind.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

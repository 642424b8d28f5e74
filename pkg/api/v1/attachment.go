package v1

// FileAttachment describes one deliverable file surfaced on a wait_confirm
// event (spec.md §4.8 "Orchestrator also owns the final summary").
type FileAttachment struct {
	FileName string `json:"file_name"`
	Path     string `json:"path"`
	SizeByte int64  `json:"size_bytes,omitempty"`
}

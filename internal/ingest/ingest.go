package ingest

import (
	"path/filepath"
	"strings"

	"github.com/yuehanbi/receipt2excel/constants"
)

// IntakeResult is the per-file intake outcome.
type IntakeResult struct {
	SourcePath  string
	Fingerprint string
	State       string
	Duplicated  bool
	Err         string
}

// DirStats summarizes a directory intake run.
type DirStats struct {
	Scanned    uint32
	Matched    uint32
	Succeeded  uint32
	Duplicated uint32
	Failed     uint32
}

// AllowedExt checks if a file extension is in the allowed raster set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

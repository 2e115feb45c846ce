package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/pathutil"
)

// ErrUnsupportedExtension is returned when a file is not a CSV or XLSX spreadsheet.
var ErrUnsupportedExtension = errors.New("unsupported file type")

// Selection is a file chosen for upload.
type Selection struct {
	Path string
	Name string
	Size int64
}

// NewSelection resolves and stats path and builds a candidate selection.
// The extension is not checked here; see ValidateExtension.
func NewSelection(path string) (Selection, error) {
	resolved, err := pathutil.ResolvePath(path)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	path = resolved

	info, err := os.Stat(path)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Selection{}, fmt.Errorf("%s is a directory", path)
	}
	return Selection{
		Path: path,
		Name: info.Name(),
		Size: info.Size(),
	}, nil
}

// IsZero reports whether no file is selected.
func (s Selection) IsZero() bool {
	return s.Path == "" && s.Name == ""
}

// ValidateExtension accepts names ending in .csv or .xlsx, ignoring case.
func ValidateExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range constants.AcceptedExtensions {
		if ext == accepted {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
}

// FormatSize renders a byte count the way the upload view shows it.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

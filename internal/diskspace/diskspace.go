// Package diskspace checks free space before a result is written locally.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rescale/sheetjobs/internal/models"
)

// InsufficientSpaceError indicates that the filesystem cannot hold a file.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, models.FormatSize(e.RequiredBytes), models.FormatSize(e.AvailableBytes))
}

// CheckAvailableSpace returns an InsufficientSpaceError when the filesystem
// holding targetPath has less than requiredBytes*safetyMargin free.
// targetPath itself need not exist, but its directory must. If the free space
// cannot be determined the check passes and the write fails on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	if safetyMargin < 1 {
		safetyMargin = 1
	}

	available, ok := availableBytes(filepath.Dir(targetPath))
	if !ok {
		return nil
	}

	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the free bytes on the filesystem containing path,
// or 0 if unknown.
func GetAvailableSpace(path string) int64 {
	n, _ := availableBytes(filepath.Dir(path))
	return n
}

// IsInsufficientSpaceError reports whether err wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Validator provides preflight checks for images before they touch the
// cache directory or a block device.
type Validator struct {
	maxImageSize int64
}

// NewValidator creates a new security validator. A non-positive
// maxImageSize disables the size limit.
func NewValidator(maxImageSize int64) *Validator {
	slog.Info("security_validator_init", "max_image_size_mb", maxImageSize/1024/1024)

	return &Validator{maxImageSize: maxImageSize}
}

// ValidatePath checks for path traversal attacks in a relative path
func (v *Validator) ValidatePath(path string) error {
	// Reject absolute paths
	if filepath.IsAbs(path) {
		slog.Error("security_path_validation_failed", "path", path, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", path)
	}

	clean := filepath.Clean(path)

	// Reject paths that start with .. (escape current directory)
	if strings.HasPrefix(clean, "..") {
		slog.Error("security_path_validation_failed", "path", path, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", path)
	}

	return nil
}

// ValidateCacheName checks that name is a single path element usable as a
// file name inside the cache directory.
func (v *Validator) ValidateCacheName(name string) error {
	if err := v.ValidatePath(name); err != nil {
		return err
	}

	if name == "" || name == "." || strings.ContainsAny(name, `/\`) {
		slog.Error("security_cache_name_invalid", "name", name)
		return fmt.Errorf("security: invalid cache file name: %q", name)
	}

	return nil
}

// ValidateImageSize checks if an image exceeds the max image size
func (v *Validator) ValidateImageSize(size int64) error {
	if v.maxImageSize > 0 && size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size_mb", size/1024/1024,
			"max_image_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxImageSize)
	}
	return nil
}

// ValidateFits checks that an image of imageSize bytes fits on a device of
// deviceSize bytes. Unknown sizes (<= 0) always pass.
func (v *Validator) ValidateFits(imageSize, deviceSize int64) error {
	if imageSize <= 0 || deviceSize <= 0 {
		return nil
	}

	if imageSize > deviceSize {
		slog.Error("security_image_too_large",
			"image_size_mb", imageSize/1024/1024,
			"device_size_mb", deviceSize/1024/1024)
		return fmt.Errorf("image is %d bytes but device holds only %d", imageSize, deviceSize)
	}

	return nil
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/source"
	"github.com/imageflash/flasher/pkg/status"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, cacheDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Only needed for flash
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create cache directory")
		}
	}

	return nil
}

// parseImage turns the image argument into a local or remote image
func parseImage(arg, compression, name, sha256 string) (source.Image, error) {
	if strings.Contains(arg, "://") {
		if compression != "" && compression != "auto" {
			return nil, fmt.Errorf("--compression applies to local images only")
		}
		return source.Remote{URL: arg, Name: name, SHA256: sha256}, nil
	}

	if name != "" || sha256 != "" {
		return nil, fmt.Errorf("--name and --sha256 apply to remote images only")
	}
	c, err := source.ParseCompression(compression, arg)
	if err != nil {
		return nil, err
	}
	path, err := filepath.Abs(arg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid image path")
	}
	return source.Local{Path: path, Compression: c}, nil
}

// formatStatus renders a status for the progress line
func formatStatus(s status.Status, elapsed time.Duration) string {
	elapsed = elapsed.Round(time.Second)
	switch s.Kind {
	case status.KindActive:
		if v, ok := s.Progress.Value(); ok {
			return fmt.Sprintf("%-12s %5.1f%%  %s", s.Phase, v*100, elapsed)
		}
		return fmt.Sprintf("%-12s   ...   %s", s.Phase, elapsed)
	case status.KindDone:
		return s.String()
	default:
		return "preparing"
	}
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

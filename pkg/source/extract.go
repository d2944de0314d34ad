package source

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/errors"
)

// Default decompressor invocation: xzcat <args> <input> > <output>.
const (
	DefaultXzCommand = "xzcat"
)

// DefaultXzArgs keeps the input file and uses all cores.
var DefaultXzArgs = []string{"-k", "-T0"}

// Extractor runs an external decompression process. The input path is
// appended after Args; the process must write the image to stdout.
type Extractor struct {
	Command string
	Args    []string
	// PollInterval is how often the stop flag is checked while the
	// process runs.
	PollInterval time.Duration
}

// NewXzExtractor returns the default xz extractor.
func NewXzExtractor() *Extractor {
	return &Extractor{Command: DefaultXzCommand, Args: DefaultXzArgs, PollInterval: 100 * time.Millisecond}
}

// OutputName derives the decompressed file name from the input base name.
func OutputName(input string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "disk_image.iso"
	}
	return name
}

// Extract decompresses input into output. A non-zero exit becomes an
// ExtractionFailed error carrying the captured standard error.
func (e *Extractor) Extract(ctx context.Context, input, output string, flag *cancel.Flag) error {
	out, err := os.Create(output)
	if err != nil {
		return errors.E(errors.KindSourceUnavailable, "create decompression output", err)
	}
	defer out.Close()

	args := append(append([]string{}, e.Args...), input)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// A killed process may leave descendants holding the stderr pipe.
	cmd.WaitDelay = time.Second

	slog.Info("extraction_started", "command", e.Command, "input", input, "output", output)

	if err := cmd.Start(); err != nil {
		slog.Error("extraction_start_failed", "command", e.Command, "error", err)
		return errors.E(errors.KindExtractionFailed, e.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	interval := e.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitErr:
			if err != nil && ctx.Err() != nil {
				slog.Info("extraction_cancelled", "input", input)
				return errors.E(errors.KindCancelled, "extract", nil)
			}
			if err != nil {
				detail := strings.TrimSpace(stderr.String())
				if detail == "" {
					detail = err.Error()
				}
				slog.Error("extraction_failed", "command", e.Command, "input", input, "stderr", detail)
				return errors.Detailed(errors.KindExtractionFailed, e.Command, detail)
			}
			if err := out.Sync(); err != nil {
				return errors.E(errors.KindSourceUnavailable, "sync decompressed image", err)
			}
			slog.Info("extraction_complete", "input", input, "output", output)
			return nil
		case <-ticker.C:
			if flag.Stopped() {
				slog.Info("extraction_cancelled", "input", input)
				_ = cmd.Process.Kill()
				<-waitErr
				return errors.E(errors.KindCancelled, "extract", nil)
			}
		}
	}
}

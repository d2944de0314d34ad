// Package transfer streams a resolved image onto an open block device.
package transfer

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/status"
)

const (
	DefaultChunkSize  = 1024 * 1024
	DefaultBufferSize = 4 * 1024 * 1024
)

// Destination is a writable target that supports a durability barrier
type Destination interface {
	io.Writer
	Sync() error
}

// Engine copies bytes in fixed-size chunks through buffered I/O
type Engine struct {
	ChunkSize  int
	BufferSize int
	// Interval is the minimum spacing between progress reports
	Interval time.Duration
}

// NewEngine creates an engine. Non-positive values select the defaults.
func NewEngine(chunkSize, bufferSize int, interval time.Duration) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if interval < 0 {
		interval = status.DefaultInterval
	}
	return &Engine{ChunkSize: chunkSize, BufferSize: bufferSize, Interval: interval}
}

// Copy writes src to dst until end of stream, then flushes and syncs dst.
// total sizes the progress fraction; when it is not positive progress is a
// Pulse. The flag is checked after every chunk; a stop returns a
// KindCancelled error without flushing buffered bytes. The returned count
// is the number of bytes accepted for writing.
func (e *Engine) Copy(ctx context.Context, src io.Reader, dst Destination, total int64, flag *cancel.Flag, onProgress func(status.Progress)) (int64, error) {
	if onProgress == nil {
		onProgress = func(status.Progress) {}
	}

	reader := bufio.NewReaderSize(src, e.BufferSize)
	writer := bufio.NewWriterSize(dst, e.BufferSize)
	buf := make([]byte, e.ChunkSize)
	throttle := status.NewThrottle(e.Interval)
	start := time.Now()

	slog.Info("copy_start", "total_mb", total/1024/1024, "chunk_kb", e.ChunkSize/1024)
	onProgress(status.FractionOf(0, total))

	var written int64
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, err := writer.Write(buf[:n]); err != nil {
				slog.Error("copy_write_failed", "offset", written, "error", err)
				return written, errors.E(errors.KindIoFailure, "write device", err)
			}
			written += int64(n)

			if flag.Stopped() || ctx.Err() != nil {
				slog.Info("copy_cancelled", "written_mb", written/1024/1024)
				return written, errors.E(errors.KindCancelled, "copy", nil)
			}
			if throttle.Allow() {
				onProgress(status.FractionOf(written, total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			slog.Error("copy_read_failed", "offset", written, "error", rerr)
			return written, errors.E(errors.KindIoFailure, "read image", rerr)
		}
	}

	if err := writer.Flush(); err != nil {
		slog.Error("copy_flush_failed", "error", err)
		return written, errors.E(errors.KindIoFailure, "flush device", err)
	}
	if err := dst.Sync(); err != nil {
		slog.Error("copy_sync_failed", "error", err)
		return written, errors.E(errors.KindIoFailure, "sync device", err)
	}

	onProgress(status.FractionOf(written, total))
	slog.Info("copy_complete", "written_mb", written/1024/1024, "duration_ms", time.Since(start).Milliseconds())
	return written, nil
}

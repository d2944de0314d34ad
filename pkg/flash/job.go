package flash

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/device"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/security"
	"github.com/imageflash/flasher/pkg/source"
	"github.com/imageflash/flasher/pkg/status"
	"github.com/imageflash/flasher/pkg/transfer"
)

// Resolver materializes an image into a complete local file
type Resolver interface {
	Resolve(ctx context.Context, img source.Image, flag *cancel.Flag, report status.Reporter) (*source.Resolved, error)
}

// Copier streams the resolved image onto the device
type Copier interface {
	Copy(ctx context.Context, src io.Reader, dst transfer.Destination, total int64, flag *cancel.Flag, onProgress func(status.Progress)) (int64, error)
}

// Deps are the collaborators a job drives
type Deps struct {
	Controller device.Controller
	Resolver   Resolver
	Copier     Copier
	Validator  *security.Validator
}

// Job flashes one image onto one device. A Job runs once.
type Job struct {
	image  source.Image
	target device.Target
	cell   *status.Cell
	flag   *cancel.Flag
	deps   Deps

	state     atomic.Int32
	ran       atomic.Bool
	cachePath string
}

// NewJob creates a job publishing into cell and observing flag. A nil
// Copier or Validator selects the defaults.
func NewJob(img source.Image, target device.Target, cell *status.Cell, flag *cancel.Flag, deps Deps) *Job {
	if deps.Copier == nil {
		deps.Copier = transfer.NewEngine(0, 0, status.DefaultInterval)
	}
	if deps.Validator == nil {
		deps.Validator = security.NewValidator(0)
	}
	if cell == nil {
		cell = status.NewCell()
	}
	if flag == nil {
		flag = cancel.NewFlag()
	}
	return &Job{image: img, target: target, cell: cell, flag: flag, deps: deps}
}

// State returns the current step. Safe for concurrent use.
func (j *Job) State() State {
	return State(j.state.Load())
}

// Cell returns the status cell the job publishes into
func (j *Job) Cell() *status.Cell {
	return j.cell
}

func (j *Job) enter(s State) {
	prev := State(j.state.Swap(int32(s)))
	slog.Info("flash_job_state", "from", prev.String(), "to", s.String(), "device", j.target.String())
}

func (j *Job) stopped(ctx context.Context) bool {
	return j.flag.Stopped() || ctx.Err() != nil
}

// Run executes the job to completion and returns its outcome. The terminal
// status is written to the cell exactly once, after finalize.
func (j *Job) Run(ctx context.Context) Outcome {
	if !j.ran.CompareAndSwap(false, true) {
		return Outcome{State: StateFailed, Err: errors.New("flash job already ran")}
	}

	start := time.Now()
	slog.Info("flash_job_start", "image", j.image.String(), "device", j.target.String())

	out := j.run(ctx)
	out.CachePath = j.cachePath
	j.enter(out.State)
	j.cell.Finish(out.Status())

	if out.Err != nil {
		slog.Error("flash_job_failed", "device", j.target.String(), "state", out.State.String(), "error", out.Err)
	} else {
		slog.Info("flash_job_complete", "device", j.target.String(), "state", out.State.String(),
			"written_mb", out.BytesWritten/1024/1024, "duration_ms", time.Since(start).Milliseconds())
	}
	return out
}

func (j *Job) run(ctx context.Context) Outcome {
	if j.stopped(ctx) {
		return outcomeOf(errors.E(errors.KindCancelled, "start", nil), 0, false)
	}

	j.enter(StatePreparing)
	j.deps.Controller.UnmountAll(ctx, j.target)

	if j.stopped(ctx) {
		return outcomeOf(errors.E(errors.KindCancelled, "prepare", nil), 0, false)
	}

	handle, err := j.deps.Controller.OpenExclusive(ctx, j.target)
	if err != nil {
		return outcomeOf(err, 0, false)
	}

	written, err := j.write(ctx, handle)

	if cerr := handle.Close(); cerr != nil {
		slog.Warn("device_close_failed", "device", j.target.String(), "error", cerr)
	}

	// The device is released regardless of how the copy ended
	j.enter(StateFinalizing)
	j.deps.Controller.Finalize(context.WithoutCancel(ctx), j.target)

	return outcomeOf(err, written, true)
}

func (j *Job) write(ctx context.Context, handle device.Handle) (int64, error) {
	if j.stopped(ctx) {
		return 0, errors.E(errors.KindCancelled, "resolve", nil)
	}

	if _, ok := j.image.(source.Remote); ok {
		j.enter(StateDownloading)
	} else {
		j.enter(StateCopying)
	}

	src, err := j.deps.Resolver.Resolve(ctx, j.image, j.flag, j.cell.Reporter())
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if cached(j.image) {
		j.cachePath = src.Path
	}

	if j.stopped(ctx) {
		return 0, errors.E(errors.KindCancelled, "resolve", nil)
	}

	if err := j.deps.Validator.ValidateFits(src.Size, j.target.Size); err != nil {
		return 0, errors.E(errors.KindIoFailure, "preflight "+j.target.String(), err)
	}

	if j.State() != StateCopying {
		j.enter(StateCopying)
	}
	j.cell.Set(status.Active(status.PhaseCopying, status.FractionOf(0, src.Size)))

	return j.deps.Copier.Copy(ctx, src, handle, src.Size, j.flag, func(p status.Progress) {
		j.cell.Set(status.Active(status.PhaseCopying, p))
	})
}

// cached reports whether img is materialized into the cache directory
func cached(img source.Image) bool {
	if local, ok := img.(source.Local); ok {
		return local.Compression != source.Raw
	}
	return true
}

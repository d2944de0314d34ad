package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/flash"
	"github.com/superfly/fsm"
)

// historyStatus maps a job outcome to the history table status
func historyStatus(state flash.State) string {
	switch state {
	case flash.StateSucceeded:
		return db.StatusSucceeded
	case flash.StateCancelled:
		return db.StatusCancelled
	default:
		return db.StatusFailed
	}
}

func finished(status string) bool {
	return status == db.StatusSucceeded || status == db.StatusFailed || status == db.StatusCancelled
}

// markFailed records a refused run. The abort already carries the error, so
// a failed update is only logged.
func (m *Machine) markFailed(id int64, message string) {
	if err := m.repo.UpdateStatus(id, db.StatusFailed, message); err != nil {
		slog.Warn("status_update_failed", "job_id", id, "status", db.StatusFailed, "error", err)
	}
}

// recordCachePath stores where the resolved image was left so cleanup can
// remove it with the job
func (m *Machine) recordCachePath(id int64, path string) {
	job, err := m.repo.Get(id)
	if err != nil || job == nil {
		slog.Warn("cache_path_record_failed", "job_id", id, "error", err)
		return
	}
	job.CachePath = path
	if err := m.repo.Update(job); err != nil {
		slog.Warn("cache_path_record_failed", "job_id", id, "error", err)
	}
}

// handleRecord creates the history record for the job (idempotency)
func (m *Machine) handleRecord(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_record", "job_key", req.Msg.JobKey)

	// Check retry limit
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "job_key", req.Msg.JobKey, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	job, err := m.repo.GetByKey(req.Msg.JobKey)
	if err != nil {
		slog.Error("database_check_failed", "job_key", req.Msg.JobKey, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "database error"))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	if job != nil {
		resp.JobID = job.ID
		if finished(job.Status) {
			resp.State = job.Status
			resp.BytesWritten = job.BytesWritten
			resp.ErrorMessage = job.ErrorMessage
			slog.Info("job_already_finished", "job_key", req.Msg.JobKey, "job_id", job.ID, "status", job.Status)
		}
		return fsm.NewResponse(resp), nil
	}

	job = &db.Job{
		Key:    req.Msg.JobKey,
		Source: req.Msg.SourceLabel(),
		Device: req.Msg.Node,
		Status: db.StatusPending,
	}
	if job.Device == "" {
		job.Device = req.Msg.Block
	}
	if err := m.repo.Create(job); err != nil {
		slog.Error("create_job_failed", "job_key", req.Msg.JobKey, "error", err)
		return nil, errors.Wrap(err, "failed to create job record")
	}
	resp.JobID = job.ID

	return fsm.NewResponse(resp), nil
}

// handleFlash runs the flash job. A half-written device cannot be resumed,
// so a retried or resumed run is recorded as failed and aborted.
func (m *Machine) handleFlash(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_flash", "job_key", req.Msg.JobKey)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if finished(resp.State) {
		slog.Info("flash_skipped", "job_key", req.Msg.JobKey, "status", resp.State)
		return fsm.NewResponse(resp), nil
	}

	if retryCount := fsm.RetryFromContext(ctx); retryCount > 0 {
		slog.Error("flash_retry_refused", "job_key", req.Msg.JobKey, "retry", retryCount)
		m.markFailed(resp.JobID, "flash interrupted")
		return nil, fsm.Abort(fmt.Errorf("flash of %s was interrupted and cannot be resumed", req.Msg.JobKey))
	}

	rt, ok := m.runtimeFor(req.Msg.JobKey)
	if !ok {
		slog.Error("flash_runtime_missing", "job_key", req.Msg.JobKey)
		m.markFailed(resp.JobID, "flash interrupted")
		return nil, fsm.Abort(fmt.Errorf("no caller attached to %s", req.Msg.JobKey))
	}

	img, err := req.Msg.Image()
	if err != nil {
		m.markFailed(resp.JobID, err.Error())
		return nil, fsm.Abort(errors.Wrap(err, "invalid request"))
	}

	if err := m.repo.UpdateStatus(resp.JobID, db.StatusRunning, ""); err != nil {
		slog.Error("status_update_failed", "job_id", resp.JobID, "status", db.StatusRunning, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "failed to update status"))
	}

	out := flash.NewJob(img, req.Msg.Target(), rt.cell, rt.flag, m.deps).Run(ctx)
	m.setOutcome(req.Msg.JobKey, out)

	resp.State = historyStatus(out.State)
	resp.BytesWritten = out.BytesWritten
	resp.Cancelled = out.State == flash.StateCancelled
	if out.Err != nil {
		resp.ErrorMessage = out.Err.Error()
	}

	if err := m.repo.RecordResult(resp.JobID, resp.State, resp.BytesWritten, resp.ErrorMessage); err != nil {
		slog.Error("record_result_failed", "job_id", resp.JobID, "error", err)
	}
	if out.CachePath != "" {
		m.recordCachePath(resp.JobID, out.CachePath)
	}

	if out.State == flash.StateFailed {
		return nil, fsm.Abort(out.Err)
	}
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the workflow as complete
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("fsm_state_complete", "job_key", req.Msg.JobKey)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "job_key", req.Msg.JobKey, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	slog.Info("fsm_complete", "job_key", req.Msg.JobKey, "status", resp.State, "bytes_written", resp.BytesWritten)
	return fsm.NewResponse(resp), nil
}

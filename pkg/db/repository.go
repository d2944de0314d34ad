package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/imageflash/flasher/pkg/errors"
	_ "modernc.org/sqlite"
)

const jobColumns = `id, job_key, source, device, status, bytes_written, cache_path, error_message, created_at, updated_at`

// Repository provides database operations for flash jobs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new job record
func (r *Repository) Create(job *Job) error {
	slog.Info("database_create_job", "job_key", job.Key, "status", job.Status)

	query := `
		INSERT INTO flash_jobs (job_key, source, device, status, bytes_written, cache_path, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		job.Key, job.Source, job.Device, job.Status,
		job.BytesWritten, job.CachePath, job.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "job_key", job.Key, "error", err)
		return errors.Wrap(err, "failed to insert job")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "job_key", job.Key, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	job.ID = id

	slog.Info("database_job_created", "job_key", job.Key, "job_id", job.ID)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var cachePath, errorMessage sql.NullString

	err := row.Scan(
		&job.ID, &job.Key, &job.Source, &job.Device, &job.Status, &job.BytesWritten,
		&cachePath, &errorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.CachePath = cachePath.String
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

// GetByKey retrieves a job by its workflow key. It returns nil, nil if
// there is no such job.
func (r *Repository) GetByKey(key string) (*Job, error) {
	return r.getOne("job_key = ?", key)
}

// Get retrieves a job by ID. It returns nil, nil if there is no such job.
func (r *Repository) Get(id int64) (*Job, error) {
	return r.getOne("id = ?", id)
}

func (r *Repository) getOne(where string, arg any) (*Job, error) {
	slog.Debug("database_query_job", "where", where, "arg", arg)

	job, err := scanJob(r.db.QueryRow(`SELECT `+jobColumns+` FROM flash_jobs WHERE `+where, arg))
	if err == sql.ErrNoRows {
		slog.Info("database_job_not_found", "arg", arg)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "arg", arg, "error", err)
		return nil, errors.Wrap(err, "failed to query job")
	}
	return job, nil
}

// Update updates an existing job record
func (r *Repository) Update(job *Job) error {
	slog.Info("database_update_job", "job_id", job.ID, "status", job.Status)

	query := `
		UPDATE flash_jobs
		SET source = ?, device = ?, status = ?, bytes_written = ?, cache_path = ?,
		    error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		job.Source, job.Device, job.Status, job.BytesWritten, job.CachePath,
		job.ErrorMessage, job.ID)
	if err != nil {
		slog.Error("database_update_failed", "job_id", job.ID, "error", err)
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "job_id", job.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_job_not_found_for_update", "job_id", job.ID)
		return fmt.Errorf("job not found: id=%d", job.ID)
	}
	return nil
}

// UpdateStatus updates only the status and error message
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "job_id", id, "status", status)

	query := `UPDATE flash_jobs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "job_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// RecordResult stores the terminal status of a job
func (r *Repository) RecordResult(id int64, status string, bytesWritten int64, errorMessage string) error {
	slog.Info("database_record_result", "job_id", id, "status", status, "bytes_written", bytesWritten)

	query := `
		UPDATE flash_jobs
		SET status = ?, bytes_written = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, status, bytesWritten, errorMessage, id); err != nil {
		slog.Error("database_record_result_failed", "job_id", id, "error", err)
		return errors.Wrap(err, "failed to record result")
	}
	return nil
}

// List retrieves all jobs, newest first
func (r *Repository) List() ([]*Job, error) {
	slog.Debug("database_list_jobs")

	rows, err := r.db.Query(`SELECT ` + jobColumns + ` FROM flash_jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "job_count", len(jobs))
	return jobs, nil
}

// Delete deletes a job by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_job", "job_id", id)

	if _, err := r.db.Exec(`DELETE FROM flash_jobs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "job_id", id, "error", err)
		return errors.Wrap(err, "failed to delete job")
	}
	return nil
}

// AllocateJobNumber returns the next job number. Numbers are never reused,
// even after history rows are deleted.
func (r *Repository) AllocateJobNumber(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT next_job FROM job_sequence WHERE id = 1").Scan(&next); err != nil {
		slog.Error("failed_to_query_job_sequence", "error", err)
		return 0, errors.Wrap(err, "failed to query job sequence")
	}

	if _, err := tx.ExecContext(ctx, "UPDATE job_sequence SET next_job = ? WHERE id = 1", next+1); err != nil {
		slog.Error("failed_to_update_job_sequence", "error", err)
		return 0, errors.Wrap(err, "failed to update job sequence")
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("allocated_job_number", "job_number", next)
	return next, nil
}

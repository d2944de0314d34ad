package db

// Schema defines the SQLite database schema for flash job history.
// job_sequence hands out the numbers used to build workflow run IDs.
const Schema = `
CREATE TABLE IF NOT EXISTS flash_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_key TEXT NOT NULL UNIQUE,
    source TEXT NOT NULL,
    device TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'succeeded', 'failed', 'cancelled')),
    bytes_written INTEGER NOT NULL DEFAULT 0,
    cache_path TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_flash_jobs_job_key ON flash_jobs(job_key);
CREATE INDEX IF NOT EXISTS idx_flash_jobs_status ON flash_jobs(status);
CREATE INDEX IF NOT EXISTS idx_flash_jobs_created_at ON flash_jobs(created_at);

CREATE TABLE IF NOT EXISTS job_sequence (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    next_job INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO job_sequence (id, next_job) VALUES (1, 1);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is one recorded flash attempt
type Job struct {
	ID           int64
	Key          string
	Source       string
	Device       string
	Status       string
	BytesWritten int64
	CachePath    string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

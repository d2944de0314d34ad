package db

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)

	job := &Job{
		Key:    "flash-1",
		Source: "/images/debian.iso",
		Device: "/dev/sdb",
		Status: StatusPending,
	}
	if err := repo.Create(job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	retrieved, err := repo.GetByKey("flash-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if retrieved == nil {
		t.Fatal("job not found")
	}
	if retrieved.Source != job.Source || retrieved.Device != job.Device || retrieved.Status != StatusPending {
		t.Errorf("retrieved job mismatch: got %+v, want %+v", retrieved, job)
	}

	byID, err := repo.Get(job.ID)
	if err != nil || byID == nil || byID.Key != "flash-1" {
		t.Errorf("Get(%d) = %+v, %v", job.ID, byID, err)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)

	job, err := repo.GetByKey("flash-404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil, got %+v", job)
	}
}

func TestRepository_RejectsUnknownStatus(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Create(&Job{Key: "flash-1", Source: "a", Device: "b", Status: "ready"}); err == nil {
		t.Error("expected CHECK constraint failure for unknown status")
	}
}

func TestRepository_RecordResult(t *testing.T) {
	repo := newTestRepo(t)

	job := &Job{Key: "flash-1", Source: "a.img", Device: "/dev/sdb", Status: StatusPending}
	repo.Create(job)

	if err := repo.UpdateStatus(job.ID, StatusRunning, ""); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if err := repo.RecordResult(job.ID, StatusFailed, 4096, "i/o failed: EIO"); err != nil {
		t.Fatalf("failed to record result: %v", err)
	}

	updated, _ := repo.Get(job.ID)
	if updated.Status != StatusFailed || updated.BytesWritten != 4096 || updated.ErrorMessage != "i/o failed: EIO" {
		t.Errorf("result not recorded: %+v", updated)
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Update(&Job{ID: 42, Status: StatusFailed}); err == nil {
		t.Error("expected error updating a missing job")
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepo(t)

	repo.Create(&Job{Key: "flash-1", Source: "a.img", Device: "/dev/sdb", Status: StatusSucceeded})
	repo.Create(&Job{Key: "flash-2", Source: "b.img", Device: "/dev/sdc", Status: StatusCancelled})

	jobs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Key != "flash-2" {
		t.Errorf("expected newest first, got %s", jobs[0].Key)
	}

	if err := repo.Delete(jobs[0].ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	jobs, _ = repo.List()
	if len(jobs) != 1 || jobs[0].Key != "flash-1" {
		t.Errorf("unexpected jobs after delete: %+v", jobs)
	}
}

func TestRepository_AllocateJobNumber(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.AllocateJobNumber(ctx)
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imageflash/flasher/internal/config"
	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cleanupAll   bool
	cleanupCache bool
	cleanupJob   string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached images and job history",
	Long: `Remove intermediate files and history records:
  --cache        Remove downloaded and decompressed images from the cache directory
  --job <key>    Remove one job's history record and its cached image
  --all          Both of the above for every finished job`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean cache and all finished jobs")
	cleanupCmd.Flags().BoolVar(&cleanupCache, "cache", false, "Clean the cache directory")
	cleanupCmd.Flags().StringVar(&cleanupJob, "job", "", "Remove a job record by key")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupAll && !cleanupCache && cleanupJob == "" {
		return fmt.Errorf("must specify --all, --cache, or --job")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if cleanupAll || cleanupCache {
		if err := cleanupCacheDir(cfg.CacheDir); err != nil {
			return err
		}
	}

	if !cleanupAll && cleanupJob == "" {
		return nil
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if cleanupAll {
		return cleanupAllJobs(repo)
	}
	return cleanupSpecificJob(repo, cleanupJob)
}

func cleanupCacheDir(cacheDir string) error {
	entries, err := os.ReadDir(cacheDir)
	if os.IsNotExist(err) {
		fmt.Println("Cache is empty")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read cache directory")
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(cacheDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			fmt.Printf("Failed to remove %s: %v\n", entry.Name(), err)
			continue
		}
		fmt.Printf("Removed cached image: %s\n", entry.Name())
		removed++
	}

	fmt.Printf("Removed %d cached files from %s\n", removed, cacheDir)
	return nil
}

func cleanupAllJobs(repo *db.Repository) error {
	jobs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	removed := 0
	for _, job := range jobs {
		if !finished(job.Status) {
			fmt.Printf("Skipping %s: %s\n", job.Key, job.Status)
			continue
		}
		if err := repo.Delete(job.ID); err != nil {
			fmt.Printf("Failed to remove %s: %v\n", job.Key, err)
			continue
		}
		removed++
	}

	fmt.Printf("Removed %d job records\n", removed)
	return nil
}

func cleanupSpecificJob(repo *db.Repository, key string) error {
	job, err := repo.GetByKey(key)
	if err != nil {
		return errors.Wrap(err, "job lookup failed")
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", key)
	}

	if job.CachePath != "" {
		if err := os.Remove(job.CachePath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove cached image")
		}
		fmt.Printf("Removed cached image: %s\n", job.CachePath)
	}

	if err := repo.Delete(job.ID); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("Removed job record: %s\n", key)
	return nil
}

func finished(s string) bool {
	return s == db.StatusSucceeded || s == db.StatusFailed || s == db.StatusCancelled
}

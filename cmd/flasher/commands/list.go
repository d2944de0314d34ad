package commands

import (
	"fmt"

	"github.com/imageflash/flasher/internal/config"
	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List flash jobs and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	jobs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(jobs) == 0 {
		fmt.Println("No flash jobs found")
		return nil
	}

	fmt.Printf("%-12s %-10s %-14s %-10s %-40s %s\n", "JOB", "STATUS", "DEVICE", "WRITTEN", "SOURCE", "ERROR")
	fmt.Println("------------------------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		errMsg := job.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Printf("%-12s %-10s %-14s %-10s %-40s %s\n",
			job.Key, job.Status, job.Device, formatBytes(job.BytesWritten), job.Source, errMsg)
	}

	return nil
}

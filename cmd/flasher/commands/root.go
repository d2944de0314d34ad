package commands

import (
	"fmt"
	"os"

	"github.com/imageflash/flasher/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "flasher",
	Short: "Write disk images to removable drives",
	Long:  `Writes ISO/IMG images, optionally xz-compressed or downloaded over http(s) or s3, onto USB and SD block devices.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/flash_jobs.db", "SQLite job history path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM workflow store path")
	rootCmd.PersistentFlags().String("cache-dir", config.DefaultCacheDir(), "Directory for downloads and decompressed images")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// images")
	rootCmd.PersistentFlags().Int64("max-image-size", 64*1024*1024*1024, "Max image size in bytes (0 disables)")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("max-image-size", rootCmd.PersistentFlags().Lookup("max-image-size"))
}

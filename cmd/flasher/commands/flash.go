package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imageflash/flasher/internal/config"
	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/device"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/flash"
	appfsm "github.com/imageflash/flasher/pkg/fsm"
	"github.com/imageflash/flasher/pkg/security"
	"github.com/imageflash/flasher/pkg/source"
	"github.com/imageflash/flasher/pkg/status"
	"github.com/imageflash/flasher/pkg/storage"
	"github.com/imageflash/flasher/pkg/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"
)

var (
	flashCompression string
	flashName        string
	flashSHA256      string
)

var flashCmd = &cobra.Command{
	Use:   "flash <image|url> <device-node>",
	Short: "Write an image to a block device",
	Long: `Write an image to a block device such as /dev/sdb.

The image is a local file (raw or .xz) or an http(s):// or s3://bucket/key URL.
Remote images are downloaded into the cache directory before writing.
Interrupt with Ctrl-C to stop; the device is still rescanned and ejected.`,
	Args: cobra.ExactArgs(2),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVar(&flashCompression, "compression", "auto", "Local image compression: auto, raw or xz")
	flashCmd.Flags().StringVar(&flashName, "name", "", "Cache file name for a remote image")
	flashCmd.Flags().StringVar(&flashSHA256, "sha256", "", "Expected SHA-256 of a remote image")
	flashCmd.Flags().Int("chunk-size", 1024*1024, "Copy chunk size in bytes")
	flashCmd.Flags().Duration("poll-interval", time.Second, "Progress display interval")

	viper.BindPFlag("chunk-size", flashCmd.Flags().Lookup("chunk-size"))
	viper.BindPFlag("poll-interval", flashCmd.Flags().Lookup("poll-interval"))
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	imageArg, node := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	img, err := parseImage(imageArg, flashCompression, flashName, flashSHA256)
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.CacheDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	validator := security.NewValidator(cfg.MaxImageSize)
	extractor := &source.Extractor{Command: cfg.XzCommand, Args: cfg.XzArgList(), PollInterval: 100 * time.Millisecond}

	resolver := source.NewResolver(cfg.CacheDir, extractor, validator)
	resolver.ChunkSize = cfg.ChunkSize
	resolver.ReportInterval = cfg.ReportInterval

	if remote, ok := img.(source.Remote); ok {
		if _, _, err := storage.ParseURL(remote.URL); err == nil {
			s3Client, err := storage.NewClient(ctx, cfg.S3Region)
			if err != nil {
				return errors.Wrap(err, "S3 client failed")
			}
			resolver.WithFetcher(storage.Scheme, s3Client)
		}
	}

	svc, err := device.NewService(cfg.UDisksTimeout)
	if err != nil {
		return errors.Wrap(err, "disk service unavailable")
	}
	defer svc.Close()

	target, err := svc.Describe(ctx, node)
	if err != nil {
		return errors.Wrap(err, "device lookup failed")
	}

	deps := flash.Deps{
		Controller: device.NewManager(svc),
		Resolver:   resolver,
		Copier:     transfer.NewEngine(cfg.ChunkSize, cfg.BufferSize, cfg.ReportInterval),
		Validator:  validator,
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(repo, deps, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	num, err := repo.AllocateJobNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "job number allocation failed")
	}
	key := fmt.Sprintf("flash-%d", num)

	req, err := appfsm.NewFlashRequest(key, img, target)
	if err != nil {
		return err
	}

	cell := status.NewCell()
	flag := cancel.NewFlag()
	machine.Attach(key, cell, flag)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	fmt.Printf("Flashing %s to %s", img, target)
	if target.Model != "" || target.Size > 0 {
		fmt.Printf(" (%s, %s)", target.Model, formatBytes(target.Size))
	}
	fmt.Println()

	version, err := start(ctx, key, fsm.NewRequest(req, &appfsm.FlashResponse{}))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "job_key", key, "version", version)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- manager.Wait(ctx, version)
	}()

	began := time.Now()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var werr error
wait:
	for {
		select {
		case <-signals:
			fmt.Println("\nStopping...")
			flag.Stop()
		case <-ticker.C:
			fmt.Printf("\r%-40s", formatStatus(cell.Get(), time.Since(began)))
		case werr = <-waitErr:
			break wait
		}
	}
	fmt.Println()

	out, ok := machine.Outcome(key)
	if !ok {
		if werr != nil {
			return errors.Wrap(werr, "flash failed")
		}
		return fmt.Errorf("%s finished without running", key)
	}

	elapsed := time.Since(began).Round(time.Second)
	switch out.State {
	case flash.StateSucceeded:
		fmt.Printf("Wrote %s to %s in %s (%s)\n", humanize.IBytes(uint64(out.BytesWritten)), target, elapsed, key)
		return nil
	case flash.StateCancelled:
		fmt.Printf("Stopped after %s; %s is incomplete (%s)\n", humanize.IBytes(uint64(out.BytesWritten)), target, key)
		return nil
	default:
		msg, _ := cell.Get().Err()
		return fmt.Errorf("%s: %s", key, msg)
	}
}

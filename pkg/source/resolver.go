package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/security"
	"github.com/imageflash/flasher/pkg/status"
)

// ErrTotalSizeUnknown is returned when a server omits the content length.
var ErrTotalSizeUnknown = errors.New("total size unknown: server did not report a content length")

const defaultChunkSize = 256 * 1024

// Resolver materializes images into readable local files.
type Resolver struct {
	cacheDir  string
	extractor *Extractor
	fetchers  map[string]Fetcher
	validator *security.Validator

	// ChunkSize is the download read size.
	ChunkSize int
	// ReportInterval throttles download progress.
	ReportInterval time.Duration
}

// NewResolver creates a resolver writing intermediate files into cacheDir.
// http and https are served by an HTTPFetcher unless overridden with WithFetcher.
func NewResolver(cacheDir string, extractor *Extractor, validator *security.Validator) *Resolver {
	if extractor == nil {
		extractor = NewXzExtractor()
	}
	if validator == nil {
		validator = security.NewValidator(0)
	}
	httpFetcher := &HTTPFetcher{}
	return &Resolver{
		cacheDir:       cacheDir,
		extractor:      extractor,
		validator:      validator,
		fetchers:       map[string]Fetcher{"http": httpFetcher, "https": httpFetcher},
		ChunkSize:      defaultChunkSize,
		ReportInterval: status.DefaultInterval,
	}
}

// WithFetcher registers f for URLs with the given scheme.
func (r *Resolver) WithFetcher(scheme string, f Fetcher) *Resolver {
	r.fetchers[strings.ToLower(scheme)] = f
	return r
}

// CacheDir returns the directory holding downloads and decompressed images.
func (r *Resolver) CacheDir() string {
	return r.cacheDir
}

func (r *Resolver) ensureCacheDir() error {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return errors.E(errors.KindSourceUnavailable, "create cache directory", err)
	}
	return nil
}

// Resolve returns the image as a complete, synced file opened for reading.
// Progress for the download or decompression phase goes to report.
func (r *Resolver) Resolve(ctx context.Context, img Image, flag *cancel.Flag, report status.Reporter) (*Resolved, error) {
	if report == nil {
		report = func(status.Phase, status.Progress) {}
	}

	switch img := img.(type) {
	case Local:
		switch img.Compression {
		case Raw:
			return r.resolveRaw(img)
		case Xz:
			return r.resolveXz(ctx, img, flag, report)
		default:
			return nil, errors.E(errors.KindSourceUnavailable, "resolve", fmt.Errorf("unsupported compression %s", img.Compression))
		}
	case Remote:
		return r.resolveRemote(ctx, img, flag, report)
	default:
		return nil, errors.E(errors.KindSourceUnavailable, "resolve", fmt.Errorf("unsupported image %T", img))
	}
}

func (r *Resolver) resolveRaw(img Local) (*Resolved, error) {
	res, err := openResolved(img.Path)
	if err != nil {
		slog.Error("image_open_failed", "path", img.Path, "error", err)
		return nil, errors.E(errors.KindSourceUnavailable, "open "+img.Path, err)
	}
	if err := r.validator.ValidateImageSize(res.Size); err != nil {
		res.Close()
		return nil, errors.E(errors.KindSourceUnavailable, "validate "+img.Path, err)
	}

	slog.Info("image_opened", "path", img.Path, "size_mb", res.Size/1024/1024)
	return res, nil
}

func (r *Resolver) resolveXz(ctx context.Context, img Local, flag *cancel.Flag, report status.Reporter) (*Resolved, error) {
	if _, err := os.Stat(img.Path); err != nil {
		slog.Error("image_open_failed", "path", img.Path, "error", err)
		return nil, errors.E(errors.KindSourceUnavailable, "open "+img.Path, err)
	}
	if err := r.ensureCacheDir(); err != nil {
		return nil, err
	}

	output := filepath.Join(r.cacheDir, OutputName(img.Path))
	if abs, err := filepath.Abs(img.Path); err == nil && abs == output {
		output += ".img"
	}

	report(status.PhaseCopying, status.Pulse)

	if err := r.extractor.Extract(ctx, img.Path, output, flag); err != nil {
		return nil, err
	}
	if flag.Stopped() {
		return nil, errors.E(errors.KindCancelled, "extract", nil)
	}

	res, err := openResolved(output)
	if err != nil {
		return nil, errors.E(errors.KindSourceUnavailable, "open decompressed image", err)
	}
	if err := r.validator.ValidateImageSize(res.Size); err != nil {
		res.Close()
		return nil, errors.E(errors.KindSourceUnavailable, "validate decompressed image", err)
	}
	return res, nil
}

func (r *Resolver) fetcherFor(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("no fetcher for scheme %q", u.Scheme)
	}
	return f, nil
}

func (r *Resolver) resolveRemote(ctx context.Context, img Remote, flag *cancel.Flag, report status.Reporter) (*Resolved, error) {
	name := img.Name
	if name == "" {
		name = remoteName(img.URL)
	}
	if err := r.validator.ValidateCacheName(name); err != nil {
		return nil, errors.E(errors.KindSourceUnavailable, "cache name", err)
	}

	fetcher, err := r.fetcherFor(img.URL)
	if err != nil {
		return nil, errors.E(errors.KindSourceUnavailable, "download "+img.URL, err)
	}
	if err := r.ensureCacheDir(); err != nil {
		return nil, err
	}

	path := filepath.Join(r.cacheDir, name)
	if err := r.download(ctx, fetcher, img, path, flag, report); err != nil {
		return nil, err
	}

	res, err := openResolved(path)
	if err != nil {
		return nil, errors.E(errors.KindSourceUnavailable, "open downloaded image", err)
	}
	return res, nil
}

func (r *Resolver) download(ctx context.Context, fetcher Fetcher, img Remote, path string, flag *cancel.Flag, report status.Reporter) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.E(errors.KindSourceUnavailable, "create "+path, err)
	}
	defer file.Close()

	slog.Info("download_started", "url", img.URL, "local_path", path)

	body, total, err := fetcher.Fetch(ctx, img.URL)
	if err != nil {
		if ctx.Err() != nil {
			return errors.E(errors.KindCancelled, "download", nil)
		}
		slog.Error("download_failed", "url", img.URL, "error", err)
		return errors.E(errors.KindSourceUnavailable, "download "+img.URL, err)
	}
	defer body.Close()

	if total < 0 {
		slog.Error("download_size_unknown", "url", img.URL)
		return errors.E(errors.KindSourceUnavailable, "download "+img.URL, ErrTotalSizeUnknown)
	}
	if err := r.validator.ValidateImageSize(total); err != nil {
		return errors.E(errors.KindSourceUnavailable, "download "+img.URL, err)
	}

	hash := sha256.New()
	writer := io.MultiWriter(file, hash)

	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	buf := make([]byte, chunk)
	throttle := status.NewThrottle(r.ReportInterval)
	var downloaded int64

	report(status.PhaseDownloading, status.FractionOf(0, total))

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := writer.Write(buf[:n]); err != nil {
				return errors.E(errors.KindSourceUnavailable, "write "+path, err)
			}
			downloaded = min(downloaded+int64(n), total)

			if flag.Stopped() || ctx.Err() != nil {
				slog.Info("download_cancelled", "url", img.URL, "downloaded", downloaded)
				return errors.E(errors.KindCancelled, "download", nil)
			}
			if throttle.Allow() {
				report(status.PhaseDownloading, status.FractionOf(downloaded, total))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				slog.Info("download_cancelled", "url", img.URL, "downloaded", downloaded)
				return errors.E(errors.KindCancelled, "download", nil)
			}
			slog.Error("download_failed", "url", img.URL, "downloaded", downloaded, "error", readErr)
			return errors.E(errors.KindSourceUnavailable, "download "+img.URL, readErr)
		}
	}

	if downloaded < total {
		return errors.E(errors.KindSourceUnavailable, "download "+img.URL,
			fmt.Errorf("received %d of %d bytes", downloaded, total))
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	if img.SHA256 != "" && !strings.EqualFold(img.SHA256, checksum) {
		slog.Error("download_checksum_mismatch", "url", img.URL, "want", img.SHA256, "got", checksum)
		return errors.E(errors.KindSourceUnavailable, "verify "+img.URL,
			fmt.Errorf("sha256 mismatch: got %s", checksum))
	}

	if err := file.Sync(); err != nil {
		return errors.E(errors.KindSourceUnavailable, "sync "+path, err)
	}

	report(status.PhaseDownloading, status.FractionOf(downloaded, total))
	slog.Info("download_complete", "url", img.URL, "size_mb", downloaded/1024/1024, "sha256", checksum[:16]+"...")
	return nil
}

// remoteName picks a cache file name from the last URL path element.
func remoteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := filepath.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

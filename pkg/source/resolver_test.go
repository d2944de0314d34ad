package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/status"
)

type recordedReport struct {
	phase    status.Phase
	progress status.Progress
}

type recorder struct {
	mu      sync.Mutex
	reports []recordedReport
}

func (r *recorder) report(phase status.Phase, p status.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, recordedReport{phase, p})
}

func (r *recorder) all() []recordedReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedReport(nil), r.reports...)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func readAll(t *testing.T, res *Resolved) []byte {
	t.Helper()
	defer res.Close()
	data, err := io.ReadAll(res)
	if err != nil {
		t.Fatalf("failed to read resolved image: %v", err)
	}
	return data
}

func requireKind(t *testing.T, err error, want errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	kind, ok := errors.KindOf(err)
	if !ok || kind != want {
		t.Fatalf("expected kind %v, got %v (%v)", want, kind, err)
	}
}

func TestResolve_LocalRaw(t *testing.T) {
	dir := t.TempDir()
	data := pattern(4096)
	path := writeFile(t, dir, "disk.img", data)

	r := NewResolver(filepath.Join(dir, "cache"), nil, nil)
	res, err := r.Resolve(context.Background(), Local{Path: path, Compression: Raw}, cancel.NewFlag(), nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", res.Size, len(data))
	}
	if got := readAll(t, res); !bytes.Equal(got, data) {
		t.Error("resolved bytes differ from source")
	}
	if _, err := os.Stat(filepath.Join(dir, "cache")); !os.IsNotExist(err) {
		t.Error("raw images must not touch the cache directory")
	}
}

func TestResolve_LocalRawMissing(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), Local{Path: "/nonexistent/disk.img"}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindSourceUnavailable)
}

func shExtractor(script string) *Extractor {
	return &Extractor{Command: "sh", Args: []string{"-c", script, "extract"}, PollInterval: 10 * time.Millisecond}
}

func TestResolve_LocalXz(t *testing.T) {
	dir := t.TempDir()
	data := pattern(10000)
	path := writeFile(t, dir, "fedora.iso.xz", data)
	cacheDir := filepath.Join(dir, "cache")

	rec := &recorder{}
	r := NewResolver(cacheDir, shExtractor(`cat "$1"`), nil)
	res, err := r.Resolve(context.Background(), Local{Path: path, Compression: Xz}, cancel.NewFlag(), rec.report)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if res.Path != filepath.Join(cacheDir, "fedora.iso") {
		t.Errorf("unexpected output path %s", res.Path)
	}
	if got := readAll(t, res); !bytes.Equal(got, data) {
		t.Error("decompressed bytes differ")
	}

	reports := rec.all()
	if len(reports) == 0 || reports[0].phase != status.PhaseCopying || !reports[0].progress.IsPulse() {
		t.Errorf("expected a copying pulse report, got %+v", reports)
	}
}

func TestResolve_LocalXzFailureCapturesStderr(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.img.xz", []byte("not xz"))

	r := NewResolver(filepath.Join(dir, "cache"), shExtractor(`echo "bad magic" >&2; exit 1`), nil)
	_, err := r.Resolve(context.Background(), Local{Path: path, Compression: Xz}, cancel.NewFlag(), nil)

	requireKind(t, err, errors.KindExtractionFailed)
	if !strings.Contains(err.Error(), "bad magic") {
		t.Errorf("expected captured stderr in %q", err.Error())
	}
}

func TestResolve_LocalXzCancelledWhileRunning(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "slow.img.xz", []byte("x"))

	flag := cancel.NewFlag()
	r := NewResolver(filepath.Join(dir, "cache"), shExtractor(`exec sleep 10`), nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		flag.Stop()
	}()

	start := time.Now()
	_, err := r.Resolve(context.Background(), Local{Path: path, Compression: Xz}, flag, nil)
	requireKind(t, err, errors.KindCancelled)
	if time.Since(start) > 5*time.Second {
		t.Error("extraction was not interrupted")
	}
}

func serve(data []byte, withLength bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write(data)
	}))
}

func TestResolve_RemoteDownload(t *testing.T) {
	data := pattern(300 * 1024)
	srv := serve(data, true)
	defer srv.Close()

	cacheDir := t.TempDir()
	rec := &recorder{}
	r := NewResolver(cacheDir, nil, nil)
	r.ChunkSize = 16 * 1024
	r.ReportInterval = 0

	sum := sha256.Sum256(data)
	img := Remote{URL: srv.URL + "/images/debian.iso", Name: "debian.iso", SHA256: hex.EncodeToString(sum[:])}

	res, err := r.Resolve(context.Background(), img, cancel.NewFlag(), rec.report)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Path != filepath.Join(cacheDir, "debian.iso") {
		t.Errorf("unexpected cache path %s", res.Path)
	}
	if got := readAll(t, res); !bytes.Equal(got, data) {
		t.Error("downloaded bytes differ")
	}

	reports := rec.all()
	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	prev := -1.0
	for _, rep := range reports {
		if rep.phase != status.PhaseDownloading {
			t.Fatalf("unexpected phase %v", rep.phase)
		}
		v, ok := rep.progress.Value()
		if !ok {
			t.Fatal("download progress should be determinate")
		}
		if v < prev {
			t.Errorf("progress went backwards: %v after %v", v, prev)
		}
		prev = v
	}
	if prev != 1 {
		t.Errorf("final download progress = %v, want 1", prev)
	}
}

func TestResolve_RemoteWithoutContentLength(t *testing.T) {
	srv := serve(pattern(1024), false)
	defer srv.Close()

	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), Remote{URL: srv.URL + "/x.iso", Name: "x.iso"}, cancel.NewFlag(), nil)

	requireKind(t, err, errors.KindSourceUnavailable)
	if !errors.Is(err, ErrTotalSizeUnknown) {
		t.Errorf("expected ErrTotalSizeUnknown, got %v", err)
	}
}

func TestResolve_RemoteChecksumMismatch(t *testing.T) {
	srv := serve(pattern(1024), true)
	defer srv.Close()

	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), Remote{URL: srv.URL + "/x.iso", Name: "x.iso", SHA256: strings.Repeat("0", 64)}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindSourceUnavailable)
}

func TestResolve_RemoteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), Remote{URL: srv.URL + "/missing.iso"}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindSourceUnavailable)
}

func TestResolve_RemoteCancelled(t *testing.T) {
	srv := serve(pattern(1024*1024), true)
	defer srv.Close()

	flag := cancel.NewFlag()
	flag.Stop()

	r := NewResolver(t.TempDir(), nil, nil)
	r.ChunkSize = 4096
	_, err := r.Resolve(context.Background(), Remote{URL: srv.URL + "/x.iso", Name: "x.iso"}, flag, nil)
	requireKind(t, err, errors.KindCancelled)
}

func TestResolve_RemoteRejectsTraversalName(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	_, err := r.Resolve(context.Background(), Remote{URL: "http://127.0.0.1/x.iso", Name: "../escape.iso"}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindSourceUnavailable)
}

type staticFetcher struct {
	data []byte
	size int64
}

func (s staticFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(s.data)), s.size, nil
}

func TestResolve_RemoteCustomScheme(t *testing.T) {
	data := pattern(2048)
	r := NewResolver(t.TempDir(), nil, nil).WithFetcher("s3", staticFetcher{data: data, size: int64(len(data))})

	res, err := r.Resolve(context.Background(), Remote{URL: "s3://bucket/images/alpine.iso"}, cancel.NewFlag(), nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if filepath.Base(res.Path) != "alpine.iso" {
		t.Errorf("name should default to the URL base, got %s", res.Path)
	}
	if got := readAll(t, res); !bytes.Equal(got, data) {
		t.Error("downloaded bytes differ")
	}
}

func TestResolve_RemoteZeroLengthIsPulse(t *testing.T) {
	rec := &recorder{}
	r := NewResolver(t.TempDir(), nil, nil).WithFetcher("s3", staticFetcher{size: 0})

	res, err := r.Resolve(context.Background(), Remote{URL: "s3://bucket/empty.img"}, cancel.NewFlag(), rec.report)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	res.Close()

	for _, rep := range rec.all() {
		if !rep.progress.IsPulse() {
			t.Errorf("zero-length download must report pulse, got %v", rep.progress)
		}
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"/images/fedora.iso.xz": "fedora.iso",
		"raspios.img.xz":        "raspios.img",
		"noext":                 "noext",
	}
	for in, want := range tests {
		if got := OutputName(in); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name, path string
		want       Compression
		shouldErr  bool
	}{
		{"auto", "a.img.xz", Xz, false},
		{"", "a.img", Raw, false},
		{"raw", "a.img.xz", Raw, false},
		{"XZ", "a.img", Xz, false},
		{"zstd", "a.img.zst", Raw, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.name, tt.path)
		if tt.shouldErr != (err != nil) {
			t.Errorf("ParseCompression(%q): err = %v", tt.name, err)
			continue
		}
		if !tt.shouldErr && got != tt.want {
			t.Errorf("ParseCompression(%q, %q) = %v, want %v", tt.name, tt.path, got, tt.want)
		}
	}
}

func TestResolve_LocalXzContextCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "slow.img.xz", []byte("x"))
	r := NewResolver(filepath.Join(dir, "cache"), shExtractor(`exec sleep 10`), nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancelCtx()
	}()

	_, err := r.Resolve(ctx, Local{Path: path, Compression: Xz}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindCancelled)
}

// cancellingReader cancels its context after the first read
type cancellingReader struct {
	data   []byte
	cancel context.CancelFunc
	reads  int
}

func (c *cancellingReader) Read(p []byte) (int, error) {
	c.reads++
	if c.reads > 1 {
		return 0, context.Canceled
	}
	c.cancel()
	return copy(p, c.data), nil
}

type readerFetcher struct {
	body io.Reader
	size int64
}

func (f readerFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return io.NopCloser(f.body), f.size, nil
}

func TestResolve_RemoteContextCancelled(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	body := &cancellingReader{data: pattern(4096), cancel: cancelCtx}
	r := NewResolver(t.TempDir(), nil, nil).WithFetcher("s3", readerFetcher{body: body, size: 1 << 20})
	r.ChunkSize = 4096

	_, err := r.Resolve(ctx, Remote{URL: "s3://bucket/live.iso"}, cancel.NewFlag(), nil)
	requireKind(t, err, errors.KindCancelled)
}

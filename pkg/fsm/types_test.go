package fsm

import (
	"testing"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/device"
	"github.com/imageflash/flasher/pkg/flash"
	"github.com/imageflash/flasher/pkg/source"
	"github.com/imageflash/flasher/pkg/status"
)

func testTarget() device.Target {
	return device.Target{
		Block:      device.BlockDevicesPath + "sdb",
		Partitions: []string{device.BlockDevicesPath + "sdb1"},
		Drive:      "/org/freedesktop/UDisks2/drives/Stick",
		Node:       "/dev/sdb",
		Size:       16 << 30,
		Model:      "Stick",
	}
}

// TestRequestPreservesLocalImage verifies an xz image survives persistence
func TestRequestPreservesLocalImage(t *testing.T) {
	img := source.Local{Path: "/images/raspios.img.xz", Compression: source.Xz}

	req, err := NewFlashRequest("flash-1", img, testTarget())
	if err != nil {
		t.Fatalf("NewFlashRequest failed: %v", err)
	}
	if req.SourceKind != SourceLocal || req.SourceLabel() != img.Path {
		t.Errorf("Unexpected request: %+v", req)
	}

	got, err := req.Image()
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if got != img {
		t.Errorf("Expected %v, got %v", img, got)
	}

	// A raw image named .xz must stay raw
	raw := source.Local{Path: "/images/odd.xz", Compression: source.Raw}
	req, _ = NewFlashRequest("flash-2", raw, testTarget())
	if got, _ := req.Image(); got != raw {
		t.Errorf("Expected %v, got %v", raw, got)
	}
}

func TestRequestPreservesRemoteImage(t *testing.T) {
	img := source.Remote{URL: "s3://images/live.iso", Name: "live.iso", SHA256: "abc"}

	req, err := NewFlashRequest("flash-1", img, testTarget())
	if err != nil {
		t.Fatalf("NewFlashRequest failed: %v", err)
	}
	if req.SourceLabel() != img.URL {
		t.Errorf("Expected label %s, got %s", img.URL, req.SourceLabel())
	}
	if got, _ := req.Image(); got != img {
		t.Errorf("Expected %v, got %v", img, got)
	}
}

func TestRequestTargetIsCopied(t *testing.T) {
	target := testTarget()
	req, _ := NewFlashRequest("flash-1", source.Local{Path: "/a.img"}, target)

	target.Partitions[0] = "changed"
	got := req.Target()
	if got.Partitions[0] != device.BlockDevicesPath+"sdb1" {
		t.Error("Request shares partitions with the caller's target")
	}
	if got.Block != target.Block || got.Drive != target.Drive || got.Size != target.Size || got.Node != target.Node {
		t.Errorf("Unexpected target %+v", got)
	}
}

func TestRequestUnknownSourceKind(t *testing.T) {
	req := &FlashRequest{SourceKind: "floppy"}
	if _, err := req.Image(); err == nil {
		t.Error("Expected error for unknown source kind")
	}
}

func TestHistoryStatus(t *testing.T) {
	tests := []struct {
		state flash.State
		want  string
	}{
		{flash.StateSucceeded, db.StatusSucceeded},
		{flash.StateCancelled, db.StatusCancelled},
		{flash.StateFailed, db.StatusFailed},
	}
	for _, tt := range tests {
		if got := historyStatus(tt.state); got != tt.want {
			t.Errorf("historyStatus(%s) = %s, want %s", tt.state, got, tt.want)
		}
		if !finished(historyStatus(tt.state)) {
			t.Errorf("%s should be finished", tt.want)
		}
	}
	if finished(db.StatusRunning) || finished(db.StatusPending) {
		t.Error("pending and running jobs are not finished")
	}
}

func TestAttachAndOutcome(t *testing.T) {
	m := NewMachine(nil, flash.Deps{}, 0)
	if m.maxRetries != 1 {
		t.Errorf("Expected maxRetries clamped to 1, got %d", m.maxRetries)
	}

	m.Attach("flash-1", status.NewCell(), cancel.NewFlag())
	if _, ok := m.Outcome("flash-1"); ok {
		t.Error("Expected no outcome before the job ran")
	}

	m.setOutcome("flash-1", flash.Outcome{State: flash.StateSucceeded, BytesWritten: 42})
	out, ok := m.Outcome("flash-1")
	if !ok || out.State != flash.StateSucceeded || out.BytesWritten != 42 {
		t.Errorf("Unexpected outcome %+v, %v", out, ok)
	}

	m.setOutcome("flash-2", flash.Outcome{State: flash.StateFailed})
	if _, ok := m.Outcome("flash-2"); ok {
		t.Error("Outcome recorded for a job that was never attached")
	}
}

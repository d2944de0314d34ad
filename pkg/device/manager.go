package device

import (
	"context"
	"log/slog"

	"github.com/imageflash/flasher/pkg/errors"
)

// Manager implements Controller on top of a disk-management Service.
// Every step except OpenExclusive is advisory: failures are logged only.
type Manager struct {
	service Service
}

// NewManager creates a controller backed by service
func NewManager(service Service) *Manager {
	return &Manager{service: service}
}

// UnmountAll force-unmounts the parent block device and every partition.
// Nothing mounted counts as success; other failures are logged and ignored.
func (m *Manager) UnmountAll(ctx context.Context, target Target) {
	paths := append([]string{target.Block}, target.Partitions...)

	for _, path := range paths {
		if path == "" {
			continue
		}
		err := m.service.Unmount(ctx, path, true)
		switch {
		case err == nil:
			slog.Info("unmount_complete", "object_path", path)
		case errors.Is(err, ErrNotMounted):
			slog.Debug("unmount_skipped", "object_path", path, "reason", "not_mounted")
		default:
			slog.Warn("unmount_failed", "object_path", path, "error", err)
		}
	}
}

// OpenExclusive asks the service for a read-write, O_SYNC|O_EXCL descriptor.
// A denial is fatal for the job and is never retried.
func (m *Manager) OpenExclusive(ctx context.Context, target Target) (Handle, error) {
	slog.Info("open_device", "object_path", target.Block, "device", target.String())

	h, err := m.service.OpenDevice(ctx, target.Block, "rw", OpenFlags)
	if err != nil {
		slog.Error("open_device_failed", "object_path", target.Block, "error", err)
		return nil, errors.E(errors.KindDeviceUnavailable, "open "+target.String(), err)
	}

	slog.Info("open_device_complete", "object_path", target.Block)
	return h, nil
}

// Finalize rescans the partition table and ejects the drive. Both are
// best-effort: the copy outcome is already decided.
func (m *Manager) Finalize(ctx context.Context, target Target) {
	if target.Block != "" {
		if err := m.service.Rescan(ctx, target.Block); err != nil {
			slog.Warn("rescan_failed", "object_path", target.Block, "error", err)
		} else {
			slog.Info("rescan_complete", "object_path", target.Block)
		}
	}

	if target.Drive != "" {
		if err := m.service.Eject(ctx, target.Drive); err != nil {
			slog.Warn("eject_failed", "drive", target.Drive, "error", err)
		} else {
			slog.Info("eject_complete", "drive", target.Drive)
		}
	}
}

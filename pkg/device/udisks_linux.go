//go:build linux

package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
	"golang.org/x/sys/unix"
)

// OpenFlags requests write-through, exclusive access to the block device
const OpenFlags = unix.O_SYNC | unix.O_EXCL

// DBusService talks to UDisks2 over the system bus
type DBusService struct {
	conn    *dbus.Conn
	timeout time.Duration
}

// NewService connects to the system bus
func NewService(timeout time.Duration) (*DBusService, error) {
	slog.Info("udisks_init", "platform", "linux")

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		slog.Error("system_bus_connect_failed", "error", err)
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DBusService{conn: conn, timeout: timeout}, nil
}

func (s *DBusService) object(path string) dbus.BusObject {
	return s.conn.Object(UDisksBus, dbus.ObjectPath(path))
}

func (s *DBusService) call(ctx context.Context, path, method string, args ...any) *dbus.Call {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.object(path).CallWithContext(ctx, method, 0, args...)
}

func (s *DBusService) Unmount(ctx context.Context, objectPath string, force bool) error {
	options := map[string]dbus.Variant{"force": dbus.MakeVariant(force)}

	call := s.call(ctx, objectPath, ifaceFilesystem+".Unmount", options)
	if call.Err != nil {
		if dbusErrorName(call.Err) == errNotMountedName {
			return ErrNotMounted
		}
		return errors.Wrap(call.Err, "unmount "+objectPath)
	}
	return nil
}

func (s *DBusService) OpenDevice(ctx context.Context, objectPath string, mode string, flags int) (Handle, error) {
	options := map[string]dbus.Variant{"flags": dbus.MakeVariant(int32(flags))}

	call := s.call(ctx, objectPath, ifaceBlock+".OpenDevice", mode, options)
	if call.Err != nil {
		return nil, errors.Wrap(call.Err, "OpenDevice "+objectPath)
	}

	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		return nil, errors.Wrap(err, "OpenDevice reply")
	}
	f := os.NewFile(uintptr(fd), objectPath)
	if f == nil {
		return nil, fmt.Errorf("OpenDevice %s: invalid descriptor %d", objectPath, fd)
	}
	return f, nil
}

func (s *DBusService) Rescan(ctx context.Context, objectPath string) error {
	call := s.call(ctx, objectPath, ifaceBlock+".Rescan", map[string]dbus.Variant{})
	return errors.Wrap(call.Err, "rescan "+objectPath)
}

func (s *DBusService) Eject(ctx context.Context, drivePath string) error {
	call := s.call(ctx, drivePath, ifaceDrive+".Eject", map[string]dbus.Variant{})
	return errors.Wrap(call.Err, "eject "+drivePath)
}

func (s *DBusService) Close() error {
	return s.conn.Close()
}

// Describe builds a Target for one device node named by the user. Size,
// model and partitions come from the block device inventory; the drive and,
// as a fallback, the partitions come from UDisks2.
func (s *DBusService) Describe(ctx context.Context, node string) (Target, error) {
	blockPath, err := BlockObjectPath(node)
	if err != nil {
		return Target{}, err
	}
	target := Target{Block: blockPath, Node: node}
	name := filepath.Base(filepath.Clean(node))

	if info, err := block.New(ghw.WithDisableTools()); err != nil {
		slog.Warn("block_inventory_failed", "error", err)
	} else {
		for _, disk := range info.Disks {
			if disk.Name != name {
				continue
			}
			target.Size = int64(disk.SizeBytes)
			target.Model = disk.Model
			for _, part := range disk.Partitions {
				if p, err := BlockObjectPath(part.Name); err == nil {
					target.Partitions = append(target.Partitions, p)
				}
			}
		}
	}

	drive, err := s.object(blockPath).GetProperty(ifaceBlock + ".Drive")
	if err != nil {
		slog.Error("device_lookup_failed", "device", node, "error", err)
		return Target{}, errors.Wrap(err, "unknown block device "+node)
	}
	if p, ok := drive.Value().(dbus.ObjectPath); ok && p != "/" {
		target.Drive = string(p)
	}

	if len(target.Partitions) == 0 {
		if v, err := s.object(blockPath).GetProperty(ifacePartitionTable + ".Partitions"); err == nil {
			if parts, ok := v.Value().([]dbus.ObjectPath); ok {
				for _, p := range parts {
					target.Partitions = append(target.Partitions, string(p))
				}
			}
		}
	}

	if target.Size == 0 {
		if v, err := s.object(blockPath).GetProperty(ifaceBlock + ".Size"); err == nil {
			if size, ok := v.Value().(uint64); ok {
				target.Size = int64(size)
			}
		}
	}

	slog.Info("device_described", "device", node, "object_path", blockPath, "drive", target.Drive,
		"partitions", len(target.Partitions), "size_mb", target.Size/1024/1024)
	return target, nil
}

func dbusErrorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) {
		return ptr.Name
	}
	return ""
}

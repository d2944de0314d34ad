//go:build !linux

package device

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// OpenFlags carries no platform flags outside linux
const OpenFlags = 0

// DBusService is unavailable on non-Linux systems
type DBusService struct{}

// NewService fails on non-Linux systems
func NewService(timeout time.Duration) (*DBusService, error) {
	return nil, fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) Unmount(ctx context.Context, objectPath string, force bool) error {
	return fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) OpenDevice(ctx context.Context, objectPath string, mode string, flags int) (Handle, error) {
	return nil, fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) Rescan(ctx context.Context, objectPath string) error {
	return fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) Eject(ctx context.Context, drivePath string) error {
	return fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) Describe(ctx context.Context, node string) (Target, error) {
	return Target{}, fmt.Errorf("udisks not supported on %s", runtime.GOOS)
}

func (s *DBusService) Close() error {
	return nil
}

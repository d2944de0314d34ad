package device

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/imageflash/flasher/pkg/errors"
)

// Target identifies one block device for the duration of a single job.
// Block, Partitions and Drive are disk-management object paths.
type Target struct {
	Block      string
	Partitions []string
	Drive      string

	// Node is the /dev path, informational only
	Node  string
	Size  int64
	Model string
}

func (t Target) String() string {
	if t.Node != "" {
		return t.Node
	}
	return t.Block
}

// Handle is an open, write-through file descriptor on the block device
type Handle interface {
	io.WriteCloser
	Sync() error
}

// ErrNotMounted is returned by Service.Unmount when nothing was mounted
var ErrNotMounted = errors.New("not mounted")

// Service is the OS disk-management protocol
type Service interface {
	// Unmount unmounts the filesystem on objectPath. It returns
	// ErrNotMounted if there was nothing to unmount.
	Unmount(ctx context.Context, objectPath string, force bool) error

	// OpenDevice returns a raw file descriptor for the block device
	OpenDevice(ctx context.Context, objectPath string, mode string, flags int) (Handle, error)

	// Rescan re-reads the block device's partition table
	Rescan(ctx context.Context, objectPath string) error

	// Eject ejects the drive
	Eject(ctx context.Context, drivePath string) error

	// Close releases the connection to the service
	Close() error
}

// Controller prepares and releases the destination of a flash job
type Controller interface {
	// UnmountAll best-effort unmounts the device and its partitions
	UnmountAll(ctx context.Context, target Target)

	// OpenExclusive opens the block device for synchronous exclusive writing
	OpenExclusive(ctx context.Context, target Target) (Handle, error)

	// Finalize best-effort rescans the partition table and ejects the drive
	Finalize(ctx context.Context, target Target)
}

// BlockObjectPath returns the UDisks2 object path for a /dev node such as
// /dev/sdb or /dev/mmcblk0p1.
func BlockObjectPath(node string) (string, error) {
	name := filepath.Base(filepath.Clean(node))
	if name == "" || name == "." || name == "/" || name == "dev" {
		return "", fmt.Errorf("invalid device node: %q", node)
	}
	return BlockDevicesPath + strings.ReplaceAll(name, "-", "_2d"), nil
}

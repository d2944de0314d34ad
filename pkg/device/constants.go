package device

import "time"

// UDisks2 D-Bus names used by the linux service.
const (
	// UDisksBus is the well-known bus name of the disk-management daemon
	UDisksBus = "org.freedesktop.UDisks2"
	// BlockDevicesPath is the object path prefix of block devices
	BlockDevicesPath = "/org/freedesktop/UDisks2/block_devices/"

	ifaceBlock          = "org.freedesktop.UDisks2.Block"
	ifaceFilesystem     = "org.freedesktop.UDisks2.Filesystem"
	ifaceDrive          = "org.freedesktop.UDisks2.Drive"
	ifacePartitionTable = "org.freedesktop.UDisks2.PartitionTable"

	// errNotMountedName is the D-Bus error returned when unmounting
	// something that is not mounted
	errNotMountedName = "org.freedesktop.UDisks2.Error.NotMounted"
)

// DefaultTimeout bounds each call to the disk-management daemon (25s)
const DefaultTimeout = 25 * time.Second

// Package source turns an image reference into a fully written, readable
// local file: opening it directly, decompressing it with an external tool,
// or downloading it into the cache directory first.
package source

import (
	"fmt"
	"os"
	"strings"
)

// Compression of a local image.
type Compression int

const (
	Raw Compression = iota
	Xz
)

func (c Compression) String() string {
	switch c {
	case Raw:
		return "raw"
	case Xz:
		return "xz"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression accepts "raw", "xz" and "auto"; auto detects from path.
func ParseCompression(name, path string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return DetectCompression(path), nil
	case "raw", "none":
		return Raw, nil
	case "xz":
		return Xz, nil
	default:
		return Raw, fmt.Errorf("unknown compression %q", name)
	}
}

// DetectCompression maps a .xz suffix to Xz and anything else to Raw.
func DetectCompression(path string) Compression {
	if strings.HasSuffix(strings.ToLower(path), ".xz") {
		return Xz
	}
	return Raw
}

// Image is a closed set of image references: Local or Remote.
type Image interface {
	isImage()
	String() string
}

// Local is an image file on this machine.
type Local struct {
	Path        string
	Compression Compression
}

// Remote is an image fetched over http(s) or s3 into the cache directory
// under Name before it is copied.
type Remote struct {
	URL  string
	Name string
	// SHA256 is an optional hex digest the download must match.
	SHA256 string
}

func (Local) isImage()  {}
func (Remote) isImage() {}

func (l Local) String() string  { return fmt.Sprintf("%s (%s)", l.Path, l.Compression) }
func (r Remote) String() string { return r.URL }

// Resolved is a complete, durable image file opened for reading.
type Resolved struct {
	File *os.File
	Path string
	Size int64
}

// Read implements io.Reader.
func (r *Resolved) Read(p []byte) (int, error) {
	return r.File.Read(p)
}

// Close closes the underlying file.
func (r *Resolved) Close() error {
	return r.File.Close()
}

func openResolved(path string) (*Resolved, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Resolved{File: f, Path: path, Size: fi.Size()}, nil
}

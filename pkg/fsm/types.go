package fsm

import (
	"fmt"

	"github.com/imageflash/flasher/pkg/device"
	"github.com/imageflash/flasher/pkg/source"
)

// Source kinds stored in a FlashRequest
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// FlashRequest is the FSM input. It is persisted by the workflow store, so
// it carries plain fields rather than the image and target types.
type FlashRequest struct {
	JobKey string

	SourceKind  string
	Path        string
	Compression string
	URL         string
	Name        string
	SHA256      string

	Block      string
	Partitions []string
	Drive      string
	Node       string
	Size       int64
	Model      string
}

// FlashResponse is the FSM output (accumulated across transitions)
type FlashResponse struct {
	// From Record
	JobID int64

	// From Flash
	State        string
	BytesWritten int64
	Cancelled    bool
	ErrorMessage string
}

// State names
const (
	StateRecord   = "record"
	StateFlash    = "flash"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// NewFlashRequest flattens an image and target into a request
func NewFlashRequest(key string, img source.Image, target device.Target) (*FlashRequest, error) {
	req := &FlashRequest{
		JobKey:     key,
		Block:      target.Block,
		Partitions: append([]string(nil), target.Partitions...),
		Drive:      target.Drive,
		Node:       target.Node,
		Size:       target.Size,
		Model:      target.Model,
	}

	switch img := img.(type) {
	case source.Local:
		req.SourceKind = SourceLocal
		req.Path = img.Path
		req.Compression = img.Compression.String()
	case source.Remote:
		req.SourceKind = SourceRemote
		req.URL = img.URL
		req.Name = img.Name
		req.SHA256 = img.SHA256
	default:
		return nil, fmt.Errorf("unsupported image %T", img)
	}
	return req, nil
}

// Image rebuilds the image reference
func (r *FlashRequest) Image() (source.Image, error) {
	switch r.SourceKind {
	case SourceLocal:
		c, err := source.ParseCompression(r.Compression, r.Path)
		if err != nil {
			return nil, err
		}
		return source.Local{Path: r.Path, Compression: c}, nil
	case SourceRemote:
		return source.Remote{URL: r.URL, Name: r.Name, SHA256: r.SHA256}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", r.SourceKind)
	}
}

// Target rebuilds the device target
func (r *FlashRequest) Target() device.Target {
	return device.Target{
		Block:      r.Block,
		Partitions: append([]string(nil), r.Partitions...),
		Drive:      r.Drive,
		Node:       r.Node,
		Size:       r.Size,
		Model:      r.Model,
	}
}

// SourceLabel is the human-readable source recorded in job history
func (r *FlashRequest) SourceLabel() string {
	if r.SourceKind == SourceRemote {
		return r.URL
	}
	return r.Path
}

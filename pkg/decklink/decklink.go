// Package decklink orchestrates a DeckLink-class capture/output device for a
// real-time compositor.
//
// The Manager owns device discovery and the device itself, picks the display
// mode from the compositor frame height, and exposes a query surface that is
// safe to call every frame whether or not hardware is present. Drivers
// (discovery, handles and devices) are external collaborators supplied through
// the Driver interface.
package decklink

import "errors"

// HNSPerSecond is the number of 100ns units in one second.
const HNSPerSecond int64 = 10_000_000

// DefaultDurationHNS is the frame duration reported when no device is enabled:
// one 30fps frame in 100ns units.
const DefaultDurationHNS int64 = HNSPerSecond / 30

// ErrNotAvailable is returned by drivers when DeckLink support is not present.
var ErrNotAvailable = errors.New("decklink: driver not available")

// ErrRestartBackoff is returned by devices that refuse to restart capture
// again so soon. The manager retries on a later Initialize.
var ErrRestartBackoff = errors.New("decklink: capture restart backoff")

// Surface is an opaque, borrowed render surface or texture handle. A nil
// Surface means the caller did not supply one.
type Surface interface{}

// FrameSource is implemented by output surfaces that can hand raw frame bytes
// to drivers that push frames through a CPU path.
type FrameSource interface {
	Frame(compositeFrameIndex int) ([]byte, bool)
}

// Handle is a raw reference to one physical device, obtained from Discovery.
type Handle interface {
	Name() string
	Release()
}

// Discovery enumerates compatible hardware.
type Discovery interface {
	// Enable reports whether the driver stack is installed and discovery runs.
	Enable() bool
	// GetDeviceHandle returns the next available device, or nil if none.
	GetDeviceHandle() Handle
	Release()
}

// Device wraps one physical device. Implementations own their locking: the
// capture callbacks run on driver goroutines while queries come from the
// compositor tick.
type Device interface {
	Init(color, output Surface, useCPU, passthrough bool)
	IsCapturing() bool
	IsOutputOnly() bool
	StartCapture(mode DisplayMode) error
	SetupVideoOutputFrame(mode DisplayMode) error
	StopCapture()
	Update(compositeFrameIndex int)

	SupportsOutput() bool
	ProvidesYUV() bool
	ExpectsYUV() bool

	// GetTimestamp returns the capture timestamp of frame in 100ns units.
	GetTimestamp(frame int) int64
	GetDurationHNS() int64
	GetCaptureFrameIndex() int
	GetPixelChange(frame int) int
	GetNumQueuedOutputFrames() int
	SetLatencyPreference(preference float32)

	Release()
}

// Driver creates the collaborators for one backend.
type Driver interface {
	NewDiscovery() Discovery
	NewDevice(h Handle) (Device, error)
}

// Config holds construction-time flags. They are passed to Device.Init and
// never re-evaluated.
type Config struct {
	UseCPU            bool `yaml:"use_cpu"`
	PassthroughOutput bool `yaml:"passthrough_output"`
}

// InitStatus is the result of Manager.Initialize.
type InitStatus int

const (
	// StatusPending means no device is ready yet; call Initialize again later.
	StatusPending InitStatus = iota
	// StatusReady means capture and/or output has been set up.
	StatusReady
)

func (s InitStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	default:
		return "pending"
	}
}

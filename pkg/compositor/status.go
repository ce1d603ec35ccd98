package compositor

import (
	"context"
	"fmt"
	"time"

	"github.com/video-system/go-decklink-sync/pkg/decklink"
)

// ModeInfo describes the active display mode
type ModeInfo struct {
	Name             string `json:"name"`
	FormatCode       string `json:"format_code"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FrameRate        string `json:"frame_rate"`
	FrameDurationHNS int64  `json:"frame_duration_hns"`
}

// NewModeInfo describes mode
func NewModeInfo(mode decklink.DisplayMode) *ModeInfo {
	n, d := mode.FrameRate()
	return &ModeInfo{
		Name:             mode.String(),
		FormatCode:       mode.FormatCode(),
		Width:            mode.Width(),
		Height:           mode.Height(),
		FrameRate:        fmt.Sprintf("%d/%d", n, d),
		FrameDurationHNS: mode.FrameDurationHNS(),
	}
}

// SyncStatus is a snapshot of the device state taken on the tick goroutine
type SyncStatus struct {
	InstanceID      string    `json:"instance_id"`
	Driver          string    `json:"driver"`
	Device          string    `json:"device,omitempty"`
	HardwarePresent bool      `json:"hardware_present"`
	Enabled         bool      `json:"enabled"`
	Ready           bool      `json:"ready"`
	Mode            *ModeInfo `json:"mode,omitempty"`

	SupportsOutput bool `json:"supports_output"`
	ProvidesYUV    bool `json:"provides_yuv"`
	ExpectsYUV     bool `json:"expects_yuv"`

	CompositeFrame     int     `json:"composite_frame"`
	CaptureFrameIndex  int     `json:"capture_frame_index"`
	Timestamp          int64   `json:"timestamp_hns"`
	DurationHNS        int64   `json:"duration_hns"`
	PixelChange        int     `json:"pixel_change"`
	QueuedOutputFrames int     `json:"queued_output_frames"`
	LatencyPreference  float32 `json:"latency_preference"`

	UpdatedAt time.Time `json:"updated_at"`
}

// stateKey is the part of SyncStatus whose changes are published
type stateKey struct {
	device          string
	hardwarePresent bool
	enabled         bool
	ready           bool
	formatCode      string
	supportsOutput  bool
}

func (s SyncStatus) key() stateKey {
	k := stateKey{
		device:          s.Device,
		hardwarePresent: s.HardwarePresent,
		enabled:         s.Enabled,
		ready:           s.Ready,
		supportsOutput:  s.SupportsOutput,
	}
	if s.Mode != nil {
		k.formatCode = s.Mode.FormatCode
	}
	return k
}

// TimingSample is the per-tick timing of an enabled device
type TimingSample struct {
	Time               time.Time
	Device             string
	CompositeFrame     int
	CaptureFrameIndex  int
	Timestamp          int64
	DurationHNS        int64
	PixelChange        int
	QueuedOutputFrames int
}

// StatusSink receives device state changes and timing samples
type StatusSink interface {
	// PublishState is called from a background goroutine whenever the
	// device state changes.
	PublishState(ctx context.Context, status SyncStatus) error
	// RecordTiming is called on the tick goroutine and must not block.
	RecordTiming(sample TimingSample)
	Close() error
}

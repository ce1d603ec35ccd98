package ffdeck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/video-system/go-decklink-sync/internal/ffmpeg"
	"github.com/video-system/go-decklink-sync/pkg/decklink"
	"github.com/video-system/go-decklink-sync/pkg/ringbuffer"
)

// device is one DeckLink card driven by FFmpeg capture and output processes
type device struct {
	backend backend
	name    string
	logger  *slog.Logger
	frames  *ringbuffer.Buffer

	mu          sync.Mutex
	color       decklink.Surface
	output      decklink.Surface
	useCPU      bool
	passthrough bool

	ctx    context.Context
	cancel context.CancelFunc

	capture         captureProcess
	captureMode     decklink.DisplayMode
	captureStart    time.Time
	captureIndex    int
	prevLuma        []byte
	latest          []byte
	lastStarted     time.Time
	restartInterval time.Duration

	out           outputProcess
	outMode       decklink.DisplayMode
	lastForwarded int
	dropped       uint64
	latency       float32
}

func newDevice(b backend, name string, logger *slog.Logger) *device {
	ctx, cancel := context.WithCancel(context.Background())
	d := &device{
		backend: b,
		name:    name,
		logger:  logger.With("device", name),
		frames:  ringbuffer.New(ringbuffer.Config{DeviceName: name}),
		ctx:     ctx,
		cancel:  cancel,
		latency: 0.5,
	}
	d.frames.OnFrame(func(f ringbuffer.Frame) {
		if f.Index == 1 {
			d.logger.Info("First capture frame received")
		}
	})
	return d
}

func (d *device) Init(color, output decklink.Surface, useCPU, passthrough bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.color = color
	d.output = output
	d.useCPU = useCPU
	d.passthrough = passthrough
}

// pixelFormat is the raw format exchanged with FFmpeg. CPU conversion asks
// FFmpeg for BGRA so the compositor never sees YUV.
func (d *device) pixelFormat() string {
	if d.useCPU {
		return ffmpeg.PixelFormatBGRA
	}
	return ffmpeg.PixelFormatUYVY
}

func (d *device) IsCapturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture != nil && d.capture.IsRunning()
}

func (d *device) IsOutputOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out != nil && d.color == nil
}

// StartCapture starts the FFmpeg input process. A running capture is left
// alone; an exited one is replaced and the frame timeline restarts. Starts
// closer together than restartInterval fail with decklink.ErrRestartBackoff.
func (d *device) StartCapture(mode decklink.DisplayMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		if d.capture.IsRunning() {
			return nil
		}
		d.capture = nil
	}

	if !d.lastStarted.IsZero() {
		if since := time.Since(d.lastStarted); since < d.restartInterval {
			return fmt.Errorf("%w: last start %v ago", decklink.ErrRestartBackoff, since.Round(time.Millisecond))
		}
	}
	d.lastStarted = time.Now()

	cfg := ffmpeg.CaptureConfig{
		Device:      d.name,
		FormatCode:  mode.FormatCode(),
		Width:       mode.Width(),
		Height:      mode.Height(),
		PixelFormat: d.pixelFormat(),
	}

	d.frames.Reset()
	d.captureStart = time.Time{}
	d.captureIndex = 0
	d.prevLuma = nil
	d.latest = nil

	p, err := d.backend.StartCapture(d.ctx, cfg, func(data []byte, arrived time.Time) {
		d.onFrame(data, arrived, cfg.PixelFormat)
	})
	if err != nil {
		return err
	}
	d.capture = p
	d.captureMode = mode
	return nil
}

// onFrame runs on the capture read goroutine for every frame
func (d *device) onFrame(data []byte, arrived time.Time, pixFmt string) {
	d.mu.Lock()
	if d.captureStart.IsZero() {
		d.captureStart = arrived
	}
	d.captureIndex++
	index := d.captureIndex
	timestamp := arrived.Sub(d.captureStart).Nanoseconds() / 100

	luma := sampleLuma(data, pixFmt, d.prevLuma[:0:0])
	change := pixelChange(d.prevLuma, luma)
	d.prevLuma = luma

	if d.passthrough {
		// data is reused by the reader, and latest may still be queued.
		d.latest = bytes.Clone(data)
	}
	d.mu.Unlock()

	d.frames.Add(ringbuffer.Frame{
		Index:       index,
		Timestamp:   timestamp,
		PixelChange: change,
		Arrived:     arrived,
	})
}

// SetupVideoOutputFrame starts the FFmpeg output process
func (d *device) SetupVideoOutputFrame(mode decklink.DisplayMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.out != nil {
		return nil
	}

	rateN, rateD := mode.FrameRate()
	p, err := d.backend.StartOutput(d.ctx, ffmpeg.OutputConfig{
		Device:      d.name,
		Width:       mode.Width(),
		Height:      mode.Height(),
		FrameRateN:  rateN,
		FrameRateD:  rateD,
		PixelFormat: d.pixelFormat(),
		MaxQueued:   queueDepth(d.latency),
	})
	if err != nil {
		return err
	}
	d.out = p
	d.outMode = mode
	return nil
}

func (d *device) StopCapture() {
	d.mu.Lock()
	p := d.capture
	d.capture = nil
	d.mu.Unlock()

	if p != nil {
		p.Stop()
		st := d.frames.GetStatus()
		d.logger.Debug("capture timeline closed", "frames", st.LastIndex, "dropped", st.Dropped)
	}
}

// Update forwards one output frame for the composite frame. The frame comes
// from the output surface when it can supply bytes, otherwise from the latest
// capture frame when passthrough is on.
func (d *device) Update(compositeFrameIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.out == nil || compositeFrameIndex == d.lastForwarded {
		return
	}

	var frame []byte
	if src, ok := d.output.(decklink.FrameSource); ok {
		frame, _ = src.Frame(compositeFrameIndex)
	}
	if frame == nil && d.passthrough {
		frame = d.latest
	}
	if frame == nil {
		return
	}

	want := ffmpeg.CaptureConfig{
		Width:       d.outMode.Width(),
		Height:      d.outMode.Height(),
		PixelFormat: d.pixelFormat(),
	}.FrameSize()
	if len(frame) != want {
		d.logger.Debug("output frame size mismatch", "got", len(frame), "want", want)
		return
	}

	d.lastForwarded = compositeFrameIndex
	switch err := d.out.Enqueue(frame); {
	case err == nil:
	case errors.Is(err, ffmpeg.ErrQueueFull):
		d.dropped++
		if d.dropped == 1 || d.dropped%100 == 0 {
			d.logger.Debug("output queue full, frame dropped", "dropped", d.dropped)
		}
	default:
		d.logger.Warn("output frame rejected", "error", err)
	}
}

func (d *device) SupportsOutput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out != nil
}

func (d *device) ProvidesYUV() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.useCPU
}

func (d *device) ExpectsYUV() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.useCPU
}

func (d *device) GetTimestamp(frame int) int64 {
	return d.frames.Timestamp(frame)
}

// GetDurationHNS returns the frame duration of the capture mode, or of the
// output mode when running output-only.
func (d *device) GetDurationHNS() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.capture != nil:
		return d.captureMode.FrameDurationHNS()
	case d.out != nil:
		return d.outMode.FrameDurationHNS()
	default:
		return decklink.DefaultDurationHNS
	}
}

func (d *device) GetCaptureFrameIndex() int {
	return d.frames.LastIndex()
}

func (d *device) GetPixelChange(frame int) int {
	return d.frames.PixelChange(frame)
}

func (d *device) GetNumQueuedOutputFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out == nil {
		return 0
	}
	return d.out.Queued()
}

// SetLatencyPreference maps 0 (smoothest) .. 1 (lowest latency) to the
// output queue depth.
func (d *device) SetLatencyPreference(preference float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = preference
	if d.out != nil {
		d.out.SetMaxQueued(queueDepth(preference))
	}
}

func (d *device) Release() {
	d.StopCapture()

	d.mu.Lock()
	out := d.out
	d.out = nil
	d.mu.Unlock()

	if out != nil {
		if err := out.Close(); err != nil {
			d.logger.Debug("close output", "error", err)
		}
	}
	d.cancel()
}

// queueDepth converts a latency preference to an output queue depth
func queueDepth(preference float32) int {
	p := math.Max(0, math.Min(1, float64(preference)))
	return ffmpeg.MaxOutputQueue - int(math.Round(p*float64(ffmpeg.MaxOutputQueue-1)))
}

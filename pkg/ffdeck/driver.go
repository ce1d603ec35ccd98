// Package ffdeck drives DeckLink cards through FFmpeg's decklink device.
//
// Capture and playout each run as an FFmpeg child process exchanging raw
// frames over pipes. The package implements the decklink Driver, Discovery,
// Handle and Device interfaces on top of internal/ffmpeg.
package ffdeck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-system/go-decklink-sync/internal/ffmpeg"
	"github.com/video-system/go-decklink-sync/pkg/decklink"
)

const (
	// probeTimeout bounds the FFmpeg calls made during discovery.
	probeTimeout = 10 * time.Second

	// listInterval is the minimum time between device listings while no
	// device is available.
	listInterval = 2 * time.Second

	// restartInterval is the minimum time between capture process starts
	// on one device.
	restartInterval = 2 * time.Second
)

// captureProcess is the part of *ffmpeg.CaptureProcess a device uses
type captureProcess interface {
	Stop()
	IsRunning() bool
}

// outputProcess is the part of *ffmpeg.OutputProcess a device uses
type outputProcess interface {
	Enqueue(frame []byte) error
	Queued() int
	SetMaxQueued(n int)
	Close() error
}

// backend runs FFmpeg
type backend interface {
	Version(ctx context.Context) (string, error)
	HasDeckLink(ctx context.Context) bool
	ListDeckLinkDevices(ctx context.Context) ([]string, error)
	StartCapture(ctx context.Context, cfg ffmpeg.CaptureConfig, onFrame func([]byte, time.Time)) (captureProcess, error)
	StartOutput(ctx context.Context, cfg ffmpeg.OutputConfig) (outputProcess, error)
}

// ffmpegBackend adapts *ffmpeg.FFmpeg to backend
type ffmpegBackend struct {
	ff     *ffmpeg.FFmpeg
	logger *slog.Logger
}

func (b *ffmpegBackend) Version(ctx context.Context) (string, error) {
	return b.ff.Version(ctx)
}

func (b *ffmpegBackend) HasDeckLink(ctx context.Context) bool {
	return b.ff.HasDeckLink(ctx)
}

func (b *ffmpegBackend) ListDeckLinkDevices(ctx context.Context) ([]string, error) {
	return b.ff.ListDeckLinkDevices(ctx)
}

func (b *ffmpegBackend) StartCapture(ctx context.Context, cfg ffmpeg.CaptureConfig, onFrame func([]byte, time.Time)) (captureProcess, error) {
	p, err := b.ff.StartCapture(ctx, cfg, onFrame, b.logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b *ffmpegBackend) StartOutput(ctx context.Context, cfg ffmpeg.OutputConfig) (outputProcess, error) {
	p, err := b.ff.StartOutput(ctx, cfg, b.logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Driver creates FFmpeg-backed DeckLink discovery and devices
type Driver struct {
	deviceName      string
	logger          *slog.Logger
	newBackend      func() (backend, error)
	listInterval    time.Duration
	restartInterval time.Duration

	mu      sync.Mutex
	claimed map[string]bool
}

// New creates a driver. opts.DeviceName pins the device to open; otherwise
// the first unclaimed device is used.
func New(opts decklink.DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", "ffmpeg")

	return &Driver{
		deviceName:      opts.DeviceName,
		logger:          logger,
		listInterval:    listInterval,
		restartInterval: restartInterval,
		newBackend: func() (backend, error) {
			ff, err := ffmpeg.New()
			if err != nil {
				return nil, err
			}
			return &ffmpegBackend{ff: ff, logger: logger}, nil
		},
		claimed: make(map[string]bool),
	}
}

// NewDiscovery returns a discovery bound to this driver
func (d *Driver) NewDiscovery() decklink.Discovery {
	return &discovery{driver: d}
}

// NewDevice creates a device for a handle returned by this driver's discovery
func (d *Driver) NewDevice(h decklink.Handle) (decklink.Device, error) {
	hd, ok := h.(*handle)
	if !ok || hd.driver != d {
		return nil, fmt.Errorf("ffdeck: foreign handle %T", h)
	}
	dev := newDevice(hd.backend, hd.name, d.logger)
	dev.restartInterval = d.restartInterval
	return dev, nil
}

// claim marks name as in use. It returns false if it already is.
func (d *Driver) claim(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[name] {
		return false
	}
	d.claimed[name] = true
	return true
}

func (d *Driver) unclaim(name string) {
	d.mu.Lock()
	delete(d.claimed, name)
	d.mu.Unlock()
}

// discovery enumerates DeckLink devices with `ffmpeg -list_devices`
type discovery struct {
	driver *Driver

	mu         sync.Mutex
	backend    backend
	lastListed time.Time
}

// Enable succeeds when FFmpeg is installed and built with DeckLink support.
func (s *discovery) Enable() bool {
	b, err := s.driver.newBackend()
	if err != nil {
		s.driver.logger.Debug("FFmpeg unavailable", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if !b.HasDeckLink(ctx) {
		s.driver.logger.Debug("FFmpeg built without DeckLink support")
		return false
	}
	if version, err := b.Version(ctx); err == nil {
		s.driver.logger.Info("FFmpeg DeckLink support detected", "version", version)
	}

	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
	return true
}

// GetDeviceHandle returns the configured device, or the first unclaimed one.
func (s *discovery) GetDeviceHandle() decklink.Handle {
	s.mu.Lock()
	b := s.backend
	if b == nil || time.Since(s.lastListed) < s.driver.listInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastListed = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	devices, err := b.ListDeckLinkDevices(ctx)
	if err != nil {
		s.driver.logger.Debug("list DeckLink devices failed", "error", err)
		return nil
	}

	for _, name := range devices {
		if s.driver.deviceName != "" && name != s.driver.deviceName {
			continue
		}
		if s.driver.claim(name) {
			return &handle{name: name, backend: b, driver: s.driver}
		}
	}
	return nil
}

func (s *discovery) Release() {
	s.mu.Lock()
	s.backend = nil
	s.lastListed = time.Time{}
	s.mu.Unlock()
}

// handle is a claimed device name
type handle struct {
	name    string
	backend backend
	driver  *Driver
	once    sync.Once
}

func (h *handle) Name() string { return h.name }

func (h *handle) Release() {
	h.once.Do(func() { h.driver.unclaim(h.name) })
}

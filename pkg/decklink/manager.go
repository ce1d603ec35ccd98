package decklink

import (
	"errors"
	"log/slog"
)

// Manager owns DeckLink discovery and the device for one compositor.
//
// It is driven from a single goroutine (the compositor tick): Initialize,
// Update, the Get* queries and Dispose must not be called concurrently. The
// queries never fail; when no device is enabled they return safe defaults so
// the compositor can call them unconditionally every frame.
type Manager struct {
	driver Driver
	cfg    Config
	logger *slog.Logger

	frameHeight int
	lowLatency  bool

	discovery       Discovery
	handle          Handle
	device          Device
	hardwarePresent bool

	// Session state, cleared by Dispose.
	mode           DisplayMode
	modeSet        bool
	outputPrepared bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFrameHeight overrides FrameHeight for this manager.
func WithFrameHeight(height int) Option {
	return func(m *Manager) {
		if height > 0 {
			m.frameHeight = height
		}
	}
}

// WithLowLatency overrides LowLatencyShuttle for this manager.
func WithLowLatency(lowLatency bool) Option {
	return func(m *Manager) {
		m.lowLatency = lowLatency
	}
}

// NewManager creates a manager and immediately tries to enable discovery.
// If discovery cannot be enabled the manager is marked hardware-absent and
// every query returns its default.
func NewManager(driver Driver, cfg Config, opts ...Option) *Manager {
	if driver == nil {
		driver = NoDriver{}
	}

	m := &Manager{
		driver:          driver,
		cfg:             cfg,
		logger:          slog.Default(),
		frameHeight:     FrameHeight,
		lowLatency:      LowLatencyShuttle,
		hardwarePresent: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.discovery = driver.NewDiscovery()
	m.enableDiscovery()

	return m
}

// enableDiscovery enables the current discovery and records the outcome.
func (m *Manager) enableDiscovery() {
	if m.discovery == nil || !m.discovery.Enable() {
		m.hardwarePresent = false
		m.logger.Warn("DeckLink discovery unavailable, please install the Blackmagic Desktop Video drivers")
		return
	}
	m.hardwarePresent = true
}

// Initialize acquires the device and starts capture/output. It is safe to
// call every tick until it returns StatusReady, and afterwards as a no-op.
//
// Capture starts only when color is non-nil; the output frame stream is
// prepared regardless. depth and body are accepted for the compositor's
// surface set but are not used by the device.
func (m *Manager) Initialize(color, depth, body, output Surface) InitStatus {
	if m.discovery == nil {
		m.discovery = m.driver.NewDiscovery()
		m.enableDiscovery()
	}

	if m.hardwarePresent && m.device == nil {
		m.acquireDevice(color, output)
	}

	if m.device == nil {
		return StatusPending
	}

	if m.device.IsCapturing() {
		return StatusReady
	}

	mode := m.sessionMode()

	if color != nil {
		switch err := m.device.StartCapture(mode); {
		case err == nil:
		case errors.Is(err, ErrRestartBackoff):
			m.logger.Debug("capture restart deferred", "mode", mode.String(), "error", err)
		default:
			m.logger.Warn("start capture failed", "mode", mode.String(), "error", err)
		}
	}

	if !m.outputPrepared {
		if err := m.device.SetupVideoOutputFrame(mode); err != nil {
			m.logger.Warn("setup video output failed", "mode", mode.String(), "error", err)
		} else {
			m.outputPrepared = true
		}
	}

	return StatusReady
}

// acquireDevice asks discovery for a handle and builds the device from it.
func (m *Manager) acquireDevice(color, output Surface) {
	handle := m.discovery.GetDeviceHandle()
	if handle == nil {
		return
	}

	device, err := m.driver.NewDevice(handle)
	if err != nil || device == nil {
		m.logger.Warn("create DeckLink device failed", "device", handle.Name(), "error", err)
		handle.Release()
		return
	}

	device.Init(color, output, m.cfg.UseCPU, m.cfg.PassthroughOutput)
	m.handle = handle
	m.device = device

	m.logger.Info("DeckLink device acquired",
		"device", handle.Name(),
		"use_cpu", m.cfg.UseCPU,
		"passthrough", m.cfg.PassthroughOutput)
}

// sessionMode returns the display mode for the current session, deriving it
// on first use.
func (m *Manager) sessionMode() DisplayMode {
	if !m.modeSet {
		m.mode = SelectDisplayMode(m.frameHeight, m.lowLatency)
		m.modeSet = true
		m.logger.Info("DeckLink display mode selected",
			"mode", m.mode.String(),
			"format_code", m.mode.FormatCode(),
			"frame_height", m.frameHeight)
	}
	return m.mode
}

// IsEnabled reports whether a device exists and is capturing or running
// output-only. It is evaluated on every call because driver callbacks can
// change capture state at any time.
func (m *Manager) IsEnabled() bool {
	if m.device == nil {
		return false
	}
	return m.device.IsCapturing() || m.device.IsOutputOnly()
}

// Update forwards the composite frame index to the device.
func (m *Manager) Update(compositeFrameIndex int) {
	if m.IsEnabled() {
		m.device.Update(compositeFrameIndex)
	}
}

// SupportsOutput reports whether the device can play out frames, or false.
func (m *Manager) SupportsOutput() bool {
	if m.IsEnabled() {
		return m.device.SupportsOutput()
	}
	return false
}

// ProvidesYUV reports whether captured frames are YUV, or false.
func (m *Manager) ProvidesYUV() bool {
	if !m.IsEnabled() {
		return false
	}
	return m.device.ProvidesYUV()
}

// ExpectsYUV reports whether output frames must be YUV, or false.
func (m *Manager) ExpectsYUV() bool {
	if !m.IsEnabled() {
		return false
	}
	return m.device.ExpectsYUV()
}

// GetTimestamp returns the capture timestamp of frame in 100ns units, or 0.
func (m *Manager) GetTimestamp(frame int) int64 {
	if m.IsEnabled() {
		return m.device.GetTimestamp(frame)
	}
	return 0
}

// GetDurationHNS returns the device frame duration in 100ns units, or
// DefaultDurationHNS.
func (m *Manager) GetDurationHNS() int64 {
	if m.IsEnabled() {
		return m.device.GetDurationHNS()
	}
	return DefaultDurationHNS
}

// GetCaptureFrameIndex returns the latest capture frame index, or 0.
func (m *Manager) GetCaptureFrameIndex() int {
	if m.IsEnabled() {
		return m.device.GetCaptureFrameIndex()
	}
	return 0
}

// GetPixelChange returns the pixel change of frame, or 0.
func (m *Manager) GetPixelChange(frame int) int {
	if m.IsEnabled() {
		return m.device.GetPixelChange(frame)
	}
	return 0
}

// GetNumQueuedOutputFrames returns the output queue depth, or 0.
func (m *Manager) GetNumQueuedOutputFrames() int {
	if m.IsEnabled() {
		return m.device.GetNumQueuedOutputFrames()
	}
	return 0
}

// SetLatencyPreference forwards a 0..1 latency preference to the device.
func (m *Manager) SetLatencyPreference(preference float32) {
	if m.IsEnabled() {
		m.device.SetLatencyPreference(preference)
	}
}

// HardwarePresent reports whether discovery was enabled.
func (m *Manager) HardwarePresent() bool {
	return m.hardwarePresent
}

// DisplayMode returns the session display mode once one has been derived.
func (m *Manager) DisplayMode() (DisplayMode, bool) {
	return m.mode, m.modeSet
}

// DeviceName returns the acquired device's name, or "" if none.
func (m *Manager) DeviceName() string {
	if m.handle == nil {
		return ""
	}
	return m.handle.Name()
}

// Dispose stops capture and releases the handle, device and discovery in
// that order. It is idempotent and safe to call without Initialize.
func (m *Manager) Dispose() {
	if m.handle != nil && m.device != nil {
		m.device.StopCapture()
	}

	if m.handle != nil {
		m.handle.Release()
		m.handle = nil
	}
	if m.device != nil {
		m.device.Release()
		m.device = nil
	}
	if m.discovery != nil {
		m.discovery.Release()
		m.discovery = nil
	}

	m.mode = 0
	m.modeSet = false
	m.outputPrepared = false
}

package decklink

import (
	"errors"
	"io"
	"log/slog"
)

// callLog records collaborator calls in order.
type callLog struct {
	calls []string
}

func (l *callLog) add(call string) {
	l.calls = append(l.calls, call)
}

// mockDriver hands out mock discoveries and devices and keeps every instance
// it created so tests can count allocations.
type mockDriver struct {
	log *callLog

	enable          bool
	handleAfter     int // GetDeviceHandle returns nil this many times first
	deviceErr       error
	startCaptureErr []error // consumed one per StartCapture call

	discoveries []*mockDiscovery
	handles     []*mockHandle
	devices     []*mockDevice
}

func newMockDriver(enable bool) *mockDriver {
	return &mockDriver{log: &callLog{}, enable: enable}
}

func (d *mockDriver) NewDiscovery() Discovery {
	disc := &mockDiscovery{driver: d}
	d.discoveries = append(d.discoveries, disc)
	return disc
}

func (d *mockDriver) NewDevice(h Handle) (Device, error) {
	if d.deviceErr != nil {
		return nil, d.deviceErr
	}
	dev := &mockDevice{
		driver:         d,
		supportsOutput: true,
		providesYUV:    true,
		expectsYUV:     true,
		durationHNS:    ModeHD1080p5994.FrameDurationHNS(),
	}
	d.devices = append(d.devices, dev)
	return dev, nil
}

type mockDiscovery struct {
	driver      *mockDriver
	enableCalls int
	getCalls    int
	released    int
}

func (m *mockDiscovery) Enable() bool {
	m.enableCalls++
	return m.driver.enable
}

func (m *mockDiscovery) GetDeviceHandle() Handle {
	m.getCalls++
	if m.getCalls <= m.driver.handleAfter {
		return nil
	}
	h := &mockHandle{name: "DeckLink Mini Recorder", log: m.driver.log}
	m.driver.handles = append(m.driver.handles, h)
	return h
}

func (m *mockDiscovery) Release() {
	m.released++
	m.driver.log.add("discovery.Release")
}

type mockHandle struct {
	name     string
	log      *callLog
	released int
}

func (h *mockHandle) Name() string { return h.name }

func (h *mockHandle) Release() {
	h.released++
	h.log.add("handle.Release")
}

type mockDevice struct {
	driver *mockDriver

	initCalls   int
	color       Surface
	output      Surface
	useCPU      bool
	passthrough bool

	capturing   bool
	outputReady bool

	startModes []DisplayMode
	setupModes []DisplayMode
	stopCalls  int
	updates    []int
	latency    float32
	released   int

	supportsOutput bool
	providesYUV    bool
	expectsYUV     bool
	durationHNS    int64
}

func (d *mockDevice) Init(color, output Surface, useCPU, passthrough bool) {
	d.initCalls++
	d.color, d.output = color, output
	d.useCPU, d.passthrough = useCPU, passthrough
}

func (d *mockDevice) IsCapturing() bool { return d.capturing }

func (d *mockDevice) IsOutputOnly() bool { return d.outputReady && d.color == nil }

func (d *mockDevice) StartCapture(mode DisplayMode) error {
	d.startModes = append(d.startModes, mode)
	if len(d.driver.startCaptureErr) > 0 {
		err := d.driver.startCaptureErr[0]
		d.driver.startCaptureErr = d.driver.startCaptureErr[1:]
		if err != nil {
			return err
		}
	}
	d.capturing = true
	return nil
}

func (d *mockDevice) SetupVideoOutputFrame(mode DisplayMode) error {
	d.setupModes = append(d.setupModes, mode)
	d.outputReady = true
	return nil
}

func (d *mockDevice) StopCapture() {
	d.stopCalls++
	d.capturing = false
	d.driver.log.add("device.StopCapture")
}

func (d *mockDevice) Update(compositeFrameIndex int) {
	d.updates = append(d.updates, compositeFrameIndex)
}

func (d *mockDevice) SupportsOutput() bool { return d.supportsOutput }
func (d *mockDevice) ProvidesYUV() bool    { return d.providesYUV }
func (d *mockDevice) ExpectsYUV() bool     { return d.expectsYUV }

func (d *mockDevice) GetTimestamp(frame int) int64 { return int64(frame) * 1000 }
func (d *mockDevice) GetDurationHNS() int64        { return d.durationHNS }
func (d *mockDevice) GetCaptureFrameIndex() int    { return 42 }
func (d *mockDevice) GetPixelChange(frame int) int { return frame + 7 }
func (d *mockDevice) GetNumQueuedOutputFrames() int {
	return 3
}

func (d *mockDevice) SetLatencyPreference(preference float32) {
	d.latency = preference
}

func (d *mockDevice) Release() {
	d.released++
	d.driver.log.add("device.Release")
}

var errMock = errors.New("mock failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// surface is a stand-in for a GPU resource handle.
type surface struct{ name string }

package decklink

import (
	"reflect"
	"testing"
)

func newTestManager(driver Driver, opts ...Option) *Manager {
	opts = append([]Option{WithLogger(discardLogger()), WithLowLatency(false)}, opts...)
	return NewManager(driver, Config{UseCPU: true, PassthroughOutput: true}, opts...)
}

func assertDefaults(t *testing.T, m *Manager) {
	t.Helper()

	if m.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if m.SupportsOutput() {
		t.Error("SupportsOutput() = true, want false")
	}
	if m.ProvidesYUV() {
		t.Error("ProvidesYUV() = true, want false")
	}
	if m.ExpectsYUV() {
		t.Error("ExpectsYUV() = true, want false")
	}
	if got := m.GetTimestamp(5); got != 0 {
		t.Errorf("GetTimestamp(5) = %d, want 0", got)
	}
	if got := m.GetDurationHNS(); got != DefaultDurationHNS {
		t.Errorf("GetDurationHNS() = %d, want %d", got, DefaultDurationHNS)
	}
	if got := m.GetCaptureFrameIndex(); got != 0 {
		t.Errorf("GetCaptureFrameIndex() = %d, want 0", got)
	}
	if got := m.GetPixelChange(5); got != 0 {
		t.Errorf("GetPixelChange(5) = %d, want 0", got)
	}
	if got := m.GetNumQueuedOutputFrames(); got != 0 {
		t.Errorf("GetNumQueuedOutputFrames() = %d, want 0", got)
	}

	// Must not panic without a device.
	m.Update(1)
	m.SetLatencyPreference(0.5)
}

func TestManager_DiscoveryDisabled(t *testing.T) {
	driver := newMockDriver(false)
	m := newTestManager(driver)

	if m.HardwarePresent() {
		t.Fatal("HardwarePresent() = true with discovery disabled")
	}

	for i := 0; i < 5; i++ {
		if status := m.Initialize(nil, nil, nil, nil); status != StatusPending {
			t.Fatalf("Initialize #%d = %v, want pending", i, status)
		}
		assertDefaults(t, m)
	}

	if len(driver.discoveries) != 1 {
		t.Errorf("Expected 1 discovery allocation, got %d", len(driver.discoveries))
	}
	if driver.discoveries[0].enableCalls != 1 {
		t.Errorf("Expected Enable to be called once, got %d", driver.discoveries[0].enableCalls)
	}
	if driver.discoveries[0].getCalls != 0 {
		t.Errorf("Expected no handle requests without hardware, got %d", driver.discoveries[0].getCalls)
	}
	if len(driver.devices) != 0 {
		t.Errorf("Expected no devices, got %d", len(driver.devices))
	}
}

func TestManager_DefaultDurationIsOneThirtiethSecond(t *testing.T) {
	m := newTestManager(NoDriver{})

	if status := m.Initialize(nil, nil, nil, nil); status != StatusPending {
		t.Fatalf("Initialize = %v, want pending", status)
	}
	if m.IsEnabled() {
		t.Fatal("IsEnabled() = true without hardware")
	}
	if got := m.GetDurationHNS(); got != 333333 {
		t.Errorf("GetDurationHNS() = %d, want 333333", got)
	}
}

func TestManager_NilDriverIsHardwareAbsent(t *testing.T) {
	m := NewManager(nil, Config{}, WithLogger(discardLogger()))
	if m.HardwarePresent() {
		t.Fatal("nil driver should be hardware-absent")
	}
	assertDefaults(t, m)
}

func TestManager_PendingUntilHandleAvailable(t *testing.T) {
	driver := newMockDriver(true)
	driver.handleAfter = 3
	m := newTestManager(driver)
	color := &surface{"color"}

	for i := 0; i < 3; i++ {
		if status := m.Initialize(color, nil, nil, nil); status != StatusPending {
			t.Fatalf("Initialize #%d = %v, want pending", i, status)
		}
		if m.IsEnabled() {
			t.Fatalf("IsEnabled() = true before a device exists")
		}
	}

	if status := m.Initialize(color, nil, nil, nil); status != StatusReady {
		t.Fatalf("Initialize = %v, want ready", status)
	}

	if len(driver.discoveries) != 1 {
		t.Errorf("Expected 1 discovery, got %d", len(driver.discoveries))
	}
	if len(driver.devices) != 1 {
		t.Errorf("Expected 1 device, got %d", len(driver.devices))
	}
}

func TestManager_InitializeWithColorStartsCapture(t *testing.T) {
	driver := newMockDriver(true)
	m := newTestManager(driver)
	color := &surface{"color"}
	output := &surface{"output"}

	if status := m.Initialize(color, &surface{"depth"}, &surface{"body"}, output); status != StatusReady {
		t.Fatalf("Initialize = %v, want ready", status)
	}

	dev := driver.devices[0]
	if dev.initCalls != 1 {
		t.Errorf("Expected Init once, got %d", dev.initCalls)
	}
	if dev.color != color || dev.output != output {
		t.Error("Init did not receive the color and output surfaces")
	}
	if !dev.useCPU || !dev.passthrough {
		t.Error("Init did not receive the construction flags")
	}
	if !reflect.DeepEqual(dev.startModes, []DisplayMode{ModeHD1080p5994}) {
		t.Errorf("StartCapture modes = %v, want [%v]", dev.startModes, ModeHD1080p5994)
	}
	if !reflect.DeepEqual(dev.setupModes, []DisplayMode{ModeHD1080p5994}) {
		t.Errorf("SetupVideoOutputFrame modes = %v, want [%v]", dev.setupModes, ModeHD1080p5994)
	}

	if !m.IsEnabled() {
		t.Fatal("IsEnabled() = false after capture started")
	}
	if mode, ok := m.DisplayMode(); !ok || mode != ModeHD1080p5994 {
		t.Errorf("DisplayMode() = %v, %v", mode, ok)
	}
	if m.DeviceName() != "DeckLink Mini Recorder" {
		t.Errorf("DeviceName() = %q", m.DeviceName())
	}

	m.Update(10)
	m.Update(11)
	if !reflect.DeepEqual(dev.updates, []int{10, 11}) {
		t.Errorf("updates = %v, want [10 11]", dev.updates)
	}

	if !m.SupportsOutput() || !m.ProvidesYUV() || !m.ExpectsYUV() {
		t.Error("capability queries should forward to the device")
	}
	if got := m.GetTimestamp(4); got != 4000 {
		t.Errorf("GetTimestamp(4) = %d, want 4000", got)
	}
	if got := m.GetDurationHNS(); got != 166833 {
		t.Errorf("GetDurationHNS() = %d, want 166833", got)
	}
	if got := m.GetCaptureFrameIndex(); got != 42 {
		t.Errorf("GetCaptureFrameIndex() = %d, want 42", got)
	}
	if got := m.GetPixelChange(3); got != 10 {
		t.Errorf("GetPixelChange(3) = %d, want 10", got)
	}
	if got := m.GetNumQueuedOutputFrames(); got != 3 {
		t.Errorf("GetNumQueuedOutputFrames() = %d, want 3", got)
	}

	m.SetLatencyPreference(0.25)
	if dev.latency != 0.25 {
		t.Errorf("latency preference = %v, want 0.25", dev.latency)
	}
}

func TestManager_InitializeWithoutColorIsOutputOnly(t *testing.T) {
	driver := newMockDriver(true)
	m := newTestManager(driver)

	if status := m.Initialize(nil, nil, nil, &surface{"output"}); status != StatusReady {
		t.Fatalf("Initialize = %v, want ready", status)
	}

	dev := driver.devices[0]
	if len(dev.startModes) != 0 {
		t.Errorf("StartCapture should not run without a color surface, got %v", dev.startModes)
	}
	if len(dev.setupModes) != 1 {
		t.Errorf("Expected output setup once, got %d", len(dev.setupModes))
	}
	if !m.IsEnabled() {
		t.Error("IsEnabled() = false for an output-only device")
	}

	// Later ticks must not set the output stream up again.
	for i := 0; i < 3; i++ {
		m.Initialize(nil, nil, nil, &surface{"output"})
	}
	if len(dev.setupModes) != 1 {
		t.Errorf("Expected output setup once across ticks, got %d", len(dev.setupModes))
	}
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	driver := newMockDriver(true)
	m := newTestManager(driver)
	color := &surface{"color"}

	for i := 0; i < 10; i++ {
		if status := m.Initialize(color, nil, nil, nil); status != StatusReady {
			t.Fatalf("Initialize #%d = %v, want ready", i, status)
		}
	}

	if len(driver.discoveries) != 1 || len(driver.devices) != 1 || len(driver.handles) != 1 {
		t.Fatalf("allocations: discoveries=%d devices=%d handles=%d, want 1 each",
			len(driver.discoveries), len(driver.devices), len(driver.handles))
	}

	dev := driver.devices[0]
	if len(dev.startModes) != 1 {
		t.Errorf("Expected StartCapture once, got %d", len(dev.startModes))
	}
	if len(dev.setupModes) != 1 {
		t.Errorf("Expected SetupVideoOutputFrame once, got %d", len(dev.setupModes))
	}
	if dev.initCalls != 1 {
		t.Errorf("Expected Init once, got %d", dev.initCalls)
	}
}

func TestManager_StartCaptureRetriedUntilCapturing(t *testing.T) {
	driver := newMockDriver(true)
	driver.startCaptureErr = []error{errMock, errMock}
	m := newTestManager(driver)
	color := &surface{"color"}

	for i := 0; i < 3; i++ {
		if status := m.Initialize(color, nil, nil, nil); status != StatusReady {
			t.Fatalf("Initialize #%d = %v, want ready", i, status)
		}
	}

	dev := driver.devices[0]
	if len(dev.startModes) != 3 {
		t.Errorf("Expected 3 StartCapture attempts, got %d", len(dev.startModes))
	}
	if len(dev.setupModes) != 1 {
		t.Errorf("Expected 1 SetupVideoOutputFrame, got %d", len(dev.setupModes))
	}
	if !dev.capturing {
		t.Error("device should be capturing after the third attempt")
	}

	m.Initialize(color, nil, nil, nil)
	if len(dev.startModes) != 3 {
		t.Errorf("StartCapture called again after capture began: %d", len(dev.startModes))
	}
}

func TestManager_DeviceCreationFailure(t *testing.T) {
	driver := newMockDriver(true)
	driver.deviceErr = errMock
	m := newTestManager(driver)

	if status := m.Initialize(&surface{"color"}, nil, nil, nil); status != StatusPending {
		t.Fatalf("Initialize = %v, want pending", status)
	}
	if len(driver.handles) != 1 || driver.handles[0].released != 1 {
		t.Fatal("handle from a failed device creation must be released")
	}

	driver.deviceErr = nil
	if status := m.Initialize(&surface{"color"}, nil, nil, nil); status != StatusReady {
		t.Fatalf("Initialize = %v, want ready after recovery", status)
	}
	if len(driver.devices) != 1 {
		t.Errorf("Expected 1 device, got %d", len(driver.devices))
	}
}

func TestManager_IsEnabledFollowsDeviceState(t *testing.T) {
	driver := newMockDriver(true)
	m := newTestManager(driver)
	m.Initialize(&surface{"color"}, nil, nil, nil)

	if !m.IsEnabled() {
		t.Fatal("IsEnabled() = false after ready")
	}

	// Capture dropped by the driver.
	driver.devices[0].capturing = false
	assertDefaults(t, m)

	driver.devices[0].capturing = true
	if !m.IsEnabled() {
		t.Fatal("IsEnabled() = false after capture resumed")
	}
}

func TestManager_DisplayModeByFrameHeight(t *testing.T) {
	tests := []struct {
		height     int
		lowLatency bool
		want       DisplayMode
	}{
		{720, false, ModeHD720p5994},
		{1080, false, ModeHD1080p5994},
		{1080, true, ModeHD1080p2398},
		{2160, false, ModeUHD4K2160p5994},
		{2160, true, ModeUHD4K2160p2398},
		{3000, false, ModeDCI4K2398},
	}

	for _, tt := range tests {
		driver := newMockDriver(true)
		m := newTestManager(driver, WithFrameHeight(tt.height), WithLowLatency(tt.lowLatency))
		m.Initialize(&surface{"color"}, nil, nil, nil)

		dev := driver.devices[0]
		if len(dev.startModes) != 1 || dev.startModes[0] != tt.want {
			t.Errorf("height=%d lowLatency=%v: StartCapture modes %v, want %v",
				tt.height, tt.lowLatency, dev.startModes, tt.want)
		}
		if len(dev.setupModes) != 1 || dev.setupModes[0] != tt.want {
			t.Errorf("height=%d lowLatency=%v: output modes %v, want %v",
				tt.height, tt.lowLatency, dev.setupModes, tt.want)
		}
	}
}

func TestManager_DisposeOrder(t *testing.T) {
	driver := newMockDriver(true)
	m := newTestManager(driver)
	m.Initialize(&surface{"color"}, nil, nil, nil)

	m.Dispose()

	want := []string{"device.StopCapture", "handle.Release", "device.Release", "discovery.Release"}
	if !reflect.DeepEqual(driver.log.calls, want) {
		t.Fatalf("dispose calls = %v, want %v", driver.log.calls, want)
	}

	assertDefaults(t, m)
	if _, ok := m.DisplayMode(); ok {
		t.Error("DisplayMode should be cleared by Dispose")
	}
	if m.DeviceName() != "" {
		t.Errorf("DeviceName() = %q after Dispose", m.DeviceName())
	}

	m.Dispose()
	if !reflect.DeepEqual(driver.log.calls, want) {
		t.Errorf("second Dispose made calls: %v", driver.log.calls)
	}
}

func TestManager_DisposeWithoutInitialize(t *testing.T) {
	driver := newMockDriver(false)
	m := newTestManager(driver)

	m.Dispose()
	m.Dispose()

	if !reflect.DeepEqual(driver.log.calls, []string{"discovery.Release"}) {
		t.Errorf("calls = %v, want only discovery.Release", driver.log.calls)
	}
	assertDefaults(t, m)
}

func TestManager_InitializeAfterDisposeRecreatesDiscovery(t *testing.T) {
	driver := newMockDriver(false)
	m := newTestManager(driver)
	m.Dispose()

	// Drivers installed in the meantime.
	driver.enable = true
	if status := m.Initialize(&surface{"color"}, nil, nil, nil); status != StatusReady {
		t.Fatalf("Initialize = %v, want ready", status)
	}
	if !m.HardwarePresent() {
		t.Error("HardwarePresent() = false after discovery was re-enabled")
	}
	if len(driver.discoveries) != 2 {
		t.Errorf("Expected 2 discoveries, got %d", len(driver.discoveries))
	}
	if !m.IsEnabled() {
		t.Error("IsEnabled() = false after re-initialization")
	}
}

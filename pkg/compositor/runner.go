// Package compositor drives a DeckLink device manager from a fixed-rate
// frame loop and publishes its state.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-system/go-decklink-sync/pkg/decklink"
)

// publishTimeout bounds one PublishState call.
const publishTimeout = 5 * time.Second

// ErrInvalidLatency is returned for latency preferences outside [0, 1].
var ErrInvalidLatency = errors.New("latency preference must be between 0 and 1")

// NamedSurface is a placeholder surface for runs without a renderer
type NamedSurface string

// Surfaces are the render targets handed to the device manager
type Surfaces struct {
	Color  decklink.Surface
	Depth  decklink.Surface
	Body   decklink.Surface
	Output decklink.Surface
}

// RunnerConfig configures a Runner
type RunnerConfig struct {
	InstanceID        string
	Driver            string
	Interval          time.Duration
	LatencyPreference float32
	Surfaces          Surfaces
}

// Runner owns a decklink.Manager and calls it from a single goroutine, one
// call sequence per composite frame. Other goroutines only see the
// SyncStatus snapshot it publishes.
type Runner struct {
	manager *decklink.Manager
	cfg     RunnerConfig
	sinks   []StatusSink
	logger  *slog.Logger

	// Tick goroutine state.
	frame          int
	initStatus     decklink.InitStatus
	latencyApplied bool
	appliedLatency float32
	lastKey        stateKey
	published      bool

	mu            sync.RWMutex
	status        SyncStatus
	latency       float32
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	stateCh       chan SyncStatus
	publisherDone chan struct{}
}

// NewRunner creates a runner. sinks may be empty.
func NewRunner(manager *decklink.Manager, cfg RunnerConfig, sinks []StatusSink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / 60
	}

	r := &Runner{
		manager: manager,
		cfg:     cfg,
		sinks:   sinks,
		logger:  logger.With("component", "runner"),
		latency: cfg.LatencyPreference,
	}
	r.status = r.snapshot(time.Now())
	r.status.LatencyPreference = cfg.LatencyPreference
	return r
}

// Start starts the frame loop
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.stateCh = make(chan SyncStatus, 1)
	r.publisherDone = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("Frame loop starting", "interval", r.cfg.Interval, "sinks", len(r.sinks))

	go r.publishLoop()
	go r.run(ctx)
	return nil
}

// Stop stops the frame loop and disposes the device. Without Start it only
// disposes the device. Stop must not race with Start.
func (r *Runner) Stop() {
	r.mu.RLock()
	cancel, done := r.cancel, r.done
	r.mu.RUnlock()

	if cancel == nil {
		r.manager.Dispose()
		r.initStatus = decklink.StatusPending
		status := r.snapshot(time.Now())
		r.mu.Lock()
		status.LatencyPreference = r.latency
		r.status = status
		r.mu.Unlock()
		return
	}
	cancel()
	<-done
}

// Wait blocks until the frame loop has exited
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// GetStatus returns the latest snapshot
func (r *Runner) GetStatus() SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetLatencyPreference sets the device latency preference. It is applied on
// the next tick.
func (r *Runner) SetLatencyPreference(preference float32) error {
	if preference < 0 || preference > 1 {
		return ErrInvalidLatency
	}
	r.mu.Lock()
	r.latency = preference
	r.mu.Unlock()

	r.logger.Info("Latency preference updated", "preference", preference)
	return nil
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

// tick runs one composite frame against the manager
func (r *Runner) tick(now time.Time) {
	r.frame++

	if !r.manager.IsEnabled() {
		r.latencyApplied = false
		status := r.manager.Initialize(r.cfg.Surfaces.Color, r.cfg.Surfaces.Depth, r.cfg.Surfaces.Body, r.cfg.Surfaces.Output)
		if status != r.initStatus {
			r.logger.Info("DeckLink initialize", "status", status.String(), "device", r.manager.DeviceName())
			r.initStatus = status
		}
	}

	r.mu.RLock()
	latency := r.latency
	r.mu.RUnlock()
	if r.manager.IsEnabled() && (!r.latencyApplied || latency != r.appliedLatency) {
		r.manager.SetLatencyPreference(latency)
		r.latencyApplied = true
		r.appliedLatency = latency
	}

	r.manager.Update(r.frame)

	status := r.snapshot(now)
	status.LatencyPreference = latency

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	if key := status.key(); !r.published || key != r.lastKey {
		r.lastKey = key
		r.published = true
		r.logger.Info("DeckLink state changed",
			"enabled", status.Enabled,
			"hardware_present", status.HardwarePresent,
			"device", status.Device)
		r.queueState(status)
	}

	if status.Enabled {
		sample := TimingSample{
			Time:               now,
			Device:             status.Device,
			CompositeFrame:     status.CompositeFrame,
			CaptureFrameIndex:  status.CaptureFrameIndex,
			Timestamp:          status.Timestamp,
			DurationHNS:        status.DurationHNS,
			PixelChange:        status.PixelChange,
			QueuedOutputFrames: status.QueuedOutputFrames,
		}
		for _, sink := range r.sinks {
			sink.RecordTiming(sample)
		}
	}
}

// snapshot reads the manager query surface
func (r *Runner) snapshot(now time.Time) SyncStatus {
	captureIndex := r.manager.GetCaptureFrameIndex()
	status := SyncStatus{
		InstanceID:         r.cfg.InstanceID,
		Driver:             r.cfg.Driver,
		Device:             r.manager.DeviceName(),
		HardwarePresent:    r.manager.HardwarePresent(),
		Enabled:            r.manager.IsEnabled(),
		Ready:              r.initStatus == decklink.StatusReady,
		SupportsOutput:     r.manager.SupportsOutput(),
		ProvidesYUV:        r.manager.ProvidesYUV(),
		ExpectsYUV:         r.manager.ExpectsYUV(),
		CompositeFrame:     r.frame,
		CaptureFrameIndex:  captureIndex,
		Timestamp:          r.manager.GetTimestamp(captureIndex),
		DurationHNS:        r.manager.GetDurationHNS(),
		PixelChange:        r.manager.GetPixelChange(captureIndex),
		QueuedOutputFrames: r.manager.GetNumQueuedOutputFrames(),
		UpdatedAt:          now,
	}
	if mode, ok := r.manager.DisplayMode(); ok {
		status.Mode = NewModeInfo(mode)
	}
	return status
}

// queueState hands status to the publisher, replacing any unsent one
func (r *Runner) queueState(status SyncStatus) {
	if len(r.sinks) == 0 || r.stateCh == nil {
		return
	}
	for {
		select {
		case r.stateCh <- status:
			return
		default:
			select {
			case <-r.stateCh:
			default:
			}
		}
	}
}

// publishLoop delivers state changes to the sinks
func (r *Runner) publishLoop() {
	defer close(r.publisherDone)

	for status := range r.stateCh {
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := sink.PublishState(ctx, status); err != nil {
				r.logger.Warn("Publish state failed", "error", err)
			}
			cancel()
		}
	}
}

// shutdown disposes the device and flushes the final state
func (r *Runner) shutdown() {
	r.manager.Dispose()
	r.initStatus = decklink.StatusPending

	status := r.snapshot(time.Now())
	r.mu.Lock()
	status.LatencyPreference = r.latency
	r.status = status
	r.running = false
	r.mu.Unlock()

	r.queueState(status)
	close(r.stateCh)
	<-r.publisherDone

	r.logger.Info("Frame loop stopped", "frames", r.frame)
}

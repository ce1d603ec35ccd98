package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/video-system/go-decklink-sync/pkg/compositor"
)

const pingTimeout = 5 * time.Second

// Measurement names.
const (
	measurementTiming = "decklink_timing"
	measurementState  = "decklink_state"
)

// InfluxRecorder records per-frame timing with the non-blocking write API
type InfluxRecorder struct {
	client     influxdb2.Client
	writeAPI   api.WriteAPI
	instanceID string
	logger     *slog.Logger
}

// NewInfluxRecorder connects to InfluxDB and checks it is healthy
func NewInfluxRecorder(ctx context.Context, cfg compositor.InfluxDBConfig, instanceID string, logger *slog.Logger) (*InfluxRecorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "influxdb")

	batchSize := max(cfg.BatchSize, 1)
	flushInterval := max(cfg.FlushInterval, 1)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb not healthy", ErrConnectionFailed)
	}

	r := &InfluxRecorder{
		client:     client,
		writeAPI:   client.WriteAPI(cfg.Org, cfg.Bucket),
		instanceID: instanceID,
		logger:     logger,
	}
	go r.logErrors(r.writeAPI.Errors())

	logger.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

func (r *InfluxRecorder) logErrors(errs <-chan error) {
	for err := range errs {
		r.logger.Warn("InfluxDB write failed", "error", err)
	}
}

// RecordTiming queues one timing point
func (r *InfluxRecorder) RecordTiming(sample compositor.TimingSample) {
	r.writeAPI.WritePoint(timingPoint(r.instanceID, sample))
}

// PublishState queues a state point
func (r *InfluxRecorder) PublishState(_ context.Context, status compositor.SyncStatus) error {
	r.writeAPI.WritePoint(statePoint(status))
	return nil
}

// Close flushes pending points and closes the client
func (r *InfluxRecorder) Close() error {
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

func timingPoint(instanceID string, s compositor.TimingSample) *write.Point {
	p := write.NewPoint(measurementTiming,
		map[string]string{"instance": instanceID},
		map[string]interface{}{
			"composite_frame":      s.CompositeFrame,
			"capture_frame_index":  s.CaptureFrameIndex,
			"timestamp_hns":        s.Timestamp,
			"duration_hns":         s.DurationHNS,
			"pixel_change":         s.PixelChange,
			"queued_output_frames": s.QueuedOutputFrames,
		},
		s.Time)
	if s.Device != "" {
		p.AddTag("device", s.Device)
	}
	return p
}

func statePoint(s compositor.SyncStatus) *write.Point {
	mode := ""
	if s.Mode != nil {
		mode = s.Mode.FormatCode
	}
	return write.NewPoint(measurementState,
		map[string]string{"instance": s.InstanceID},
		map[string]interface{}{
			"hardware_present": s.HardwarePresent,
			"enabled":          s.Enabled,
			"ready":            s.Ready,
			"device":           s.Device,
			"driver":           s.Driver,
			"mode":             mode,
		},
		s.UpdatedAt)
}

package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// MaxOutputQueue bounds the number of frames waiting to be written.
const MaxOutputQueue = 8

// OutputConfig configures a raw-video-to-DeckLink output process
type OutputConfig struct {
	Device      string
	Width       int
	Height      int
	FrameRateN  int
	FrameRateD  int
	PixelFormat string // Format of frames passed to Enqueue (default uyvy422)
	MaxQueued   int    // Initial queue limit (default 3)
}

// BuildOutputArgs builds FFmpeg arguments that read raw frames on stdin and
// play them out through a DeckLink device. DeckLink output only accepts
// uyvy422, so other input formats are converted by FFmpeg.
func BuildOutputArgs(cfg OutputConfig) []string {
	pixFmt := cfg.PixelFormat
	if pixFmt == "" {
		pixFmt = PixelFormatUYVY
	}
	rateD := cfg.FrameRateD
	if rateD == 0 {
		rateD = 1
	}

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprintf("%d/%d", cfg.FrameRateN, rateD),
		"-i", "pipe:0",
		"-pix_fmt", PixelFormatUYVY,
		"-f", "decklink",
		cfg.Device,
	}
}

// OutputProcess feeds frames to a DeckLink output process
type OutputProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *slog.Logger

	stdin        io.WriteCloser
	closeTimeout time.Duration
	queue        chan []byte
	maxQueued    atomic.Int32
	closeOnce    sync.Once

	mu      sync.RWMutex
	lastErr error
	written uint64

	done chan struct{}
}

// StartOutput starts a DeckLink output process
func (f *FFmpeg) StartOutput(ctx context.Context, cfg OutputConfig, logger *slog.Logger) (*OutputProcess, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FrameRateN <= 0 {
		return nil, fmt.Errorf("invalid output format %dx%d@%d/%d", cfg.Width, cfg.Height, cfg.FrameRateN, cfg.FrameRateD)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.binaryPath, BuildOutputArgs(cfg)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := newOutputProcess(stdin, cfg.MaxQueued, logger)
	p.cmd = cmd
	p.cancel = cancel

	logger.Info("DeckLink output started", "device", cfg.Device, "pid", cmd.Process.Pid)
	return p, nil
}

// newOutputProcess wires the queue and write loop to w
func newOutputProcess(w io.WriteCloser, maxQueued int, logger *slog.Logger) *OutputProcess {
	p := &OutputProcess{
		logger:       logger,
		stdin:        w,
		closeTimeout: stopTimeout,
		queue:        make(chan []byte, MaxOutputQueue),
		done:         make(chan struct{}),
	}
	if maxQueued <= 0 {
		maxQueued = 3
	}
	p.SetMaxQueued(maxQueued)

	go p.writeLoop()
	return p
}

// writeLoop writes queued frames in order
func (p *OutputProcess) writeLoop() {
	defer close(p.done)

	for frame := range p.queue {
		if _, err := p.stdin.Write(frame); err != nil {
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
			p.logger.Warn("DeckLink output write failed", "error", err)
			// Drain so Enqueue never blocks on a dead process.
			for range p.queue {
			}
			return
		}
		p.mu.Lock()
		p.written++
		p.mu.Unlock()
	}
}

// Enqueue queues one frame. The frame must not be modified afterwards.
func (p *OutputProcess) Enqueue(frame []byte) error {
	if p.LastError() != nil {
		return ErrNotRunning
	}
	if len(p.queue) >= int(p.maxQueued.Load()) {
		return ErrQueueFull
	}
	select {
	case p.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Queued returns the number of frames waiting to be written
func (p *OutputProcess) Queued() int {
	return len(p.queue)
}

// SetMaxQueued sets the queue limit, clamped to [1, MaxOutputQueue]
func (p *OutputProcess) SetMaxQueued(n int) {
	n = max(1, min(n, MaxOutputQueue))
	p.maxQueued.Store(int32(n))
}

// MaxQueued returns the current queue limit
func (p *OutputProcess) MaxQueued() int {
	return int(p.maxQueued.Load())
}

// Written returns the number of frames written
func (p *OutputProcess) Written() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.written
}

// LastError returns the last write error
func (p *OutputProcess) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Close flushes queued frames, closes stdin and stops the process. Frames
// still unwritten after the stop timeout are dropped.
// Enqueue must not be called concurrently with or after Close.
func (p *OutputProcess) Close() error {
	p.closeOnce.Do(func() {
		close(p.queue)
		select {
		case <-p.done:
		case <-time.After(p.closeTimeout):
			// A stalled process stops reading stdin; closing it fails the
			// pending write.
			p.logger.Warn("DeckLink output stalled, dropping queued frames", "queued", len(p.queue))
			if p.cancel != nil {
				p.cancel()
			}
			_ = p.stdin.Close()
			<-p.done
		}
		_ = p.stdin.Close()
		if p.cmd != nil {
			waitErr := make(chan error, 1)
			go func() { waitErr <- p.cmd.Wait() }()

			var err error
			select {
			case err = <-waitErr:
			case <-time.After(stopTimeout):
				p.cancel()
				err = <-waitErr
			}
			if err != nil {
				p.logger.Debug("DeckLink output exited", "error", err)
			}
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
	return p.LastError()
}

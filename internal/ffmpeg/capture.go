package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Raw pixel formats exchanged with FFmpeg.
const (
	PixelFormatUYVY = "uyvy422"
	PixelFormatBGRA = "bgra"
)

// CaptureConfig configures a DeckLink input process
type CaptureConfig struct {
	Device      string // DeckLink device name, e.g. "DeckLink Mini Recorder"
	FormatCode  string // Display mode FourCC, e.g. "Hp59"
	Width       int
	Height      int
	PixelFormat string // PixelFormatUYVY (default) or PixelFormatBGRA
}

// FrameSize returns the byte size of one raw frame for the config
func (c CaptureConfig) FrameSize() int {
	return frameSize(c.Width, c.Height, c.PixelFormat)
}

func frameSize(width, height int, pixFmt string) int {
	switch pixFmt {
	case PixelFormatBGRA:
		return width * height * 4
	default:
		return width * height * 2
	}
}

// BuildCaptureArgs builds FFmpeg arguments that read a DeckLink input and
// write raw frames to stdout.
func BuildCaptureArgs(cfg CaptureConfig) []string {
	pixFmt := cfg.PixelFormat
	if pixFmt == "" {
		pixFmt = PixelFormatUYVY
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-f", "decklink",
	}
	if cfg.FormatCode != "" {
		args = append(args, "-format_code", cfg.FormatCode)
	}
	if pixFmt == PixelFormatBGRA {
		args = append(args, "-raw_format", "bgra")
	} else {
		args = append(args, "-raw_format", "uyvy422")
	}
	args = append(args,
		"-i", cfg.Device,
		"-map", "0:v:0",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"pipe:1",
	)
	return args
}

// CaptureProcess reads raw frames from a running DeckLink input process
type CaptureProcess struct {
	cfg     CaptureConfig
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	ctx     context.Context
	cancel  context.CancelFunc
	onFrame func(data []byte, arrived time.Time)
	logger  *slog.Logger

	mu         sync.RWMutex
	running    bool
	lastErr    error
	frameCount uint64

	done chan struct{}
}

// StartCapture starts a DeckLink capture process. onFrame runs on the read
// goroutine for every complete frame; data is reused after it returns.
func (f *FFmpeg) StartCapture(ctx context.Context, cfg CaptureConfig, onFrame func(data []byte, arrived time.Time), logger *slog.Logger) (*CaptureProcess, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.binaryPath, BuildCaptureArgs(cfg)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &CaptureProcess{
		cfg:     cfg,
		cmd:     cmd,
		stdout:  stdout,
		ctx:     ctx,
		cancel:  cancel,
		onFrame: onFrame,
		logger:  logger,
		running: true,
		done:    make(chan struct{}),
	}

	logger.Info("DeckLink capture started",
		"device", cfg.Device, "format_code", cfg.FormatCode, "pid", cmd.Process.Pid)

	go p.readLoop()

	return p, nil
}

// readLoop reads whole frames until the process exits
func (p *CaptureProcess) readLoop() {
	defer close(p.done)

	buf := make([]byte, p.cfg.FrameSize())
	var readErr error
	for {
		if _, err := io.ReadFull(p.stdout, buf); err != nil {
			readErr = err
			break
		}
		arrived := time.Now()

		p.mu.Lock()
		p.frameCount++
		p.mu.Unlock()

		if p.onFrame != nil {
			p.onFrame(buf, arrived)
		}
	}

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	switch {
	case p.ctx.Err() != nil:
		// Stopped on request.
	case waitErr != nil:
		p.lastErr = waitErr
	case readErr != io.EOF && readErr != io.ErrUnexpectedEOF:
		p.lastErr = readErr
	}
	lastErr := p.lastErr
	p.mu.Unlock()

	p.logger.Info("DeckLink capture stopped", "device", p.cfg.Device, "error", lastErr)
}

// Stop interrupts the process and waits for it to exit
func (p *CaptureProcess) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed when the process has exited
func (p *CaptureProcess) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true while the process is alive
func (p *CaptureProcess) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// LastError returns the exit error, if any
func (p *CaptureProcess) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// FrameCount returns total frames read
func (p *CaptureProcess) FrameCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frameCount
}

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// stopTimeout is how long a process gets to exit after SIGINT before it is killed.
const stopTimeout = 5 * time.Second

var (
	// ErrNotRunning is returned when writing to a process that has exited.
	ErrNotRunning = errors.New("ffmpeg: process not running")

	// ErrQueueFull is returned when the output queue is at its limit.
	ErrQueueFull = errors.New("ffmpeg: output queue full")
)

// FFmpeg wraps FFmpeg binary execution
type FFmpeg struct {
	binaryPath string
}

// New creates a new FFmpeg wrapper
func New() (*FFmpeg, error) {
	path, err := findBinary("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &FFmpeg{binaryPath: path}, nil
}

// Path returns the resolved binary path
func (f *FFmpeg) Path() string {
	return f.binaryPath
}

var commonLocations = map[string][]string{
	"darwin":  {"/opt/homebrew/bin/", "/usr/local/bin/"},
	"linux":   {"/usr/bin/", "/usr/local/bin/", "/opt/ffmpeg/bin/"},
	"windows": {`C:\ffmpeg\bin\`, `C:\Program Files\ffmpeg\bin\`},
}

// findBinary locates a binary in PATH or common locations
func findBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	file := name
	if runtime.GOOS == "windows" {
		file += ".exe"
	}
	for _, dir := range commonLocations[runtime.GOOS] {
		if _, err := os.Stat(dir + file); err == nil {
			return dir + file, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// Version returns the FFmpeg version string
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, f.binaryPath, "-hide_banner", "-version").Output()
	if err != nil {
		return "", err
	}

	line, _, _ := strings.Cut(string(output), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no version output")
	}
	return line, nil
}

// HasDeckLink reports whether this FFmpeg build has the decklink device.
// Builds without --enable-decklink do not list it.
func (f *FFmpeg) HasDeckLink(ctx context.Context) bool {
	output, err := exec.CommandContext(ctx, f.binaryPath, "-hide_banner", "-devices").Output()
	if err != nil {
		return false
	}
	return HasDeckLinkDevice(string(output))
}

// HasDeckLinkDevice parses `ffmpeg -devices` output
func HasDeckLinkDevice(devicesOutput string) bool {
	for _, line := range strings.Split(devicesOutput, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "decklink" {
			return true
		}
	}
	return false
}

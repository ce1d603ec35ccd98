package ringbuffer

import (
	"sync"
	"time"
)

// DefaultCapacity matches the number of capture buffers a DeckLink device
// keeps in flight.
const DefaultCapacity = 10

// Config holds ring buffer configuration
type Config struct {
	Capacity   int    // Number of frames kept (default 10)
	DeviceName string // Device the frames come from, for status only
}

// Frame is the timing record of one captured frame
type Frame struct {
	Index       int       `json:"index"`        // Capture frame index, starting at 1
	Timestamp   int64     `json:"timestamp"`    // Capture time in 100ns units
	PixelChange int       `json:"pixel_change"` // Mean absolute luma delta vs. previous frame
	Arrived     time.Time `json:"arrived"`
}

// BufferStatus is a point-in-time view of the buffer
type BufferStatus struct {
	Count      int     `json:"count"`
	FirstIndex int     `json:"first_index"`
	LastIndex  int     `json:"last_index"`
	Dropped    uint64  `json:"dropped"`
	Health     float64 `json:"health"`
	DeviceName string  `json:"device_name"`
}

// Buffer keeps the most recent capture frames indexed by capture frame index.
// Writers (driver capture goroutines) and readers (the compositor tick) may
// run concurrently.
type Buffer struct {
	cfg Config

	mu        sync.RWMutex
	frames    []Frame
	lastIndex int
	dropped   uint64

	onFrame func(Frame)
}

// New creates a new ring buffer
func New(cfg Config) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Buffer{
		cfg:    cfg,
		frames: make([]Frame, cfg.Capacity),
	}
}

// OnFrame sets callback for new frames
func (b *Buffer) OnFrame(fn func(Frame)) {
	b.mu.Lock()
	b.onFrame = fn
	b.mu.Unlock()
}

// Add stores a frame. Frames must arrive with increasing indices; a gap is
// counted as dropped frames and an out-of-order frame is ignored.
func (b *Buffer) Add(f Frame) {
	b.mu.Lock()
	if f.Index <= b.lastIndex {
		b.mu.Unlock()
		return
	}
	if b.lastIndex > 0 && f.Index > b.lastIndex+1 {
		b.dropped += uint64(f.Index - b.lastIndex - 1)
	}
	b.frames[f.Index%len(b.frames)] = f
	b.lastIndex = f.Index
	fn := b.onFrame
	b.mu.Unlock()

	if fn != nil {
		fn(f)
	}
}

// Get returns the frame with the given capture index if it is still buffered.
func (b *Buffer) Get(index int) (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(index)
}

func (b *Buffer) get(index int) (Frame, bool) {
	if index <= 0 || index > b.lastIndex || index <= b.lastIndex-len(b.frames) {
		return Frame{}, false
	}
	f := b.frames[index%len(b.frames)]
	if f.Index != index {
		return Frame{}, false
	}
	return f, true
}

// Latest returns the most recent frame
func (b *Buffer) Latest() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(b.lastIndex)
}

// LastIndex returns the most recent capture index, 0 if nothing arrived yet.
func (b *Buffer) LastIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastIndex
}

// Timestamp returns the capture timestamp of frame index, or 0.
func (b *Buffer) Timestamp(index int) int64 {
	f, _ := b.Get(index)
	return f.Timestamp
}

// PixelChange returns the pixel change of frame index, or 0.
func (b *Buffer) PixelChange(index int) int {
	f, _ := b.Get(index)
	return f.PixelChange
}

// GetStatus returns the current buffer status
func (b *Buffer) GetStatus() BufferStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.lastIndex
	if count > len(b.frames) {
		count = len(b.frames)
	}
	first := 0
	if count > 0 {
		first = b.lastIndex - count + 1
	}

	return BufferStatus{
		Count:      count,
		FirstIndex: first,
		LastIndex:  b.lastIndex,
		Dropped:    b.dropped,
		Health:     float64(count) / float64(len(b.frames)),
		DeviceName: b.cfg.DeviceName,
	}
}

// Reset drops all frames, e.g. when capture restarts.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.frames)
	b.lastIndex = 0
	b.dropped = 0
}

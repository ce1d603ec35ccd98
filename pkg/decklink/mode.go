package decklink

import "fmt"

// DisplayMode is a BMD display mode, encoded as its FourCC the same way the
// DeckLink SDK and FFmpeg's -format_code do.
type DisplayMode uint32

// Display modes used by the compositor.
const (
	ModeHD720p5994     DisplayMode = 0x68703539 // 'hp59'
	ModeHD1080p5994    DisplayMode = 0x48703539 // 'Hp59'
	ModeHD1080p2398    DisplayMode = 0x32337073 // '23ps'
	ModeUHD4K2160p5994 DisplayMode = 0x346b3539 // '4k59'
	ModeUHD4K2160p2398 DisplayMode = 0x346b3233 // '4k23'
	ModeDCI4K2398      DisplayMode = 0x34643233 // '4d23'
)

type modeInfo struct {
	name       string
	width      int
	height     int
	frameRateN int
	frameRateD int
}

var modes = map[DisplayMode]modeInfo{
	ModeHD720p5994:     {"HD720p59.94", 1280, 720, 60000, 1001},
	ModeHD1080p5994:    {"HD1080p59.94", 1920, 1080, 60000, 1001},
	ModeHD1080p2398:    {"HD1080p23.98", 1920, 1080, 24000, 1001},
	ModeUHD4K2160p5994: {"UHD4K2160p59.94", 3840, 2160, 60000, 1001},
	ModeUHD4K2160p2398: {"UHD4K2160p23.98", 3840, 2160, 24000, 1001},
	ModeDCI4K2398:      {"DCI4K2160p23.98", 4096, 2160, 24000, 1001},
}

// SelectDisplayMode picks the starting capture/output mode for a compositor
// frame height. The device needs a valid starting format to autodetect the
// camera's real one; picking a mode smaller than the output would downsize
// frames, so the table errs high.
//
// lowLatency selects the 23.98 variants used with the shuttle hardware.
func SelectDisplayMode(height int, lowLatency bool) DisplayMode {
	switch {
	case height < 1080:
		return ModeHD720p5994
	case height < 2160:
		if lowLatency {
			return ModeHD1080p2398
		}
		return ModeHD1080p5994
	case height == 2160:
		if lowLatency {
			return ModeUHD4K2160p2398
		}
		return ModeUHD4K2160p5994
	default:
		return ModeDCI4K2398
	}
}

// String returns a human readable mode name.
func (m DisplayMode) String() string {
	if info, ok := modes[m]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(0x%08X)", uint32(m))
}

// FormatCode returns the four character code, e.g. "Hp59".
func (m DisplayMode) FormatCode() string {
	return string([]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)})
}

// Known reports whether m is one of the modes above.
func (m DisplayMode) Known() bool {
	_, ok := modes[m]
	return ok
}

func (m DisplayMode) Width() int  { return modes[m].width }
func (m DisplayMode) Height() int { return modes[m].height }

// FrameRate returns the frame rate as a rational n/d. Unknown modes return 0/1.
func (m DisplayMode) FrameRate() (n, d int) {
	info, ok := modes[m]
	if !ok {
		return 0, 1
	}
	return info.frameRateN, info.frameRateD
}

// FrameDurationHNS returns the duration of one frame in 100ns units, or
// DefaultDurationHNS for unknown modes.
func (m DisplayMode) FrameDurationHNS() int64 {
	n, d := m.FrameRate()
	if n == 0 {
		return DefaultDurationHNS
	}
	return HNSPerSecond * int64(d) / int64(n)
}

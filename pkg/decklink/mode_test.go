package decklink

import "testing"

func TestSelectDisplayMode(t *testing.T) {
	tests := []struct {
		height     int
		lowLatency bool
		want       DisplayMode
	}{
		{0, false, ModeHD720p5994},
		{720, false, ModeHD720p5994},
		{720, true, ModeHD720p5994},
		{1079, false, ModeHD720p5994},
		{1080, false, ModeHD1080p5994},
		{1080, true, ModeHD1080p2398},
		{1440, false, ModeHD1080p5994},
		{2159, true, ModeHD1080p2398},
		{2160, false, ModeUHD4K2160p5994},
		{2160, true, ModeUHD4K2160p2398},
		{2161, false, ModeDCI4K2398},
		{3000, false, ModeDCI4K2398},
		{3000, true, ModeDCI4K2398},
	}

	for _, tt := range tests {
		got := SelectDisplayMode(tt.height, tt.lowLatency)
		if got != tt.want {
			t.Errorf("SelectDisplayMode(%d, %v) = %v, want %v", tt.height, tt.lowLatency, got, tt.want)
		}
		// Pure: repeated calls agree.
		if again := SelectDisplayMode(tt.height, tt.lowLatency); again != got {
			t.Errorf("SelectDisplayMode(%d, %v) not deterministic: %v then %v", tt.height, tt.lowLatency, got, again)
		}
	}
}

func TestDisplayModeFormatCode(t *testing.T) {
	tests := map[DisplayMode]string{
		ModeHD720p5994:     "hp59",
		ModeHD1080p5994:    "Hp59",
		ModeHD1080p2398:    "23ps",
		ModeUHD4K2160p5994: "4k59",
		ModeUHD4K2160p2398: "4k23",
		ModeDCI4K2398:      "4d23",
	}

	for mode, want := range tests {
		if got := mode.FormatCode(); got != want {
			t.Errorf("%v.FormatCode() = %q, want %q", mode, got, want)
		}
		if !mode.Known() {
			t.Errorf("%v should be known", mode)
		}
	}
}

func TestDisplayModeGeometry(t *testing.T) {
	if w, h := ModeDCI4K2398.Width(), ModeDCI4K2398.Height(); w != 4096 || h != 2160 {
		t.Errorf("DCI 4K geometry = %dx%d", w, h)
	}
	if w, h := ModeHD720p5994.Width(), ModeHD720p5994.Height(); w != 1280 || h != 720 {
		t.Errorf("720p geometry = %dx%d", w, h)
	}
	if n, d := ModeUHD4K2160p2398.FrameRate(); n != 24000 || d != 1001 {
		t.Errorf("2160p23.98 frame rate = %d/%d", n, d)
	}
}

func TestDisplayModeFrameDuration(t *testing.T) {
	if got := ModeHD1080p5994.FrameDurationHNS(); got != 166833 {
		t.Errorf("59.94 duration = %d, want 166833", got)
	}
	if got := ModeHD1080p2398.FrameDurationHNS(); got != 417083 {
		t.Errorf("23.98 duration = %d, want 417083", got)
	}
	if got := DisplayMode(0).FrameDurationHNS(); got != DefaultDurationHNS {
		t.Errorf("unknown mode duration = %d, want %d", got, DefaultDurationHNS)
	}
	if DefaultDurationHNS != 333333 {
		t.Errorf("DefaultDurationHNS = %d, want 333333", DefaultDurationHNS)
	}
}

func TestDisplayModeUnknownString(t *testing.T) {
	if got := DisplayMode(0x12345678).String(); got != "unknown(0x12345678)" {
		t.Errorf("String() = %q", got)
	}
	if DisplayMode(0).Known() {
		t.Error("zero mode should not be known")
	}
}

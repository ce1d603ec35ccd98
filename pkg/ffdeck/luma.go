package ffdeck

import "github.com/video-system/go-decklink-sync/internal/ffmpeg"

// lumaSamples is the number of pixels compared between frames.
const lumaSamples = 4096

// sampleLuma appends the luma of up to lumaSamples evenly spaced pixels of a
// raw frame to dst.
func sampleLuma(frame []byte, pixFmt string, dst []byte) []byte {
	bpp := 2
	if pixFmt == ffmpeg.PixelFormatBGRA {
		bpp = 4
	}
	pixels := len(frame) / bpp
	if pixels == 0 {
		return dst
	}
	step := max(1, pixels/lumaSamples)

	for px := 0; px < pixels && len(dst) < lumaSamples; px += step {
		off := px * bpp
		if bpp == 4 {
			b, g, r := int(frame[off]), int(frame[off+1]), int(frame[off+2])
			dst = append(dst, byte((77*r+150*g+29*b)>>8))
		} else {
			// UYVY: Y sits in the odd bytes.
			dst = append(dst, frame[off+1])
		}
	}
	return dst
}

// pixelChange returns the mean absolute difference of two luma samples, or 0
// when they cannot be compared.
func pixelChange(prev, cur []byte) int {
	if len(prev) == 0 || len(prev) != len(cur) {
		return 0
	}
	sum := 0
	for i := range cur {
		diff := int(cur[i]) - int(prev[i])
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum / len(cur)
}

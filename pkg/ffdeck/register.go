//go:build !nodecklink

package ffdeck

import "github.com/video-system/go-decklink-sync/pkg/decklink"

func init() {
	decklink.Register("ffmpeg", func(opts decklink.DriverOptions) decklink.Driver {
		return New(opts)
	})
}

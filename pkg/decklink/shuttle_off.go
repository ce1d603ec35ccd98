//go:build !decklink_shuttle

package decklink

// LowLatencyShuttle is off unless built with -tags decklink_shuttle
const LowLatencyShuttle = false

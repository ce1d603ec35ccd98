//go:build decklink_shuttle

package decklink

// LowLatencyShuttle selects the 23.98 display modes used by the
// UltraStudio/Shuttle capture boxes.
const LowLatencyShuttle = true

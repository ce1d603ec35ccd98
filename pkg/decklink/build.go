package decklink

// FrameHeight is the compositor output height the display mode is derived from.
const FrameHeight = 1080

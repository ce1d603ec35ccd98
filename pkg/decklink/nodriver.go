package decklink

// NoDriver is the driver used when no DeckLink backend is compiled in or
// configured. Its discovery never enables, so a Manager built on it stays in
// the hardware-absent state.
type NoDriver struct{}

// NewDiscovery returns a discovery that never enables
func (NoDriver) NewDiscovery() Discovery { return noDiscovery{} }

// NewDevice always fails
func (NoDriver) NewDevice(Handle) (Device, error) { return nil, ErrNotAvailable }

type noDiscovery struct{}

func (noDiscovery) Enable() bool            { return false }
func (noDiscovery) GetDeviceHandle() Handle { return nil }
func (noDiscovery) Release()                {}

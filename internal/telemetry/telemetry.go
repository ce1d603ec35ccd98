// Package telemetry publishes DeckLink state over MQTT and records frame
// timing in InfluxDB.
package telemetry

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrDisabled is returned when a sink is constructed with enabled=false.
	ErrDisabled = errors.New("telemetry: sink disabled")

	// ErrConnectionFailed is returned when the backend cannot be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

// InstanceID returns configured, or a new random ID when it is empty.
func InstanceID(configured string) string {
	if configured != "" {
		return configured
	}
	return uuid.NewString()
}

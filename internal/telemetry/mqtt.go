package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/video-system/go-decklink-sync/pkg/compositor"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

// StateTopic returns the retained state topic of an instance
func StateTopic(prefix, instanceID string) string {
	return fmt.Sprintf("%s/decklink/%s/state", prefix, instanceID)
}

// statePayload is the JSON published on the state topic
type statePayload struct {
	Status     string                 `json:"status"` // online or offline
	InstanceID string                 `json:"instance_id"`
	Reason     string                 `json:"reason,omitempty"`
	Timestamp  string                 `json:"timestamp"`
	Device     *compositor.SyncStatus `json:"device,omitempty"`
}

func buildStatePayload(status compositor.SyncStatus, now time.Time) ([]byte, error) {
	return json.Marshal(statePayload{
		Status:     "online",
		InstanceID: status.InstanceID,
		Timestamp:  now.UTC().Format(time.RFC3339),
		Device:     &status,
	})
}

func buildOfflinePayload(instanceID, reason string, now time.Time) []byte {
	data, _ := json.Marshal(statePayload{
		Status:     "offline",
		InstanceID: instanceID,
		Reason:     reason,
		Timestamp:  now.UTC().Format(time.RFC3339),
	})
	return data
}

// buildClientOptions creates paho options, including the last will that
// marks the instance offline if the connection drops.
func buildClientOptions(cfg compositor.MQTTConfig, instanceID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "decklink-sync-" + instanceID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetWill(StateTopic(cfg.TopicPrefix, instanceID),
		string(buildOfflinePayload(instanceID, "unexpected_disconnect", time.Now())),
		byte(cfg.QoS), true)

	return opts
}

// MQTTPublisher publishes retained device state messages
type MQTTPublisher struct {
	client     pahomqtt.Client
	qos        byte
	topic      string
	instanceID string
	logger     *slog.Logger
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(cfg compositor.MQTTConfig, instanceID string, logger *slog.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := buildClientOptions(cfg, instanceID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: mqtt timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &MQTTPublisher{
		client:     client,
		qos:        byte(cfg.QoS),
		topic:      StateTopic(cfg.TopicPrefix, instanceID),
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

// Topic returns the state topic
func (p *MQTTPublisher) Topic() string {
	return p.topic
}

// PublishState publishes status as the retained state message
func (p *MQTTPublisher) PublishState(ctx context.Context, status compositor.SyncStatus) error {
	payload, err := buildStatePayload(status, time.Now())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, true, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordTiming does nothing; timing goes to InfluxDB.
func (p *MQTTPublisher) RecordTiming(compositor.TimingSample) {}

// Close publishes a graceful offline state and disconnects
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		token := p.client.Publish(p.topic, p.qos, true, buildOfflinePayload(p.instanceID, "graceful_shutdown", time.Now()))
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("MQTT offline message not acknowledged")
		}
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

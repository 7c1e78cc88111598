package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqttcommon "irepair-admin/common/mqtt"

	"go.uber.org/zap"
)

// DefaultTopic is the MQTT topic changes are published on
const DefaultTopic = "irepair/docstore/changes"

// MQTTClient is the part of common/mqtt.Client the feed uses
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTT publishes changes to a topic and dispatches everything received on
// it into the hub
type MQTT struct {
	client MQTTClient
	hub    *Hub
	logger *zap.Logger
	topic  string
	qos    byte
}

func NewMQTT(client MQTTClient, hub *Hub, logger *zap.Logger, topic string, qos byte) *MQTT {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTT{client: client, hub: hub, logger: logger, topic: topic, qos: qos}
}

func (m *MQTT) Publish(_ context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	return m.client.Publish(m.topic, m.qos, false, payload)
}

// Start subscribes and blocks until ctx is done, then unsubscribes
func (m *MQTT) Start(ctx context.Context) error {
	if err := m.client.Subscribe(m.topic, m.qos, m.handle); err != nil {
		return err
	}
	m.logger.Info("Change feed subscribed", zap.String("topic", m.topic))

	<-ctx.Done()
	if err := m.client.Unsubscribe(m.topic); err != nil {
		m.logger.Warn("Failed to unsubscribe change feed", zap.Error(err))
	}
	return nil
}

func (m *MQTT) handle(_ string, payload []byte) error {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("failed to unmarshal change: %w", err)
	}
	if c.Collection == "" {
		return errors.New("change without collection")
	}
	m.hub.Dispatch(c)
	return nil
}

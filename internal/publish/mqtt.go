package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string // e.g. "vitruvian/<device>"
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes every message to <prefix>/<topic>. Status
// messages are retained so late subscribers see the current state.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *log.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the first connection succeeds.
func NewMQTTPublisher(cfg MQTTConfig, logger *log.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		panic("MQTTPublisher: logger cannot be nil")
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Printf("MQTTPublisher: Connection lost: %v", err)
		})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connecting to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connecting to %s: %w", cfg.Broker, err)
	}
	logger.Printf("MQTTPublisher: Connected to %s", cfg.Broker)
	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, qos byte, logger *log.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos, logger: logger}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) topic(t string) string {
	if p.prefix == "" {
		return t
	}
	return p.prefix + "/" + t
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	retained := msg.Topic == TopicStatus
	token := p.client.Publish(p.topic(msg.Topic), p.qos, retained, msg.Payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

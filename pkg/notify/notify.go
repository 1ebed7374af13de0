// Package notify publishes recognition events to external consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// DefaultPublishTimeout bounds a publish when the config leaves it unset.
const DefaultPublishTimeout = 2 * time.Second

// NewClientFunc creates the underlying MQTT client. Tests replace it.
var NewClientFunc = mqtt.NewClient

// Box is a face bounding box in pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Event is one accepted recognition.
type Event struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
	Box       Box       `json:"box"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}

// MQTTPublisher publishes events as JSON to an MQTT topic.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// New returns an MQTT publisher when enabled in cfg, otherwise Nop.
func New(cfg config.MQTTConfig) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	p, err := NewMQTTPublisher(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.WithError(err).Warn("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Infof("Connected to MQTT broker %s", brokerURL)
	})

	client := NewClientFunc(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", brokerURL, token.Error())
	}

	return &MQTTPublisher{cfg: cfg, client: client}, nil
}

// Publish sends ev and waits for delivery, the publish timeout or ctx
// cancellation, whichever comes first.
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to %s: %w", p.cfg.Topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.cfg.Topic, err)
	}

	logging.Debugf("Published event for %s to %s", ev.Name, p.cfg.Topic)
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

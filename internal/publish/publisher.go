package publish

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/luhtfiimanal/serial-source/internal/config"
)

// Publisher forwards records to an MQTT broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Publisher struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string
	log      *slog.Logger

	connected atomic.Bool
}

// Connect dials the broker and announces the agent online on the status
// topic. The broker publishes an offline status if the agent disappears
// without Close.
func Connect(cfg config.MQTTConfig, clientID string, log *slog.Logger) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, ErrInvalidTopic
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	opts := buildClientOptions(cfg, clientID)
	configureLWT(opts, cfg.StatusTopic, clientID)

	p := &Publisher{cfg: cfg, clientID: clientID, log: log}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.connected.Store(false)
		p.log.Warn("mqtt connection lost", "error", err)
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously.
	p.connected.Store(true)
	return p, nil
}

func newPublisher(client pahomqtt.Client, cfg config.MQTTConfig, clientID string) *Publisher {
	p := &Publisher{client: client, cfg: cfg, clientID: clientID, log: slog.New(slog.DiscardHandler)}
	p.connected.Store(client.IsConnected())
	return p
}

func (p *Publisher) handleConnect() {
	p.connected.Store(true)
	p.log.Info("mqtt connected", "topic", p.cfg.Topic)
	p.client.Publish(p.cfg.StatusTopic, 1, true, statusPayload("online", p.clientID, ""))
}

// IsConnected reports the last known connection state.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load() && p.client.IsConnected()
}

// Publish sends one encoded record to the record topic.
func (p *Publisher) Publish(payload []byte) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(p.cfg.Topic, byte(p.cfg.QoS), p.cfg.Retain, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	if p.IsConnected() {
		token := p.client.Publish(p.cfg.StatusTopic, 1, true, statusPayload("offline", p.clientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	p.connected.Store(false)
	return nil
}

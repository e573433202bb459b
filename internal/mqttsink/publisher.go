// Package mqttsink mirrors delivered telemetry readings to an MQTT broker.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const (
	defaultTopicPrefix    = "blepipe"
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMS   = 250
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Config holds broker settings. An empty Broker disables the mirror.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// Publisher publishes readings as JSON.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// Connect opens a broker connection. It fails when the broker is not
// reachable within cfg.ConnectTimeout.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mqtt broker is not configured")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientID))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt mirror connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt mirror connection lost", "error", err.Error())
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect mqtt broker %s: timed out after %s", cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	return newPublisher(client, cfg, logger), nil
}

func newPublisher(client mqtt.Client, cfg Config, logger *slog.Logger) *Publisher {
	prefix := strings.Trim(strings.TrimSpace(cfg.TopicPrefix), "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{client: client, prefix: prefix, qos: cfg.QoS, timeout: timeout, logger: logger}
}

// Topic returns the topic a reading is published on.
func (p *Publisher) Topic(reading telemetry.Reading) string {
	return p.prefix + "/" + topicSegment(reading.SensorType) + "/" + topicSegment(reading.DeviceID)
}

// Publish sends reading and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, reading telemetry.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	wait := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}

	topic := p.Topic(reading)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: topic %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Debug("reading mirrored", "topic", topic)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesceMS)
}

// topicSegment replaces MQTT wildcard and separator characters.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

func clientID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return fmt.Sprintf("blepipe-%d", time.Now().UnixNano())
}

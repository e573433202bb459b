package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	maxConnectTimeoutMS = 10000
	maxRequestTimeoutMS = 30000
	minLocalIntervalMS  = 1000
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Adapter.Service) == "" {
		return nil, fmt.Errorf("adapter.service must not be empty")
	}
	if !dbus.ObjectPath(cfg.Adapter.Path).IsValid() || cfg.Adapter.Path == "/" {
		return nil, fmt.Errorf("adapter.path %q is not a valid object path", cfg.Adapter.Path)
	}
	if cfg.Adapter.CallTimeoutMS <= 0 {
		return nil, fmt.Errorf("adapter.call_timeout_ms must be > 0")
	}
	if cfg.Adapter.PowerSettleMS < 0 {
		return nil, fmt.Errorf("adapter.power_settle_ms must be >= 0")
	}

	host, port, err := net.SplitHostPort(cfg.Relay.Address)
	if err != nil || port == "" {
		return nil, fmt.Errorf("relay.address %q must be host:port", cfg.Relay.Address)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("relay.address %q is not a loopback address", cfg.Relay.Address)})
	}
	if cfg.Relay.HandshakeTimeoutMS <= 0 {
		return nil, fmt.Errorf("relay.handshake_timeout_ms must be > 0")
	}
	if cfg.Relay.ReadyTimeoutMS <= 0 {
		return nil, fmt.Errorf("relay.ready_timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Forward.BaseURL) != "" {
		u, err := url.Parse(cfg.Forward.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("forward.base_url %q must be an http or https URL", cfg.Forward.BaseURL)
		}
		if u.Scheme == "http" && cfg.Forward.AuthToken != "" {
			warnings = append(warnings, Warning{Message: "forward.auth_token is sent over plain http"})
		}
	}
	if cfg.Forward.ConnectTimeoutMS <= 0 || cfg.Forward.ConnectTimeoutMS > maxConnectTimeoutMS {
		return nil, fmt.Errorf("forward.connect_timeout_ms must be in 1..%d", maxConnectTimeoutMS)
	}
	if cfg.Forward.RequestTimeoutMS <= 0 || cfg.Forward.RequestTimeoutMS > maxRequestTimeoutMS {
		return nil, fmt.Errorf("forward.request_timeout_ms must be in 1..%d", maxRequestTimeoutMS)
	}
	if cfg.Forward.MaxAttempts < 1 {
		return nil, fmt.Errorf("forward.max_attempts must be >= 1")
	}
	if cfg.Forward.RetryBackoffMS < 0 {
		return nil, fmt.Errorf("forward.retry_backoff_ms must be >= 0")
	}
	if cfg.Forward.DedupeWindowMS < 0 {
		return nil, fmt.Errorf("forward.dedupe_window_ms must be >= 0")
	}

	if cfg.MQTT.Broker != "" {
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("mqtt.broker %q must look like tcp://host:port", cfg.MQTT.Broker)
		}
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1, or 2")
	}

	if cfg.Scheduler.ScanCore < -1 || cfg.Scheduler.ForwardCore < -1 {
		return nil, fmt.Errorf("scheduler cores must be >= -1")
	}
	if cfg.Scheduler.ScanCore >= 0 && cfg.Scheduler.ScanCore == cfg.Scheduler.ForwardCore {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("scan and forward workers share core %d", cfg.Scheduler.ScanCore)})
	}

	if cfg.Local.IntervalMS != 0 {
		if cfg.Local.IntervalMS < minLocalIntervalMS {
			return nil, fmt.Errorf("local_sensor.interval_ms must be 0 or >= %d", minLocalIntervalMS)
		}
		if strings.TrimSpace(cfg.Local.DeviceID) == "" {
			return nil, fmt.Errorf("local_sensor.device_id must not be empty")
		}
	}

	if !logLevels[cfg.LogLevel] {
		return nil, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

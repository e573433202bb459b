package config

import "strings"

type jsoncConfig struct {
	Adapter   *jsoncAdapter   `json:"adapter"`
	Relay     *jsoncRelay     `json:"relay"`
	Forward   *jsoncForward   `json:"forward"`
	MQTT      *jsoncMQTT      `json:"mqtt"`
	Scheduler *jsoncScheduler `json:"scheduler"`
	Local     *jsoncLocal     `json:"local_sensor"`
	LogLevel  *string         `json:"log_level"`
}

type jsoncAdapter struct {
	Service       *string `json:"service"`
	Path          *string `json:"path"`
	CallTimeoutMS *int    `json:"call_timeout_ms"`
	PowerSettleMS *int    `json:"power_settle_ms"`
}

type jsoncRelay struct {
	Address            *string `json:"address"`
	HandshakeTimeoutMS *int    `json:"handshake_timeout_ms"`
	ReadyTimeoutMS     *int    `json:"ready_timeout_ms"`
}

type jsoncForward struct {
	BaseURL          *string `json:"base_url"`
	ResourcePrefix   *string `json:"resource_prefix"`
	AuthToken        *string `json:"auth_token"`
	ConnectTimeoutMS *int    `json:"connect_timeout_ms"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
	MaxAttempts      *int    `json:"max_attempts"`
	RetryBackoffMS   *int    `json:"retry_backoff_ms"`
	RSSI             *bool   `json:"rssi"`
	DedupeWindowMS   *int    `json:"dedupe_window_ms"`
}

type jsoncMQTT struct {
	Broker      *string `json:"broker"`
	ClientID    *string `json:"client_id"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	TopicPrefix *string `json:"topic_prefix"`
	QoS         *int    `json:"qos"`
}

type jsoncScheduler struct {
	ScanCore    *int `json:"scan_core"`
	ForwardCore *int `json:"forward_core"`
}

type jsoncLocal struct {
	DeviceID   *string `json:"device_id"`
	SensorKey  *string `json:"sensor_key"`
	IntervalMS *int    `json:"interval_ms"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if a := payload.Adapter; a != nil {
		setString(&cfg.Adapter.Service, a.Service)
		setString(&cfg.Adapter.Path, a.Path)
		setInt(&cfg.Adapter.CallTimeoutMS, a.CallTimeoutMS)
		setInt(&cfg.Adapter.PowerSettleMS, a.PowerSettleMS)
	}

	if r := payload.Relay; r != nil {
		setString(&cfg.Relay.Address, r.Address)
		setInt(&cfg.Relay.HandshakeTimeoutMS, r.HandshakeTimeoutMS)
		setInt(&cfg.Relay.ReadyTimeoutMS, r.ReadyTimeoutMS)
	}

	if f := payload.Forward; f != nil {
		setString(&cfg.Forward.BaseURL, f.BaseURL)
		setString(&cfg.Forward.ResourcePrefix, f.ResourcePrefix)
		setString(&cfg.Forward.AuthToken, f.AuthToken)
		setInt(&cfg.Forward.ConnectTimeoutMS, f.ConnectTimeoutMS)
		setInt(&cfg.Forward.RequestTimeoutMS, f.RequestTimeoutMS)
		setInt(&cfg.Forward.MaxAttempts, f.MaxAttempts)
		setInt(&cfg.Forward.RetryBackoffMS, f.RetryBackoffMS)
		setInt(&cfg.Forward.DedupeWindowMS, f.DedupeWindowMS)
		if f.RSSI != nil {
			cfg.Forward.RSSI = *f.RSSI
		}
		if f.AuthToken != nil && *f.AuthToken != "" {
			warnings = append(warnings, Warning{Message: "forward.auth_token is stored in the config file; prefer BLEPIPE_AUTH_TOKEN"})
		}
	}

	if m := payload.MQTT; m != nil {
		setString(&cfg.MQTT.Broker, m.Broker)
		setString(&cfg.MQTT.ClientID, m.ClientID)
		setString(&cfg.MQTT.Username, m.Username)
		if m.Password != nil {
			cfg.MQTT.Password = *m.Password
		}
		setString(&cfg.MQTT.TopicPrefix, m.TopicPrefix)
		setInt(&cfg.MQTT.QoS, m.QoS)
	}

	if s := payload.Scheduler; s != nil {
		setInt(&cfg.Scheduler.ScanCore, s.ScanCore)
		setInt(&cfg.Scheduler.ForwardCore, s.ForwardCore)
	}

	if l := payload.Local; l != nil {
		setString(&cfg.Local.DeviceID, l.DeviceID)
		setString(&cfg.Local.SensorKey, l.SensorKey)
		setInt(&cfg.Local.IntervalMS, l.IntervalMS)
	}

	if payload.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*payload.LogLevel))
	}

	return warnings
}

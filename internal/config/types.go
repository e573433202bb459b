// Package config resolves, parses, validates, and defaults blepipe configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by blepipe.
type Config struct {
	Adapter   AdapterConfig
	Relay     RelayConfig
	Forward   ForwardConfig
	MQTT      MQTTConfig
	Scheduler SchedulerConfig
	Local     LocalSensorConfig
	LogLevel  string
}

// AdapterConfig locates the BlueZ adapter on the system bus.
type AdapterConfig struct {
	Service       string
	Path          string
	CallTimeoutMS int
	PowerSettleMS int
}

// RelayConfig controls the loopback channel between the workers.
type RelayConfig struct {
	Address            string
	HandshakeTimeoutMS int
	ReadyTimeoutMS     int
}

// ForwardConfig controls delivery to the remote endpoint.
type ForwardConfig struct {
	BaseURL          string
	ResourcePrefix   string
	AuthToken        string
	ConnectTimeoutMS int
	RequestTimeoutMS int
	MaxAttempts      int
	RetryBackoffMS   int
	RSSI             bool
	DedupeWindowMS   int
}

// MQTTConfig controls the optional telemetry mirror. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// LocalSensorConfig controls the host temperature reading sent alongside
// discoveries. IntervalMS 0 disables it.
type LocalSensorConfig struct {
	DeviceID   string
	SensorKey  string
	IntervalMS int
}

// SchedulerConfig places workers on CPU cores. -1 leaves a worker unpinned.
type SchedulerConfig struct {
	ScanCore    int
	ForwardCore int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

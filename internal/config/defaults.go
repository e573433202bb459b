package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Adapter: AdapterConfig{
			Service:       "org.bluez",
			Path:          "/org/bluez/hci0",
			CallTimeoutMS: 5000,
			PowerSettleMS: 1000,
		},
		Relay: RelayConfig{
			Address:            "127.0.0.1:8080",
			HandshakeTimeoutMS: 1000,
			ReadyTimeoutMS:     5000,
		},
		Forward: ForwardConfig{
			ResourcePrefix:   "sensors",
			ConnectTimeoutMS: 10000,
			RequestTimeoutMS: 30000,
			MaxAttempts:      3,
			RetryBackoffMS:   500,
		},
		MQTT: MQTTConfig{
			ClientID:    "blepipe",
			TopicPrefix: "blepipe",
		},
		Scheduler: SchedulerConfig{
			ScanCore:    0,
			ForwardCore: 1,
		},
		Local: LocalSensorConfig{
			DeviceID:  "raspberry_pi_5",
			SensorKey: "cpu",
		},
		LogLevel: "info",
	}
}

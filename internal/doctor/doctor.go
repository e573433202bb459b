// Package doctor runs runtime readiness diagnostics for config, the system bus,
// the Bluetooth adapter, the relay port, and the remote endpoint.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/om131/Capstone-Pi-5-OS/internal/adapter"
	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/config"
	"github.com/om131/Capstone-Pi-5-OS/internal/hostsensor"
	"github.com/om131/Capstone-Pi-5-OS/internal/ipc"
	"github.com/om131/Capstone-Pi-5-OS/internal/mqttsink"
)

const (
	probeTimeout          = 2 * time.Second
	defaultSystemBusPath  = "/run/dbus/system_bus_socket"
	systemBusAddressEnv   = "DBUS_SYSTEM_BUS_ADDRESS"
	endpointPreviewLength = 256
)

// Swapped in tests.
var (
	probeAdapter = adapterPowered
	countCores   = cpu.CountsWithContext
	sampleLocal  = sampleTemperature
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkSystemBus())
	checks = append(checks, checkAdapter(ctx, cfg.Adapter))
	checks = append(checks, checkCores(ctx, cfg.Scheduler))
	checks = append(checks, checkRelayAddress(cfg.Relay.Address))
	checks = append(checks, checkEndpoint(ctx, cfg.Forward))
	if cfg.MQTT.Broker != "" {
		checks = append(checks, checkMQTT(cfg.MQTT))
	}
	if cfg.Local.IntervalMS > 0 {
		checks = append(checks, checkLocalSensor(ctx, cfg.Local))
	}

	return Report{Checks: checks}
}

// checkSystemBus validates that a system bus address is configured or the
// default socket exists.
func checkSystemBus() Check {
	if addr := strings.TrimSpace(os.Getenv(systemBusAddressEnv)); addr != "" {
		return Check{Name: "dbus.system", Pass: true, Message: fmt.Sprintf("%s=%s", systemBusAddressEnv, addr)}
	}
	if _, err := os.Stat(defaultSystemBusPath); err != nil {
		return Check{Name: "dbus.system", Pass: false, Message: fmt.Sprintf("system bus socket missing: %v", err)}
	}
	return Check{Name: "dbus.system", Pass: true, Message: "socket at " + defaultSystemBusPath}
}

func checkAdapter(ctx context.Context, cfg config.AdapterConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	powered, err := probeAdapter(ctx, cfg)
	if err != nil {
		return Check{Name: "adapter", Pass: false, Message: err.Error()}
	}
	if !powered {
		return Check{Name: "adapter", Pass: true, Message: fmt.Sprintf("%s present, powered off (run powers it on)", cfg.Path)}
	}
	return Check{Name: "adapter", Pass: true, Message: fmt.Sprintf("%s powered", cfg.Path)}
}

// adapterPowered reads Adapter1.Powered without changing adapter state.
func adapterPowered(ctx context.Context, cfg config.AdapterConfig) (bool, error) {
	conn, err := bus.ConnectSystem(cfg.Service)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	controller := adapter.NewController(conn.Client(config.Millis(cfg.CallTimeoutMS)), dbus.ObjectPath(cfg.Path), nil)
	return controller.IsPoweredOn(ctx)
}

func checkCores(ctx context.Context, cfg config.SchedulerConfig) Check {
	n, err := countCores(ctx, true)
	if err != nil {
		return Check{Name: "cpu.cores", Pass: false, Message: fmt.Sprintf("count cores: %v", err)}
	}
	placements := []struct {
		name string
		core int
	}{
		{"scan_core", cfg.ScanCore},
		{"forward_core", cfg.ForwardCore},
	}
	for _, p := range placements {
		if p.core >= n {
			return Check{Name: "cpu.cores", Pass: false, Message: fmt.Sprintf("scheduler.%s=%d but only %d cores", p.name, p.core, n)}
		}
	}
	return Check{Name: "cpu.cores", Pass: true, Message: fmt.Sprintf("%d logical cores", n)}
}

// checkRelayAddress verifies the relay port can be bound right now.
func checkRelayAddress(addr string) Check {
	listener, err := ipc.Listen(addr)
	if err != nil {
		return Check{Name: "relay", Pass: false, Message: err.Error()}
	}
	_ = listener.Close()
	return Check{Name: "relay", Pass: true, Message: addr + " is free"}
}

// checkEndpoint confirms the base URL answers HTTP. Any status counts as
// reachable; nothing is written.
func checkEndpoint(ctx context.Context, cfg config.ForwardConfig) Check {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return Check{Name: "forward.endpoint", Pass: false, Message: "forward.base_url is empty (set it or BLEPIPE_BASE_URL)"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return Check{Name: "forward.endpoint", Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "forward.endpoint", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, endpointPreviewLength))

	return Check{Name: "forward.endpoint", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, base)}
}

func checkMQTT(cfg config.MQTTConfig) Check {
	publisher, err := mqttsink.Connect(mqttsink.Config{
		Broker:         cfg.Broker,
		ClientID:       cfg.ClientID + "-doctor",
		Username:       cfg.Username,
		Password:       cfg.Password,
		ConnectTimeout: probeTimeout,
	}, nil)
	if err != nil {
		return Check{Name: "mqtt", Pass: false, Message: err.Error()}
	}
	publisher.Close()
	return Check{Name: "mqtt", Pass: true, Message: "connected to " + cfg.Broker}
}

func sampleTemperature(ctx context.Context, cfg config.LocalSensorConfig) (float64, error) {
	reading, err := hostsensor.NewTemperatureSampler(cfg.DeviceID, cfg.SensorKey).Sample(ctx)
	return reading.Value, err
}

func checkLocalSensor(ctx context.Context, cfg config.LocalSensorConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	celsius, err := sampleLocal(ctx, cfg)
	if err != nil {
		return Check{Name: "local_sensor", Pass: false, Message: err.Error()}
	}
	return Check{Name: "local_sensor", Pass: true, Message: fmt.Sprintf("%.1f C from %q", celsius, cfg.SensorKey)}
}

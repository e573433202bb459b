// Package hostsensor samples readings from the host the pipeline runs on.
package hostsensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

var ErrNoSensor = errors.New("hostsensor: no matching temperature sensor")

// Swapped in tests.
var (
	readTemperatures = host.SensorsTemperaturesWithContext
	now              = time.Now
)

// TemperatureSampler reads one host temperature sensor as a
// cpu_temperature reading.
type TemperatureSampler struct {
	deviceID string
	key      string
}

// NewTemperatureSampler reports readings under deviceID from the first
// sensor whose key contains key. An empty key takes the first sensor.
func NewTemperatureSampler(deviceID, key string) *TemperatureSampler {
	return &TemperatureSampler{deviceID: deviceID, key: strings.ToLower(strings.TrimSpace(key))}
}

// Sample reads the sensors once.
func (s *TemperatureSampler) Sample(ctx context.Context) (telemetry.Reading, error) {
	stats, err := readTemperatures(ctx)
	if len(stats) == 0 {
		if err != nil {
			return telemetry.Reading{}, fmt.Errorf("read temperatures: %w", err)
		}
		return telemetry.Reading{}, ErrNoSensor
	}

	// Partial results come back with warnings; any usable sensor wins.
	for _, stat := range stats {
		if s.key != "" && !strings.Contains(strings.ToLower(stat.SensorKey), s.key) {
			continue
		}
		return telemetry.Reading{
			DeviceID:   s.deviceID,
			SensorType: telemetry.SensorCPUTemperature,
			Value:      stat.Temperature,
			Timestamp:  now().Unix(),
		}, nil
	}
	return telemetry.Reading{}, fmt.Errorf("%w: key %q", ErrNoSensor, s.key)
}

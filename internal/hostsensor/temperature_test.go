package hostsensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/require"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

func stubSensors(t *testing.T, stats []host.TemperatureStat, err error) {
	t.Helper()
	prevRead, prevNow := readTemperatures, now
	readTemperatures = func(context.Context) ([]host.TemperatureStat, error) { return stats, err }
	now = func() time.Time { return time.Unix(1767225600, 0) }
	t.Cleanup(func() { readTemperatures, now = prevRead, prevNow })
}

func TestSamplePicksMatchingSensor(t *testing.T) {
	stubSensors(t, []host.TemperatureStat{
		{SensorKey: "rp1_adc_input", Temperature: 38.5},
		{SensorKey: "cpu_thermal_input", Temperature: 51.2},
	}, nil)

	reading, err := NewTemperatureSampler("raspberry_pi_5", "CPU").Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, telemetry.Reading{
		DeviceID:   "raspberry_pi_5",
		SensorType: telemetry.SensorCPUTemperature,
		Value:      51.2,
		Timestamp:  1767225600,
	}, reading)
}

func TestSampleEmptyKeyTakesFirstSensor(t *testing.T) {
	stubSensors(t, []host.TemperatureStat{{SensorKey: "acpitz_input", Temperature: 40}}, nil)

	reading, err := NewTemperatureSampler("host", "").Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(40), reading.Value)
}

func TestSampleUsesPartialResults(t *testing.T) {
	stubSensors(t, []host.TemperatureStat{{SensorKey: "cpu_thermal_input", Temperature: 47}}, errors.New("some hwmon entries unreadable"))

	reading, err := NewTemperatureSampler("pi", "cpu").Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(47), reading.Value)
}

func TestSampleWithoutSensors(t *testing.T) {
	stubSensors(t, nil, nil)
	_, err := NewTemperatureSampler("pi", "cpu").Sample(context.Background())
	require.ErrorIs(t, err, ErrNoSensor)

	stubSensors(t, nil, errors.New("no hwmon"))
	_, err = NewTemperatureSampler("pi", "cpu").Sample(context.Background())
	require.ErrorContains(t, err, "no hwmon")

	stubSensors(t, []host.TemperatureStat{{SensorKey: "nvme_composite", Temperature: 30}}, nil)
	_, err = NewTemperatureSampler("pi", "cpu").Sample(context.Background())
	require.ErrorIs(t, err, ErrNoSensor)
}

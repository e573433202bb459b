// Package telemetry defines the values that flow through the pipeline:
// discovered devices, derived readings, and their relay encoding.
package telemetry

import (
	"strings"
	"time"
)

// Sensor types carried by readings.
const (
	SensorPresence       = "presence"
	SensorRSSI           = "rssi"
	SensorCPUTemperature = "cpu_temperature"
)

// resources maps sensor types whose endpoint resource differs from the type.
var resources = map[string]string{
	SensorCPUTemperature: "temperature",
}

// Resource returns the endpoint resource name readings of sensorType are
// posted under.
func Resource(sensorType string) string {
	if name, ok := resources[sensorType]; ok {
		return name
	}
	return sensorType
}

// DeviceRecord is one device-found observation. It is never mutated after
// construction.
type DeviceRecord struct {
	ID           string
	Address      string
	Name         string
	RSSI         *int16
	DiscoveredAt time.Time
}

// Identifier returns the best stable identifier for the device: the MAC
// address when known, otherwise the object path.
func (r DeviceRecord) Identifier() string {
	if r.Address != "" {
		return r.Address
	}
	if addr := AddressFromPath(r.ID); addr != "" {
		return addr
	}
	return r.ID
}

// Reading is one telemetry sample bound for the remote endpoint.
type Reading struct {
	DeviceID   string  `json:"device_id"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Timestamp  int64   `json:"timestamp"`
}

// PresenceReading derives the presence sample for a discovered device.
func PresenceReading(r DeviceRecord) Reading {
	return Reading{
		DeviceID:   r.Identifier(),
		SensorType: SensorPresence,
		Value:      1,
		Timestamp:  r.DiscoveredAt.Unix(),
	}
}

// RSSIReading derives a signal strength sample when the record carries one.
func RSSIReading(r DeviceRecord) (Reading, bool) {
	if r.RSSI == nil {
		return Reading{}, false
	}
	return Reading{
		DeviceID:   r.Identifier(),
		SensorType: SensorRSSI,
		Value:      float64(*r.RSSI),
		Timestamp:  r.DiscoveredAt.Unix(),
	}, true
}

// AddressFromPath extracts the MAC address from a BlueZ device object path
// such as /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF. It returns "" when the path
// does not end in a device element.
func AddressFromPath(path string) string {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return ""
	}
	raw := path[idx+len("/dev_"):]
	parts := strings.Split(raw, "_")
	if len(parts) != 6 {
		return ""
	}
	for _, part := range parts {
		if len(part) != 2 || !isHex(part) {
			return ""
		}
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

func isHex(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}

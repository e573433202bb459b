// Package discovery turns BlueZ device-found signals into a pull-based
// sequence of device records.
package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const (
	adapterInterface       = "org.bluez.Adapter1"
	deviceInterface        = "org.bluez.Device1"
	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"

	deviceFoundSignal     = adapterInterface + ".DeviceFound"
	interfacesAddedSignal = objectManagerInterface + ".InterfacesAdded"
)

// ErrConnectionLost ends a stream whose bus connection went away.
var ErrConnectionLost = errors.New("discovery: bus connection lost")

// Matches lists the signal subscriptions a Stream consumes.
var Matches = []bus.Match{
	{Interface: adapterInterface, Member: "DeviceFound"},
	{Interface: objectManagerInterface, Member: "InterfacesAdded"},
}

// Option customizes a Stream.
type Option func(*Stream)

// WithClock overrides the discovery timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) { s.now = now }
}

// WithLogger sets the logger used for dropped-signal diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// Stream yields one DeviceRecord per matching signal, in arrival order.
// It cannot be restarted once the connection is lost.
type Stream struct {
	signals     <-chan *dbus.Signal
	adapterPath dbus.ObjectPath
	now         func() time.Time
	logger      *slog.Logger

	dropped uint64
	lost    bool
}

// New wraps a signal channel scoped to adapterPath.
func New(signals <-chan *dbus.Signal, adapterPath dbus.ObjectPath, opts ...Option) *Stream {
	s := &Stream{
		signals:     signals,
		adapterPath: adapterPath,
		now:         time.Now,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next blocks until the next device is found. Signals of other shapes are
// skipped. It returns ErrConnectionLost once the channel closes.
func (s *Stream) Next(ctx context.Context) (telemetry.DeviceRecord, error) {
	if s.lost {
		return telemetry.DeviceRecord{}, ErrConnectionLost
	}

	for {
		select {
		case <-ctx.Done():
			return telemetry.DeviceRecord{}, ctx.Err()
		case sig, ok := <-s.signals:
			if !ok {
				s.lost = true
				return telemetry.DeviceRecord{}, ErrConnectionLost
			}
			record, ok := s.decode(sig)
			if !ok {
				s.dropped++
				continue
			}
			return record, nil
		}
	}
}

// Dropped returns how many signals were skipped as non-matching.
func (s *Stream) Dropped() uint64 {
	return s.dropped
}

func (s *Stream) decode(sig *dbus.Signal) (telemetry.DeviceRecord, bool) {
	if sig == nil {
		return telemetry.DeviceRecord{}, false
	}

	switch sig.Name {
	case deviceFoundSignal:
		if sig.Path != s.adapterPath || len(sig.Body) == 0 {
			return telemetry.DeviceRecord{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			s.logger.Debug("drop device-found signal", "reason", "first argument is not an object path")
			return telemetry.DeviceRecord{}, false
		}
		var props map[string]dbus.Variant
		if len(sig.Body) > 1 {
			props, _ = sig.Body[1].(map[string]dbus.Variant)
		}
		return s.record(path, props), true

	case interfacesAddedSignal:
		if len(sig.Body) < 2 {
			return telemetry.DeviceRecord{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || !strings.HasPrefix(string(path), string(s.adapterPath)+"/") {
			return telemetry.DeviceRecord{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return telemetry.DeviceRecord{}, false
		}
		props, ok := ifaces[deviceInterface]
		if !ok {
			return telemetry.DeviceRecord{}, false
		}
		return s.record(path, props), true

	default:
		return telemetry.DeviceRecord{}, false
	}
}

func (s *Stream) record(path dbus.ObjectPath, props map[string]dbus.Variant) telemetry.DeviceRecord {
	record := telemetry.DeviceRecord{
		ID:           string(path),
		DiscoveredAt: s.now().UTC(),
	}

	if v, ok := props["Address"]; ok {
		if addr, ok := v.Value().(string); ok {
			record.Address = strings.ToUpper(addr)
		}
	}
	if record.Address == "" {
		record.Address = telemetry.AddressFromPath(record.ID)
	}
	if v, ok := props["Name"]; ok {
		if name, ok := v.Value().(string); ok {
			record.Name = name
		}
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			record.RSSI = &rssi
		}
	}

	return record
}

package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/om131/Capstone-Pi-5-OS/internal/adapter"
	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/discovery"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const stopDiscoveryTimeout = 2 * time.Second

// BlueZConfig locates the adapter on the system bus.
type BlueZConfig struct {
	Service     string
	AdapterPath dbus.ObjectPath
	CallTimeout time.Duration
	PowerSettle time.Duration
}

type bluezSource struct {
	conn       *bus.Conn
	controller *adapter.Controller
	stream     *discovery.Stream
	logger     *slog.Logger
}

// BlueZOpener connects to the system bus, subscribes to discovery signals,
// powers the adapter and starts discovery.
func BlueZOpener(cfg BlueZConfig, logger *slog.Logger) SourceOpener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(ctx context.Context) (Source, error) {
		conn, err := bus.ConnectSystem(cfg.Service)
		if err != nil {
			return nil, err
		}

		signals, err := conn.Subscribe(discovery.Matches...)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}

		controller := adapter.NewController(conn.Client(cfg.CallTimeout), cfg.AdapterPath, logger, adapter.WithPowerSettle(cfg.PowerSettle))
		if err := controller.EnsurePoweredOn(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := controller.StartDiscovery(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("discovery started", "adapter", string(cfg.AdapterPath))

		return &bluezSource{
			conn:       conn,
			controller: controller,
			stream:     discovery.New(signals, cfg.AdapterPath, discovery.WithLogger(logger)),
			logger:     logger,
		}, nil
	}
}

func (s *bluezSource) Next(ctx context.Context) (telemetry.DeviceRecord, error) {
	return s.stream.Next(ctx)
}

func (s *bluezSource) Close() error {
	if s.conn.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), stopDiscoveryTimeout)
		err := s.controller.StopDiscovery(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("stop discovery failed", "error", err.Error())
		}
	}
	s.logger.Debug("discovery source closed", "dropped_signals", s.stream.Dropped())
	return s.conn.Close()
}

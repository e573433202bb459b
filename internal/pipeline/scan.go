package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/om131/Capstone-Pi-5-OS/internal/ipc"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

// Source yields discovered devices until it fails or ctx ends.
type Source interface {
	Next(ctx context.Context) (telemetry.DeviceRecord, error)
	Close() error
}

// SourceOpener prepares a source (power, discovery) once the relay is up.
type SourceOpener func(ctx context.Context) (Source, error)

// Sampler produces one local sensor reading per call.
type Sampler interface {
	Sample(ctx context.Context) (telemetry.Reading, error)
}

// ScanWorker owns the relay server side and the discovery source.
type ScanWorker struct {
	addr   string
	open   SourceOpener
	logger *slog.Logger

	sampler  Sampler
	interval time.Duration
}

// ScanOption customizes a ScanWorker.
type ScanOption func(*ScanWorker)

// WithLocalSampler relays a reading from s every interval alongside the
// discovered devices.
func WithLocalSampler(s Sampler, interval time.Duration) ScanOption {
	return func(w *ScanWorker) {
		w.sampler = s
		w.interval = interval
	}
}

// NewScanWorker constructs a scan worker serving the relay on addr.
func NewScanWorker(addr string, open SourceOpener, logger *slog.Logger, opts ...ScanOption) *ScanWorker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &ScanWorker{addr: addr, open: open, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Unit wraps the worker for the scheduler.
func (w *ScanWorker) Unit(core int) Unit {
	return Unit{Name: "scan", Core: core, Run: w.Run}
}

// Run listens, signals ready, accepts the forward worker, then relays
// every discovered record in order.
func (w *ScanWorker) Run(ctx context.Context, ready func()) error {
	listener, err := ipc.Listen(w.addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	w.logger.Info("relay listening", "addr", listener.Addr().String())
	ready()

	endpoint, err := listener.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer endpoint.Close()

	if w.sampler != nil && w.interval > 0 {
		localCtx, stopLocal := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.sampleLoop(localCtx, endpoint)
		}()
		defer func() {
			stopLocal()
			wg.Wait()
		}()
	}

	source, err := w.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open discovery source: %w", err)
	}
	defer source.Close()

	var relayed uint64
	for {
		record, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("scan stopped", "relayed", relayed)
				return nil
			}
			return fmt.Errorf("next device: %w", err)
		}

		if err := endpoint.Send(ctx, ipc.RecordMessage(record)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay record: %w", err)
		}
		relayed++
		w.logger.Debug("device relayed", "device", record.Identifier(), "relayed", relayed)
	}
}

// sampleLoop relays one local reading immediately and then every interval.
// A failed send ends the loop; the record loop reports the relay failure.
func (w *ScanWorker) sampleLoop(ctx context.Context, endpoint *ipc.Endpoint) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		reading, err := w.sampler.Sample(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("local sensor sample failed", "error", err.Error())
		default:
			if err := endpoint.Send(ctx, ipc.ReadingMessage(reading)); err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("relay local reading failed", "error", err.Error())
				}
				return
			}
			w.logger.Debug("local reading relayed", "sensor", reading.SensorType, "value", reading.Value)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

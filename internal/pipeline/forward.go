package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/om131/Capstone-Pi-5-OS/internal/forward"
	"github.com/om131/Capstone-Pi-5-OS/internal/ipc"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const dedupePruneSize = 4096

// Forwarder delivers one reading per call.
type Forwarder interface {
	Forward(ctx context.Context, reading telemetry.Reading) (forward.Ack, error)
}

// Mirror receives a copy of every delivered reading.
type Mirror interface {
	Publish(ctx context.Context, reading telemetry.Reading) error
}

// ForwardConfig tunes the forward worker.
type ForwardConfig struct {
	Addr             string
	HandshakeTimeout time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	RSSI             bool
	DedupeWindow     time.Duration
}

// ForwardStats counts delivery outcomes.
type ForwardStats struct {
	Received  uint64
	Delivered uint64
	Failed    uint64
	Skipped   uint64
}

// ForwardWorker owns the relay client side and delivers readings upstream.
type ForwardWorker struct {
	cfg       ForwardConfig
	forwarder Forwarder
	mirror    Mirror
	logger    *slog.Logger

	lastSeen map[string]time.Time

	received  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// ForwardOption customizes a ForwardWorker.
type ForwardOption func(*ForwardWorker)

// WithMirror publishes delivered readings to m as well.
func WithMirror(m Mirror) ForwardOption {
	return func(w *ForwardWorker) {
		w.mirror = m
	}
}

// NewForwardWorker constructs a forward worker.
func NewForwardWorker(cfg ForwardConfig, forwarder Forwarder, logger *slog.Logger, opts ...ForwardOption) *ForwardWorker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	w := &ForwardWorker{
		cfg:       cfg,
		forwarder: forwarder,
		logger:    logger,
		lastSeen:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Unit wraps the worker for the scheduler.
func (w *ForwardWorker) Unit(core int) Unit {
	return Unit{Name: "forward", Core: core, Run: w.Run}
}

// Stats returns a snapshot of delivery counters.
func (w *ForwardWorker) Stats() ForwardStats {
	return ForwardStats{
		Received:  w.received.Load(),
		Delivered: w.delivered.Load(),
		Failed:    w.failed.Load(),
		Skipped:   w.skipped.Load(),
	}
}

// Run dials the relay once, signals ready and forwards until the relay
// fails or ctx ends. Failed deliveries are logged and skipped.
func (w *ForwardWorker) Run(ctx context.Context, ready func()) error {
	endpoint, err := ipc.Dial(ctx, w.cfg.Addr, w.cfg.HandshakeTimeout)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	w.logger.Info("relay connected", "addr", w.cfg.Addr)
	ready()

	for {
		msg, err := endpoint.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logStopped()
				return nil
			}
			return fmt.Errorf("receive relay message: %w", err)
		}
		w.received.Add(1)

		for _, reading := range w.readings(msg) {
			w.deliver(ctx, reading)
			if ctx.Err() != nil {
				w.logStopped()
				return nil
			}
		}
	}
}

func (w *ForwardWorker) readings(msg ipc.Message) []telemetry.Reading {
	switch msg.Kind {
	case ipc.KindReading:
		return []telemetry.Reading{*msg.Reading}
	case ipc.KindRecord:
		record := *msg.Record
		if w.duplicate(record) {
			w.skipped.Add(1)
			w.logger.Debug("duplicate presence skipped", "device", record.Identifier())
			return nil
		}
		out := []telemetry.Reading{telemetry.PresenceReading(record)}
		if w.cfg.RSSI {
			if reading, ok := telemetry.RSSIReading(record); ok {
				out = append(out, reading)
			}
		}
		return out
	default:
		return nil
	}
}

// duplicate reports a repeat sighting inside the dedupe window and
// records the sighting otherwise.
func (w *ForwardWorker) duplicate(record telemetry.DeviceRecord) bool {
	if w.cfg.DedupeWindow <= 0 {
		return false
	}
	id := record.Identifier()
	if last, ok := w.lastSeen[id]; ok && record.DiscoveredAt.Sub(last) < w.cfg.DedupeWindow {
		return true
	}
	w.lastSeen[id] = record.DiscoveredAt

	if len(w.lastSeen) > dedupePruneSize {
		for key, seen := range w.lastSeen {
			if record.DiscoveredAt.Sub(seen) >= w.cfg.DedupeWindow {
				delete(w.lastSeen, key)
			}
		}
	}
	return false
}

func (w *ForwardWorker) deliver(ctx context.Context, reading telemetry.Reading) {
	attempt := 0
	operation := func() (forward.Ack, error) {
		attempt++
		ack, err := w.forwarder.Forward(ctx, reading)
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return ack, backoff.Permanent(err)
		}
		return ack, err
	}

	ack, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: w.cfg.RetryBackoff}),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failed.Add(1)
		w.logger.Warn("telemetry delivery failed",
			"device", reading.DeviceID,
			"sensor", reading.SensorType,
			"attempts", attempt,
			"error", err.Error(),
		)
		return
	}

	w.delivered.Add(1)
	w.logger.Info("telemetry delivered",
		"device", reading.DeviceID,
		"sensor", reading.SensorType,
		"status", ack.Status,
		"attempt", attempt,
	)
	w.publishMirror(ctx, reading)
}

func (w *ForwardWorker) publishMirror(ctx context.Context, reading telemetry.Reading) {
	if w.mirror == nil {
		return
	}
	if err := w.mirror.Publish(ctx, reading); err != nil {
		w.logger.Warn("mirror publish failed", "device", reading.DeviceID, "error", err.Error())
	}
}

func (w *ForwardWorker) logStopped() {
	stats := w.Stats()
	w.logger.Info("forward stopped",
		"received", stats.Received,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
}

// retryable reports failures where the request cannot have been applied.
func retryable(err error) bool {
	if forward.IsKind(err, forward.KindUnreachable) {
		return true
	}
	var fwdErr *forward.Error
	return errors.As(err, &fwdErr) &&
		fwdErr.Kind == forward.KindServerRejected &&
		fwdErr.Status >= http.StatusInternalServerError
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

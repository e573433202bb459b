// Package app wires parsed commands to the pipeline and maps outcomes to exit codes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/om131/Capstone-Pi-5-OS/internal/adapter"
	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/cli"
	"github.com/om131/Capstone-Pi-5-OS/internal/config"
	"github.com/om131/Capstone-Pi-5-OS/internal/discovery"
	"github.com/om131/Capstone-Pi-5-OS/internal/doctor"
	"github.com/om131/Capstone-Pi-5-OS/internal/forward"
	"github.com/om131/Capstone-Pi-5-OS/internal/hostsensor"
	"github.com/om131/Capstone-Pi-5-OS/internal/ipc"
	"github.com/om131/Capstone-Pi-5-OS/internal/logging"
	"github.com/om131/Capstone-Pi-5-OS/internal/mqttsink"
	"github.com/om131/Capstone-Pi-5-OS/internal/pipeline"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
	"github.com/om131/Capstone-Pi-5-OS/internal/version"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitBus     = 3
	ExitRelay   = 4
	ExitForward = 5
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// OpenSource replaces the BlueZ discovery source when set.
	OpenSource pipeline.SourceOpener
	// Sampler replaces the host temperature sensor when set.
	Sampler pipeline.Sampler
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("blepipe"))
		return ExitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("blepipe"))
		return ExitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return ExitOK
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return ExitFailure
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return ExitFailure
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	level := cfgLoaded.Config.LogLevel
	if parsed.LogLevel != "" {
		level = parsed.LogLevel
	}
	if err := logRuntime.SetLevel(level); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"version", version.Version,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return ExitOK
		}
		return ExitFailure
	case cli.CommandScan:
		return r.commandScan(ctx, cfgLoaded.Config, logger)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return ExitUsage
	}
}

func (r Runner) opener(cfg config.Config, logger *slog.Logger) pipeline.SourceOpener {
	if r.OpenSource != nil {
		return r.OpenSource
	}
	return pipeline.BlueZOpener(pipeline.BlueZConfig{
		Service:     cfg.Adapter.Service,
		AdapterPath: dbus.ObjectPath(cfg.Adapter.Path),
		CallTimeout: config.Millis(cfg.Adapter.CallTimeoutMS),
		PowerSettle: config.Millis(cfg.Adapter.PowerSettleMS),
	}, logger)
}

// commandRun runs the scan and forward workers until a signal or the
// first worker failure.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if strings.TrimSpace(cfg.Forward.BaseURL) == "" {
		fmt.Fprintf(r.Stderr, "error: forward.base_url is not set (config or %s)\n", config.EnvBaseURL)
		return ExitFailure
	}

	forwarder, err := forward.New(forward.Config{
		BaseURL:        cfg.Forward.BaseURL,
		ResourcePrefix: cfg.Forward.ResourcePrefix,
		AuthToken:      cfg.Forward.AuthToken,
		ConnectTimeout: config.Millis(cfg.Forward.ConnectTimeoutMS),
		RequestTimeout: config.Millis(cfg.Forward.RequestTimeoutMS),
	}, logger.With("component", "forward"))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitForward
	}

	var opts []pipeline.ForwardOption
	if cfg.MQTT.Broker != "" {
		mirror, err := mqttsink.Connect(mqttsink.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger.With("component", "mqtt"))
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: mqtt mirror disabled: %v\n", err)
			logger.Warn("mqtt mirror disabled", "error", err.Error())
		} else {
			defer mirror.Close()
			opts = append(opts, pipeline.WithMirror(mirror))
		}
	}

	var scanOpts []pipeline.ScanOption
	if cfg.Local.IntervalMS > 0 {
		sampler := r.Sampler
		if sampler == nil {
			sampler = hostsensor.NewTemperatureSampler(cfg.Local.DeviceID, cfg.Local.SensorKey)
		}
		scanOpts = append(scanOpts, pipeline.WithLocalSampler(sampler, config.Millis(cfg.Local.IntervalMS)))
	}

	scan := pipeline.NewScanWorker(cfg.Relay.Address, r.opener(cfg, logger.With("component", "scan")), logger.With("component", "scan"), scanOpts...)
	fwd := pipeline.NewForwardWorker(pipeline.ForwardConfig{
		Addr:             cfg.Relay.Address,
		HandshakeTimeout: config.Millis(cfg.Relay.HandshakeTimeoutMS),
		MaxAttempts:      cfg.Forward.MaxAttempts,
		RetryBackoff:     config.Millis(cfg.Forward.RetryBackoffMS),
		RSSI:             cfg.Forward.RSSI,
		DedupeWindow:     config.Millis(cfg.Forward.DedupeWindowMS),
	}, forwarder, logger.With("component", "forward"), opts...)

	scheduler := pipeline.NewScheduler(logger.With("component", "scheduler"), config.Millis(cfg.Relay.ReadyTimeoutMS))
	err = scheduler.Run(ctx, scan.Unit(cfg.Scheduler.ScanCore), fwd.Unit(cfg.Scheduler.ForwardCore))

	stats := fwd.Stats()
	logger.Info("run finished",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
	}
	return ExitCode(err)
}

// commandScan prints discovered devices until interrupted.
func (r Runner) commandScan(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	source, err := r.opener(cfg, logger.With("component", "scan"))(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ExitOK
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ExitCode(err)
	}
	defer source.Close()

	for {
		record, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ExitOK
			}
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return ExitCode(err)
		}
		fmt.Fprintln(r.Stdout, formatRecord(record))
	}
}

func formatRecord(record telemetry.DeviceRecord) string {
	var b strings.Builder
	b.WriteString(record.DiscoveredAt.Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(record.Identifier())
	if record.Name != "" {
		fmt.Fprintf(&b, " name=%q", record.Name)
	}
	if record.RSSI != nil {
		fmt.Fprintf(&b, " rssi=%d", *record.RSSI)
	}
	return b.String()
}

// ExitCode maps a run outcome to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch {
	case errors.Is(err, pipeline.ErrNotReady),
		ipc.IsKind(err, ipc.KindBindFailed),
		ipc.IsKind(err, ipc.KindConnectFailed):
		return ExitRelay
	case errors.Is(err, discovery.ErrConnectionLost):
		return ExitBus
	}

	var busErr *bus.Error
	var adapterErr *adapter.Error
	if errors.As(err, &busErr) || errors.As(err, &adapterErr) {
		return ExitBus
	}

	var workerErr *pipeline.WorkerError
	if errors.As(err, &workerErr) {
		return ExitForward
	}
	return ExitFailure
}

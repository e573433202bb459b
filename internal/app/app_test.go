package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/om131/Capstone-Pi-5-OS/internal/adapter"
	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/config"
	"github.com/om131/Capstone-Pi-5-OS/internal/discovery"
	"github.com/om131/Capstone-Pi-5-OS/internal/ipc"
	"github.com/om131/Capstone-Pi-5-OS/internal/pipeline"
	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

// syncBuffer guards a buffer shared with worker goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type chanSource struct {
	records chan telemetry.DeviceRecord
}

func (s chanSource) Next(ctx context.Context) (telemetry.DeviceRecord, error) {
	select {
	case record, ok := <-s.records:
		if !ok {
			return telemetry.DeviceRecord{}, discovery.ErrConnectionLost
		}
		return record, nil
	case <-ctx.Done():
		return telemetry.DeviceRecord{}, ctx.Err()
	}
}

func (chanSource) Close() error { return nil }

func isolate(t *testing.T, configJSON string) string {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	for _, key := range []string{config.EnvBaseURL, config.EnvAuthToken, config.EnvRelayAddress, config.EnvAdapterPath, config.EnvMQTTBroker, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if configJSON != "" {
		require.NoError(t, os.WriteFile(path, []byte(configJSON), 0o600))
	}
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &bytes.Buffer{})
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "blepipe ")
}

func TestExecuteUsageError(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"bogus"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, ExitUsage, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
}

func TestExecuteInvalidConfig(t *testing.T) {
	path := isolate(t, `{"forward": {"max_attempts": 0}}`)

	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"--config", path, "run"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, ExitFailure, exitCode)
	require.Contains(t, stderr.String(), "max_attempts")
}

func TestRunRequiresBaseURL(t *testing.T) {
	path := isolate(t, "")

	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"--config", path, "run"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, ExitFailure, exitCode)
	require.Contains(t, stderr.String(), "forward.base_url is not set")
}

func TestRunForwardsUntilSignal(t *testing.T) {
	posted := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	path := isolate(t, fmt.Sprintf(`{
  "relay": {"address": %q},
  "forward": {"base_url": %q},
  "scheduler": {"scan_core": -1, "forward_core": -1},
}`, freeAddr(t), server.URL))

	src := chanSource{records: make(chan telemetry.DeviceRecord, 1)}
	runner := Runner{
		Stdout:     &bytes.Buffer{},
		Stderr:     &syncBuffer{},
		OpenSource: func(context.Context) (pipeline.Source, error) { return src, nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- runner.Execute(ctx, []string{"--config", path, "run"}) }()

	src.records <- telemetry.DeviceRecord{ID: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", DiscoveredAt: time.Unix(1767225600, 0).UTC()}
	select {
	case got := <-posted:
		require.Equal(t, "/sensors/presence.json", got)
	case code := <-done:
		t.Fatalf("run exited early with %d", code)
	case <-time.After(3 * time.Second):
		t.Fatal("no POST received")
	}

	cancel()
	select {
	case code := <-done:
		require.Equal(t, ExitOK, code)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

type staticSampler struct{}

func (staticSampler) Sample(context.Context) (telemetry.Reading, error) {
	return telemetry.Reading{DeviceID: "raspberry_pi_5", SensorType: telemetry.SensorCPUTemperature, Value: 45, Timestamp: 1767225600}, nil
}

func TestRunRelaysLocalTemperatureWhenEnabled(t *testing.T) {
	posted := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case posted <- r.URL.Path:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	path := isolate(t, fmt.Sprintf(`{
  "relay": {"address": %q},
  "forward": {"base_url": %q},
  "scheduler": {"scan_core": -1, "forward_core": -1},
  "local_sensor": {"interval_ms": 1000},
}`, freeAddr(t), server.URL))

	src := chanSource{records: make(chan telemetry.DeviceRecord)}
	runner := Runner{
		Stdout:     &bytes.Buffer{},
		Stderr:     &syncBuffer{},
		OpenSource: func(context.Context) (pipeline.Source, error) { return src, nil },
		Sampler:    staticSampler{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- runner.Execute(ctx, []string{"--config", path, "run"}) }()

	select {
	case got := <-posted:
		require.Equal(t, "/sensors/temperature.json", got)
	case code := <-done:
		t.Fatalf("run exited early with %d", code)
	case <-time.After(3 * time.Second):
		t.Fatal("no POST received")
	}

	cancel()
	select {
	case code := <-done:
		require.Equal(t, ExitOK, code)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestRunRelayBindFailureExitsWithRelayCode(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	path := isolate(t, fmt.Sprintf(`{
  "relay": {"address": %q},
  "forward": {"base_url": "http://127.0.0.1:1"},
  "scheduler": {"scan_core": -1, "forward_core": -1}
}`, busy.Addr().String()))

	runner := Runner{
		Stdout:     &bytes.Buffer{},
		Stderr:     &syncBuffer{},
		OpenSource: func(context.Context) (pipeline.Source, error) { return chanSource{}, nil },
	}
	require.Equal(t, ExitRelay, runner.Execute(context.Background(), []string{"--config", path, "run"}))
}

func TestScanPrintsRecords(t *testing.T) {
	path := isolate(t, "")
	rssi := int16(-48)
	src := chanSource{records: make(chan telemetry.DeviceRecord, 2)}
	src.records <- telemetry.DeviceRecord{Address: "AA:BB:CC:DD:EE:FF", Name: "Tag", RSSI: &rssi, DiscoveredAt: time.Unix(0, 0).UTC()}
	close(src.records)

	var stdout syncBuffer
	runner := Runner{
		Stdout:     &stdout,
		Stderr:     &syncBuffer{},
		OpenSource: func(context.Context) (pipeline.Source, error) { return src, nil },
	}
	exitCode := runner.Execute(context.Background(), []string{"--config", path, "scan"})
	require.Equal(t, ExitBus, exitCode)
	require.Contains(t, stdout.String(), `1970-01-01T00:00:00Z AA:BB:CC:DD:EE:FF name="Tag" rssi=-48`)
}

func TestScanOpenFailureMapsBusError(t *testing.T) {
	path := isolate(t, "")
	runner := Runner{
		Stdout: &bytes.Buffer{},
		Stderr: &syncBuffer{},
		OpenSource: func(context.Context) (pipeline.Source, error) {
			return nil, &bus.Error{Kind: bus.KindUnavailable, Op: "connect"}
		},
	}
	require.Equal(t, ExitBus, runner.Execute(context.Background(), []string{"--config", path, "scan"}))
}

func TestExitCode(t *testing.T) {
	worker := func(unit string, err error) error { return &pipeline.WorkerError{Unit: unit, Err: err} }

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"graceful", nil, ExitOK},
		{"bind failed", worker("scan", &ipc.Error{Kind: ipc.KindBindFailed}), ExitRelay},
		{"connect failed", worker("forward", &ipc.Error{Kind: ipc.KindConnectFailed}), ExitRelay},
		{"not ready", worker("scan", pipeline.ErrNotReady), ExitRelay},
		{"bus lost", worker("scan", fmt.Errorf("next device: %w", discovery.ErrConnectionLost)), ExitBus},
		{"adapter rejected", worker("scan", &adapter.Error{Kind: adapter.KindRejected}), ExitBus},
		{"bus timeout", worker("scan", &bus.Error{Kind: bus.KindTimeout}), ExitBus},
		{"relay closed", worker("forward", &ipc.Error{Kind: ipc.KindClosed}), ExitForward},
		{"relay io", worker("scan", &ipc.Error{Kind: ipc.KindIO}), ExitForward},
		{"generic", errors.New("boom"), ExitFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

// Package forward posts telemetry readings to the remote HTTP endpoint.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const (
	MaxConnectTimeout = 10 * time.Second
	MaxRequestTimeout = 30 * time.Second

	defaultResourcePrefix = "sensors"
	responsePreviewBytes  = 256
)

// Kind classifies forwarding failures.
type Kind string

const (
	KindUnreachable    Kind = "unreachable"
	KindTimeout        Kind = "timeout"
	KindServerRejected Kind = "server_rejected"
)

// Error reports one failed POST. Status is set for KindServerRejected.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindServerRejected:
		return fmt.Sprintf("forward: %s: HTTP %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("forward: %s: %v", e.Kind, e.Err)
	default:
		return "forward: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fwdErr *Error
	return errors.As(err, &fwdErr) && fwdErr.Kind == kind
}

// Ack is a successful delivery.
type Ack struct {
	Status int
}

// Config describes the remote endpoint.
type Config struct {
	BaseURL        string
	ResourcePrefix string
	AuthToken      string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Forwarder performs exactly one POST per Forward call.
type Forwarder struct {
	base   *url.URL
	prefix string
	token  string
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and builds a forwarder with bounded timeouts.
func New(cfg Config, logger *slog.Logger) (*Forwarder, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", cfg.BaseURL)
	}

	connectTimeout := clamp(cfg.ConnectTimeout, MaxConnectTimeout)
	requestTimeout := clamp(cfg.RequestTimeout, MaxRequestTimeout)

	prefix := strings.Trim(strings.TrimSpace(cfg.ResourcePrefix), "/")
	if prefix == "" {
		prefix = defaultResourcePrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &Forwarder{
		base:   base,
		prefix: prefix,
		token:  cfg.AuthToken,
		client: &http.Client{Timeout: requestTimeout, Transport: transport},
		logger: logger,
	}, nil
}

// Endpoint returns the URL a reading of sensorType is posted to.
func (f *Forwarder) Endpoint(sensorType string) string {
	u := *f.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + f.prefix + "/" + url.PathEscape(telemetry.Resource(sensorType)) + ".json"
	if f.token != "" {
		q := u.Query()
		q.Set("auth", f.token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Forward posts reading once. Non-2xx responses are returned as
// KindServerRejected and are never retried here.
func (f *Forwarder) Forward(ctx context.Context, reading telemetry.Reading) (Ack, error) {
	body, err := json.Marshal(reading)
	if err != nil {
		return Ack{}, fmt.Errorf("encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint(reading.SensorType), bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := f.client.Do(req)
	if err != nil {
		return Ack{}, classify(err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, responsePreviewBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("telemetry rejected",
			"request_id", requestID,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(preview)),
		)
		return Ack{}, &Error{Kind: KindServerRejected, Status: resp.StatusCode}
	}

	f.logger.Debug("telemetry accepted", "request_id", requestID, "status", resp.StatusCode)
	return Ack{Status: resp.StatusCode}, nil
}

// classify maps a transport failure. Any deadline, including the connect
// timeout, is KindTimeout; everything else failed before a response.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnreachable, Err: err}
}

func clamp(d, limit time.Duration) time.Duration {
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

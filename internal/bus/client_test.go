package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	dest   string
	path   dbus.ObjectPath
	method string
	args   []any
}

type fakeTransport struct {
	calls []recordedCall
	body  []any
	err   error
	block bool
}

func (f *fakeTransport) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	f.calls = append(f.calls, recordedCall{dest: dest, path: path, method: method, args: args})
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.body, f.err
}

const adapterPath = dbus.ObjectPath("/org/bluez/hci0")

func TestGetBoolReadsVariant(t *testing.T) {
	transport := &fakeTransport{body: []any{dbus.MakeVariant(true)}}
	client := NewClient(transport, "org.bluez", time.Second)

	powered, err := client.GetBool(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered")
	require.NoError(t, err)
	require.True(t, powered)

	require.Len(t, transport.calls, 1)
	call := transport.calls[0]
	require.Equal(t, "org.bluez", call.dest)
	require.Equal(t, adapterPath, call.path)
	require.Equal(t, "org.freedesktop.DBus.Properties.Get", call.method)
	require.Equal(t, []any{"org.bluez.Adapter1", "Powered"}, call.args)
}

func TestGetBoolWrongVariantTypeIsMalformed(t *testing.T) {
	transport := &fakeTransport{body: []any{dbus.MakeVariant("yes")}}
	client := NewClient(transport, "org.bluez", time.Second)

	_, err := client.GetBool(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered")
	require.Error(t, err)
	require.True(t, IsKind(err, KindMalformedReply))
}

func TestGetNonVariantReplyIsMalformed(t *testing.T) {
	transport := &fakeTransport{body: []any{true}}
	client := NewClient(transport, "org.bluez", time.Second)

	_, err := client.Get(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered")
	require.True(t, IsKind(err, KindMalformedReply))
	require.Contains(t, err.Error(), "want variant")
}

func TestGetEmptyReplyIsMalformed(t *testing.T) {
	client := NewClient(&fakeTransport{}, "org.bluez", time.Second)

	_, err := client.Get(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered")
	require.True(t, IsKind(err, KindMalformedReply))
}

func TestSetWrapsValueInVariant(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, "org.bluez", time.Second)

	require.NoError(t, client.Set(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered", true))
	require.Len(t, transport.calls, 1)
	call := transport.calls[0]
	require.Equal(t, "org.freedesktop.DBus.Properties.Set", call.method)
	require.Len(t, call.args, 3)
	require.Equal(t, dbus.MakeVariant(true), call.args[2])
}

func TestCallTimesOutAfterConfiguredTimeout(t *testing.T) {
	transport := &fakeTransport{block: true}
	client := NewClient(transport, "org.bluez", 20*time.Millisecond)

	start := time.Now()
	err := client.Call(context.Background(), adapterPath, "org.bluez.Adapter1.StartDiscovery")
	require.True(t, IsKind(err, KindTimeout))
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, transport.calls, 1)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "no reply", err: dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, want: KindTimeout},
		{name: "service unknown", err: dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}, want: KindUnavailable},
		{name: "bluez failed", err: dbus.Error{Name: "org.bluez.Error.Failed"}, want: KindRejected},
		{name: "closed", err: dbus.ErrClosed, want: KindUnavailable},
		{name: "plain error", err: errors.New("broken pipe"), want: KindUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(&fakeTransport{err: tc.err}, "org.bluez", time.Second)
			err := client.Set(context.Background(), adapterPath, "org.bluez.Adapter1", "Powered", true)
			require.True(t, IsKind(err, tc.want), "got %v", err)
		})
	}
}

func TestErrorNameUnwrapsDBusError(t *testing.T) {
	err := classify("call", dbus.Error{Name: "org.bluez.Error.InProgress"})
	require.Equal(t, "org.bluez.Error.InProgress", ErrorName(err))
	require.Equal(t, "", ErrorName(errors.New("plain")))
}

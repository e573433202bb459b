package ipc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

type pair struct {
	server *Endpoint
	client *Endpoint
}

func connectPair(t *testing.T) pair {
	t.Helper()

	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	accepted := make(chan *Endpoint, 1)
	acceptErr := make(chan error, 1)
	go func() {
		ep, err := listener.Accept(context.Background())
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- ep
	}()

	client, err := Dial(context.Background(), listener.Addr().String(), time.Second)
	require.NoError(t, err)

	select {
	case server := <-accepted:
		t.Cleanup(func() {
			_ = server.Close()
			_ = client.Close()
		})
		return pair{server: server, client: client}
	case err := <-acceptErr:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() did not return")
	}
	return pair{}
}

func TestRecordRoundTripPreservesValue(t *testing.T) {
	p := connectPair(t)
	require.Equal(t, RoleServer, p.server.Role())
	require.Equal(t, RoleClient, p.client.Role())

	rssi := int16(-40)
	records := []telemetry.DeviceRecord{
		{ID: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", Address: "AA:BB:CC:DD:EE:FF", DiscoveredAt: time.Date(2026, 5, 6, 7, 8, 9, 10, time.UTC)},
		{ID: "x", Name: "Tag", RSSI: &rssi, DiscoveredAt: time.Unix(0, 1).UTC()},
		{ID: "/org/bluez/hci0/dev_01_02_03_04_05_06", DiscoveredAt: time.Date(1999, 12, 31, 23, 59, 59, 999999999, time.UTC)},
		{ID: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"},
		{ID: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", DiscoveredAt: time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", DiscoveredAt: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, record := range records {
		require.NoError(t, p.server.Send(context.Background(), RecordMessage(record)))
		msg, err := p.client.Receive(context.Background())
		require.NoError(t, err)
		require.Equal(t, KindRecord, msg.Kind)
		require.NotNil(t, msg.Record)
		require.Equal(t, record, *msg.Record)
	}
}

func TestMessagesArriveInSendOrder(t *testing.T) {
	p := connectPair(t)

	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			_ = p.server.Send(context.Background(), ReadingMessage(telemetry.Reading{DeviceID: fmt.Sprintf("d%d", i), SensorType: "presence", Value: 1, Timestamp: int64(i)}))
		}
	}()

	for i := 0; i < n; i++ {
		msg, err := p.client.Receive(context.Background())
		require.NoError(t, err)
		require.Equal(t, KindReading, msg.Kind)
		require.Equal(t, uint64(i+1), msg.Seq)
		require.Equal(t, fmt.Sprintf("d%d", i), msg.Reading.DeviceID)
	}
}

func TestDialBeforeListenFailsImmediately(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	start := time.Now()
	_, err = Dial(context.Background(), addr, time.Second)
	require.Error(t, err)
	require.True(t, IsKind(err, KindConnectFailed), "got %v", err)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDialRejectsPeerWithoutHello(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	_, err = Dial(context.Background(), ln.Addr().String(), 100*time.Millisecond)
	require.True(t, IsKind(err, KindConnectFailed), "got %v", err)
}

func TestListenOnBusyAddressFailsToBind(t *testing.T) {
	first, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = Listen(first.Addr().String())
	require.True(t, IsKind(err, KindBindFailed), "got %v", err)
}

func TestReceiveReportsClosedWhenPeerCloses(t *testing.T) {
	p := connectPair(t)
	require.NoError(t, p.server.Close())

	_, err := p.client.Receive(context.Background())
	require.True(t, IsKind(err, KindClosed), "got %v", err)
}

func TestReceiveHonorsContextCancellation(t *testing.T) {
	p := connectPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.client.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcceptHonorsContextCancellation(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := listener.Accept(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Accept() ignored cancellation")
	}
}

func TestAcceptStopsListeningAfterFirstClient(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	done := make(chan *Endpoint, 1)
	go func() {
		ep, _ := listener.Accept(context.Background())
		done <- ep
	}()

	client, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer client.Close()
	server := <-done
	require.NotNil(t, server)
	defer server.Close()

	_, err = Dial(context.Background(), addr, 100*time.Millisecond)
	require.True(t, IsKind(err, KindConnectFailed))
}

// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffutop/modbus-rtu-client/internal/simslave"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
	"github.com/ffutop/modbus-rtu-client/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/ffutop/modbus-rtu-client/transport"
	"github.com/google/go-cmp/cmp"
)

func startServer(t *testing.T, slave *simslave.Slave) string {
	t.Helper()
	return startHandler(t, slave.Handle)
}

func startHandler(t *testing.T, handler transport.RequestHandler) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l, handler) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return l.Addr().String()
}

func TestClientServer(t *testing.T) {
	m := model.NewDataModel()
	m.InputRegisters[1000], m.InputRegisters[1001] = 7, 0x0400
	addr := startServer(t, simslave.New(7, m, nil))

	client := NewClient(addr)
	client.Timeout = 100 * time.Millisecond
	client.ResponseTimeout = 200 * time.Millisecond
	defer client.Close()

	ctx := context.Background()
	resp, err := client.Query(ctx, rtupacket.NewApplicationDataUnit(7, 0x04, []byte{0x03, 0xE8, 0x00, 0x02}))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if diff := cmp.Diff([]byte{0x04, 0x00, 0x07, 0x04, 0x00}, resp.Pdu.Data); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}

	if _, err := client.Query(ctx, rtupacket.NewApplicationDataUnit(7, 0x05, []byte{0x00, 0x01, 0xFF, 0x00})); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if m.Coils[1] != 1 {
		t.Error("coil 1 not set through the tcp channel")
	}
}

func TestClientDropsLateReply(t *testing.T) {
	var calls atomic.Int32
	addr := startHandler(t, func(_ context.Context, _ byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		n := calls.Add(1)
		if n == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte{0x02, 0x00, byte(n)}}, nil
	})

	client := NewClient(addr)
	client.Timeout = 20 * time.Millisecond
	client.ResponseTimeout = 60 * time.Millisecond
	defer client.Close()

	req := rtupacket.NewApplicationDataUnit(7, 0x04, []byte{0x00, 0x00, 0x00, 0x01})
	_, err := client.Query(context.Background(), req)
	var abort *modbus.AbortError
	if !errors.As(err, &abort) || !abort.Timeout() {
		t.Fatalf("err = %v, want response timeout", err)
	}

	client.mu.Lock()
	conn := client.conn
	client.mu.Unlock()
	if conn != nil {
		t.Error("connection kept after a response timeout")
	}

	// The first reply arrives on the old connection and must not be taken
	// as the answer to this query.
	resp, err := client.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query after timeout: %v", err)
	}
	if diff := cmp.Diff([]byte{0x02, 0x00, 0x02}, resp.Pdu.Data); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
}

func TestClientKeepsConnectionOnArgumentError(t *testing.T) {
	addr := startServer(t, simslave.New(7, model.NewDataModel(), nil))

	client := NewClient(addr)
	client.Timeout = 100 * time.Millisecond
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := client.Query(context.Background(), rtupacket.NewApplicationDataUnit(0, 0x01, []byte{0x00, 0x00, 0x00, 0x01}))
	var argErr *modbus.ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("err = %v, want argument error", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.conn == nil {
		t.Error("connection dropped before anything was written")
	}
}

func TestDesynced(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{modbus.NewTimeoutAbort("AwaitingAddress", "response not received"), true},
		{modbus.NewTimeoutAbort("AwaitingData(2)", "data byte not received"), true},
		{modbus.NewAbortError("AwaitingFunction", "function code mismatch"), true},
		{&modbus.CRCError{Want: 1, Got: 2}, true},
		{&modbus.ArgumentError{Name: "slave id", Value: 0}, false},
		{modbus.ErrUnsupportedFunction, false},
	}
	for _, tt := range tests {
		if got := desynced(tt.err); got != tt.want {
			t.Errorf("desynced(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClientDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	client := NewClient(addr)
	client.Timeout = 100 * time.Millisecond
	if _, err := client.Query(context.Background(), rtupacket.NewApplicationDataUnit(1, 0x01, []byte{0, 0, 0, 1})); err == nil {
		t.Error("expected dial error")
	}
}

func TestServerReleasesClosedConnections(t *testing.T) {
	addr := startServer(t, simslave.New(7, model.NewDataModel(), nil))
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		conn.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after closing every connection, want <= %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

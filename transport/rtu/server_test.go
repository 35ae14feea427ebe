// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-rtu-client/internal/simslave"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
	"github.com/ffutop/modbus-rtu-client/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/google/go-cmp/cmp"
)

// pipeSlave serves a simulated slave on one end of a net.Pipe and returns
// a Session on the other end.
func pipeSlave(t *testing.T, slave *simslave.Slave) *Session {
	t.Helper()
	master, port := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, port, slave.Handle) }()
	t.Cleanup(func() {
		cancel()
		master.Close()
		port.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return NewSession(master, SessionOptions{ReadTimeout: 20 * time.Millisecond, ResponseTimeout: 100 * time.Millisecond})
}

func TestSessionAgainstSimulatedSlave(t *testing.T) {
	m := model.NewDataModel()
	m.Coils[0], m.Coils[1], m.Coils[2], m.Coils[3] = 1, 1, 1, 1
	m.InputRegisters[1000] = 0xFE
	s := pipeSlave(t, simslave.New(0xFE, m, nil))
	ctx := context.Background()

	tests := []struct {
		name string
		fc   byte
		data []byte
		want []byte
	}{
		{"read coils", 0x01, []byte{0x00, 0x00, 0x00, 0x04}, []byte{0x01, 0x0F}},
		{"read input registers", 0x04, []byte{0x03, 0xE8, 0x00, 0x01}, []byte{0x02, 0x00, 0xFE}},
		{"write coil", 0x05, []byte{0x00, 0x02, 0x00, 0x00}, []byte{0x00, 0x02, 0x00, 0x00}},
		{"exception status", 0x07, nil, []byte{0x0B}},
		{"comm event counter", 0x0B, nil, []byte{0x00, 0x00, 0x00, 0x04}},
		{"write coils", 0x0F, []byte{0x00, 0x00, 0x00, 0x04, 0x01, 0x00}, []byte{0x00, 0x00, 0x00, 0x04}},
		{"write registers", 0x10, []byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x12, 0x34}, []byte{0x00, 0x00, 0x00, 0x01}},
		{"mask write", 0x16, []byte{0x00, 0x00, 0xFF, 0x00, 0x00, 0x01}, []byte{0x00, 0x00, 0xFF, 0x00, 0x00, 0x01}},
		{"report slave id", 0x11, nil, []byte{0x09, 0xFE, 0xFF, 'D', 'A', 'M', '0', '4', '0', '0'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.Query(ctx, rtupacket.NewApplicationDataUnit(0xFE, tt.fc, tt.data))
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if diff := cmp.Diff(tt.want, resp.Pdu.Data); diff != "" {
				t.Errorf("payload (-want +got):\n%s", diff)
			}
		})
	}
	if m.HoldingRegisters[0] != 0x1201 {
		t.Errorf("holding register 0 = %04X, want 1201", m.HoldingRegisters[0])
	}
}

func TestSessionSilentSlave(t *testing.T) {
	s := pipeSlave(t, simslave.New(0x05, model.NewDataModel(), nil))

	_, err := s.Query(context.Background(), readCoils())
	var abort *modbus.AbortError
	if !errors.As(err, &abort) || !abort.Timeout() || abort.State != "AwaitingAddress" {
		t.Fatalf("err = %v, want response timeout", err)
	}
}

func TestServeDropsBadCRC(t *testing.T) {
	master, port := net.Pipe()
	defer master.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		calls++
		return pdu, nil
	}
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, port, handler) }()

	bad := frame(0x01, 0x06, 0x00, 0x01, 0x00, 0x02)
	bad[len(bad)-1] ^= 0x01
	good := frame(0x01, 0x06, 0x00, 0x01, 0x00, 0x03)
	if _, err := master.Write(bad); err != nil {
		t.Fatal(err)
	}
	if _, err := master.Write(good); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(good))
	master.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(master, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(buf, good) {
		t.Errorf("echo = % X, want % X", buf, good)
	}

	master.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestServeHandlerFailure(t *testing.T) {
	master, port := net.Pipe()
	defer master.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, errors.New("device on fire")
	}
	go Serve(ctx, port, handler)

	if _, err := master.Write(frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x01)); err != nil {
		t.Fatal(err)
	}
	want := frame(0x01, 0x83, modbus.ExceptionCodeServerDeviceFailure)
	buf := make([]byte, len(want))
	master.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(master, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("response = % X, want % X", buf, want)
	}
}

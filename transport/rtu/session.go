// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ffutop/modbus-rtu-client/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/grid-x/serial"
)

const (
	defaultResponseTimeout = 1 * time.Second
	defaultReadTimeout     = 500 * time.Millisecond
)

// Port is the byte channel a Session runs on. A read that times out may
// return serial.ErrTimeout, os.ErrDeadlineExceeded or no bytes at all.
type Port interface {
	io.Reader
	io.Writer
}

// DeadlineReader is a Port whose reads can be bounded, such as a net.Conn.
type DeadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// DeadlineWriter is implemented by ports whose writes can be bounded, such as net.Conn.
type DeadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// SessionOptions holds the timing of a Session.
type SessionOptions struct {
	// Silence is waited before every request. Zero means the 1.75ms floor.
	Silence time.Duration
	// ReadTimeout bounds each read on ports implementing DeadlineReader.
	// Other ports are expected to time out on their own.
	ReadTimeout time.Duration
	// ResponseTimeout bounds the wait for the first byte of the response.
	ResponseTimeout time.Duration
}

// Session sends request frames and reconstructs their responses on a Port.
// Only one query may be outstanding; a Session is not safe for concurrent use.
type Session struct {
	port  Port
	opts  SessionOptions
	sleep func(ctx context.Context, d time.Duration) error
	buf   []byte
}

// NewSession returns a Session on port.
func NewSession(port Port, opts SessionOptions) *Session {
	if opts.Silence <= 0 {
		opts.Silence = minFrameSilence
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	return &Session{
		port:  port,
		opts:  opts,
		sleep: sleepContext,
		buf:   make([]byte, rtupacket.MaxSize),
	}
}

// Query sends req and returns its validated response.
func (s *Session) Query(ctx context.Context, req *rtupacket.ApplicationDataUnit) (*rtupacket.ApplicationDataUnit, error) {
	if _, ok := rtupacket.ResponseShape(req.Pdu.FunctionCode); !ok {
		return nil, fmt.Errorf("%w: 0x%02X", modbus.ErrUnsupportedFunction, req.Pdu.FunctionCode)
	}
	if err := s.Send(ctx, req); err != nil {
		return nil, err
	}
	return s.Recv(ctx, req)
}

// Send encodes req with CRC, waits the inter-frame silence and writes it.
// Writes to a DeadlineWriter give up at the earlier of ResponseTimeout and
// the ctx deadline.
func (s *Session) Send(ctx context.Context, req *rtupacket.ApplicationDataUnit) error {
	if req.SlaveID == modbus.BroadcastAddress {
		return &modbus.ArgumentError{Name: "slave id", Value: req.SlaveID, Msg: "broadcast requests get no response"}
	}
	raw := req.Encode(true)
	if len(raw) > rtupacket.MaxSize {
		return &modbus.ArgumentError{Name: "frame length", Value: len(raw), Msg: fmt.Sprintf("must not be bigger than %d", rtupacket.MaxSize)}
	}

	if err := s.sleep(ctx, s.opts.Silence); err != nil {
		return err
	}

	if d, ok := s.port.(DeadlineWriter); ok {
		deadline := time.Now().Add(s.opts.ResponseTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := d.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(raw))
	if _, err := s.port.Write(raw); err != nil {
		return fmt.Errorf("modbus: write failed: %w", err)
	}
	return nil
}

// Recv reads the response to sent. Framing failures are returned as
// *modbus.AbortError, checksum failures as *modbus.CRCError.
func (s *Session) Recv(ctx context.Context, sent *rtupacket.ApplicationDataUnit) (*rtupacket.ApplicationDataUnit, error) {
	receiver := rtupacket.NewReceiver(sent)

	waitUntil := time.Now().Add(s.opts.ResponseTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(waitUntil) {
		waitUntil = deadline
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("modbus: receive abandoned in %s: %w", receiver.State(), err)
		}

		n, err := s.read(s.buf)
		if err != nil {
			return nil, fmt.Errorf("modbus: read failed: %w", err)
		}

		t := receiver.Feed(s.buf[:n])
		switch t.Outcome {
		case rtupacket.Abort:
			slog.Debug("modbus receive aborted", "received", hex.EncodeToString(receiver.Bytes()), "err", t.Err)
			return nil, t.Err
		case rtupacket.Complete:
			return s.validate(sent, receiver.Bytes())
		}

		if receiver.State().Kind == rtupacket.AwaitingAddress && !time.Now().Before(waitUntil) {
			return nil, modbus.NewTimeoutAbort(rtupacket.AwaitingAddress.String(), "response not received")
		}
	}
}

func (s *Session) validate(sent *rtupacket.ApplicationDataUnit, raw []byte) (*rtupacket.ApplicationDataUnit, error) {
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(raw))

	resp, err := rtupacket.Decode(raw, true)
	if err != nil {
		return nil, err
	}
	if !resp.CheckCRC() {
		stored := resp.StoredChecksum()
		return nil, &modbus.CRCError{Want: resp.Checksum(), Got: uint16(stored[0]) | uint16(stored[1])<<8}
	}
	if err := sent.Verify(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// read performs one bounded read. A timed-out read is reported as zero bytes.
func (s *Session) read(b []byte) (int, error) {
	if d, ok := s.port.(DeadlineReader); ok {
		if err := d.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := s.port.Read(b)
	if err != nil && isTimeout(err) {
		err = nil
	}
	return n, err
}

func isTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

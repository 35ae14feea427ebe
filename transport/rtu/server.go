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
	"net"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/ffutop/modbus-rtu-client/transport"
	"github.com/grid-x/serial"
)

// Server answers requests on a serial line, acting as a slave. It is used
// to put the simulated slave on a real or virtual serial port.
type Server struct {
	Config config.SerialConfig
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	port, err := serial.Open(&serial.Config{
		Address:  s.Config.Device,
		BaudRate: s.Config.BaudRate,
		DataBits: s.Config.DataBits,
		StopBits: s.Config.StopBits,
		Parity:   s.Config.Parity,
		Timeout:  s.Config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	defer port.Close()
	slog.Info("RTU server listening", "device", s.Config.Device)

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	return Serve(ctx, port, handler)
}

// Serve reads request frames from port and writes the handler's answers back.
// Frames with a bad CRC or an unknown function are dropped. Serve returns nil
// when ctx is done or port reaches EOF.
func Serve(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := rtupacket.ReadRequest(port, buf)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
				errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
				return nil
			case isTimeout(err):
				if n > 0 {
					slog.Debug("dropping partial request", "request", hex.EncodeToString(buf[:n]))
				}
				continue
			case n > 0:
				// Framing error: drain whatever is left of the frame.
				slog.Debug("dropping request", "request", hex.EncodeToString(buf[:n]), "err", err)
				continue
			default:
				return fmt.Errorf("modbus: read request failed: %w", err)
			}
		}

		resp, ok := answer(ctx, buf[:n], handler)
		if !ok {
			continue
		}
		if _, err := port.Write(resp); err != nil {
			return fmt.Errorf("modbus: write response failed: %w", err)
		}
	}
}

// answer decodes one request frame and encodes the handler's response.
func answer(ctx context.Context, raw []byte, handler transport.RequestHandler) ([]byte, bool) {
	slog.Debug("recv from modbus master", "request", hex.EncodeToString(raw))

	req, err := rtupacket.Decode(raw, true)
	if err != nil || !req.CheckCRC() {
		slog.Debug("dropping request with bad crc", "request", hex.EncodeToString(raw))
		return nil, false
	}

	pdu, err := handler(ctx, req.SlaveID, req.Pdu)
	if errors.Is(err, transport.ErrNoResponse) {
		return nil, false
	}
	if err != nil {
		slog.Error("request handler failed", "slave", req.SlaveID, "err", err)
		pdu = modbus.ProtocolDataUnit{
			FunctionCode: req.Pdu.FunctionCode | 0x80,
			Data:         []byte{modbus.ExceptionCodeServerDeviceFailure},
		}
	}

	resp := rtupacket.NewApplicationDataUnit(req.SlaveID, pdu.FunctionCode, pdu.Data).Encode(true)
	slog.Debug("send to modbus master", "response", hex.EncodeToString(resp))
	return resp, true
}

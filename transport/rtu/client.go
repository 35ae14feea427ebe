// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"time"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/grid-x/serial"
)

// Client is a Modbus RTU master on a serial line.
type Client struct {
	serialPort

	// ResponseTimeout bounds the wait for the first response byte.
	ResponseTimeout time.Duration
	// QueryTimeout bounds a whole query when the caller's context has no deadline.
	QueryTimeout time.Duration
}

// NewClient allocates and initializes a RTU Client.
func NewClient(cfg config.SerialConfig) *Client {
	client := &Client{}

	client.serialPort.Config = serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	// a read must outlast the gap allowed between two characters of a frame
	if min := CharTimeout(CharTime(cfg.BaudRate, cfg.DataBits, cfg.Parity, cfg.StopBits)); client.serialPort.Config.Timeout < min {
		client.serialPort.Config.Timeout = min
	}
	if cfg.RS485 {
		rs485 := &client.serialPort.Config.RS485
		rs485.Enabled = true
		rs485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		rs485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		rs485.RtsHighDuringSend = cfg.RtsHighDuringSend
		rs485.RtsHighAfterSend = cfg.RtsHighAfterSend
		rs485.RxDuringTx = cfg.RxDuringTx
	}

	client.IdleTimeout = serialIdleTimeout
	return client
}

// Silence returns the inter-frame silence for the configured line settings.
func (mb *Client) Silence() time.Duration {
	return FrameSilence(CharTime(mb.BaudRate, mb.DataBits, mb.Parity, mb.StopBits))
}

// Query sends req and waits for its response. Queries on one Client are serialized.
func (mb *Client) Query(ctx context.Context, req *rtupacket.ApplicationDataUnit) (*rtupacket.ApplicationDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && mb.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mb.QueryTimeout)
		defer cancel()
	}

	if err := mb.connect(ctx); err != nil {
		return nil, err
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	session := NewSession(mb.port, SessionOptions{
		Silence:         mb.Silence(),
		ResponseTimeout: mb.ResponseTimeout,
	})
	return session.Query(ctx, req)
}

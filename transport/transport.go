// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"

	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/modbus/rtu"
)

// Querier performs one request/response exchange with a slave.
// It returns the validated response frame or the error that ended the exchange.
// Implementations never retry.
type Querier interface {
	Query(ctx context.Context, req *rtu.ApplicationDataUnit) (*rtu.ApplicationDataUnit, error)
}

// Conn is a Querier that owns a connection to the bus.
type Conn interface {
	Querier
	Connect(ctx context.Context) error
	Close() error
}

// RequestHandler answers a request PDU on the slave side of a channel.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// ErrNoResponse is returned by a RequestHandler that must stay silent,
// e.g. for frames addressed to another slave or broadcast.
var ErrNoResponse = errors.New("transport: no response")

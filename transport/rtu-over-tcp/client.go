// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries RTU frames, CRC included, over a TCP stream
// as serial device servers do.
package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-rtu-client/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/ffutop/modbus-rtu-client/transport/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// Client is a Modbus RTU master reaching the bus through a TCP byte stream.
type Client struct {
	Address string
	// Timeout bounds dialing and each read.
	Timeout time.Duration
	// ResponseTimeout bounds the wait for the first response byte.
	ResponseTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Query sends req over the stream and waits for its response.
func (mb *Client) Query(ctx context.Context, req *rtupacket.ApplicationDataUnit) (*rtupacket.ApplicationDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	session := rtu.NewSession(mb.conn, rtu.SessionOptions{
		ReadTimeout:     mb.Timeout,
		ResponseTimeout: mb.ResponseTimeout,
	})
	resp, err := session.Query(ctx, req)
	if err != nil && desynced(err) {
		// A late or partial reply left on the stream would answer the next query.
		mb.close()
	}
	return resp, err
}

// desynced reports whether err may leave bytes of a response in the stream.
// Only errors raised before anything was written keep the connection.
func desynced(err error) bool {
	var argErr *modbus.ArgumentError
	switch {
	case errors.As(err, &argErr), errors.Is(err, modbus.ErrUnsupportedFunction):
		return false
	}
	return true
}

// Connect dials Address if there is no connection yet.
func (mb *Client) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect(ctx)
}

// Close closes the connection.
func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Client) connect(ctx context.Context) error {
	if mb.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: mb.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}

// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local connects a master to an in-process slave over an in-memory
// byte pipe, so frames go through the same encoding, framing and CRC checks
// as on a serial line.
package local

import (
	"context"
	"log/slog"
	"net"
	"sync"

	rtupacket "github.com/ffutop/modbus-rtu-client/modbus/rtu"
	"github.com/ffutop/modbus-rtu-client/transport"
	"github.com/ffutop/modbus-rtu-client/transport/rtu"
)

// Client is a Querier whose slave runs in the same process.
type Client struct {
	Options rtu.SessionOptions

	handler transport.RequestHandler

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a Client answering with handler.
func NewClient(handler transport.RequestHandler) *Client {
	return &Client{handler: handler}
}

// Connect starts the slave side of the pipe if it is not running.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connect()
	return nil
}

// connect starts the slave side. Caller must hold the mutex.
func (c *Client) connect() {
	if c.conn != nil {
		return
	}
	master, slave := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer slave.Close()
		if err := rtu.Serve(ctx, slave, c.handler); err != nil {
			slog.Error("local slave stopped", "err", err)
		}
	}()
	c.conn, c.cancel = master, cancel
}

// Query sends req to the in-process slave and waits for its response.
func (c *Client) Query(ctx context.Context, req *rtupacket.ApplicationDataUnit) (*rtupacket.ApplicationDataUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connect()
	resp, err := rtu.NewSession(c.conn, c.Options).Query(ctx, req)
	if err != nil {
		// The slave may still be answering; start the next query on a fresh pipe.
		c.reset()
	}
	return resp, err
}

// reset drops the pipe without waiting for the slave side. Caller must hold the mutex.
func (c *Client) reset() error {
	if c.conn == nil {
		return nil
	}
	c.cancel()
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Close stops the slave side and waits for every slave goroutine to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.reset()
	c.wg.Wait()
	return err
}

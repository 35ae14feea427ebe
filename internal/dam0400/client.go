// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package dam0400 drives a DAM0400 relay/input module: four digital
// outputs on coils 0-3, four digital inputs on discrete inputs 0-3 and an
// info block on input registers 1000-1019.
package dam0400

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/modbus/command"
	"github.com/ffutop/modbus-rtu-client/transport"
)

const (
	DefaultAddress  = modbus.UniversalAddress
	DefaultChannels = 4

	infoRegister      = 1000
	infoRegisterCount = 20
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Address  byte
	Channels int
}

// Client issues DAM0400 commands through a Querier.
type Client struct {
	q           transport.Querier
	address     byte
	equipmentID uint16
	channels    int
}

// New returns a Client for the module reachable through q.
func New(q transport.Querier, opts Options) *Client {
	if opts.Address == 0 {
		opts.Address = DefaultAddress
	}
	if opts.Channels <= 0 {
		opts.Channels = DefaultChannels
	}
	return &Client{q: q, address: opts.Address, channels: opts.Channels}
}

// Address returns the slave address commands are sent to.
func (c *Client) Address() byte { return c.address }

// EquipmentID returns the id read by Init, 0 before.
func (c *Client) EquipmentID() uint16 { return c.equipmentID }

// Channels returns the number of DO/DI channels.
func (c *Client) Channels() int { return c.channels }

// Init reads the info block and adopts the module's configured address
// and equipment id, so later commands no longer need the universal address.
func (c *Client) Init(ctx context.Context) error {
	regs, err := c.ReadAI(ctx, infoRegister, infoRegisterCount)
	if err != nil {
		return err
	}
	if len(regs) != infoRegisterCount {
		return &modbus.ResponseError{Command: "init", Msg: fmt.Sprintf("got %d info registers, want %d", len(regs), infoRegisterCount)}
	}
	if regs[0] == 0 || regs[0] > 0xFF {
		return &modbus.ResponseError{Command: "init", Msg: fmt.Sprintf("invalid slave address %d", regs[0])}
	}
	c.address = byte(regs[0])
	c.equipmentID = regs[1]
	slog.Info("DAM0400 initialized", "address", c.address, "equipment_id", c.equipmentID)
	return nil
}

func (c *Client) checkChannel(io int) error {
	if io < 0 || io >= c.channels {
		return &modbus.ArgumentError{Name: "do channel", Value: io, Msg: fmt.Sprintf("not in range [0, %d]", c.channels-1)}
	}
	return nil
}

// OpenDO switches output io on.
func (c *Client) OpenDO(ctx context.Context, io int) error {
	return c.writeDO(ctx, io, true)
}

// CloseDO switches output io off.
func (c *Client) CloseDO(ctx context.Context, io int) error {
	return c.writeDO(ctx, io, false)
}

func (c *Client) writeDO(ctx context.Context, io int, on bool) error {
	if err := c.checkChannel(io); err != nil {
		return err
	}
	resp, err := c.q.Query(ctx, command.WriteCoil(c.address, uint16(io), on))
	if err != nil {
		return err
	}
	return command.CheckWriteCoil(resp)
}

// OpenAll switches every output on.
func (c *Client) OpenAll(ctx context.Context) error {
	return c.writeAll(ctx, true)
}

// CloseAll switches every output off.
func (c *Client) CloseAll(ctx context.Context) error {
	return c.writeAll(ctx, false)
}

func (c *Client) writeAll(ctx context.Context, on bool) error {
	req, err := command.WriteCoils(c.address, uint16(c.channels), on)
	if err != nil {
		return err
	}
	resp, err := c.q.Query(ctx, req)
	if err != nil {
		return err
	}
	return command.CheckWriteCoils(resp)
}

// ReadDO returns the output states keyed "do_0".."do_N".
func (c *Client) ReadDO(ctx context.Context) (map[string]bool, error) {
	req, err := command.ReadCoils(c.address, uint16(c.channels))
	if err != nil {
		return nil, err
	}
	resp, err := c.q.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	packed, err := command.ReadCoilsResult(resp)
	if err != nil {
		return nil, err
	}
	return c.states("do", packed), nil
}

// ReadDI returns the input states keyed "di_0".."di_N".
func (c *Client) ReadDI(ctx context.Context) (map[string]bool, error) {
	req, err := command.ReadDiscreteInputs(c.address, uint16(c.channels))
	if err != nil {
		return nil, err
	}
	resp, err := c.q.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	packed, err := command.ReadDiscreteInputsResult(resp)
	if err != nil {
		return nil, err
	}
	return c.states("di", packed), nil
}

// states keys bit k of packed as prefix_k for every channel the response covers.
func (c *Client) states(prefix string, packed []byte) map[string]bool {
	bits := command.Bits(packed, c.channels)
	m := make(map[string]bool, len(bits))
	for k, on := range bits {
		m[fmt.Sprintf("%s_%d", prefix, k)] = on
	}
	return m
}

// ReadAI reads quantity input registers from start.
func (c *Client) ReadAI(ctx context.Context, start, quantity uint16) ([]uint16, error) {
	req, err := command.ReadInputRegisters(c.address, start, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.q.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return command.ReadInputRegistersResult(resp)
}

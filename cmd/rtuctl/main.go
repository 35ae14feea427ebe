// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command rtuctl drives a DAM0400 module over a Modbus RTU channel, or
// serves the simulated module on a serial port or TCP address.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/internal/dam0400"
	"github.com/ffutop/modbus-rtu-client/internal/simslave"
	"github.com/ffutop/modbus-rtu-client/transport"
	"github.com/ffutop/modbus-rtu-client/transport/local"
	"github.com/ffutop/modbus-rtu-client/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-rtu-client/transport/rtu-over-tcp"
	"github.com/spf13/pflag"
)

const usage = `Usage: rtuctl [flags] <command> [args]

Commands:
  read-do               print the digital output states
  read-di               print the digital input states
  open-do N             switch output N on
  close-do N            switch output N off
  open-all              switch every output on
  close-all             switch every output off
  read-ai START QTY     print QTY input registers from START
  info                  print address and equipment id
  serve                 run the simulated module on the serial or tcp channel

Flags:
`

func main() {
	fs := config.Flags("rtuctl")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig("", fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, fs.Args(), os.Stdout); err != nil {
		slog.Error("Command failed", "command", fs.Arg(0), "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if args[0] == "serve" {
		return serve(ctx, cfg)
	}

	conn, err := openChannel(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	device := dam0400.New(conn, dam0400.Options{
		Address:  byte(cfg.Device.Address),
		Channels: cfg.Device.Channels,
	})
	if cfg.Device.Init {
		if err := device.Init(ctx); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return execute(ctx, device, args, out)
}

// execute runs one device command and prints its result.
func execute(ctx context.Context, device *dam0400.Client, args []string, out io.Writer) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "read-do", "read-di":
		if err := wantArgs(cmd, args, 0); err != nil {
			return err
		}
		read := device.ReadDO
		if cmd == "read-di" {
			read = device.ReadDI
		}
		states, err := read(ctx)
		if err != nil {
			return err
		}
		printStates(out, states)
		return nil

	case "open-do", "close-do":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: invalid channel %q", cmd, args[0])
		}
		if cmd == "open-do" {
			err = device.OpenDO(ctx, ch)
		} else {
			err = device.CloseDO(ctx, ch)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "open-all", "close-all":
		if err := wantArgs(cmd, args, 0); err != nil {
			return err
		}
		write := device.OpenAll
		if cmd == "close-all" {
			write = device.CloseAll
		}
		if err := write(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "read-ai":
		if err := wantArgs(cmd, args, 2); err != nil {
			return err
		}
		start, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("read-ai: invalid start %q", args[0])
		}
		qty, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return fmt.Errorf("read-ai: invalid quantity %q", args[1])
		}
		values, err := device.ReadAI(ctx, uint16(start), uint16(qty))
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Fprintf(out, "ai_%d=%d\n", int(start)+i, v)
		}
		return nil

	case "info":
		if err := wantArgs(cmd, args, 0); err != nil {
			return err
		}
		if err := device.Init(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "address=%d\nequipment_id=%d\n", device.Address(), device.EquipmentID())
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func wantArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", cmd, n, len(args))
	}
	return nil
}

func printStates(out io.Writer, states map[string]bool) {
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return channelIndex(keys[i]) < channelIndex(keys[j])
	})
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%t\n", k, states[k])
	}
}

func channelIndex(key string) int {
	n, _ := strconv.Atoi(key[strings.LastIndexByte(key, '_')+1:])
	return n
}

// openChannel returns the master side channel selected by cfg.
func openChannel(cfg *config.Config) (transport.Conn, error) {
	switch cfg.Channel.Type {
	case config.ChannelSerial:
		client := rtu.NewClient(cfg.Serial)
		client.ResponseTimeout = cfg.Session.ResponseTimeout
		client.QueryTimeout = cfg.Session.QueryTimeout
		return client, nil
	case config.ChannelTcp:
		client := rtuovertcp.NewClient(cfg.Tcp.Address)
		if cfg.Tcp.Timeout > 0 {
			client.Timeout = cfg.Tcp.Timeout
		}
		client.ResponseTimeout = cfg.Session.ResponseTimeout
		return client, nil
	case config.ChannelSimulator:
		slave, storage, err := simslave.Open(cfg.Simulator)
		if err != nil {
			return nil, err
		}
		client := local.NewClient(slave.Handle)
		client.Options.ResponseTimeout = cfg.Session.ResponseTimeout
		return &simulatorConn{Client: client, storage: storage}, nil
	}
	return nil, fmt.Errorf("unknown channel type %q", cfg.Channel.Type)
}

// simulatorConn also closes the simulator's storage.
type simulatorConn struct {
	*local.Client
	storage io.Closer
}

func (c *simulatorConn) Close() error {
	err := c.Client.Close()
	if e := c.storage.Close(); err == nil {
		err = e
	}
	return err
}

// serve runs the simulated module until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	slave, storage, err := simslave.Open(cfg.Simulator)
	if err != nil {
		return err
	}
	defer storage.Close()

	switch cfg.Channel.Type {
	case config.ChannelSerial:
		return rtu.NewServer(cfg.Serial).Start(ctx, slave.Handle)
	case config.ChannelTcp:
		return rtuovertcp.NewServer(cfg.Tcp.Address).Start(ctx, slave.Handle)
	}
	return fmt.Errorf("serve needs a serial or tcp channel, not %q", cfg.Channel.Type)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

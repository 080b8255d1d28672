// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// lantern-attach is a minimal telnet client for calling a Lantern
// host from a modern terminal. It puts the local terminal in raw mode,
// answers the host's option negotiation, and relays bytes both ways
// until the host hangs up or the caller presses Ctrl-].
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lanternbbs/lantern/lib/process"
	"github.com/lanternbbs/lantern/lib/telnet"
)

// escapeKey disconnects the client, the way classic telnet binds
// Ctrl-].
const escapeKey = 0x1D

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var terminalType string

	flagSet := pflag.NewFlagSet("lantern-attach", pflag.ContinueOnError)
	flagSet.StringVar(&terminalType, "term", "", "terminal type to report (default: $TERM, then ansi)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: lantern-attach [--term TYPE] host:port")
	}
	if terminalType == "" {
		terminalType = os.Getenv("TERM")
	}
	if terminalType == "" {
		terminalType = "ansi"
	}

	conn, err := net.Dial("tcp", flagSet.Arg(0))
	if err != nil {
		return err
	}
	defer conn.Close()

	stdinFd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChannel
		term.Restore(stdinFd, oldState)
		conn.Close()
		os.Exit(0)
	}()

	client := &client{
		conn:         conn,
		terminalType: terminalType,
		stdinFd:      stdinFd,
	}

	done := make(chan error, 2)
	go func() { done <- client.pumpHostToScreen() }()
	go func() { done <- client.pumpKeysToHost() }()

	err = <-done
	conn.Close()
	// Leave raw mode before printing so the message lands at column
	// one.
	term.Restore(stdinFd, oldState)
	fmt.Println()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	fmt.Println("Connection closed.")
	return nil
}

// client relays between the local terminal and the host, answering
// telnet negotiation along the way.
type client struct {
	conn         net.Conn
	terminalType string
	stdinFd      int
}

// pumpHostToScreen decodes the host stream: negotiation answered,
// stuffed IAC bytes unstuffed, everything else written to stdout.
func (c *client) pumpHostToScreen() error {
	reader := bufio.NewReader(c.conn)
	out := bufio.NewWriter(os.Stdout)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			out.Flush()
			return err
		}
		if b != telnet.IAC {
			out.WriteByte(b)
			if reader.Buffered() == 0 {
				if err := out.Flush(); err != nil {
					return err
				}
			}
			continue
		}
		command, err := reader.ReadByte()
		if err != nil {
			out.Flush()
			return err
		}
		switch command {
		case telnet.IAC:
			// Stuffed literal 0xFF.
			out.WriteByte(telnet.IAC)
		case telnet.WILL, telnet.WONT, telnet.DO, telnet.DONT:
			option, err := reader.ReadByte()
			if err != nil {
				out.Flush()
				return err
			}
			if err := c.answer(command, option); err != nil {
				return err
			}
		case telnet.SB:
			if err := c.subnegotiate(reader); err != nil {
				return err
			}
		default:
			// GA, NOP, and anything else: ignore.
		}
	}
}

// answer responds to an option request. The client accepts the four
// options a Lantern host negotiates and refuses everything else.
func (c *client) answer(command, option byte) error {
	var response byte
	switch command {
	case telnet.WILL:
		if option == telnet.OptionEcho || option == telnet.OptionSuppressGoAhead {
			response = telnet.DO
		} else {
			response = telnet.DONT
		}
	case telnet.WONT:
		response = telnet.DONT
	case telnet.DO:
		switch option {
		case telnet.OptionTerminalType, telnet.OptionSuppressGoAhead:
			response = telnet.WILL
		case telnet.OptionWindowSize:
			if err := c.send(telnet.IAC, telnet.WILL, option); err != nil {
				return err
			}
			return c.sendWindowSize()
		default:
			response = telnet.WONT
		}
	case telnet.DONT:
		response = telnet.WONT
	}
	return c.send(telnet.IAC, response, option)
}

// subnegotiate consumes one IAC SB ... IAC SE block and answers a
// TERMINAL-TYPE SEND request.
func (c *client) subnegotiate(reader *bufio.Reader) error {
	var payload []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return err
		}
		if b == telnet.IAC {
			next, err := reader.ReadByte()
			if err != nil {
				return err
			}
			if next == telnet.SE {
				break
			}
			payload = append(payload, next)
			continue
		}
		payload = append(payload, b)
	}
	if len(payload) == 2 && payload[0] == telnet.OptionTerminalType && payload[1] == telnet.TerminalTypeSend {
		answer := []byte{telnet.IAC, telnet.SB, telnet.OptionTerminalType, telnet.TerminalTypeIs}
		answer = append(answer, []byte(c.terminalType)...)
		answer = append(answer, telnet.IAC, telnet.SE)
		return c.send(answer...)
	}
	return nil
}

// sendWindowSize reports the local terminal size as a NAWS
// subnegotiation.
func (c *client) sendWindowSize() error {
	width, height, err := term.GetSize(c.stdinFd)
	if err != nil {
		width, height = telnet.DefaultWidth, telnet.DefaultHeight
	}
	return c.send(telnet.IAC, telnet.SB, telnet.OptionWindowSize,
		byte(width>>8), byte(width), byte(height>>8), byte(height),
		telnet.IAC, telnet.SE)
}

func (c *client) send(bytes ...byte) error {
	_, err := c.conn.Write(bytes)
	return err
}

// pumpKeysToHost relays keystrokes, doubling literal 0xFF bytes and
// watching for the escape key.
func (c *client) pumpKeysToHost() error {
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return err
		}
		wire := make([]byte, 0, n*2)
		for _, b := range buf[:n] {
			if b == escapeKey {
				return nil
			}
			wire = append(wire, b)
			if b == telnet.IAC {
				wire = append(wire, telnet.IAC)
			}
		}
		if _, err := c.conn.Write(wire); err != nil {
			return err
		}
	}
}

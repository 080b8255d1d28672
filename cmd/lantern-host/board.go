// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/lanternbbs/lantern/lib/door"
	"github.com/lanternbbs/lantern/lib/session"
	"github.com/lanternbbs/lantern/lib/telnet"
	"github.com/lanternbbs/lantern/lib/user"
)

const loginAttempts = 3

var errLoginFailed = errors.New("login failed")

var (
	titleStyle  = ansi.Style{}.Bold().ForegroundColor(ansi.BrightCyan)
	promptStyle = ansi.Style{}.ForegroundColor(ansi.BrightYellow)
)

// serveSession runs one caller from negotiation to disconnect. It owns
// the session's read side: a pump goroutine turns the connection into
// an event channel so the menu loop and a running door can share input
// without stealing keystrokes from each other.
func (h *host) serveSession(sess *session.Session) {
	caps, err := sess.Conn().Negotiate(h.negotiation)
	if err != nil {
		h.manager.Close(sess, "negotiation failed")
		return
	}
	if !sess.Activate() {
		// Closed while negotiating (shutdown or idle sweep).
		return
	}
	display := telnet.NewDisplay(sess.Conn(), caps)

	events := make(chan telnet.Event)
	readErrs := make(chan error, 1)
	go func() {
		for {
			event, err := sess.Conn().ReadEvent()
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case events <- event:
			case <-sess.Context().Done():
				return
			}
		}
	}()

	caller := &callerLoop{
		host:     h,
		sess:     sess,
		display:  display,
		events:   events,
		readErrs: readErrs,
		ansi:     display.ANSI(),
		rows:     caps.Height,
	}
	cause := caller.run()
	h.manager.Close(sess, cause)
}

// callerLoop is the interactive state for one caller.
type callerLoop struct {
	host     *host
	sess     *session.Session
	display  *telnet.Display
	events   <-chan telnet.Event
	readErrs <-chan error
	ansi     bool
	rows     int
}

// run drives login and the main menu. The returned string is the close
// cause for the session log.
func (c *callerLoop) run() string {
	profile, err := c.login()
	if err != nil {
		return closeCause(err)
	}
	c.sess.SetProfile(profile)

	c.display.Clear()
	c.display.Styled(titleStyle, fmt.Sprintf("Welcome to %s, %s!", c.host.cfg.Board.Name, profile.Handle))
	c.display.Line("")

	for {
		c.showMenu()
		line, err := c.readLine()
		if err != nil {
			return closeCause(err)
		}
		command := strings.ToLower(strings.TrimSpace(line))
		switch command {
		case "":
			continue
		case "g", "q", "goodbye", "quit":
			c.display.Line("")
			c.display.Line("Thanks for calling. NO CARRIER")
			return "caller logged off"
		case "w", "who":
			c.showWho()
		default:
			if desc := c.findDoor(command); desc != nil {
				if err := c.runDoor(desc); err != nil {
					return closeCause(err)
				}
				continue
			}
			c.display.Line(fmt.Sprintf("Unknown command %q. Enter a door code, W for who, or G for goodbye.", command))
		}
	}
}

// login prompts for a handle and looks it up in the roster.
func (c *callerLoop) login() (user.Profile, error) {
	c.display.Clear()
	c.display.Styled(titleStyle, c.host.cfg.Board.Name)
	c.display.Line("")
	c.display.Line("")

	for attempt := 1; attempt <= loginAttempts; attempt++ {
		c.display.Styled(promptStyle, "Handle: ")
		handle, err := c.readLine()
		if err != nil {
			return user.Profile{}, err
		}
		handle = strings.TrimSpace(handle)
		if handle == "" {
			continue
		}
		profile, err := c.host.profiles.Lookup(c.sess.Context(), handle)
		if err == nil {
			return profile, nil
		}
		if errors.Is(err, user.ErrUnknownUser) {
			c.display.Line("No such handle on this system.")
			continue
		}
		return user.Profile{}, err
	}
	c.display.Line("Too many attempts. Goodbye.")
	return user.Profile{}, errLoginFailed
}

// showMenu prints the door roster and commands.
func (c *callerLoop) showMenu() {
	c.display.Line("")
	c.display.Styled(titleStyle, "-- Door Games --")
	c.display.Line("")
	if len(c.host.doors) == 0 {
		c.display.Line("  (no doors configured)")
	}
	for _, desc := range c.host.doors {
		marker := ""
		if count := c.host.orchestrator.ActiveCount(desc.Code); count > 0 {
			marker = fmt.Sprintf("  [in use: %d]", count)
		}
		c.display.Line(fmt.Sprintf("  %-8s %s%s", strings.ToUpper(desc.Code), desc.Name, marker))
	}
	c.display.Line("")
	c.display.Line("Enter a door code, W for who's online, G for goodbye.")
	c.display.Styled(promptStyle, "> ")
}

// showWho lists active callers.
func (c *callerLoop) showWho() {
	c.display.Line("")
	c.display.Line("Node  Handle")
	for _, other := range c.host.manager.Sessions() {
		handle := "(logging in)"
		if profile, ok := other.Profile(); ok {
			handle = profile.Handle
		}
		c.display.Line(fmt.Sprintf("%4d  %s", other.Node, handle))
	}
}

// findDoor resolves a menu command to a descriptor.
func (c *callerLoop) findDoor(code string) *door.Descriptor {
	for _, desc := range c.host.doors {
		if strings.EqualFold(desc.Code, code) {
			return desc
		}
	}
	return nil
}

// runDoor launches a door and relays caller input to it until the
// program ends. Door output reaches the caller through the serial
// bridge writing to the connection directly.
func (c *callerLoop) runDoor(desc *door.Descriptor) error {
	profile, _ := c.sess.Profile()
	ps, err := c.host.orchestrator.Launch(c.sess.Context(), door.LaunchRequest{
		SessionID: c.sess.ID,
		Node:      c.sess.Node,
		Profile:   profile,
		Output:    c.sess.Conn(),
		ANSI:      c.ansi,
		Rows:      c.rows,
	}, desc)
	if err != nil {
		switch {
		case errors.Is(err, door.ErrSecurityLevel):
			c.display.Line("Your security level does not permit that door.")
		case errors.Is(err, door.ErrDailyLimit):
			c.display.Line("You have used up today's plays for that door. Come back tomorrow!")
		case errors.Is(err, door.ErrClosedHours):
			c.display.Line(fmt.Sprintf("That door is only open %s.", desc.Window))
		case errors.Is(err, door.ErrSessionBusy):
			c.display.Line("You already have a program running.")
		default:
			c.host.logger.Error("door launch failed",
				"door", desc.Code, "session", c.sess.ID, "error", err)
			c.display.Line("That door could not be started. The sysop has been notified.")
		}
		return nil
	}

	c.display.Line("")
	c.display.Line(fmt.Sprintf("Loading %s...", desc.Name))

	for {
		select {
		case <-ps.Done():
			c.afterDoor(ps)
			return nil
		case err := <-c.readErrs:
			// Caller hung up mid-game. Begin the session close now so
			// its context cancellation kills the program, then wait
			// for the orchestrator to reclaim the run.
			c.sess.BeginClose("caller disconnected")
			<-ps.Done()
			return err
		case event := <-c.events:
			if encoded := telnet.EncodeEvent(event); encoded != nil {
				// Write errors here mean the program is ending and
				// the input pipe is gone; Done fires next.
				_, _ = ps.Input().Write(encoded)
			}
		}
	}
}

// afterDoor tells the caller how the program ended.
func (c *callerLoop) afterDoor(ps *door.ProcessSession) {
	c.display.Line("")
	switch ps.State() {
	case door.StateCompleted:
		c.display.Line(fmt.Sprintf("%s finished. Returning to the board.", ps.Descriptor.Name))
	case door.StateTimedOut:
		c.display.Line(fmt.Sprintf("Time limit for %s reached. Returning to the board.", ps.Descriptor.Name))
	default:
		c.display.Line(fmt.Sprintf("%s ended unexpectedly. Returning to the board.", ps.Descriptor.Name))
	}
}

// readLine collects a line of input, echoing as it goes. The server
// negotiated ECHO, so the caller's terminal shows nothing we do not
// send back.
func (c *callerLoop) readLine() (string, error) {
	var line []rune
	for {
		select {
		case err := <-c.readErrs:
			return "", err
		case event := <-c.events:
			key, ok := event.(telnet.KeyEvent)
			if !ok {
				continue
			}
			switch key.Key {
			case telnet.KeyEnter:
				c.display.Print("\r\n")
				return string(line), nil
			case telnet.KeyBackspace:
				if len(line) > 0 {
					line = line[:len(line)-1]
					c.display.Print("\b \b")
				}
			case telnet.KeyRune:
				line = append(line, key.Rune)
				c.display.Print(string(key.Rune))
			}
		}
	}
}

// closeCause maps a read error to a human-readable session close
// cause.
func closeCause(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "session closed"
	case errors.Is(err, errLoginFailed):
		return "login failed"
	}
	return "caller disconnected"
}

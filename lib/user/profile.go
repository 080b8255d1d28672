// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package user

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownUser is returned by ProfileSource when no profile exists
// for the requested handle.
var ErrUnknownUser = errors.New("user: unknown handle")

// Profile is the caller information the core needs: drop-file variable
// substitution and launch security checks. It is a snapshot supplied by
// the external account system; the core never mutates it.
type Profile struct {
	// Handle is the caller's board name (e.g. "CYBER").
	Handle string

	// RealName is the caller's full real name.
	RealName string

	// Location is the caller's city/state line.
	Location string

	// SecurityLevel gates door access. 0-255 by convention.
	SecurityLevel int

	// TimeRemaining is how much session time the caller has left.
	// Drop files report it in whole minutes.
	TimeRemaining time.Duration
}

// ProfileSource looks up caller profiles. Implemented by the external
// account system; MemorySource serves tests and the demo host.
type ProfileSource interface {
	// Lookup returns the profile for handle, or ErrUnknownUser.
	Lookup(ctx context.Context, handle string) (Profile, error)
}

// UsageStore tracks per-user daily door usage. Implemented by the
// external account system. Day boundaries are the store's concern; the
// core passes the current time and trusts the count.
type UsageStore interface {
	// Uses returns how many times handle has launched the door
	// identified by doorCode on the day containing now.
	Uses(ctx context.Context, handle, doorCode string, now time.Time) (int, error)

	// RecordUse increments the daily count for handle and doorCode.
	RecordUse(ctx context.Context, handle, doorCode string, now time.Time) error
}

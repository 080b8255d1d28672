// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the lifecycle of connected callers: admission
// against the node limit, the live-session registry, idle sweeping,
// and coordinated shutdown. Sessions move Negotiating → Active →
// Closing → Closed and never backward; closing a session cancels its
// context, which tears down any door program it launched.
package session

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package serial emulates the hardware serial line a legacy door
// program expects. Each door run gets an Endpoint — a private
// directory with two named FIFOs standing in for the UART — and a
// Bridge that pumps bytes between the caller's session stream and
// those FIFOs, optionally throttled to a simulated baud rate.
//
// There is no real hardware, so the modem status lines are emulated as
// constantly asserted while the bridge runs. Endpoint teardown is
// unconditional: the FIFOs and their directory are removed on every
// exit path, including a killed or crashed door.
package serial

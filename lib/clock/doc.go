// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and drive time with Advance, so behaviors
// like the idle sweep, negotiation deadline, and door time limits can be
// tested without sleeping.
package clock

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Lantern packages.
package testutil

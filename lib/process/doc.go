// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the standard Lantern binary entrypoint
// error handler.
package process

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package stats carries the lifecycle events the core reports to
// collaborators (statistics, dashboards) and a spool sink that
// persists them. The core hands events to a Recorder and never blocks
// on a slow consumer: the spool sink buffers through a channel and
// drops (with a log line) if the buffer fills.
package stats

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package door launches and supervises external legacy programs on
// behalf of connected callers. It performs admission checks against a
// door's descriptor, writes the interchange drop file the program
// expects, stands up an emulated serial line, and runs the process
// under a time limit with guaranteed cleanup of everything it created.
package door

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Lantern's canonical binary serialization:
// CBOR with Core Deterministic Encoding. The same logical record always
// produces identical bytes, which keeps the statistics spool
// append-only friendly and diffable.
package codec

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package user defines the caller profile consumed by the core and the
// collaborator interfaces through which the (external) account system
// supplies it. The core never stores or authenticates users; it only
// reads profiles for drop-file substitution and security checks, and
// counts daily door usage through UsageStore.
package user

// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package user

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemorySource is an in-memory ProfileSource for tests and the demo
// host. Handles are matched case-insensitively, as boards historically
// did.
type MemorySource struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemorySource returns a MemorySource seeded with the given
// profiles.
func NewMemorySource(profiles ...Profile) *MemorySource {
	source := &MemorySource{profiles: make(map[string]Profile, len(profiles))}
	for _, profile := range profiles {
		source.profiles[strings.ToUpper(profile.Handle)] = profile
	}
	return source
}

// Add inserts or replaces a profile.
func (s *MemorySource) Add(profile Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[strings.ToUpper(profile.Handle)] = profile
}

// Lookup implements ProfileSource.
func (s *MemorySource) Lookup(_ context.Context, handle string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[strings.ToUpper(handle)]
	if !ok {
		return Profile{}, ErrUnknownUser
	}
	return profile, nil
}

// MemoryUsage is an in-memory UsageStore keyed by handle, door code,
// and calendar day (in the time value's location).
type MemoryUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryUsage returns an empty MemoryUsage.
func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{counts: make(map[string]int)}
}

func usageKey(handle, doorCode string, now time.Time) string {
	return strings.ToUpper(handle) + "\x00" + doorCode + "\x00" + now.Format("2006-01-02")
}

// Uses implements UsageStore.
func (s *MemoryUsage) Uses(_ context.Context, handle, doorCode string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[usageKey(handle, doorCode, now)], nil
}

// RecordUse implements UsageStore.
func (s *MemoryUsage) RecordUse(_ context.Context, handle, doorCode string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[usageKey(handle, doorCode, now)]++
	return nil
}

/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repowriter

import "sync"

// RepoLocks serializes writer runs per target repository. Two concurrent
// deliveries for the same owner/repo would otherwise race their
// read-modify-write of the modeling index.
type RepoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRepoLocks constructs an empty lock table.
func NewRepoLocks() *RepoLocks {
	return &RepoLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the key, creating it on first use, and returns
// the unlock function. Locks are never removed; the key space is bounded by
// the set of target repositories.
func (l *RepoLocks) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

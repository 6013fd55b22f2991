// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package utils

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedMutex hands out one exclusive lock per key. Entries are created on
// first use and dropped when the last holder or waiter is gone.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the lock of key is free or ctx is done. The returned
// function releases the lock and is safe to call more than once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.drop(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.drop(key, e)
		})
	}, nil
}

// TryLock takes the lock of key only when it is free.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	if !e.sem.TryAcquire(1) {
		if !ok {
			delete(m.locks, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	e.refs++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.drop(key, e)
		})
	}, true
}

func (m *KeyedMutex) drop(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently locked or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

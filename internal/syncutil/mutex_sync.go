// Copyright 2024 The DistCoord Authors.
//
// Use of this software is governed by the Apache License, Version 2.0.

//go:build !deadlock

package syncutil

import "sync"

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = false

// Mutex is a mutual exclusion lock. This build does not check lock
// ordering; the deadlock-detecting build (see mutex_deadlock.go) is what
// reports inconsistent lock ordering across the hierarchy described in
// spec.md §5: waitLock > coordinator lock > BackendExecState lock.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}

// Copyright 2024 The DistCoord Authors.
//
// Use of this software is governed by the Apache License, Version 2.0.

//go:build deadlock

package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

// Mutex is a mutual exclusion lock backed by go-deadlock. Build with
// `-tags deadlock` to catch lock-ordering violations in the Coordinator's
// three-level hierarchy (wait lock, coordinator lock, BackendExecState
// lock) the moment they happen, rather than via a race that only
// manifests under contention.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock backed by go-deadlock.
type RWMutex struct {
	deadlock.RWMutex
}

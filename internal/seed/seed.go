//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package seed initializes the process-wide random source once at startup so
// repeated runs over the same data are comparable.
package seed

import (
	"math/rand"
	"sync"
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(1))
)

// Init seeds the process-wide random source. Call once at process start,
// before any consumer asks for randomness.
func Init(seed int64) {
	mu.Lock()
	defer mu.Unlock()
	rng = rand.New(rand.NewSource(seed))
}

// Int63 returns a non-negative pseudo-random 63-bit integer from the
// process-wide source.
func Int63() int64 {
	mu.Lock()
	defer mu.Unlock()
	return rng.Int63()
}

// Float64 returns a pseudo-random number in [0.0, 1.0) from the process-wide
// source.
func Float64() float64 {
	mu.Lock()
	defer mu.Unlock()
	return rng.Float64()
}

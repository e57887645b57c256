//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package collective provides the synchronization primitives the evaluation
// workers share: a barrier, an all-gather, and the dataset sharding scheme.
//
// Both collectives are blocking and all-or-nothing. A worker that never
// reaches them stalls the whole world; there is no timeout or partial-gather
// fallback.
package collective

import (
	"context"
	"fmt"
)

// Communicator is the collective communication surface of one worker.
type Communicator interface {
	// Rank returns this worker's rank in [0, WorldSize).
	Rank() int
	// WorldSize returns the number of workers participating in collectives.
	WorldSize() int
	// Barrier blocks until every worker has entered the barrier.
	Barrier(ctx context.Context) error
	// AllGather exchanges each worker's payload so every worker returns the
	// full set, indexed by rank. It blocks until all workers contribute.
	AllGather(ctx context.Context, local []byte) ([][]byte, error)
	// Close releases the communicator's resources.
	Close() error
}

// ShardIndices returns the dataset indices owned by rank under the strided
// partition {i : i mod worldSize == rank}. The partition is deterministic in
// (n, worldSize), disjoint across ranks, and complete: every index lands on
// exactly one rank, with no tail padding or duplication.
func ShardIndices(n, worldSize, rank int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("dataset size %d is negative", n)
	}
	if worldSize <= 0 {
		return nil, fmt.Errorf("world size %d must be positive", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", rank, worldSize)
	}
	indices := make([]int, 0, (n+worldSize-1)/worldSize)
	for i := rank; i < n; i += worldSize {
		indices = append(indices, i)
	}
	return indices, nil
}

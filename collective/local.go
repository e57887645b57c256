//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

package collective

import "context"

// local is the single-worker communicator: every collective is an identity
// operation with the same output shape as the distributed path.
type local struct{}

// NewLocal returns the communicator for single-worker runs.
func NewLocal() Communicator {
	return local{}
}

// Rank returns 0; a single worker is always the designated aggregator.
func (local) Rank() int { return 0 }

// WorldSize returns 1.
func (local) WorldSize() int { return 1 }

// Barrier returns immediately; there is nobody to wait for.
func (local) Barrier(ctx context.Context) error {
	return ctx.Err()
}

// AllGather returns the local payload as a one-element gather.
func (local) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = []byte{}
	}
	return [][]byte{payload}, nil
}

// Close is a no-op.
func (local) Close() error { return nil }

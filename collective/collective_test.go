//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

package collective

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardIndicesDisjointAndComplete(t *testing.T) {
	for _, worldSize := range []int{1, 2, 3, 4, 7} {
		for _, n := range []int{0, 1, 5, 24, 100} {
			seen := make(map[int]int)
			for rank := 0; rank < worldSize; rank++ {
				indices, err := ShardIndices(n, worldSize, rank)
				require.NoError(t, err)
				for _, idx := range indices {
					seen[idx]++
					assert.Equal(t, rank, idx%worldSize)
				}
			}
			// Every index appears exactly once across the union.
			assert.Len(t, seen, n, "n=%d world=%d", n, worldSize)
			for idx, count := range seen {
				assert.Equal(t, 1, count, "index %d duplicated", idx)
			}
		}
	}
}

func TestShardIndicesStable(t *testing.T) {
	a, err := ShardIndices(17, 3, 1)
	require.NoError(t, err)
	b, err := ShardIndices(17, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestShardIndicesValidation(t *testing.T) {
	_, err := ShardIndices(-1, 2, 0)
	assert.Error(t, err)
	_, err = ShardIndices(10, 0, 0)
	assert.Error(t, err)
	_, err = ShardIndices(10, 2, 2)
	assert.Error(t, err)
	_, err = ShardIndices(10, 2, -1)
	assert.Error(t, err)
}

func TestLocalCommunicator(t *testing.T) {
	comm := NewLocal()
	defer comm.Close()

	assert.Equal(t, 0, comm.Rank())
	assert.Equal(t, 1, comm.WorldSize())
	assert.NoError(t, comm.Barrier(context.Background()))

	gathered, err := comm.AllGather(context.Background(), []byte("only"))
	require.NoError(t, err)
	require.Len(t, gathered, 1)
	assert.Equal(t, []byte("only"), gathered[0])

	// nil payload still yields the distributed output shape.
	gathered, err = comm.AllGather(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, gathered, 1)
	assert.NotNil(t, gathered[0])
}

func TestLocalCancelled(t *testing.T) {
	comm := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, comm.Barrier(ctx))
	_, err := comm.AllGather(ctx, nil)
	assert.Error(t, err)
}

// startWorld brings up a worldSize TCP communicator set on a loopback port.
func startWorld(t *testing.T, worldSize int) []Communicator {
	t.Helper()
	comms := make([]Communicator, worldSize)
	root, err := NewTCP(0, worldSize, "127.0.0.1:0")
	require.NoError(t, err)
	comms[0] = root
	addr := root.(*tcpComm).Addr()
	require.NotEmpty(t, addr)
	for rank := 1; rank < worldSize; rank++ {
		comm, err := NewTCP(rank, worldSize, addr, WithRendezvousTimeout(5*time.Second))
		require.NoError(t, err)
		comms[rank] = comm
	}
	t.Cleanup(func() {
		for _, comm := range comms {
			comm.Close()
		}
	})
	return comms
}

func TestTCPAllGather(t *testing.T) {
	const worldSize = 3
	comms := startWorld(t, worldSize)

	results := make([][][]byte, worldSize)
	var wg sync.WaitGroup
	for rank := 0; rank < worldSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("shard-%d", rank))
			gathered, err := comms[rank].AllGather(context.Background(), payload)
			assert.NoError(t, err)
			results[rank] = gathered
		}(rank)
	}
	wg.Wait()

	// Every rank holds the complete set, indexed by rank.
	for rank := 0; rank < worldSize; rank++ {
		require.Len(t, results[rank], worldSize)
		for src := 0; src < worldSize; src++ {
			assert.Equal(t, fmt.Sprintf("shard-%d", src), string(results[rank][src]))
		}
	}
}

func TestTCPBarrierBlocksUntilAllArrive(t *testing.T) {
	const worldSize = 2
	comms := startWorld(t, worldSize)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		assert.NoError(t, comms[0].Barrier(context.Background()))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("barrier returned before all workers arrived")
	case <-time.After(200 * time.Millisecond):
	}

	go func() {
		<-release
		assert.NoError(t, comms[1].Barrier(context.Background()))
	}()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("barrier did not release after all workers arrived")
	}
}

func TestTCPMergeOrderIndependent(t *testing.T) {
	const worldSize = 4
	const n = 10
	comms := startWorld(t, worldSize)

	merged := make([][]string, worldSize)
	var wg sync.WaitGroup
	for rank := 0; rank < worldSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			indices, err := ShardIndices(n, worldSize, rank)
			assert.NoError(t, err)
			payload := ""
			for _, idx := range indices {
				payload += fmt.Sprintf("%d,", idx)
			}
			// Stagger arrivals so gather order differs from rank order.
			time.Sleep(time.Duration(worldSize-rank) * 20 * time.Millisecond)
			gathered, err := comms[rank].AllGather(context.Background(), []byte(payload))
			assert.NoError(t, err)
			var all []string
			for _, p := range gathered {
				all = append(all, string(p))
			}
			merged[rank] = all
		}(rank)
	}
	wg.Wait()

	// All ranks observe identical unions regardless of arrival order.
	for rank := 1; rank < worldSize; rank++ {
		a := append([]string(nil), merged[0]...)
		b := append([]string(nil), merged[rank]...)
		sort.Strings(a)
		sort.Strings(b)
		assert.Equal(t, a, b)
	}
}

func TestTCPSequentialRounds(t *testing.T) {
	const worldSize = 2
	comms := startWorld(t, worldSize)

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		for rank := 0; rank < worldSize; rank++ {
			wg.Add(1)
			go func(rank int) {
				defer wg.Done()
				payload := []byte(fmt.Sprintf("r%d-w%d", round, rank))
				gathered, err := comms[rank].AllGather(context.Background(), payload)
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("r%d-w0", round), string(gathered[0]))
				assert.Equal(t, fmt.Sprintf("r%d-w1", round), string(gathered[1]))
			}(rank)
		}
		wg.Wait()
	}
}

func TestCoordinatorRejectsDuplicateRank(t *testing.T) {
	coordinator, err := NewCoordinator(2)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		reply := &ExchangeReply{}
		errCh <- coordinator.Exchange(&ExchangeArgs{Round: 0, Rank: 0, Payload: []byte("a")}, reply)
	}()
	// Wait for the first contribution to land.
	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		round, ok := coordinator.rounds[0]
		return ok && round.arrived == 1
	}, time.Second, 10*time.Millisecond)

	reply := &ExchangeReply{}
	err = coordinator.Exchange(&ExchangeArgs{Round: 0, Rank: 0, Payload: []byte("b")}, reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already contributed")

	// Complete the round so the first goroutine unblocks.
	require.NoError(t, coordinator.Exchange(&ExchangeArgs{Round: 0, Rank: 1, Payload: []byte("c")}, &ExchangeReply{}))
	assert.NoError(t, <-errCh)
}

func TestCoordinatorValidation(t *testing.T) {
	_, err := NewCoordinator(0)
	assert.Error(t, err)

	coordinator, err := NewCoordinator(1)
	require.NoError(t, err)
	assert.Error(t, coordinator.Exchange(nil, &ExchangeReply{}))
	assert.Error(t, coordinator.Exchange(&ExchangeArgs{Rank: 5}, &ExchangeReply{}))
}

func TestNewTCPValidation(t *testing.T) {
	_, err := NewTCP(0, 1, "127.0.0.1:0")
	assert.Error(t, err)
	_, err = NewTCP(3, 2, "127.0.0.1:0")
	assert.Error(t, err)
	_, err = NewTCP(0, 2, "")
	assert.Error(t, err)
}

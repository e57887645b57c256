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
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"
)

// DefaultRendezvousTimeout bounds how long workers wait for rank 0's
// coordinator to start listening. It covers process startup skew only;
// collectives themselves never time out.
const DefaultRendezvousTimeout = 30 * time.Second

const coordinatorService = "Coordinator"

// ExchangeArgs is one worker's contribution to a collective round.
type ExchangeArgs struct {
	// Round is the caller's collective sequence number. All workers execute
	// the same sequence of collectives, so equal rounds describe the same
	// operation.
	Round uint64
	// Rank is the contributing worker's rank.
	Rank int
	// Payload is the gathered data; empty for barriers.
	Payload []byte
}

// ExchangeReply carries every worker's payload for a round, indexed by rank.
type ExchangeReply struct {
	Payloads [][]byte
}

// Coordinator is the rank-0 RPC service implementing blocking collective
// rounds. A round completes only once all worldSize ranks have contributed;
// every caller blocks until then.
type Coordinator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	world  int
	rounds map[uint64]*exchangeRound
}

type exchangeRound struct {
	payloads [][]byte
	arrived  int
	served   int
}

// NewCoordinator creates the collective coordinator for worldSize workers.
func NewCoordinator(worldSize int) (*Coordinator, error) {
	if worldSize <= 0 {
		return nil, fmt.Errorf("world size %d must be positive", worldSize)
	}
	c := &Coordinator{
		world:  worldSize,
		rounds: make(map[uint64]*exchangeRound),
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Exchange registers the caller's payload for a round and blocks until all
// ranks have contributed, then returns the full payload set. Duplicate
// contributions from one rank in the same round are rejected: they indicate
// workers running different collective sequences.
func (c *Coordinator) Exchange(args *ExchangeArgs, reply *ExchangeReply) error {
	if args == nil {
		return errors.New("exchange args is nil")
	}
	if args.Rank < 0 || args.Rank >= c.world {
		return fmt.Errorf("rank %d out of range for world size %d", args.Rank, c.world)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	round, ok := c.rounds[args.Round]
	if !ok {
		round = &exchangeRound{payloads: make([][]byte, c.world)}
		c.rounds[args.Round] = round
	}
	if round.payloads[args.Rank] != nil {
		return fmt.Errorf("rank %d already contributed to round %d", args.Rank, args.Round)
	}
	payload := args.Payload
	if payload == nil {
		payload = []byte{}
	}
	round.payloads[args.Rank] = payload
	round.arrived++
	if round.arrived == c.world {
		c.cond.Broadcast()
	}
	for round.arrived < c.world {
		c.cond.Wait()
	}
	reply.Payloads = round.payloads
	round.served++
	if round.served == c.world {
		delete(c.rounds, args.Round)
	}
	return nil
}

// tcpComm is a Communicator backed by the rank-0 Coordinator over net/rpc.
// Payloads travel gob-encoded, net/rpc's native wire format.
type tcpComm struct {
	rank     int
	world    int
	client   *rpc.Client
	listener net.Listener // non-nil on rank 0 only
	round    uint64
	mu       sync.Mutex
}

// tcpOptions configures NewTCP.
type tcpOptions struct {
	rendezvousTimeout time.Duration
}

// TCPOption configures the TCP communicator.
type TCPOption func(*tcpOptions)

// WithRendezvousTimeout overrides how long workers wait for the coordinator
// to come up before giving up.
func WithRendezvousTimeout(d time.Duration) TCPOption {
	return func(o *tcpOptions) {
		if d > 0 {
			o.rendezvousTimeout = d
		}
	}
}

// NewTCP creates the multi-worker communicator. Rank 0 hosts the Coordinator
// on addr and participates as a regular client; other ranks dial addr,
// retrying until the rendezvous timeout elapses.
func NewTCP(rank, worldSize int, addr string, opt ...TCPOption) (Communicator, error) {
	if worldSize <= 1 {
		return nil, fmt.Errorf("world size %d needs no tcp communicator, use NewLocal", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", rank, worldSize)
	}
	if addr == "" {
		return nil, errors.New("coordinator address is empty")
	}
	opts := &tcpOptions{rendezvousTimeout: DefaultRendezvousTimeout}
	for _, o := range opt {
		o(opts)
	}
	comm := &tcpComm{rank: rank, world: worldSize}
	if rank == 0 {
		coordinator, err := NewCoordinator(worldSize)
		if err != nil {
			return nil, err
		}
		server := rpc.NewServer()
		if err := server.RegisterName(coordinatorService, coordinator); err != nil {
			return nil, fmt.Errorf("register coordinator: %w", err)
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		comm.listener = listener
		go acceptLoop(server, listener)
		addr = listener.Addr().String()
	}
	client, err := dialCoordinator(addr, opts.rendezvousTimeout)
	if err != nil {
		if comm.listener != nil {
			comm.listener.Close()
		}
		return nil, err
	}
	comm.client = client
	return comm, nil
}

func acceptLoop(server *rpc.Server, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go server.ServeConn(conn)
	}
}

func dialCoordinator(addr string, timeout time.Duration) (*rpc.Client, error) {
	deadline := time.Now().Add(timeout)
	for {
		client, err := rpc.Dial("tcp", addr)
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rendezvous with coordinator %s: %w", addr, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Addr returns the coordinator's resolved listen address. Only rank 0 hosts
// the coordinator; other ranks return the empty string.
func (c *tcpComm) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Rank returns this worker's rank.
func (c *tcpComm) Rank() int { return c.rank }

// WorldSize returns the number of workers.
func (c *tcpComm) WorldSize() int { return c.world }

// Barrier blocks until all workers reach it.
func (c *tcpComm) Barrier(ctx context.Context) error {
	_, err := c.exchange(ctx, nil)
	return err
}

// AllGather exchanges payloads so every worker returns the full set.
func (c *tcpComm) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	return c.exchange(ctx, payload)
}

func (c *tcpComm) exchange(ctx context.Context, payload []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	round := c.round
	c.round++
	c.mu.Unlock()
	args := &ExchangeArgs{Round: round, Rank: c.rank, Payload: payload}
	reply := &ExchangeReply{}
	call := c.client.Go(coordinatorService+".Exchange", args, reply, nil)
	select {
	case <-call.Done:
		if call.Error != nil {
			return nil, fmt.Errorf("collective round %d: %w", round, call.Error)
		}
		return reply.Payloads, nil
	case <-ctx.Done():
		// The in-flight call is abandoned; a cancelled collective leaves the
		// world in an undefined state and the job must abort.
		return nil, ctx.Err()
	}
}

// Close closes the RPC client and, on rank 0, the coordinator listener.
func (c *tcpComm) Close() error {
	var errs []error
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.listener != nil {
		if err := c.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

package httpmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

type chunkScoreParam struct {
	ctx   context.Context
	model *Model
	chunk chunk
	out   [][][]float64
	errs  []error
	idx   int
	wg    *sync.WaitGroup
}

func (p *chunkScoreParam) reset() {
	p.ctx = nil
	p.model = nil
	p.chunk = chunk{}
	p.out = nil
	p.errs = nil
	p.idx = 0
	p.wg = nil
}

var chunkScoreParamPool = &sync.Pool{
	New: func() any { return new(chunkScoreParam) },
}

// chunkPool fans sub-batch inference requests out over an ants pool.
type chunkPool struct {
	pool *ants.PoolWithFunc
}

func newChunkPool(size int) (*chunkPool, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than 0")
	}
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		param, ok := args.(*chunkScoreParam)
		if !ok {
			panic("chunk score pool args type error")
		}
		wg := param.wg
		defer func() {
			wg.Done()
			param.reset()
			chunkScoreParamPool.Put(param)
		}()
		param.errs[param.idx] = param.model.scoreChunk(param.ctx, param.chunk, param.out)
	})
	if err != nil {
		return nil, fmt.Errorf("create chunk score pool: %w", err)
	}
	return &chunkPool{pool: pool}, nil
}

// scoreAll scores every chunk concurrently and writes results into out,
// returning the combined error of all failed chunks.
func (p *chunkPool) scoreAll(ctx context.Context, m *Model, chunks []chunk, out [][][]float64) error {
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i, c := range chunks {
		param := chunkScoreParamPool.Get().(*chunkScoreParam)
		param.ctx = ctx
		param.model = m
		param.chunk = c
		param.out = out
		param.errs = errs
		param.idx = i
		param.wg = &wg
		wg.Add(1)
		if err := p.pool.Invoke(param); err != nil {
			wg.Done()
			param.reset()
			chunkScoreParamPool.Put(param)
			errs[i] = fmt.Errorf("invoke chunk score pool: %w", err)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (p *chunkPool) release() {
	p.pool.Release()
}

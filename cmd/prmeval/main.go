//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Command prmeval evaluates a process reward model over multi-step math
// benchmarks and reports per-configuration accuracy and F1 scores.
package main

import (
	"context"
	"flag"

	"trpc.group/trpc-go/trpc-prmeval-go/collective"
	"trpc.group/trpc-go/trpc-prmeval-go/config"
	"trpc.group/trpc-go/trpc-prmeval-go/encode"
	"trpc.group/trpc-go/trpc-prmeval-go/evalresult"
	"trpc.group/trpc-go/trpc-prmeval-go/internal/seed"
	"trpc.group/trpc-go/trpc-prmeval-go/log"
	"trpc.group/trpc-go/trpc-prmeval-go/model/httpmodel"
	"trpc.group/trpc-go/trpc-prmeval-go/runner"
	"trpc.group/trpc-go/trpc-prmeval-go/scorer"
	"trpc.group/trpc-go/trpc-prmeval-go/tokenizer/tiktoken"
)

var (
	configPath = flag.String("config", "prmeval.yaml", "path to the run configuration")
	rank       = flag.Int("rank", -1, "override the worker rank from the configuration")
	worldSize  = flag.Int("world-size", 0, "override the world size from the configuration")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *rank >= 0 {
		cfg.Rank = *rank
	}
	if *worldSize > 0 {
		cfg.WorldSize = *worldSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	// One seed for the whole process, set before anything else runs.
	seed.Init(cfg.Seed)

	tok, err := tiktoken.New(cfg.TokenizerModel, cfg.PadTokenID)
	if err != nil {
		log.Fatalf("create tokenizer: %v", err)
	}
	encoder, err := encode.NewEncoder(tok, encode.WithSeparator(cfg.Separator))
	if err != nil {
		log.Fatalf("create encoder: %v", err)
	}

	classifier, err := httpmodel.New(cfg.ModelEndpoint,
		httpmodel.WithNumClasses(cfg.NumClasses),
		httpmodel.WithPadTokenID(cfg.PadTokenID),
		httpmodel.WithMaxBatch(cfg.MaxModelBatch),
		httpmodel.WithParallelism(cfg.ModelParallelism),
	)
	if err != nil {
		log.Fatalf("create model client: %v", err)
	}
	defer classifier.Close()

	sc, err := scorer.New(classifier)
	if err != nil {
		log.Fatalf("create scorer: %v", err)
	}

	comm := collective.NewLocal()
	if cfg.WorldSize > 1 {
		comm, err = collective.NewTCP(cfg.Rank, cfg.WorldSize, cfg.CoordinatorAddr)
		if err != nil {
			log.Fatalf("join worker world: %v", err)
		}
	}
	defer comm.Close()

	writer, err := evalresult.NewWriter(cfg.ResultDir())
	if err != nil {
		log.Fatalf("create result writer: %v", err)
	}

	r, err := runner.New(encoder, sc,
		runner.WithCommunicator(comm),
		runner.WithWriter(writer),
		runner.WithBatchSize(cfg.BatchSize),
		runner.WithModelName(cfg.ModelName()),
	)
	if err != nil {
		log.Fatalf("create runner: %v", err)
	}

	log.Infof("evaluating %s on %d configuration(s), rank %d/%d",
		cfg.ModelName(), len(cfg.Configs), cfg.Rank, cfg.WorldSize)
	summary, err := r.Run(context.Background(), cfg.DataDir, cfg.Configs)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}
	if summary != nil {
		log.Infof("run %s complete, results under %s", summary.RunID, writer.BaseDir())
	}
}

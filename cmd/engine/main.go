package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/api"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/bitcoinrpc"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/config"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/logging"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/query"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/scanner"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/seed"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/taintstore"
)

// Exit codes per the specification's §6 "CLI front-end" contract.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitNodeUnreachable = 2
	exitNodeSyncing     = 3
	exitStoreCorrupted  = 4
)

var log = logging.NewSubsystem("MAIN")

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}
	initLogging(cfg)
	if cfg.LogFile != "" {
		defer logging.Close()
	}

	store, err := taintstore.Open(cfg.StoreBasePath)
	if err != nil {
		log.Errorf("opening taint store: %v", err)
		return exitStoreCorrupted
	}
	defer store.Close()

	node, err := bitcoinrpc.NewClient(bitcoinrpc.Config{
		Host:        cfg.NodeHost,
		User:        cfg.NodeUser,
		Pass:        cfg.NodePass,
		Timeout:     time.Duration(cfg.NodeTimeout) * time.Millisecond,
		MaxParallel: cfg.NodeMaxParallel,
		MaxRetries:  cfg.NodeMaxRetries,
		RetryBase:   time.Duration(cfg.NodeRetryBaseMs) * time.Millisecond,
		RetryCap:    time.Duration(cfg.NodeRetryCapMs) * time.Millisecond,
	})
	if err != nil {
		log.Errorf("connecting to node: %v", err)
		if errors.Is(err, bitcoinrpc.ErrInitialBlockDownload) {
			return exitNodeSyncing
		}
		return exitNodeUnreachable
	}
	defer node.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	heights, err := seed.Heights()
	if err != nil {
		log.Errorf("loading curated seed heights: %v", err)
		return exitConfigError
	}
	builder := seed.NewBuilder(node, store, 1000)
	if err := builder.Run(ctx, heights); err != nil {
		log.Errorf("seed builder failed: %v", err)
		return exitStoreCorrupted
	}

	// The scanner is always constructed (so /sync-status has something to
	// report) but its run loop only starts when enabled — otherwise the
	// engine runs in read-only query mode against whatever the store
	// already holds.
	sc, err := scanner.New(node, store, scanner.Config{
		ChunkSizeBlocks: cfg.ScannerChunkSizeBlocks,
		BatchOpsMax:     cfg.ScannerBatchSize,
		BatchAgeMax:     time.Duration(cfg.ScannerBatchFlushMs) * time.Millisecond,
		ParentCacheMax:  cfg.ScannerParentCacheMax,
		ConfirmationLag: cfg.ScannerConfirmationLag,
		IdleInterval:    time.Duration(cfg.ScannerIdleIntervalMs) * time.Millisecond,
	})
	if err != nil {
		log.Errorf("constructing scanner: %v", err)
		return exitConfigError
	}
	if cfg.ScannerEnabled {
		go func() {
			if err := sc.Run(ctx); err != nil {
				log.Errorf("scanner stopped: %v", err)
			}
		}()
	} else {
		log.Infof("scanner disabled by configuration; running in query-only mode")
	}

	qsvc := query.New(store, time.Duration(cfg.QueryTimeoutMs)*time.Millisecond)
	hub := api.NewHub()
	go hub.Run()

	// Wires the scanner's events onto the scan-event hub, mirroring the
	// teacher's NewBlockScanner(alertFunc) callback (internal/scanner's
	// BlockScanner pushed CoinJoinAlert the same way).
	sc.SetEmitter(func(ev scanner.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Warnf("marshalling scan event: %v", err)
			return
		}
		hub.Broadcast(data)
	})

	router := api.NewServer(qsvc, sc, hub)

	srvErr := make(chan error, 1)
	go func() {
		log.Infof("query HTTP surface listening on :%s", cfg.APIPort)
		srvErr <- router.Run(":" + cfg.APIPort)
	}()

	select {
	case <-ctx.Done():
		return exitOK
	case err := <-srvErr:
		if err != nil {
			log.Errorf("http server stopped: %v", err)
		}
		return exitOK
	}
}

func initLogging(cfg *config.Config) {
	logging.SetLevelAll(logging.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := logging.EnableRotation(cfg.LogFile, cfg.LogMaxKB); err != nil {
			fmt.Fprintln(os.Stderr, "log rotation setup failed:", err)
		}
	}
}

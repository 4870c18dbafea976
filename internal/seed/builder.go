package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/bitcoinrpc"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/engineerr"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/logging"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var log = logging.NewSubsystem("SEED")

// NodeClient is the subset of bitcoinrpc.Client the Seed Builder needs,
// accepted as an interface so tests can supply a synthetic chain.
type NodeClient interface {
	BlockHash(ctx context.Context, height int64) (*chainhash.Hash, error)
	Block(ctx context.Context, hash *chainhash.Hash) (*bitcoinrpc.Block, error)
}

// Store is the subset of taintstore.Store the Seed Builder mutates.
type Store interface {
	GetSeedInitFlag() (*taint.SeedInitFlag, bool, error)
	PutSeedInitFlag(*taint.SeedInitFlag) error
	PutOutpoint(txid string, vout uint32, out *taint.Outpoint) error
	PutRecord(address string, rec *taint.Record) error
}

// Builder runs the one-shot seed materialization described in §4.3.
type Builder struct {
	node  NodeClient
	store Store

	// progressEvery controls the coarse progress-logging granularity
	// (default 1000 heights, per §4.3: "logged at a coarse granularity").
	progressEvery int
}

// NewBuilder constructs a Builder. progressEvery<=0 uses the default.
func NewBuilder(node NodeClient, store Store, progressEvery int) *Builder {
	if progressEvery <= 0 {
		progressEvery = 1000
	}
	return &Builder{node: node, store: store, progressEvery: progressEvery}
}

// Run materializes every height's coinbase outputs as degree-0 seeds,
// unless satoshi_coinbase_initialized is already set, in which case it
// returns immediately (§4.3: "idempotent and one-shot").
func (b *Builder) Run(ctx context.Context, heights []int64) error {
	flag, present, err := b.store.GetSeedInitFlag()
	if err != nil {
		return engineerr.Wrap(engineerr.KindData, fmt.Errorf("seed builder: read init flag: %w", err))
	}
	if present {
		log.Infof("seed set already initialized at %s (%d outpoints), skipping", flag.Timestamp, flag.OutpointCount)
		return nil
	}

	log.Infof("seed builder starting: %d curated heights", len(heights))
	var outpointCount int64

	for i, h := range heights {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := b.seedHeight(ctx, h)
		if err != nil {
			return engineerr.Wrap(engineerr.KindData, fmt.Errorf("seed builder: height %d: %w", h, err))
		}
		outpointCount += n

		if b.progressEvery > 0 && (i+1)%b.progressEvery == 0 {
			log.Infof("seed builder progress: %d/%d heights, %d outpoints written", i+1, len(heights), outpointCount)
		}
	}

	if err := b.store.PutSeedInitFlag(&taint.SeedInitFlag{
		Timestamp:     time.Now(),
		OutpointCount: outpointCount,
	}); err != nil {
		return engineerr.Wrap(engineerr.KindData, fmt.Errorf("seed builder: write init flag: %w", err))
	}

	log.Infof("seed builder complete: %d heights, %d outpoints", len(heights), outpointCount)
	return nil
}

// seedHeight processes a single curated height's coinbase transaction,
// per §4.3's algorithm, and returns the number of outpoints written.
func (b *Builder) seedHeight(ctx context.Context, height int64) (int64, error) {
	hash, err := b.node.BlockHash(ctx, height)
	if err != nil {
		return 0, err
	}
	block, err := b.node.Block(ctx, hash)
	if err != nil {
		return 0, err
	}
	if len(block.Txs) == 0 {
		return 0, fmt.Errorf("block at height %d has no transactions", height)
	}

	coinbase := block.Txs[0]
	var written int64

	for _, out := range coinbase.Vout {
		outRec := &taint.Outpoint{
			Degree:      0,
			SourceBlock: height,
		}
		// Tie-break per §4.3: the node is authoritative on whether the
		// script decodes to a standard address. If it does not decode,
		// the outpoint is still recorded as a degree-0 seed, but no
		// tainted:<address> record is written.
		if out.HasAddress {
			outRec.Address = out.Address
		}
		if err := b.store.PutOutpoint(coinbase.Txid, out.N, outRec); err != nil {
			return written, err
		}
		written++

		if out.HasAddress {
			if err := b.store.PutRecord(out.Address, &taint.Record{
				SeedAddress: out.Address,
				Degree:      0,
				Path:        nil,
				LastUpdated: time.Now(),
			}); err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

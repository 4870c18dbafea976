package taintstore

import (
	"encoding/json"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
	"github.com/syndtr/goleveldb/leveldb"
)

// BlockBatch stages every write produced while processing a single block
// across both physical stores, per §4.2's batching policy: writes are
// flushed at an operation-count or elapsed-time threshold, whichever comes
// first, and scan_progress is only published after every staged write for
// the block has committed (§4.4 step 3-4, invariant I3).
//
// If a commit fails mid-block, the caller discards this BlockBatch (see
// Abandon) and the block is retried from scratch on the next scanner tick.
// Writes an earlier Flush of the same block already committed stay in the
// store, but scan_progress was never advanced, so the retry reprocesses
// the whole block over them.
type BlockBatch struct {
	store *Store

	main *leveldb.Batch
	scan *leveldb.Batch
	ops  int

	lastFlush    time.Time
	flushOpsMax  int
	flushAgeMax  time.Duration
}

// NewBlockBatch starts a fresh batch pair for one block.
func (s *Store) NewBlockBatch(flushOpsMax int, flushAgeMax time.Duration) *BlockBatch {
	return &BlockBatch{
		store:       s,
		main:        new(leveldb.Batch),
		scan:        new(leveldb.Batch),
		lastFlush:   now(),
		flushOpsMax: flushOpsMax,
		flushAgeMax: flushAgeMax,
	}
}

// PutRecord stages an upsert of tainted:<address>.
func (b *BlockBatch) PutRecord(address string, rec *taint.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.main.Put(taint.TaintedKey(address), data)
	b.ops++
	return nil
}

// PutTxRecord stages a best-effort tx:<txid> cache entry.
func (b *BlockBatch) PutTxRecord(txid string, rec *taint.TxRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.main.Put(taint.TxKey(txid), data)
	b.ops++
	return nil
}

// PutOutpoint stages an upsert of tainted_out:<txid>:<vout>.
func (b *BlockBatch) PutOutpoint(txid string, vout uint32, out *taint.Outpoint) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	b.scan.Put(taint.TaintedOutKey(txid, vout), data)
	b.ops++
	return nil
}

// Ops reports the number of staged operations since the last flush.
func (b *BlockBatch) Ops() int { return b.ops }

// ShouldFlush reports whether the operation-count or elapsed-time
// threshold has been crossed.
func (b *BlockBatch) ShouldFlush() bool {
	if b.ops == 0 {
		return false
	}
	return b.ops >= b.flushOpsMax || now().Sub(b.lastFlush) >= b.flushAgeMax
}

// Flush commits the staged writes to both physical stores and resets the
// batch for further staging within the same block. It does NOT publish
// scan_progress — callers publish progress exactly once, after the final
// flush for the block succeeds (see PublishProgress).
func (b *BlockBatch) Flush() error {
	if b.ops == 0 {
		return nil
	}
	// Main store first (tainted/tx), then scan store (tainted_out).
	// scan_progress has not been written yet, so a crash between the two
	// just means the block is fully reprocessed. The order matters for
	// that replay: the scanner skips every output whose tainted_out entry
	// already exists, so outpoints must never land without their address
	// records. Records landing alone are safe: the replay rewrites the
	// missing outpoints and leaves records of equal degree untouched.
	if err := b.store.main.Write(b.main, nil); err != nil {
		return err
	}
	if err := b.store.scan.Write(b.scan, nil); err != nil {
		return err
	}
	b.main = new(leveldb.Batch)
	b.scan = new(leveldb.Batch)
	b.ops = 0
	b.lastFlush = now()
	return nil
}

// PublishProgress commits any remaining staged writes and then — only if
// that succeeded — writes scan_progress = {last_block: height}. This is
// the single place the specification's I3 is enforced by construction:
// the Store's PutScanProgress is never reached unless Flush returned nil.
func (b *BlockBatch) PublishProgress(height int64) error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.store.PutScanProgress(&taint.ScanProgress{
		LastBlock: height,
		UpdatedAt: now(),
	})
}

// Abandon discards the batch without committing anything. Used when block
// processing fails before reaching PublishProgress; subsequent Put calls
// on a discarded caller-held batch must not happen — callers are expected
// to drop the BlockBatch value entirely and start a new one on retry.
func (b *BlockBatch) Abandon() {
	b.main = new(leveldb.Batch)
	b.scan = new(leveldb.Batch)
	b.ops = 0
}

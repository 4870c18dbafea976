package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/taintstore"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/bitcoinrpc"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
)

// cachedRecord is the parent-taint cache's value type: a TaintRecord
// snapshot, held in the cache by pointer. lookupRecord hands callers a copy
// of the struct (its Path slice still shares the cached backing array). The
// cache is private to the scanner; Query Service reads go to the store.
type cachedRecord taint.Record

// processBlock implements the per-block algorithm of §4.4: compute each
// transaction's input taint, classify it as tainting or not, stage
// tainted_out/tainted writes for every output, commit in one or more
// batches, then publish scan_progress.
func (s *Scanner) processBlock(ctx context.Context, height int64) error {
	hash, err := s.node.BlockHash(ctx, height)
	if err != nil {
		return fmt.Errorf("block hash for height %d: %w", height, err)
	}
	block, err := s.node.Block(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetching block %d: %w", height, err)
	}

	batch := s.store.NewBlockBatch(s.cfg.BatchOpsMax, s.cfg.BatchAgeMax)
	published := false
	defer func() {
		if !published {
			// Records cached while staging this block may never have been
			// committed; drop them so the retry reads only committed state.
			s.cache.Purge()
		}
	}()
	// in-block map of outpoints created earlier in this same block, per
	// §4.4 step 2: "a transaction inside this block may spend an output
	// created earlier in the same block."
	inBlock := make(map[string]*taint.Outpoint)
	// newTaint accumulates new-taint events staged this block; emitted only
	// once PublishProgress confirms they are durable, so a subscriber never
	// sees an event for a write a later failure in the same block rolled
	// back.
	var newTaint []Event

	for _, tx := range block.Txs {
		if err := s.processTx(height, block.Time, tx, batch, inBlock, &newTaint); err != nil {
			batch.Abandon()
			return fmt.Errorf("tx %s: %w", tx.Txid, err)
		}
		if batch.ShouldFlush() {
			if err := batch.Flush(); err != nil {
				batch.Abandon()
				return fmt.Errorf("flushing batch: %w", err)
			}
		}
	}

	if err := batch.PublishProgress(height); err != nil {
		batch.Abandon()
		return fmt.Errorf("publishing progress for block %d: %w", height, err)
	}
	published = true

	for _, ev := range newTaint {
		s.emitEvent(ev)
	}
	s.emitEvent(Event{Kind: EventBlockProcessed, Height: height})
	return nil
}

func outpointKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// processTx classifies a single transaction and stages the resulting
// writes. inBlock accumulates outpoints created earlier in this block so
// later transactions in the same block see them before they reach the
// store (§4.4 step 2).
func (s *Scanner) processTx(height, blockTime int64, tx bitcoinrpc.Tx, batch *taintstore.BlockBatch, inBlock map[string]*taint.Outpoint, newTaint *[]Event) error {
	const unset = int64(-2) // sentinel: not yet set by any tainted input
	minDegree := unset
	var sourceAddress string
	sourceFound := false

	for _, in := range tx.Vin {
		if in.IsCoinbase {
			continue
		}
		out, ok, err := s.lookupOutpoint(in.PrevTxid, in.PrevVout, inBlock)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d := int64(out.Degree)
		if minDegree == unset || d < minDegree {
			minDegree = d
			sourceAddress = ""
			sourceFound = false
		}
		if d == minDegree && !sourceFound && in.HasAddress {
			sourceAddress = in.PrevAddress
			sourceFound = true
		}
	}

	// "Also tainting" rule (§4.4 step 2): when no input is tainted, any
	// output paying a seed address makes the tx tainting at degree 0. A tx
	// that already has a tainted input keeps its input-derived degree.
	taintingViaSeedOutput := false
	if minDegree == unset {
		for _, out := range tx.Vout {
			if !out.HasAddress {
				continue
			}
			rec, ok, err := s.lookupRecord(out.Address)
			if err != nil {
				return err
			}
			if ok && rec.IsSeed() {
				taintingViaSeedOutput = true
				break
			}
		}
	}

	if minDegree == unset && !taintingViaSeedOutput {
		return nil // not tainting
	}

	var currentDegree uint32
	if taintingViaSeedOutput {
		currentDegree = 0
	} else {
		currentDegree = uint32(minDegree + 1)
	}

	for _, out := range tx.Vout {
		key := outpointKey(tx.Txid, out.N)
		if _, exists := inBlock[key]; exists {
			continue
		}
		if existing, ok, err := s.store.GetOutpoint(tx.Txid, out.N); err != nil {
			return err
		} else if ok {
			inBlock[key] = existing
			continue
		}

		newOut := &taint.Outpoint{Degree: currentDegree, SourceBlock: height}
		if out.HasAddress {
			newOut.Address = out.Address
		}
		if err := batch.PutOutpoint(tx.Txid, out.N, newOut); err != nil {
			return err
		}
		inBlock[key] = newOut

		if !out.HasAddress {
			continue
		}

		existingRec, ok, err := s.lookupRecord(out.Address)
		if err != nil {
			return err
		}
		if ok && existingRec.Degree <= currentDegree {
			continue // I2: never regress an address's minimum degree (also protects seed immutability, I5)
		}
		if !sourceFound || sourceAddress == "" {
			continue // path continuation abandoned: no decodable source
		}

		parent, ok, err := s.lookupRecord(sourceAddress)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		newPath := make([]taint.PathHop, len(parent.Path), len(parent.Path)+1)
		copy(newPath, parent.Path)
		newPath = append(newPath, taint.PathHop{
			From:   sourceAddress,
			To:     out.Address,
			TxHash: tx.Txid,
			Amount: out.ValueSat,
		})

		newRec := &taint.Record{
			SeedAddress: parent.SeedAddress,
			Degree:      currentDegree,
			Path:        newPath,
			SourceTx:    tx.Txid,
			AmountSat:   out.ValueSat,
			LastUpdated: time.Now(),
		}
		if err := batch.PutRecord(out.Address, newRec); err != nil {
			return err
		}
		s.cache.Add(out.Address, (*cachedRecord)(newRec))
		*newTaint = append(*newTaint, Event{Kind: EventNewTaint, Address: out.Address, Degree: currentDegree})
	}

	if err := s.cacheTxView(batch, tx, blockTime, currentDegree); err != nil {
		return err
	}

	return nil
}

// cacheTxView opportunistically stages a compact tx: cache entry (§4.4
// step 2's last bullet). The entry carries no invariant, but a staging
// failure here is returned like any other staged write's and aborts the
// block.
func (s *Scanner) cacheTxView(batch *taintstore.BlockBatch, tx bitcoinrpc.Tx, blockTime int64, degree uint32) error {
	rec := &taint.TxRecord{
		Txid:              tx.Txid,
		BlockTime:         blockTime,
		DegreeAtStoreTime: degree,
	}
	for _, in := range tx.Vin {
		if in.IsCoinbase {
			continue
		}
		rec.Inputs = append(rec.Inputs, taint.TxInRef{
			Txid: in.PrevTxid, Vout: in.PrevVout, Address: in.PrevAddress, Value: in.PrevValueSat,
		})
	}
	for _, out := range tx.Vout {
		rec.Outputs = append(rec.Outputs, taint.TxOutRef{
			Vout: out.N, Address: out.Address, Value: out.ValueSat,
		})
	}
	return batch.PutTxRecord(tx.Txid, rec)
}

func (s *Scanner) lookupOutpoint(txid string, vout uint32, inBlock map[string]*taint.Outpoint) (*taint.Outpoint, bool, error) {
	key := outpointKey(txid, vout)
	if o, ok := inBlock[key]; ok {
		return o, true, nil
	}
	return s.store.GetOutpoint(txid, vout)
}

func (s *Scanner) lookupRecord(address string) (*taint.Record, bool, error) {
	if cached, ok := s.cache.Get(address); ok {
		r := taint.Record(*cached)
		return &r, true, nil
	}
	rec, ok, err := s.store.GetRecord(address)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.cache.Add(address, (*cachedRecord)(rec))
	return rec, true, nil
}

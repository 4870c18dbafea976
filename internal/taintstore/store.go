// Package taintstore is the embedded ordered key-value store described in
// the specification's §4.2 and §6: two physical LevelDB databases — a
// "main" store for the lookup-critical tainted:/tx: keyspaces and a "scan"
// store for the much larger tainted_out: keyspace plus scan_progress and
// the seed-init flag — so each can be compacted and retained independently.
//
// Grounded on the teacher's internal/db package (Connect/Close/SaveX
// shape) but backed by github.com/syndtr/goleveldb instead of Postgres:
// the specification's Taint Store is an embedded ordered KV store, not a
// relational one (see DESIGN.md for the dropped pgx dependency).
package taintstore

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/logging"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var log = logging.NewSubsystem("STOR")

// ErrNotFound is returned by point lookups with no matching key.
var ErrNotFound = leveldb.ErrNotFound

// Store wraps the two physical LevelDB databases that back the taint
// database, per §6's on-disk layout.
type Store struct {
	main *leveldb.DB // <base>/        — tainted:, tx:
	scan *leveldb.DB // <base>/scan_progress/ — tainted_out:, scan_progress, satoshi_coinbase_initialized
}

// Open opens (creating if absent) both physical stores under basePath.
func Open(basePath string) (*Store, error) {
	mainPath := basePath
	scanPath := filepath.Join(basePath, "scan_progress")

	main, err := leveldb.OpenFile(mainPath, nil)
	if err != nil {
		return nil, err
	}
	scan, err := leveldb.OpenFile(scanPath, nil)
	if err != nil {
		main.Close()
		return nil, err
	}
	log.Infof("opened taint store at %s (main) and %s (scan)", mainPath, scanPath)
	return &Store{main: main, scan: scan}, nil
}

// Close closes both physical stores.
func (s *Store) Close() error {
	err1 := s.main.Close()
	err2 := s.scan.Close()
	return errors.Join(err1, err2)
}

// --- Main store: tainted:<address>, tx:<txid> ---------------------------

// GetRecord returns the TaintRecord for address, or ok=false if absent.
func (s *Store) GetRecord(address string) (*taint.Record, bool, error) {
	data, err := s.main.Get(taint.TaintedKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec taint.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// PutRecord writes the TaintRecord for address directly (outside a batch),
// used by the Seed Builder's seed-only writes which need no cross-keyspace
// coordination with scan_progress.
func (s *Store) PutRecord(address string, rec *taint.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.main.Put(taint.TaintedKey(address), data, nil)
}

// GetTxRecord returns the best-effort cached TxRecord for txid.
func (s *Store) GetTxRecord(txid string) (*taint.TxRecord, bool, error) {
	data, err := s.main.Get(taint.TxKey(txid), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec taint.TxRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// --- Scan store: tainted_out:<txid>:<vout>, scan_progress, seed flag ----

// GetOutpoint returns the taint state of a specific outpoint.
func (s *Store) GetOutpoint(txid string, vout uint32) (*taint.Outpoint, bool, error) {
	data, err := s.scan.Get(taint.TaintedOutKey(txid, vout), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out taint.Outpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

// PutOutpoint writes a single outpoint directly, used by the Seed Builder.
func (s *Store) PutOutpoint(txid string, vout uint32, out *taint.Outpoint) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.scan.Put(taint.TaintedOutKey(txid, vout), data, nil)
}

// GetScanProgress returns the last fully persisted block height.
func (s *Store) GetScanProgress() (*taint.ScanProgress, bool, error) {
	data, err := s.scan.Get([]byte(taint.ScanProgressKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p taint.ScanProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// PutScanProgress publishes scan_progress. Callers MUST only call this
// after every batch for the corresponding block has committed (I3), and
// MUST NOT move LastBlock backward. The scanner only publishes the height
// it has just processed, walking heights in ascending order; neither this
// primitive nor the scanner rejects a backward move.
func (s *Store) PutScanProgress(p *taint.ScanProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.scan.Put([]byte(taint.ScanProgressKey), data, nil)
}

// GetSeedInitFlag returns the Seed Builder's one-shot idempotence marker.
func (s *Store) GetSeedInitFlag() (*taint.SeedInitFlag, bool, error) {
	data, err := s.scan.Get([]byte(taint.SeedInitFlagKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f taint.SeedInitFlag
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, err
	}
	return &f, true, nil
}

// PutSeedInitFlag flips the one-shot marker from absent to present.
func (s *Store) PutSeedInitFlag(f *taint.SeedInitFlag) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.scan.Put([]byte(taint.SeedInitFlagKey), data, nil)
}

// --- Ordered range scans --------------------------------------------------

// Iterator is a minimal ordered key/value cursor over a key prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// ScanTainted iterates every tainted:<address> key in order, for tooling
// and property tests that need the full address keyspace.
func (s *Store) ScanTainted() Iterator {
	return s.main.NewIterator(util.BytesPrefix(taint.TaintedPrefix()), nil)
}

// ScanTaintedOutForTx iterates every tainted_out entry for a single txid.
func (s *Store) ScanTaintedOutForTx(txid string) Iterator {
	return s.scan.NewIterator(util.BytesPrefix(taint.TaintedOutPrefixForTx(txid)), nil)
}

// now is overridable in tests to keep property tests deterministic.
var now = time.Now

// Package taint defines the persisted entities of the taint database,
// mirroring the data model in the specification's §3. Types are JSON-tagged
// because the reference on-disk encoding is JSON (§6); a byte-compact
// encoding could replace the (de)serialization in internal/taintstore
// without changing these shapes.
package taint

import "time"

// PathHop is one edge of a witness path: funds moved from From to To
// inside transaction TxHash; Amount is the value of the output that paid To.
type PathHop struct {
	From   string `json:"from"`
	To     string `json:"to"`
	TxHash string `json:"txHash"`
	Amount int64  `json:"amount"` // satoshis
}

// Record is the best-known tainting of an address (entity TaintRecord,
// §3). Seed addresses carry Degree==0 and an empty Path.
type Record struct {
	SeedAddress string    `json:"seed_address"`
	Degree      uint32    `json:"degree"`
	Path        []PathHop `json:"path"`
	SourceTx    string    `json:"source_tx,omitempty"`
	AmountSat   int64     `json:"amount_sat"`
	LastUpdated time.Time `json:"last_updated"`
}

// IsSeed reports whether this record represents a degree-0 seed address.
func (r *Record) IsSeed() bool {
	return r != nil && r.Degree == 0 && len(r.Path) == 0
}

// Outpoint is a specific (txid, vout) whose coins are tainted (entity
// TaintedOutpoint, §3). Address is empty for non-standard scripts that
// still propagate taint without a Record.
type Outpoint struct {
	Degree      uint32 `json:"degree"`
	Address     string `json:"address,omitempty"`
	SourceBlock int64  `json:"source_block"`
}

// TxRecord is a best-effort cache of a compact transaction seen while
// spreading taint (entity TxRecord, §3). It carries no invariant; eviction
// or absence only degrades Query Service enrichment.
type TxRecord struct {
	Txid             string    `json:"txid"`
	Inputs           []TxInRef `json:"inputs"`
	Outputs          []TxOutRef `json:"outputs"`
	BlockTime        int64     `json:"block_time"`
	DegreeAtStoreTime uint32   `json:"degree_at_store_time"`
}

// TxInRef is the compact input shape stored in a TxRecord.
type TxInRef struct {
	Txid    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address,omitempty"`
	Value   int64  `json:"value"`
}

// TxOutRef is the compact output shape stored in a TxRecord.
type TxOutRef struct {
	Vout    uint32 `json:"vout"`
	Address string `json:"address,omitempty"`
	Value   int64  `json:"value"`
}

// ScanProgress is the last fully persisted block height (entity
// ScanProgress, §3). Invariant I3: LastBlock only advances after every
// effect of that block is durably committed.
type ScanProgress struct {
	LastBlock int64     `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeedInitFlag is the one-shot idempotence marker for the Seed Builder
// (entity SeedInitFlag, §3).
type SeedInitFlag struct {
	Timestamp     time.Time `json:"timestamp"`
	OutpointCount int64     `json:"outpoint_count"`
}

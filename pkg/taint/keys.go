package taint

import (
	"fmt"
	"strconv"
	"strings"
)

// Key prefixes and fixed keys, exactly as laid out in the specification's
// §6 on-disk layout. Main-store keys (TaintedKey, TxKey) and scan-store
// keys (TaintedOutKey, ScanProgressKey, SeedInitFlagKey) are disjoint by
// construction — they are written to two different physical stores, but
// the prefixes are kept distinct regardless so the invariant holds even if
// an implementation ever collapses them into one store.
const (
	taintedPrefix    = "tainted:"
	taintedOutPrefix = "tainted_out:"
	txPrefix         = "tx:"

	ScanProgressKey  = "scan_progress"
	SeedInitFlagKey  = "satoshi_coinbase_initialized"
)

// TaintedKey builds the tainted:<address> key.
func TaintedKey(address string) []byte {
	return []byte(taintedPrefix + address)
}

// TaintedAddressFromKey extracts the address from a tainted:<address> key,
// for use when scanning the address-taint keyspace by prefix.
func TaintedAddressFromKey(key []byte) string {
	return strings.TrimPrefix(string(key), taintedPrefix)
}

// TaintedPrefix returns the scan prefix for the full tainted-address
// keyspace.
func TaintedPrefix() []byte { return []byte(taintedPrefix) }

// TaintedOutKey builds the tainted_out:<txid>:<vout> key.
func TaintedOutKey(txid string, vout uint32) []byte {
	return []byte(taintedOutPrefix + txid + ":" + strconv.FormatUint(uint64(vout), 10))
}

// TaintedOutPrefixForTx returns the scan prefix covering every output of a
// single transaction, e.g. to invalidate or inspect a whole tx's outpoints.
func TaintedOutPrefixForTx(txid string) []byte {
	return []byte(taintedOutPrefix + txid + ":")
}

// TxKey builds the tx:<txid> key.
func TxKey(txid string) []byte {
	return []byte(txPrefix + txid)
}

// ParseTaintedOutKey splits a tainted_out:<txid>:<vout> key back into its
// components. Returns an error if the key is malformed.
func ParseTaintedOutKey(key []byte) (txid string, vout uint32, err error) {
	s := strings.TrimPrefix(string(key), taintedOutPrefix)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed tainted_out key: %q", key)
	}
	txid = s[:idx]
	n, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed tainted_out key %q: %w", key, err)
	}
	return txid, uint32(n), nil
}

package seed

import (
	"context"
	"fmt"
	"testing"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/bitcoinrpc"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	blocks map[int64]*bitcoinrpc.Block
}

func hashForHeight(h int64) *chainhash.Hash {
	sum := chainhash.HashH([]byte(fmt.Sprintf("block-%d", h)))
	return &sum
}

func (f *fakeNode) BlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	if _, ok := f.blocks[height]; !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return hashForHeight(height), nil
}

func (f *fakeNode) Block(ctx context.Context, hash *chainhash.Hash) (*bitcoinrpc.Block, error) {
	for h, b := range f.blocks {
		if hashForHeight(h).IsEqual(hash) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no block for hash %s", hash)
}

type fakeStore struct {
	flag      *taint.SeedInitFlag
	outpoints map[string]*taint.Outpoint
	records   map[string]*taint.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		outpoints: make(map[string]*taint.Outpoint),
		records:   make(map[string]*taint.Record),
	}
}

func (s *fakeStore) GetSeedInitFlag() (*taint.SeedInitFlag, bool, error) {
	if s.flag == nil {
		return nil, false, nil
	}
	return s.flag, true, nil
}

func (s *fakeStore) PutSeedInitFlag(f *taint.SeedInitFlag) error {
	s.flag = f
	return nil
}

func (s *fakeStore) PutOutpoint(txid string, vout uint32, out *taint.Outpoint) error {
	s.outpoints[fmt.Sprintf("%s:%d", txid, vout)] = out
	return nil
}

func (s *fakeStore) PutRecord(address string, rec *taint.Record) error {
	s.records[address] = rec
	return nil
}

func coinbaseBlock(height int64, txid string, outs ...bitcoinrpc.Out) *bitcoinrpc.Block {
	return &bitcoinrpc.Block{
		Height: height,
		Txs: []bitcoinrpc.Tx{
			{Txid: txid, Vin: []bitcoinrpc.In{{IsCoinbase: true}}, Vout: outs},
		},
	}
}

func TestBuilderSeedsCoinbaseOutputsAtEachHeight(t *testing.T) {
	node := &fakeNode{blocks: map[int64]*bitcoinrpc.Block{
		0: coinbaseBlock(0, "cb0", bitcoinrpc.Out{N: 0, ValueSat: 5000000000, Address: "genesis-addr", HasAddress: true}),
		1: coinbaseBlock(1, "cb1", bitcoinrpc.Out{N: 0, ValueSat: 5000000000, Address: "block1-addr", HasAddress: true}),
	}}
	store := newFakeStore()
	b := NewBuilder(node, store, 0)

	require.NoError(t, b.Run(context.Background(), []int64{0, 1}))

	require.Contains(t, store.outpoints, "cb0:0")
	require.Contains(t, store.outpoints, "cb1:0")
	require.Equal(t, uint32(0), store.outpoints["cb0:0"].Degree)

	require.Contains(t, store.records, "genesis-addr")
	require.True(t, store.records["genesis-addr"].IsSeed())
	require.Contains(t, store.records, "block1-addr")

	require.NotNil(t, store.flag)
	require.Equal(t, int64(2), store.flag.OutpointCount)
}

func TestBuilderSkipsAddressRecordForNonStandardScript(t *testing.T) {
	node := &fakeNode{blocks: map[int64]*bitcoinrpc.Block{
		0: coinbaseBlock(0, "cb0", bitcoinrpc.Out{N: 0, ValueSat: 5000000000, HasAddress: false}),
	}}
	store := newFakeStore()
	b := NewBuilder(node, store, 0)

	require.NoError(t, b.Run(context.Background(), []int64{0}))

	// The outpoint is still recorded as a degree-0 seed even though no
	// address decoded.
	require.Contains(t, store.outpoints, "cb0:0")
	require.Empty(t, store.outpoints["cb0:0"].Address)
	require.Empty(t, store.records)
}

func TestBuilderIsIdempotentOnceInitFlagIsSet(t *testing.T) {
	node := &fakeNode{blocks: map[int64]*bitcoinrpc.Block{
		0: coinbaseBlock(0, "cb0", bitcoinrpc.Out{N: 0, ValueSat: 1, Address: "addr", HasAddress: true}),
	}}
	store := newFakeStore()
	store.flag = &taint.SeedInitFlag{OutpointCount: 99}

	b := NewBuilder(node, store, 0)
	require.NoError(t, b.Run(context.Background(), []int64{0}))

	// Run must return immediately without touching the node or store.
	require.Empty(t, store.outpoints)
	require.Empty(t, store.records)
	require.Equal(t, int64(99), store.flag.OutpointCount)
}

package scanner

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/bitcoinrpc"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/taintstore"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// fakeNode is a synthetic chain the scanner's acceptance scenarios drive
// directly, without a real Bitcoin Core node — mirroring the specification's
// §8 acceptance scenarios 3-6.
type fakeNode struct {
	blocks map[int64]*bitcoinrpc.Block
	tip    int64
}

func newFakeNode() *fakeNode {
	return &fakeNode{blocks: make(map[int64]*bitcoinrpc.Block)}
}

func hashForHeight(h int64) *chainhash.Hash {
	sum := chainhash.HashH([]byte(fmt.Sprintf("block-%d", h)))
	return &sum
}

func (f *fakeNode) add(height int64, block *bitcoinrpc.Block) {
	f.blocks[height] = block
	if height > f.tip {
		f.tip = height
	}
}

func (f *fakeNode) Tip(ctx context.Context) (int64, error) { return f.tip, nil }

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

func newTestScanner(t *testing.T, node NodeClient) (*Scanner, *taintstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := taintstore.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sc, err := New(node, store, Config{ParentCacheMax: 16})
	require.NoError(t, err)
	return sc, store
}

func seedAddress(t *testing.T, store *taintstore.Store, address string) {
	t.Helper()
	require.NoError(t, store.PutRecord(address, &taint.Record{SeedAddress: address, Degree: 0}))
}

func seedOutpoint(address string) *taint.Outpoint {
	return &taint.Outpoint{Degree: 0, Address: address, SourceBlock: 0}
}

func TestDirectRecipient(t *testing.T) {
	// Acceptance scenario 3: a single transaction spends a degree-0 seed
	// outpoint and pays one new address A. Expect degree=1, path length 1.
	const seed = "seed-addr"
	const coinbaseTxid = "coinbase-tx"

	node := newFakeNode()
	sc, store := newTestScanner(t, node)

	require.NoError(t, store.PutOutpoint(coinbaseTxid, 0, seedOutpoint(seed)))
	seedAddress(t, store, seed)

	block1 := &bitcoinrpc.Block{
		Height: 1,
		Time:   1000,
		Txs: []bitcoinrpc.Tx{
			{
				Txid: "tx1",
				Vin:  []bitcoinrpc.In{{PrevTxid: coinbaseTxid, PrevVout: 0, PrevAddress: seed, HasAddress: true}},
				Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 5000, Address: "A", HasAddress: true}},
			},
		},
	}
	node.add(1, block1)

	require.NoError(t, sc.processBlock(context.Background(), 1))

	rec, ok, err := store.GetRecord("A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), rec.Degree)
	require.Len(t, rec.Path, 1)
	require.Equal(t, seed, rec.Path[0].From)
	require.Equal(t, "A", rec.Path[0].To)
}

func TestTwoHop(t *testing.T) {
	// Acceptance scenario 4: a second block spends scenario 3's output to B.
	const seed = "seed-addr"
	const coinbaseTxid = "coinbase-tx"

	node := newFakeNode()
	sc, store := newTestScanner(t, node)

	require.NoError(t, store.PutOutpoint(coinbaseTxid, 0, seedOutpoint(seed)))
	seedAddress(t, store, seed)

	node.add(1, &bitcoinrpc.Block{
		Height: 1,
		Txs: []bitcoinrpc.Tx{{
			Txid: "tx1",
			Vin:  []bitcoinrpc.In{{PrevTxid: coinbaseTxid, PrevVout: 0, PrevAddress: seed, HasAddress: true}},
			Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 5000, Address: "A", HasAddress: true}},
		}},
	})
	node.add(2, &bitcoinrpc.Block{
		Height: 2,
		Txs: []bitcoinrpc.Tx{{
			Txid: "tx2",
			Vin:  []bitcoinrpc.In{{PrevTxid: "tx1", PrevVout: 0, PrevAddress: "A", HasAddress: true}},
			Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 4500, Address: "B", HasAddress: true}},
		}},
	})

	require.NoError(t, sc.processBlock(context.Background(), 1))
	require.NoError(t, sc.processBlock(context.Background(), 2))

	rec, ok, err := store.GetRecord("B")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), rec.Degree)
	require.Len(t, rec.Path, 2)
	require.Equal(t, seed, rec.Path[0].From)
	require.Equal(t, "A", rec.Path[1].From)
	require.Equal(t, "B", rec.Path[1].To)
}

func TestShorterPathUpgrade(t *testing.T) {
	// Acceptance scenario 5: after the two-hop scenario, a third block
	// spends the ORIGINAL seed outpoint directly to B. B's degree must
	// drop to 1 (I2: degree only ever decreases on replay/new evidence).
	const seed = "seed-addr"
	const coinbaseTxid = "coinbase-tx"

	node := newFakeNode()
	sc, store := newTestScanner(t, node)

	require.NoError(t, store.PutOutpoint(coinbaseTxid, 0, seedOutpoint(seed)))
	seedAddress(t, store, seed)

	node.add(1, &bitcoinrpc.Block{Height: 1, Txs: []bitcoinrpc.Tx{{
		Txid: "tx1",
		Vin:  []bitcoinrpc.In{{PrevTxid: coinbaseTxid, PrevVout: 0, PrevAddress: seed, HasAddress: true}},
		Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 5000, Address: "A", HasAddress: true}},
	}}})
	node.add(2, &bitcoinrpc.Block{Height: 2, Txs: []bitcoinrpc.Tx{{
		Txid: "tx2",
		Vin:  []bitcoinrpc.In{{PrevTxid: "tx1", PrevVout: 0, PrevAddress: "A", HasAddress: true}},
		Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 4500, Address: "B", HasAddress: true}},
	}}})
	node.add(3, &bitcoinrpc.Block{Height: 3, Txs: []bitcoinrpc.Tx{{
		Txid: "tx3",
		Vin:  []bitcoinrpc.In{{PrevTxid: coinbaseTxid, PrevVout: 0, PrevAddress: seed, HasAddress: true}},
		Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 100, Address: "B", HasAddress: true}},
	}}})

	require.NoError(t, sc.processBlock(context.Background(), 1))
	require.NoError(t, sc.processBlock(context.Background(), 2))
	require.NoError(t, sc.processBlock(context.Background(), 3))

	rec, ok, err := store.GetRecord("B")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), rec.Degree)
	require.Len(t, rec.Path, 1)
	require.Equal(t, seed, rec.Path[0].From)
}

func TestIntraBlockChain(t *testing.T) {
	// Acceptance scenario 6: one block contains T1 spending a seed
	// outpoint to X, and T2 spending T1's output to Y, in the same block.
	const seed = "seed-addr"
	const coinbaseTxid = "coinbase-tx"

	node := newFakeNode()
	sc, store := newTestScanner(t, node)

	require.NoError(t, store.PutOutpoint(coinbaseTxid, 0, seedOutpoint(seed)))
	seedAddress(t, store, seed)

	node.add(1, &bitcoinrpc.Block{Height: 1, Txs: []bitcoinrpc.Tx{
		{
			Txid: "t1",
			Vin:  []bitcoinrpc.In{{PrevTxid: coinbaseTxid, PrevVout: 0, PrevAddress: seed, HasAddress: true}},
			Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 5000, Address: "X", HasAddress: true}},
		},
		{
			Txid: "t2",
			Vin:  []bitcoinrpc.In{{PrevTxid: "t1", PrevVout: 0, PrevAddress: "X", HasAddress: true}},
			Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 4900, Address: "Y", HasAddress: true}},
		},
	}})

	require.NoError(t, sc.processBlock(context.Background(), 1))

	recX, ok, err := store.GetRecord("X")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), recX.Degree)

	recY, ok, err := store.GetRecord("Y")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), recY.Degree)
}

func TestTaintingViaSeedOutputIgnoresInputs(t *testing.T) {
	// A transaction with no tainted inputs, but whose output pays a known
	// seed address directly (e.g. the seed address receives change back
	// from an otherwise-untainted transaction), taints at degree 0 with an
	// empty path, just like the seed record itself.
	const seed = "seed-addr"

	node := newFakeNode()
	sc, store := newTestScanner(t, node)
	seedAddress(t, store, seed)

	node.add(1, &bitcoinrpc.Block{Height: 1, Txs: []bitcoinrpc.Tx{{
		Txid: "tx1",
		Vin:  []bitcoinrpc.In{{PrevTxid: "untracked-tx", PrevVout: 0, PrevAddress: "stranger", HasAddress: true}},
		Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 1000, Address: seed, HasAddress: true}},
	}}})

	require.NoError(t, sc.processBlock(context.Background(), 1))

	out, ok, err := store.GetOutpoint("tx1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), out.Degree)
}

func TestUntaintedTransactionProducesNoOutpoints(t *testing.T) {
	node := newFakeNode()
	sc, store := newTestScanner(t, node)

	node.add(1, &bitcoinrpc.Block{Height: 1, Txs: []bitcoinrpc.Tx{{
		Txid: "tx1",
		Vin:  []bitcoinrpc.In{{PrevTxid: "untracked-tx", PrevVout: 0, PrevAddress: "stranger", HasAddress: true}},
		Vout: []bitcoinrpc.Out{{N: 0, ValueSat: 1000, Address: "uninvolved", HasAddress: true}},
	}}})

	require.NoError(t, sc.processBlock(context.Background(), 1))

	_, ok, err := store.GetOutpoint("tx1", 0)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.GetRecord("uninvolved")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

// Package query is the Query Service of the specification's §4.5: a
// read-only, many-reader lookup against the taint store, independent of
// the scanner's liveness. Grounded on the teacher's internal/api request
// handlers for its wall-clock-bounded read pattern, but serving the
// taint-check contract instead of CoinJoin investigation data.
package query

import (
	"context"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/logging"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/taintstore"
	"github.com/MikelCalvo/TaintedBySatoshi/pkg/taint"
)

var log = logging.NewSubsystem("QURY")

// Kind discriminates the three shapes of a Check result (§4.5).
type Kind int

const (
	KindUnconnected Kind = iota
	KindSeed
	KindTainted
)

// TxView is the best-effort resolution of a path hop's transaction,
// falling back to {hash, amount} from the path itself when no tx: cache
// entry exists.
type TxView struct {
	Hash   string `json:"hash"`
	Amount int64  `json:"amount"`
}

// Result is the Query Service's check(address) return value.
type Result struct {
	Kind Kind `json:"-"`

	Note string `json:"note,omitempty"`

	Degree       uint32        `json:"degree,omitempty"`
	Path         []taint.PathHop `json:"path,omitempty"`
	Transactions []TxView      `json:"transactions,omitempty"`
}

// Service runs Check against a taint store, bounding every lookup to a
// configured wall-clock timeout so a pathological store stall can't hang
// a caller indefinitely (§4.5: "wall-clock bounded, e.g. 15s").
type Service struct {
	store   *taintstore.Store
	timeout time.Duration
}

// New constructs a Service. timeout<=0 uses the specification's 15s default.
func New(store *taintstore.Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{store: store, timeout: timeout}
}

// Check resolves a single address against the taint store.
func (s *Service) Check(ctx context.Context, address string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type lookup struct {
		rec *taint.Record
		ok  bool
		err error
	}
	done := make(chan lookup, 1)
	go func() {
		rec, ok, err := s.store.GetRecord(address)
		done <- lookup{rec, ok, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if !r.ok {
			return &Result{Kind: KindUnconnected}, nil
		}
		if r.rec.IsSeed() {
			return &Result{Kind: KindSeed, Note: "Satoshi-attributed seed address"}, nil
		}
		return s.resolveTainted(ctx, r.rec), nil
	}
}

// resolveTainted fills in Transactions by best-effort tx: cache lookups,
// falling back to {hash, amount} from the path hop itself (§4.5).
func (s *Service) resolveTainted(ctx context.Context, rec *taint.Record) *Result {
	txs := make([]TxView, 0, len(rec.Path))
hops:
	for _, hop := range rec.Path {
		select {
		case <-ctx.Done():
			break hops
		default:
		}
		if cached, ok, err := s.store.GetTxRecord(hop.TxHash); err == nil && ok {
			amount := hop.Amount
			for _, out := range cached.Outputs {
				if out.Address == hop.To {
					amount = out.Value
					break
				}
			}
			txs = append(txs, TxView{Hash: hop.TxHash, Amount: amount})
			continue
		}
		txs = append(txs, TxView{Hash: hop.TxHash, Amount: hop.Amount})
	}

	return &Result{
		Kind:         KindTainted,
		Degree:       rec.Degree,
		Path:         rec.Path,
		Transactions: txs,
	}
}

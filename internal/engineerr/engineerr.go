// Package engineerr classifies the error kinds spec'd for the taint engine
// (§7 of the specification) as sentinel values usable with errors.Is, so
// callers can branch on kind instead of matching error strings.
package engineerr

import "errors"

// Kind identifies how a caller should react to an error.
type Kind int

const (
	// KindTransient covers RPC timeouts, HTTP 5xx, connection resets, and
	// store batch commit failures. Retried with backoff at the call site.
	KindTransient Kind = iota
	// KindBlockLocal means a single block failed processing after its
	// transient retries were exhausted. The block is retried on the next
	// scanner tick; scan_progress is not advanced.
	KindBlockLocal
	// KindNodePolicy is fatal at startup: initial block download, missing
	// txindex, wrong chain.
	KindNodePolicy
	// KindData covers legitimate-but-unusual data shapes, e.g. a missing
	// prevout on a non-coinbase input. Surfaced at warn level, non-fatal.
	KindData
	// KindInvariant means a correctness invariant was violated (seed
	// overwrite, backward scan_progress, degree increase). Fatal; aborts
	// the scanner.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBlockLocal:
		return "block-local"
	case KindNodePolicy:
		return "node-policy"
	case KindData:
		return "data"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// classified wraps an underlying error with a Kind so it can be matched
// with errors.Is(err, engineerr.Transient) etc. while still unwrapping to
// the original cause.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.kind.String() + ": " + c.err.Error() }
func (c *classified) Unwrap() error { return c.err }
func (c *classified) Is(target error) bool {
	t, ok := target.(*classified)
	return ok && t.kind == c.kind
}

// Sentinel markers for errors.Is comparisons; their wrapped error is nil
// and only the Kind is compared (see classified.Is).
var (
	Transient   = &classified{kind: KindTransient}
	BlockLocal  = &classified{kind: KindBlockLocal}
	NodePolicy  = &classified{kind: KindNodePolicy}
	Data        = &classified{kind: KindData}
	Invariant   = &classified{kind: KindInvariant}
)

// Wrap annotates err with kind so errors.Is(result, engineerr.Transient)
// (for example) succeeds.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// KindOf returns the Kind of err if it (or something it wraps) was
// produced by Wrap, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var c *classified
	if errors.As(err, &c) {
		return c.kind, true
	}
	return 0, false
}

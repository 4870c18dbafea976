package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapIsMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := Wrap(KindTransient, cause)

	require.True(t, errors.Is(err, Transient))
	require.False(t, errors.Is(err, Invariant))
	require.True(t, errors.Is(err, cause))
}

func TestWrapUnwrapsToOriginalCause(t *testing.T) {
	cause := errors.New("store corrupted")
	err := Wrap(KindData, fmt.Errorf("reading record: %w", cause))

	require.True(t, errors.Is(err, cause))
}

func TestWrapNilReturnsNil(t *testing.T) {
	require.NoError(t, Wrap(KindTransient, nil))
}

func TestKindOfRecoversTheWrappedKind(t *testing.T) {
	err := fmt.Errorf("context: %w", Wrap(KindInvariant, errors.New("degree decreased")))

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInvariant, kind)
}

func TestKindOfFalseForUnclassifiedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	require.False(t, ok)
}

func TestKindStringNames(t *testing.T) {
	cases := map[Kind]string{
		KindTransient:  "transient",
		KindBlockLocal: "block-local",
		KindNodePolicy: "node-policy",
		KindData:       "data",
		KindInvariant:  "invariant",
	}
	for k, want := range cases {
		require.Equal(t, want, k.String())
	}
}

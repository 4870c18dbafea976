package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastDropsWhenChannelFull(t *testing.T) {
	h := NewHub()

	// The broadcast channel is buffered at 256; fill it without a reader
	// draining (Run is not started) and confirm Broadcast never blocks.
	for i := 0; i < 256; i++ {
		h.Broadcast([]byte("event"))
	}
	require.Len(t, h.broadcast, 256)

	// One more must be dropped, not block the caller.
	h.Broadcast([]byte("overflow"))
	require.Len(t, h.broadcast, 256)
}

func TestNewHubStartsWithNoClients(t *testing.T) {
	h := NewHub()
	require.Empty(t, h.clients)
}

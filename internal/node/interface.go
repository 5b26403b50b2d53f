/*

This file defines the node.Source interface, the pipeline's only view of the
Lightning node. The live implementation speaks lnd gRPC; tests substitute a
fake.

*/

package node

import (
	"context"
	"time"

	"github.com/routerlab/autofee/internal/types"
)

// Forward is one settled outgoing forward as reported by the node, before
// any true-fee reconstruction.
type Forward struct {
	ChanIDOut  types.ChannelID
	Timestamp  time.Time
	AmtOutMsat int64
	FeeMsat    int64
}

// Source provides the channel inventory and the forwarding feed.
type Source interface {
	// ListChannels returns every open channel with its current local policy
	// and the peer's advertised fee rate.
	ListChannels(ctx context.Context) ([]types.Channel, error)

	// ForwardingEvents returns settled forwards with timestamp strictly
	// greater than the given unix time (seconds), oldest first.
	ForwardingEvents(ctx context.Context, sinceUnix int64) ([]Forward, error)

	// LocalPubkey returns the node's identity pubkey.
	LocalPubkey(ctx context.Context) (string, error)
}

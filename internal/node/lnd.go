/*

This file implements node.Source against lnd's gRPC API. The connection is
dialed once at startup and shared for the life of the process; the macaroon
rides along as per-RPC credentials.

*/

package node

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/routerlab/autofee/internal/config"
	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/types"
)

const (
	maxGRPCMsgSize   = 32 * 1024 * 1024
	forwardsPageSize = 5000
	maxForwardPages  = 200
)

type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

// Dial opens the gRPC connection to lnd using the configured TLS cert and
// macaroon. The caller owns the connection.
func Dial(ctx context.Context) (*grpc.ClientConn, error) {
	tlsCert, err := os.ReadFile(config.NodeTLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read node TLS cert: %w", err)
	}
	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM(tlsCert); !ok {
		return nil, fmt.Errorf("failed to parse node TLS cert")
	}

	macBytes, err := os.ReadFile(config.NodeMacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read node macaroon: %w", err)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(certPool, "")),
		grpc.WithPerRPCCredentials(macaroonCredential{hex.EncodeToString(macBytes)}),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxGRPCMsgSize)),
	}

	conn, err := grpc.DialContext(ctx, config.NodeGRPC, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node at %s: %w", config.NodeGRPC, err)
	}
	return conn, nil
}

// LndSource implements Source against a live lnd node.
type LndSource struct {
	client lnrpc.LightningClient
}

// NewLndSource wraps an established gRPC connection.
func NewLndSource(conn *grpc.ClientConn) *LndSource {
	return &LndSource{client: lnrpc.NewLightningClient(conn)}
}

// LocalPubkey returns the node's identity pubkey.
func (s *LndSource) LocalPubkey(ctx context.Context) (string, error) {
	info, err := s.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to get node info: %w", err)
	}
	return info.IdentityPubkey, nil
}

// ListChannels returns every open channel. The local policy and the peer's
// fee rate come from the channel graph; a channel whose edge is not yet in
// the graph is returned with zero policy fields rather than dropped.
func (s *LndSource) ListChannels(ctx context.Context) ([]types.Channel, error) {
	log := logger.GetForComponent("node")

	resp, err := s.client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	channels := make([]types.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out := types.Channel{
			ID:           types.ChannelID(ch.ChanId),
			RemotePubkey: ch.RemotePubkey,
			Capacity:     ch.Capacity,
			LocalBalance: ch.LocalBalance,
			Active:       ch.Active,
		}

		edge, err := s.client.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{ChanId: ch.ChanId})
		if err != nil {
			log.Warn().Err(err).Uint64("chan_id", ch.ChanId).Msg("Channel edge not in graph yet, policy fields zeroed")
			channels = append(channels, out)
			continue
		}

		localPolicy := edge.Node1Policy
		remotePolicy := edge.Node2Policy
		if edge.Node1Pub == ch.RemotePubkey {
			localPolicy = edge.Node2Policy
			remotePolicy = edge.Node1Policy
		}
		if localPolicy != nil {
			out.PolicyKnown = true
			out.LocalFeePpm = localPolicy.FeeRateMilliMsat
			out.LocalBaseFeeMsat = localPolicy.FeeBaseMsat
			out.LocalInboundFeePpm = int64(localPolicy.InboundFeeRateMilliMsat)
		}
		if remotePolicy != nil {
			out.RemoteFeePpm = remotePolicy.FeeRateMilliMsat
		}

		channels = append(channels, out)
	}

	return channels, nil
}

// ForwardingEvents pages through lnd's forwarding history from sinceUnix
// (exclusive) to now. Only forwards are returned; the caller attributes them
// to channels and reconstructs fees.
func (s *LndSource) ForwardingEvents(ctx context.Context, sinceUnix int64) ([]Forward, error) {
	log := logger.GetForComponent("node")

	if sinceUnix < 0 {
		sinceUnix = 0
	}

	var forwards []Forward
	var offset uint32
	for page := 0; page < maxForwardPages; page++ {
		resp, err := s.client.ForwardingHistory(ctx, &lnrpc.ForwardingHistoryRequest{
			StartTime:    uint64(sinceUnix + 1),
			NumMaxEvents: forwardsPageSize,
			IndexOffset:  offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch forwarding history: %w", err)
		}

		for _, ev := range resp.ForwardingEvents {
			ts := time.Unix(0, int64(ev.TimestampNs))
			if ev.TimestampNs == 0 {
				ts = time.Unix(int64(ev.Timestamp), 0)
			}
			forwards = append(forwards, Forward{
				ChanIDOut:  types.ChannelID(ev.ChanIdOut),
				Timestamp:  ts,
				AmtOutMsat: int64(ev.AmtOutMsat),
				FeeMsat:    int64(ev.FeeMsat),
			})
		}

		if len(resp.ForwardingEvents) < forwardsPageSize {
			break
		}
		offset = resp.LastOffsetIndex
	}

	log.Debug().Int("count", len(forwards)).Int64("since", sinceUnix).Msg("Fetched forwarding events")
	return forwards, nil
}

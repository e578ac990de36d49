package nft

import (
	"context"

	"github.com/mdlayher/netlink"
)

// Transport moves raw netlink datagrams between Conn and the kernel.
// SocketTransport is the production implementation; tests substitute a
// fake that answers batches in memory.
type Transport interface {
	// Send writes one datagram, which may hold several messages.
	Send(ctx context.Context, b []byte) error
	// Receive reads one datagram and splits it into messages. Error
	// replies must keep their sequence numbers.
	Receive(ctx context.Context) ([]netlink.Message, error)
	Close() error
}

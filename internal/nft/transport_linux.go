//go:build linux

package nft

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/socket"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// SocketTransport is a NETLINK_NETFILTER socket. Unlike netlink.Conn it
// hands error replies back as messages, so commit can map them to the
// message that failed.
type SocketTransport struct {
	c   *socket.Conn
	pid uint32
}

// DialSocket opens a NETLINK_NETFILTER socket. A non-empty namespace is
// either a name under /var/run/netns or an absolute path to a namespace
// file; the socket then operates in that namespace.
func DialSocket(namespace string) (*SocketTransport, error) {
	var cfg socket.Config
	if namespace != "" {
		var (
			h   netns.NsHandle
			err error
		)
		if strings.HasPrefix(namespace, "/") {
			h, err = netns.GetFromPath(namespace)
		} else {
			h, err = netns.GetFromName(namespace)
		}
		if err != nil {
			return nil, fmt.Errorf("open network namespace %q: %w", namespace, err)
		}
		defer h.Close()
		cfg.NetNS = int(h)
	}

	c, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_NETFILTER, "nftwire", &cfg)
	if err != nil {
		return nil, &TransportError{Op: "socket", Err: err}
	}
	if err := c.Bind(&unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		_ = c.Close()
		return nil, &TransportError{Op: "bind", Err: err}
	}
	sa, err := c.Getsockname()
	if err != nil {
		_ = c.Close()
		return nil, &TransportError{Op: "getsockname", Err: err}
	}

	t := &SocketTransport{c: c}
	if nsa, ok := sa.(*unix.SockaddrNetlink); ok {
		t.pid = nsa.Pid
	}
	// Large dumps arrive faster than they are read; give the kernel room.
	_ = c.SetReadBuffer(1 << 20)
	return t, nil
}

// PID returns the port id the kernel assigned to the socket.
func (t *SocketTransport) PID() uint32 { return t.pid }

// Send implements Transport.
func (t *SocketTransport) Send(ctx context.Context, b []byte) error {
	_, err := t.c.Sendmsg(ctx, b, nil, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, 0)
	return err
}

// Receive implements Transport. It peeks first to size the buffer so that
// no datagram is truncated.
func (t *SocketTransport) Receive(ctx context.Context) ([]netlink.Message, error) {
	b := make([]byte, os.Getpagesize())
	for {
		n, _, _, _, err := t.c.Recvmsg(ctx, b, nil, unix.MSG_PEEK|unix.MSG_TRUNC)
		if err != nil {
			return nil, err
		}
		if n <= len(b) {
			break
		}
		b = make([]byte, n)
	}

	n, _, _, _, err := t.c.Recvmsg(ctx, b, nil, 0)
	if err != nil {
		return nil, err
	}
	return ParseMessages(b[:n])
}

// Close implements Transport.
func (t *SocketTransport) Close() error {
	return t.c.Close()
}

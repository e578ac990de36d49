package nft

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/stretchr/testify/mock"
	"golang.org/x/sys/unix"
)

// FakeTransport is an in-memory kernel for tests. Every datagram passed to
// Send is parsed and answered the way nfnetlink does; Receive returns the
// answers one datagram at a time.
type FakeTransport struct {
	mu      sync.Mutex
	sent    [][]netlink.Message
	replies [][]netlink.Message
	closed  bool

	// Reject is asked about every message except batch markers. A
	// non-zero errno is sent back instead of an ack.
	Reject func(m netlink.Message) syscall.Errno
	// Objects answers GET requests. Dumps are terminated with NLMSG_DONE,
	// single gets with an ack.
	Objects func(req netlink.Message) []netlink.Message
	// Extra datagrams queued before the answers to the next Send.
	Noise [][]netlink.Message
	// Abort makes the kernel refuse the next batch as a whole: the begin
	// marker is answered with this errno and nothing after it is.
	Abort syscall.Errno

	SendErr    error
	ReceiveErr error
}

// NewFakeTransport returns a FakeTransport that accepts everything.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// Send implements Transport.
func (f *FakeTransport) Send(ctx context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("transport closed")
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	msgs, err := ParseMessages(append([]byte(nil), b...))
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msgs)
	f.replies = append(f.replies, f.Noise...)
	f.Noise = nil
	if f.Abort != 0 && len(msgs) > 0 && uint16(msgs[0].Header.Type) == unix.NFNL_MSG_BATCH_BEGIN {
		f.replies = append(f.replies, []netlink.Message{ErrorReply(msgs[0], f.Abort)})
		f.Abort = 0
		return nil
	}
	for _, m := range msgs {
		f.replies = append(f.replies, f.answer(m)...)
	}
	return nil
}

func (f *FakeTransport) answer(m netlink.Message) [][]netlink.Message {
	typ := uint16(m.Header.Type)
	if typ == unix.NFNL_MSG_BATCH_BEGIN || typ == unix.NFNL_MSG_BATCH_END {
		if m.Header.Flags&netlink.Acknowledge != 0 {
			return [][]netlink.Message{{ErrorReply(m, 0)}}
		}
		return nil
	}

	if f.Reject != nil {
		if errno := f.Reject(m); errno != 0 {
			return [][]netlink.Message{{ErrorReply(m, errno)}}
		}
	}

	var out [][]netlink.Message
	if f.Objects != nil && isGet(typ) {
		for _, obj := range f.Objects(m) {
			obj.Header.Sequence = m.Header.Sequence
			out = append(out, []netlink.Message{obj})
		}
	}
	switch {
	case m.Header.Flags&netlink.Dump == netlink.Dump:
		out = append(out, []netlink.Message{{
			Header: netlink.Header{Length: nlmsgHdrLen + 4, Type: netlink.Done, Flags: netlink.Multi, Sequence: m.Header.Sequence},
			Data:   nlenc.Int32Bytes(0),
		}})
	case m.Header.Flags&netlink.Acknowledge != 0:
		out = append(out, []netlink.Message{ErrorReply(m, 0)})
	}
	return out
}

func isGet(typ uint16) bool {
	switch typ & 0xff {
	case unix.NFT_MSG_GETTABLE, unix.NFT_MSG_GETCHAIN, unix.NFT_MSG_GETRULE, unix.NFT_MSG_GETSET, unix.NFT_MSG_GETSETELEM:
		return true
	}
	return false
}

// Receive implements Transport.
func (f *FakeTransport) Receive(ctx context.Context) ([]netlink.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReceiveErr != nil {
		return nil, f.ReceiveErr
	}
	if len(f.replies) == 0 {
		// A real socket would block here.
		return nil, errors.New("no pending replies")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next, nil
}

// Close implements Transport.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Sent returns every datagram passed to Send, parsed.
func (f *FakeTransport) Sent() [][]netlink.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]netlink.Message(nil), f.sent...)
}

// LastSent returns the messages of the last datagram, or nil.
func (f *FakeTransport) LastSent() []netlink.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// ErrorReply builds the NLMSG_ERROR message the kernel sends for m. Zero
// errno is an ack.
func ErrorReply(m netlink.Message, errno syscall.Errno) netlink.Message {
	data := nlenc.Int32Bytes(-int32(errno))
	hdr := make([]byte, nlmsgHdrLen)
	nlenc.PutUint32(hdr[0:4], m.Header.Length)
	nlenc.PutUint16(hdr[4:6], uint16(m.Header.Type))
	nlenc.PutUint16(hdr[6:8], uint16(m.Header.Flags))
	nlenc.PutUint32(hdr[8:12], m.Header.Sequence)
	nlenc.PutUint32(hdr[12:16], m.Header.PID)
	data = append(data, hdr...)
	return netlink.Message{
		Header: netlink.Header{Length: msgLen(data), Type: netlink.Error, Sequence: m.Header.Sequence},
		Data:   data,
	}
}

// MockRecorder is a testify mock of Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveCommit(result string, bytes int, d time.Duration) {
	m.Called(result, bytes, d)
}

func (m *MockRecorder) CountMessage(kind, op string) {
	m.Called(kind, op)
}

func (m *MockRecorder) CountRejection(kind, errno string) {
	m.Called(kind, errno)
}

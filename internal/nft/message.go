package nft

import (
	"encoding/binary"
	"fmt"
	"strings"
	"syscall"

	"github.com/google/nftables/binaryutil"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// ObjectKind is the kind of object a message carries.
type ObjectKind uint8

const (
	KindTable ObjectKind = iota + 1
	KindChain
	KindRule
	KindSet
	KindSetElements
	KindBatchBegin
	KindBatchEnd
)

func (k ObjectKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindChain:
		return "chain"
	case KindRule:
		return "rule"
	case KindSet:
		return "set"
	case KindSetElements:
		return "element"
	case KindBatchBegin:
		return "batch-begin"
	case KindBatchEnd:
		return "batch-end"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Op is the operation a message requests.
type Op uint8

const (
	// OpAdd creates the object or leaves an existing one alone. Rules are
	// appended to their chain (or after Position).
	OpAdd Op = iota
	// OpCreate fails with EEXIST if the object exists.
	OpCreate
	// OpInsert prepends a rule (or inserts before Position).
	OpInsert
	// OpReplace replaces the rule with the given handle.
	OpReplace
	OpDelete
	OpGet
	// OpFlush removes the contents of a table, chain or set.
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpCreate:
		return "create"
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpGet:
		return "get"
	case OpFlush:
		return "flush"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// MessageRef identifies the object a message was built from. Kernel
// replies are mapped back to it by sequence number.
type MessageRef struct {
	Seq    uint32
	Kind   ObjectKind
	Op     Op
	Family Family
	Table  string
	Chain  string
	Set    string
	Handle uint64
}

// String renders the reference in nft(8) command style, e.g.
// "add rule inet filter input".
func (r MessageRef) String() string {
	if r.Kind == KindBatchBegin || r.Kind == KindBatchEnd {
		return r.Kind.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s", r.Op, r.Kind, r.Family, r.Table)
	if r.Chain != "" {
		b.WriteString(" " + r.Chain)
	}
	if r.Set != "" {
		b.WriteString(" " + r.Set)
	}
	if r.Handle != 0 {
		fmt.Fprintf(&b, " handle %d", r.Handle)
	}
	return b.String()
}

// Payload is an encoded object ready to be framed.
type Payload struct {
	Ref   MessageRef
	Attrs []byte
}

// Encoder is implemented by every object that can be placed in a batch.
type Encoder interface {
	Encode(op Op) (*Payload, error)
}

type msgKey struct {
	kind ObjectKind
	op   Op
}

var msgTypes = map[msgKey]uint16{
	{KindTable, OpAdd}:    unix.NFT_MSG_NEWTABLE,
	{KindTable, OpCreate}: unix.NFT_MSG_NEWTABLE,
	{KindTable, OpDelete}: unix.NFT_MSG_DELTABLE,
	{KindTable, OpGet}:    unix.NFT_MSG_GETTABLE,
	{KindTable, OpFlush}:  unix.NFT_MSG_DELRULE,

	{KindChain, OpAdd}:    unix.NFT_MSG_NEWCHAIN,
	{KindChain, OpCreate}: unix.NFT_MSG_NEWCHAIN,
	{KindChain, OpDelete}: unix.NFT_MSG_DELCHAIN,
	{KindChain, OpGet}:    unix.NFT_MSG_GETCHAIN,
	{KindChain, OpFlush}:  unix.NFT_MSG_DELRULE,

	{KindRule, OpAdd}:     unix.NFT_MSG_NEWRULE,
	{KindRule, OpCreate}:  unix.NFT_MSG_NEWRULE,
	{KindRule, OpInsert}:  unix.NFT_MSG_NEWRULE,
	{KindRule, OpReplace}: unix.NFT_MSG_NEWRULE,
	{KindRule, OpDelete}:  unix.NFT_MSG_DELRULE,
	{KindRule, OpGet}:     unix.NFT_MSG_GETRULE,

	{KindSet, OpAdd}:    unix.NFT_MSG_NEWSET,
	{KindSet, OpCreate}: unix.NFT_MSG_NEWSET,
	{KindSet, OpDelete}: unix.NFT_MSG_DELSET,
	{KindSet, OpGet}:    unix.NFT_MSG_GETSET,
	{KindSet, OpFlush}:  unix.NFT_MSG_DELSETELEM,

	{KindSetElements, OpAdd}:    unix.NFT_MSG_NEWSETELEM,
	{KindSetElements, OpCreate}: unix.NFT_MSG_NEWSETELEM,
	{KindSetElements, OpDelete}: unix.NFT_MSG_DELSETELEM,
	{KindSetElements, OpGet}:    unix.NFT_MSG_GETSETELEM,
}

// supports reports whether the kind accepts the operation.
func supports(kind ObjectKind, op Op) bool {
	_, ok := msgTypes[msgKey{kind, op}]
	return ok
}

// MessageType returns the netlink message type for kind and op.
func MessageType(kind ObjectKind, op Op) (netlink.HeaderType, error) {
	t, ok := msgTypes[msgKey{kind, op}]
	if !ok {
		return 0, fmt.Errorf("%s does not support %s", kind, op)
	}
	return netlink.HeaderType(unix.NFNL_SUBSYS_NFTABLES<<8 | t), nil
}

// MessageFlags returns the header flags for kind and op.
func MessageFlags(kind ObjectKind, op Op) netlink.HeaderFlags {
	flags := netlink.Request | netlink.Acknowledge
	switch op {
	case OpAdd:
		flags |= netlink.Create
	case OpCreate:
		flags |= netlink.Create | netlink.Excl
	case OpInsert:
		flags |= netlink.Create
	case OpReplace:
		flags |= netlink.Replace
	}
	if kind == KindRule && (op == OpAdd || op == OpCreate) {
		flags |= netlink.Append
	}
	return flags
}

// Frame wraps p into a complete message with sequence number seq.
func Frame(p *Payload, seq uint32) (netlink.Message, error) {
	return frame(p, seq, MessageFlags(p.Ref.Kind, p.Ref.Op))
}

func frame(p *Payload, seq uint32, flags netlink.HeaderFlags) (netlink.Message, error) {
	typ, err := MessageType(p.Ref.Kind, p.Ref.Op)
	if err != nil {
		return netlink.Message{}, err
	}
	data := append(genmsg(p.Ref.Family, 0), p.Attrs...)
	return netlink.Message{
		Header: netlink.Header{
			Length:   msgLen(data),
			Type:     typ,
			Flags:    flags,
			Sequence: seq,
		},
		Data: data,
	}, nil
}

// genmsg builds the struct nfgenmsg that starts every nfnetlink payload.
func genmsg(family Family, resID uint16) []byte {
	return append([]byte{byte(family), unix.NFNETLINK_V0}, binaryutil.BigEndian.PutUint16(resID)...)
}

const (
	genmsgLen    = 4
	nlmsgHdrLen  = 16
	nlmsgAlignTo = 4
)

func nlmsgAlign(n int) int {
	return (n + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

func msgLen(data []byte) uint32 {
	return uint32(nlmsgAlign(nlmsgHdrLen + len(data)))
}

func newEncoder() *netlink.AttributeEncoder {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian
	return ae
}

func newDecoder(b []byte) (*netlink.AttributeDecoder, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = binary.BigEndian
	return ad, nil
}

// batchMarker builds a batch begin or end message.
func batchMarker(typ uint16, seq uint32, ack bool) netlink.Message {
	flags := netlink.Request
	if ack {
		flags |= netlink.Acknowledge
	}
	data := genmsg(FamilyUnspec, unix.NFNL_SUBSYS_NFTABLES)
	return netlink.Message{
		Header: netlink.Header{
			Length:   msgLen(data),
			Type:     netlink.HeaderType(typ),
			Flags:    flags,
			Sequence: seq,
		},
		Data: data,
	}
}

// splitMessage checks that m is an nf_tables message and returns its
// message type, family and attribute bytes.
func splitMessage(m netlink.Message) (uint16, Family, []byte, error) {
	if uint16(m.Header.Type)>>8 != unix.NFNL_SUBSYS_NFTABLES {
		return 0, 0, nil, fmt.Errorf("message type %#x is not nf_tables", uint16(m.Header.Type))
	}
	if len(m.Data) < genmsgLen {
		return 0, 0, nil, fmt.Errorf("message too short for nfgenmsg: %d bytes", len(m.Data))
	}
	return uint16(m.Header.Type) & 0xff, Family(m.Data[0]), m.Data[genmsgLen:], nil
}

// expectType fails unless m carries the nf_tables message type want.
func expectType(m netlink.Message, want uint16) (Family, []byte, error) {
	typ, family, attrs, err := splitMessage(m)
	if err != nil {
		return 0, nil, err
	}
	if typ != want {
		return 0, nil, fmt.Errorf("unexpected nf_tables message type %d, want %d", typ, want)
	}
	return family, attrs, nil
}

// ParseMessages splits a datagram received from the kernel into messages.
// Error replies keep their sequence number, which is what commit uses to
// correlate them.
func ParseMessages(b []byte) ([]netlink.Message, error) {
	var msgs []netlink.Message
	for len(b) >= nlmsgHdrLen {
		l := int(nlenc.Uint32(b[0:4]))
		if l < nlmsgHdrLen || l > len(b) {
			return nil, fmt.Errorf("invalid netlink message length %d with %d bytes left", l, len(b))
		}
		msgs = append(msgs, netlink.Message{
			Header: netlink.Header{
				Length:   uint32(l),
				Type:     netlink.HeaderType(nlenc.Uint16(b[4:6])),
				Flags:    netlink.HeaderFlags(nlenc.Uint16(b[6:8])),
				Sequence: nlenc.Uint32(b[8:12]),
				PID:      nlenc.Uint32(b[12:16]),
			},
			Data: b[nlmsgHdrLen:l],
		})
		next := nlmsgAlign(l)
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}
	return msgs, nil
}

// replyErrno extracts the errno of an NLMSG_ERROR message. Zero is an ack.
func replyErrno(m netlink.Message) (syscall.Errno, error) {
	if len(m.Data) < 4 {
		return 0, fmt.Errorf("truncated netlink error message: %d bytes", len(m.Data))
	}
	code := nlenc.Int32(m.Data[0:4])
	if code > 0 {
		return 0, fmt.Errorf("invalid netlink error code %d", code)
	}
	return syscall.Errno(-code), nil
}

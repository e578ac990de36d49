package nft

import (
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// DefaultBatchLimit is the default upper bound on a batch's size in bytes.
func DefaultBatchLimit() int {
	return os.Getpagesize() * 32
}

type batchState uint8

const (
	batchOpen batchState = iota
	batchClosed
	batchSent
)

// Batch is an atomic nf_tables transaction: framed messages between a
// begin and an end marker. The kernel applies all of them or none.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	id         string
	limit      int
	ackMarkers bool
	next       uint32
	buf        []byte
	refs       []MessageRef
	bySeq      map[uint32]int
	messages   int
	endLen     int
	state      batchState
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithLimit sets the size limit in bytes, end marker included.
func WithLimit(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithStartSeq sets the first sequence number the batch assigns.
func WithStartSeq(seq uint32) BatchOption {
	return func(b *Batch) {
		if seq != 0 {
			b.next = seq
		}
	}
}

// WithMarkerAcks makes the begin and end markers request acks. Kernels
// before 6.10 do not answer them.
func WithMarkerAcks(enabled bool) BatchOption {
	return func(b *Batch) { b.ackMarkers = enabled }
}

// NewBatch returns an open batch holding only the begin marker.
func NewBatch(opts ...BatchOption) *Batch {
	b := &Batch{
		id:    uuid.NewString(),
		limit: DefaultBatchLimit(),
		next:  1,
		bySeq: make(map[uint32]int),
	}
	for _, opt := range opts {
		opt(b)
	}

	raw := b.marker(unix.NFNL_MSG_BATCH_BEGIN, KindBatchBegin)
	b.buf = raw
	b.endLen = len(raw)
	return b
}

func (b *Batch) marker(typ uint16, kind ObjectKind) []byte {
	var seq uint32
	if b.ackMarkers {
		seq = b.next
		b.next++
		b.record(MessageRef{Seq: seq, Kind: kind})
	}
	m := batchMarker(typ, seq, b.ackMarkers)
	// Length is always set, so marshaling cannot fail.
	raw, _ := m.MarshalBinary()
	return raw
}

func (b *Batch) record(ref MessageRef) {
	b.bySeq[ref.Seq] = len(b.refs)
	b.refs = append(b.refs, ref)
}

// multiEncoder is implemented by objects that may need more than one
// message, such as sets carrying elements.
type multiEncoder interface {
	EncodeAll(op Op) ([]*Payload, error)
}

func encodeAll(obj Encoder, op Op) ([]*Payload, error) {
	if me, ok := obj.(multiEncoder); ok {
		return me.EncodeAll(op)
	}
	p, err := obj.Encode(op)
	if err != nil {
		return nil, err
	}
	return []*Payload{p}, nil
}

// Add encodes obj for op and appends the resulting messages. Either all
// of them are appended or, on error, none; a *CapacityError means the
// batch is full and the caller should commit it and start another.
func (b *Batch) Add(obj Encoder, op Op) error {
	if b.state != batchOpen {
		return ErrBatchClosed
	}
	payloads, err := encodeAll(obj, op)
	if err != nil {
		return err
	}
	return b.addPayloads(payloads)
}

func (b *Batch) addPayloads(payloads []*Payload) error {
	var (
		seq  = b.next
		raws = make([][]byte, 0, len(payloads))
		need int
	)
	for _, p := range payloads {
		if p.Ref.Op == OpGet {
			return configErr(p.Ref.Kind.String(), p.Ref.Table, "get cannot be batched")
		}
		m, err := Frame(p, seq)
		if err != nil {
			return err
		}
		raw, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		raws = append(raws, raw)
		need += len(raw)
		seq++
	}

	if len(b.buf)+need+b.endLen > b.limit {
		return &CapacityError{Limit: b.limit, Used: len(b.buf), Need: need}
	}

	for i, raw := range raws {
		ref := payloads[i].Ref
		ref.Seq = b.next
		b.next++
		b.buf = append(b.buf, raw...)
		b.record(ref)
		b.messages++
	}
	return nil
}

// Finalize appends the end marker. No more messages can be added.
func (b *Batch) Finalize() error {
	if b.state != batchOpen {
		return ErrBatchClosed
	}
	b.buf = append(b.buf, b.marker(unix.NFNL_MSG_BATCH_END, KindBatchEnd)...)
	b.state = batchClosed
	return nil
}

// ID is a random identifier for logs and errors.
func (b *Batch) ID() string { return b.id }

// Len returns the number of messages, markers excluded.
func (b *Batch) Len() int { return b.messages }

// Size returns the encoded size in bytes.
func (b *Batch) Size() int { return len(b.buf) }

// Limit returns the size limit in bytes.
func (b *Batch) Limit() int { return b.limit }

// Finalized reports whether Finalize has been called.
func (b *Batch) Finalized() bool { return b.state != batchOpen }

// Bytes returns the encoded batch. The slice must not be modified.
func (b *Batch) Bytes() []byte { return b.buf }

// Refs returns the identity of every message that expects an ack, in
// sequence order.
func (b *Batch) Refs() []MessageRef {
	return append([]MessageRef(nil), b.refs...)
}

// Ref returns the message sent with sequence number seq.
func (b *Batch) Ref(seq uint32) (MessageRef, bool) {
	i, ok := b.bySeq[seq]
	if !ok {
		return MessageRef{}, false
	}
	return b.refs[i], true
}

// SeqRange returns the first and last sequence numbers in use. Both are
// zero for a batch without acked messages.
func (b *Batch) SeqRange() (first, last uint32) {
	if len(b.refs) == 0 {
		return 0, 0
	}
	return b.refs[0].Seq, b.refs[len(b.refs)-1].Seq
}

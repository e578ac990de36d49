package nft

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/logging"
)

// Commit results reported to the Recorder.
const (
	ResultOK             = "ok"
	ResultRejected       = "rejected"
	ResultTransportError = "transport_error"
)

// Recorder receives commit statistics. *metrics.Registry implements it.
type Recorder interface {
	ObserveCommit(result string, bytes int, d time.Duration)
	CountMessage(kind, op string)
	CountRejection(kind, errno string)
}

// Conn sends batches and dump requests over a Transport. Calls are
// serialized; a Conn may be shared between goroutines.
type Conn struct {
	mu         sync.Mutex
	tr         Transport
	logger     *logging.Logger
	recorder   Recorder
	limit      int
	ackMarkers bool
	timeout    time.Duration
	seq        uint32
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger. The default is the package default logger
// scoped to the "nft" component.
func WithLogger(l *logging.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithRecorder reports commit statistics to r.
func WithRecorder(r Recorder) Option {
	return func(c *Conn) { c.recorder = r }
}

// WithBatchLimit sets the size limit of batches created by NewBatch.
func WithBatchLimit(n int) Option {
	return func(c *Conn) { c.limit = n }
}

// WithBatchMarkerAcks makes batches created by NewBatch request acks for
// their begin and end markers (kernel 6.10 and later).
func WithBatchMarkerAcks(enabled bool) Option {
	return func(c *Conn) { c.ackMarkers = enabled }
}

// WithTimeout bounds every commit and request. Zero leaves deadlines to
// the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) { c.timeout = d }
}

// New returns a Conn over tr. The Conn owns tr and closes it in Close.
func New(tr Transport, opts ...Option) *Conn {
	c := &Conn{
		tr:    tr,
		limit: DefaultBatchLimit(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("nft")
	}
	return c
}

// Close closes the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.Close()
}

// NewBatch returns a batch numbered after every message this Conn has
// sent, so replies to different requests never share a sequence number.
func (c *Conn) NewBatch() *Batch {
	c.mu.Lock()
	start := c.seq + 1
	c.mu.Unlock()
	return NewBatch(WithLimit(c.limit), WithMarkerAcks(c.ackMarkers), WithStartSeq(start))
}

func (c *Conn) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// Commit sends a finalized batch and waits for the kernel to answer every
// message. Rejections are returned together as a *CommitError, each
// carrying the identity of the message the kernel refused.
func (c *Conn) Commit(ctx context.Context, b *Batch) error {
	switch b.state {
	case batchOpen:
		return ErrBatchOpen
	case batchSent:
		return ErrBatchSent
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	b.state = batchSent
	if _, last := b.SeqRange(); last > c.seq {
		c.seq = last
	}

	log := c.logger.WithBatch(b.ID())
	log.Debug("committing batch", "messages", b.Len(), "bytes", b.Size())

	start := time.Now()
	if err := c.tr.Send(ctx, b.Bytes()); err != nil {
		c.observe(b, ResultTransportError, start, nil)
		return &TransportError{Op: "send", Err: err}
	}

	rejections, err := c.awaitAcks(ctx, b, log)
	if err != nil {
		c.observe(b, ResultTransportError, start, rejections)
		return err
	}
	if len(rejections) > 0 {
		c.observe(b, ResultRejected, start, rejections)
		for _, r := range rejections {
			log.Warn("kernel rejected message", "seq", r.Ref.Seq, "message", r.Ref.String(), "error", r.Errno.Error())
		}
		return &CommitError{BatchID: b.ID(), Rejections: rejections}
	}

	c.observe(b, ResultOK, start, nil)
	log.Debug("batch committed", "duration", time.Since(start))
	return nil
}

// awaitAcks reads replies until every acked message of b is answered.
func (c *Conn) awaitAcks(ctx context.Context, b *Batch, log *logging.Logger) ([]*KernelRejection, error) {
	pending := make(map[uint32]MessageRef, len(b.refs))
	for _, ref := range b.refs {
		pending[ref.Seq] = ref
	}

	var rejections []*KernelRejection
	for len(pending) > 0 {
		msgs, err := c.tr.Receive(ctx)
		if err != nil {
			return rejections, &TransportError{Op: "receive", Err: err}
		}
		for _, m := range msgs {
			if m.Header.Type != netlink.Error {
				continue
			}
			errno, err := replyErrno(m)
			if err != nil {
				return rejections, &TransportError{Op: "receive", Err: err}
			}

			seq := m.Header.Sequence
			ref, ok := pending[seq]
			if !ok {
				if errno != 0 && seq == 0 {
					// The kernel refused the batch as a whole (for
					// instance ENOMEM while queueing replies) and will
					// not answer individual messages.
					rejections = append(rejections, &KernelRejection{Ref: MessageRef{Kind: KindBatchBegin}, Errno: errno})
					return rejections, nil
				}
				log.Debug("ignoring reply for unknown sequence", "seq", seq, "errno", int(errno))
				continue
			}
			delete(pending, seq)
			if errno != 0 {
				rejections = append(rejections, &KernelRejection{Ref: ref, Errno: errno})
				// An error on the acked begin marker aborts the batch;
				// nothing after it is answered.
				if ref.Kind == KindBatchBegin {
					return rejections, nil
				}
			}
		}
	}

	slices.SortFunc(rejections, func(a, b *KernelRejection) int {
		return cmp.Compare(a.Ref.Seq, b.Ref.Seq)
	})
	return rejections, nil
}

func (c *Conn) observe(b *Batch, result string, start time.Time, rejections []*KernelRejection) {
	if c.recorder == nil {
		return
	}
	c.recorder.ObserveCommit(result, b.Size(), time.Since(start))
	for _, ref := range b.refs {
		if ref.Kind == KindBatchBegin || ref.Kind == KindBatchEnd {
			continue
		}
		c.recorder.CountMessage(ref.Kind.String(), ref.Op.String())
	}
	for _, r := range rejections {
		c.recorder.CountRejection(r.Ref.Kind.String(), unix.ErrnoName(r.Errno))
	}
}

// request sends a single non-batched message and feeds every reply with
// its sequence number to fn until the request is acked or, for dumps,
// done. fn returns false to stop early.
func (c *Conn) request(ctx context.Context, p *Payload, flags netlink.HeaderFlags, fn func(netlink.Message) bool) error {
	c.seq++
	seq := c.seq

	m, err := frame(p, seq, flags)
	if err != nil {
		return err
	}
	raw, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.tr.Send(ctx, raw); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	ref := p.Ref
	ref.Seq = seq
	for {
		msgs, err := c.tr.Receive(ctx)
		if err != nil {
			return &TransportError{Op: "receive", Err: err}
		}
		for _, m := range msgs {
			// Leftovers of an abandoned earlier request.
			if m.Header.Sequence != seq {
				continue
			}
			switch m.Header.Type {
			case netlink.Done:
				// A dump cut short by the kernel ends with a negative code.
				if errno, err := replyErrno(m); err == nil && errno != 0 {
					return &KernelRejection{Ref: ref, Errno: errno}
				}
				return nil
			case netlink.Error:
				errno, err := replyErrno(m)
				if err != nil {
					return &TransportError{Op: "receive", Err: err}
				}
				if errno != 0 {
					return &KernelRejection{Ref: ref, Errno: errno}
				}
				if flags&netlink.Dump == 0 {
					return nil
				}
				continue
			}
			if !fn(m) {
				return nil
			}
		}
	}
}

// dump issues a dump request each time the returned sequence is ranged
// over. The Conn is held for the duration of the range loop, so the loop
// body must not call other Conn methods.
func (c *Conn) dump(ctx context.Context, p *Payload) iter.Seq2[netlink.Message, error] {
	return func(yield func(netlink.Message, error) bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		stopped := false
		err := c.request(ctx, p, netlink.Request|netlink.Dump, func(m netlink.Message) bool {
			if !yield(m, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(netlink.Message{}, err)
		}
	}
}

// decodeEach turns a message sequence into an object sequence. keep, if
// set, filters decoded objects.
func decodeEach[T any](msgs iter.Seq2[netlink.Message, error], decode func(netlink.Message) (T, error), keep func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for m, err := range msgs {
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := decode(m)
			if err != nil {
				yield(zero, err)
				return
			}
			if keep != nil && !keep(v) {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

func dumpPayload(kind ObjectKind, family Family, attrs func(ae *netlink.AttributeEncoder)) (*Payload, error) {
	p := &Payload{Ref: MessageRef{Kind: kind, Op: OpGet, Family: family}}
	if attrs == nil {
		return p, nil
	}
	ae := newEncoder()
	attrs(ae)
	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	p.Attrs = b
	return p, nil
}

func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// ListTables dumps the tables of family, or of every family for
// FamilyUnspec.
func (c *Conn) ListTables(ctx context.Context, family Family) iter.Seq2[*Table, error] {
	p, err := dumpPayload(KindTable, family, nil)
	if err != nil {
		return failed[*Table](err)
	}
	return decodeEach(c.dump(ctx, p), DecodeTable, nil)
}

// ListChains dumps the chains of table t. A nil table lists every chain.
func (c *Conn) ListChains(ctx context.Context, t *Table) iter.Seq2[*Chain, error] {
	family, keep := FamilyUnspec, func(*Chain) bool { return true }
	if t != nil {
		family = t.Family
		keep = func(ch *Chain) bool { return ch.Table.Name == t.Name }
	}
	p, err := dumpPayload(KindChain, family, nil)
	if err != nil {
		return failed[*Chain](err)
	}
	return decodeEach(c.dump(ctx, p), DecodeChain, keep)
}

// ListRules dumps the rules of chain ch in order.
func (c *Conn) ListRules(ctx context.Context, ch *Chain) iter.Seq2[*Rule, error] {
	if err := ch.validate(OpGet); err != nil {
		return failed[*Rule](err)
	}
	p, err := dumpPayload(KindRule, ch.Table.Family, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.NFTA_RULE_TABLE, ch.Table.Name)
		ae.String(unix.NFTA_RULE_CHAIN, ch.Name)
	})
	if err != nil {
		return failed[*Rule](err)
	}
	return decodeEach(c.dump(ctx, p), DecodeRule, func(r *Rule) bool {
		return r.Chain.Table.Name == ch.Table.Name && r.Chain.Name == ch.Name
	})
}

// ListSets dumps the sets of table t.
func (c *Conn) ListSets(ctx context.Context, t *Table) iter.Seq2[*Set, error] {
	if t == nil {
		return failed[*Set](configErr("set", "", "no table"))
	}
	p, err := dumpPayload(KindSet, t.Family, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.NFTA_SET_TABLE, t.Name)
	})
	if err != nil {
		return failed[*Set](err)
	}
	return decodeEach(c.dump(ctx, p), DecodeSet, func(s *Set) bool {
		return s.Table.Name == t.Name
	})
}

// ListSetElements dumps the elements of set s.
func (c *Conn) ListSetElements(ctx context.Context, s *Set) iter.Seq2[SetElement, error] {
	if err := s.validate(OpGet); err != nil {
		return failed[SetElement](err)
	}
	p, err := dumpPayload(KindSetElements, s.Table.Family, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.NFTA_SET_ELEM_LIST_TABLE, s.Table.Name)
		ae.String(unix.NFTA_SET_ELEM_LIST_SET, s.Name)
	})
	if err != nil {
		return failed[SetElement](err)
	}
	return func(yield func(SetElement, error) bool) {
		for se, err := range decodeEach(c.dump(ctx, p), DecodeSetElements, nil) {
			if err != nil {
				yield(SetElement{}, err)
				return
			}
			for _, el := range se.Elements {
				if !yield(el, nil) {
					return
				}
			}
		}
	}
}

// GetTable fetches a single table. It returns an error wrapping
// ErrNotFound if the table does not exist.
func (c *Conn) GetTable(ctx context.Context, family Family, name string) (*Table, error) {
	p, err := (&Table{Family: family, Name: name}).Encode(OpGet)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		t       *Table
		decErr  error
		request = netlink.Request | netlink.Acknowledge
	)
	err = c.request(ctx, p, request, func(m netlink.Message) bool {
		t, decErr = DecodeTable(m)
		return true
	})
	var kr *KernelRejection
	if errors.As(err, &kr) && kr.Errno == syscall.ENOENT {
		return nil, fmt.Errorf("table %s %s: %w", family, name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	if t == nil {
		return nil, fmt.Errorf("table %s %s: no reply", family, name)
	}
	return t, nil
}

// BatchSupported reports whether the kernel processes nfnetlink batches.
// It commits a batch holding one deliberately invalid NEWSET: a kernel that
// understands batches rejects that message on its own, one that does not
// rejects the batch header.
func (c *Conn) BatchSupported(ctx context.Context) (bool, error) {
	b := c.NewBatch()
	probe := &Payload{Ref: MessageRef{Kind: KindSet, Op: OpAdd, Family: FamilyIPv4}}
	if err := b.addPayloads([]*Payload{probe}); err != nil {
		return false, err
	}
	if err := b.Finalize(); err != nil {
		return false, err
	}

	err := c.Commit(ctx, b)
	if err == nil {
		return true, nil
	}
	var ce *CommitError
	if !errors.As(err, &ce) {
		return false, err
	}
	for _, r := range ce.Rejections {
		if r.Ref.Kind == KindSet {
			return true, nil
		}
	}
	return false, nil
}

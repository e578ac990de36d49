package nft

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft/expr"
	"grimm.is/nftwire/internal/validation"
)

// loopbackBatch adds "table inet filter", its input chain and the rule
// "iifname lo accept".
func loopbackBatch(t *testing.T, b *Batch) {
	t.Helper()
	ch := testChain()
	require.NoError(t, b.Add(ch.Table, OpAdd))
	require.NoError(t, b.Add(ch, OpAdd))
	require.NoError(t, b.Add(NewRule(ch, iifnameAccept("lo")...), OpAdd))
}

func TestBatchLayout(t *testing.T) {
	b := NewBatch()
	loopbackBatch(t, b)
	require.NoError(t, b.Finalize())

	assert.Equal(t, 3, b.Len())
	assert.True(t, b.Finalized())
	assert.NotEmpty(t, b.ID())

	var seqs []uint32
	for _, ref := range b.Refs() {
		seqs = append(seqs, ref.Seq)
	}
	assert.Equal(t, []uint32{1, 2, 3}, seqs)
	first, last := b.SeqRange()
	assert.Equal(t, uint32(1), first)
	assert.Equal(t, uint32(3), last)

	msgs, err := ParseMessages(b.Bytes())
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, len(b.Bytes()), b.Size())

	begin, end := msgs[0], msgs[4]
	assert.Equal(t, netlink.HeaderType(unix.NFNL_MSG_BATCH_BEGIN), begin.Header.Type)
	assert.Equal(t, netlink.HeaderType(unix.NFNL_MSG_BATCH_END), end.Header.Type)
	assert.Zero(t, begin.Header.Flags&netlink.Acknowledge)
	assert.Zero(t, begin.Header.Sequence)

	wantTypes := []uint16{unix.NFT_MSG_NEWTABLE, unix.NFT_MSG_NEWCHAIN, unix.NFT_MSG_NEWRULE}
	for i, m := range msgs[1:4] {
		assert.Equal(t, uint32(i+1), m.Header.Sequence)
		assert.Equal(t, netlink.HeaderType(unix.NFNL_SUBSYS_NFTABLES<<8|wantTypes[i]), m.Header.Type)
		assert.NotZero(t, m.Header.Flags&netlink.Acknowledge)
	}

	r, err := DecodeRule(msgs[3])
	require.NoError(t, err)
	assert.Equal(t, iifnameAccept("lo"), r.Exprs)

	ref, ok := b.Ref(2)
	require.True(t, ok)
	assert.Equal(t, KindChain, ref.Kind)
	assert.Equal(t, "input", ref.Chain)
	_, ok = b.Ref(4)
	assert.False(t, ok)
}

func TestBatchMarkerAcks(t *testing.T) {
	b := NewBatch(WithMarkerAcks(true), WithStartSeq(100))
	loopbackBatch(t, b)
	require.NoError(t, b.Finalize())

	refs := b.Refs()
	require.Len(t, refs, 5)
	assert.Equal(t, KindBatchBegin, refs[0].Kind)
	assert.Equal(t, uint32(100), refs[0].Seq)
	assert.Equal(t, KindBatchEnd, refs[4].Kind)
	assert.Equal(t, uint32(104), refs[4].Seq)
	assert.Equal(t, 3, b.Len())

	msgs, err := ParseMessages(b.Bytes())
	require.NoError(t, err)
	assert.NotZero(t, msgs[0].Header.Flags&netlink.Acknowledge)
	assert.Equal(t, uint32(100), msgs[0].Header.Sequence)
	assert.Equal(t, uint32(104), msgs[4].Header.Sequence)
}

func TestBatchCapacity(t *testing.T) {
	// Begin and end markers are 20 bytes each, a table message 40.
	b := NewBatch(WithLimit(100))
	require.NoError(t, b.Add(&Table{Family: FamilyINet, Name: "filter"}, OpAdd))
	before := append([]byte(nil), b.Bytes()...)

	err := b.Add(&Table{Family: FamilyINet, Name: "other"}, OpAdd)
	require.Error(t, err)
	var ce *CapacityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 100, ce.Limit)
	assert.Equal(t, 60, ce.Used)
	assert.Equal(t, 40, ce.Need)

	assert.Equal(t, before, b.Bytes())
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Finalize())
	assert.Equal(t, 80, b.Size())
	assert.LessOrEqual(t, b.Size(), b.Limit())
}

func TestBatchCapacityIsAllOrNothing(t *testing.T) {
	tbl := &Table{Family: FamilyIPv4, Name: "filter"}
	s := &Set{Table: tbl, Name: "ports", KeyType: TypeInetService}
	for p := uint16(1); p <= 200; p++ {
		s.Elements = append(s.Elements, SetElement{Key: expr.Port(p)})
	}

	b := NewBatch(WithLimit(512))
	err := b.Add(s, OpAdd)
	var ce *CapacityError
	require.True(t, errors.As(err, &ce))
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Refs())

	// The same set fits once there is room, and occupies two sequence numbers.
	b = NewBatch()
	require.NoError(t, b.Add(s, OpAdd))
	assert.Equal(t, 2, b.Len())
	_, last := b.SeqRange()
	assert.Equal(t, uint32(2), last)
}

func TestBatchClosed(t *testing.T) {
	b := NewBatch()
	loopbackBatch(t, b)
	require.NoError(t, b.Finalize())
	sealed := append([]byte(nil), b.Bytes()...)

	err := b.Add(&Table{Family: FamilyINet, Name: "late"}, OpAdd)
	assert.ErrorIs(t, err, ErrBatchClosed)
	assert.ErrorIs(t, b.Finalize(), ErrBatchClosed)
	assert.Equal(t, sealed, b.Bytes())
	assert.Equal(t, 3, b.Len())
}

func TestBatchRejectsInvalidObjects(t *testing.T) {
	tests := []struct {
		name string
		obj  Encoder
		op   Op
	}{
		{"get", &Table{Family: FamilyINet, Name: "filter"}, OpGet},
		{"unnamed table", &Table{Family: FamilyINet}, OpAdd},
		{"rule without handle", NewRule(testChain()), OpDelete},
		{"element set get", &SetElements{Set: &Set{Table: &Table{Family: FamilyINet, Name: "t"}, Name: "s", KeyType: TypeMark}, Elements: []SetElement{{Key: expr.Mark(1)}}}, OpGet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBatch()
			size := b.Size()
			requireConfigError(t, b.Add(tc.obj, tc.op))
			assert.Zero(t, b.Len())
			assert.Equal(t, size, b.Size())
		})
	}
}

func TestBatchRejectsBadExpression(t *testing.T) {
	b := NewBatch()
	size := b.Size()
	rule := NewRule(testChain(), &expr.Log{Prefix: strings.Repeat("p", validation.MaxLogPrefixLen+1)})

	err := b.Add(rule, OpAdd)
	var ee *expr.EncodingError
	require.True(t, errors.As(err, &ee), "want *expr.EncodingError, got %T: %v", err, err)
	assert.Equal(t, "prefix", ee.Field)
	assert.Zero(t, b.Len())
	assert.Equal(t, size, b.Size())
}

func TestEmptyBatch(t *testing.T) {
	b := NewBatch()
	require.NoError(t, b.Finalize())
	assert.Zero(t, b.Len())
	first, last := b.SeqRange()
	assert.Zero(t, first)
	assert.Zero(t, last)

	msgs, err := ParseMessages(b.Bytes())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestDefaultBatchLimit(t *testing.T) {
	assert.Equal(t, os.Getpagesize()*32, DefaultBatchLimit())
	assert.Equal(t, DefaultBatchLimit(), NewBatch().Limit())
	assert.Equal(t, DefaultBatchLimit(), NewBatch(WithLimit(0)).Limit())
	assert.NotEqual(t, NewBatch().ID(), NewBatch().ID())
}

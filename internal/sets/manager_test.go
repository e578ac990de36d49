package sets

import (
	"context"
	"fmt"
	"net/netip"
	"syscall"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft"
	"grimm.is/nftwire/internal/nft/expr"
)

var testTable = &nft.Table{Family: nft.FamilyINet, Name: "nftwire"}

func msgType(m netlink.Message) uint16 {
	return uint16(m.Header.Type) & 0xff
}

func dumpMsg(t *testing.T, obj nft.Encoder) netlink.Message {
	t.Helper()
	p, err := obj.Encode(nft.OpAdd)
	require.NoError(t, err)
	m, err := nft.Frame(p, 0)
	require.NoError(t, err)
	m.Header.Flags = netlink.Multi
	return m
}

// kernel answers table, set and element lookups from fixed contents.
type kernel struct {
	*nft.FakeTransport
	sets     []*nft.Set
	elements map[string][]nft.SetElement
}

func newKernel(t *testing.T, sets ...*nft.Set) *kernel {
	k := &kernel{FakeTransport: nft.NewFakeTransport(), sets: sets, elements: map[string][]nft.SetElement{}}
	k.Objects = func(req netlink.Message) []netlink.Message {
		switch msgType(req) {
		case unix.NFT_MSG_GETTABLE:
			return []netlink.Message{dumpMsg(t, testTable)}
		case unix.NFT_MSG_GETSET:
			var out []netlink.Message
			for _, s := range k.sets {
				out = append(out, dumpMsg(t, s))
			}
			return out
		case unix.NFT_MSG_GETSETELEM:
			var out []netlink.Message
			for _, s := range k.sets {
				if els := k.elements[s.Name]; len(els) > 0 {
					out = append(out, dumpMsg(t, &nft.SetElements{Set: s, Elements: els}))
				}
			}
			return out
		}
		return nil
	}
	return k
}

func newManager(k *kernel) *Manager {
	return NewManager(nft.New(k), nft.FamilyINet, "nftwire")
}

func blocklist() *nft.Set {
	return &nft.Set{Table: testTable, Name: "blocklist", KeyType: nft.TypeIPAddr, Flags: nft.SetInterval}
}

// batchMessages returns the nf_tables messages of the last batch sent,
// without the markers.
func batchMessages(t *testing.T, k *kernel) []netlink.Message {
	t.Helper()
	msgs := k.LastSent()
	require.GreaterOrEqual(t, len(msgs), 2)
	require.Equal(t, netlink.HeaderType(unix.NFNL_MSG_BATCH_BEGIN), msgs[0].Header.Type)
	return msgs[1 : len(msgs)-1]
}

func decodedElements(t *testing.T, msgs []netlink.Message) []nft.SetElement {
	t.Helper()
	var out []nft.SetElement
	for _, m := range msgs {
		if msgType(m) != unix.NFT_MSG_NEWSETELEM {
			continue
		}
		se, err := nft.DecodeSetElements(m)
		require.NoError(t, err)
		out = append(out, se.Elements...)
	}
	return out
}

func v4(s string) []byte {
	return expr.Addr(netip.MustParseAddr(s))
}

func TestCreateSet(t *testing.T) {
	k := newKernel(t)
	mgr := newManager(k)

	require.NoError(t, mgr.CreateSet(context.Background(), "blocklist", SetTypeIPv4Addr, "interval", "timeout"))

	msgs := batchMessages(t, k)
	require.Len(t, msgs, 1)
	s, err := nft.DecodeSet(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "blocklist", s.Name)
	assert.Equal(t, "nftwire", s.Table.Name)
	assert.Equal(t, nft.TypeIPAddr.Magic, s.KeyType.Magic)
	assert.NotZero(t, s.Flags&nft.SetInterval)
	assert.NotZero(t, s.Flags&nft.SetTimeout)

	// The created set is cached: no set dump is needed to fill it.
	require.NoError(t, mgr.AddElements(context.Background(), "blocklist", []string{"10.0.0.1"}))
	for _, sent := range k.Sent() {
		for _, m := range sent {
			assert.NotEqual(t, uint16(unix.NFT_MSG_GETSET), msgType(m))
		}
	}
}

func TestCreateSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		set     string
		typ     SetType
		flags   []string
		wantErr string
	}{
		{"invalid name", "set;reboot", SetTypeIPv4Addr, nil, "invalid set name"},
		{"empty name", "", SetTypeIPv4Addr, nil, "cannot be empty"},
		{"unknown type", "s", SetType("ether_addr"), nil, "unsupported set type"},
		{"unknown flag", "s", SetTypeIPv4Addr, []string{"dynamic"}, "unknown set flag"},
		{"interval ports", "s", SetTypeInetService, []string{"interval"}, "interval flag not supported"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := newKernel(t)
			err := newManager(k).CreateSet(context.Background(), tc.set, tc.typ, tc.flags...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			for _, sent := range k.Sent() {
				assert.NotEqual(t, netlink.HeaderType(unix.NFNL_MSG_BATCH_BEGIN), sent[0].Header.Type)
			}
		})
	}
}

func TestCreateSetRejected(t *testing.T) {
	k := newKernel(t)
	k.Reject = func(m netlink.Message) syscall.Errno {
		if msgType(m) == unix.NFT_MSG_NEWSET {
			return syscall.EEXIST
		}
		return 0
	}

	err := newManager(k).CreateSet(context.Background(), "blocklist", SetTypeIPv4Addr)
	var ce *nft.CommitError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Rejections, 1)
	assert.Equal(t, syscall.EEXIST, ce.Rejections[0].Errno)
	assert.Equal(t, "blocklist", ce.Rejections[0].Ref.Set)
}

func TestMissingTable(t *testing.T) {
	k := newKernel(t)
	k.Reject = func(m netlink.Message) syscall.Errno {
		if msgType(m) == unix.NFT_MSG_GETTABLE {
			return syscall.ENOENT
		}
		return 0
	}
	_, err := newManager(k).ListSets(context.Background())
	assert.ErrorIs(t, err, nft.ErrNotFound)
}

func TestMissingSet(t *testing.T) {
	k := newKernel(t, blocklist())
	err := newManager(k).FlushSet(context.Background(), "allowlist")
	assert.ErrorIs(t, err, nft.ErrNotFound)
}

func TestDeleteSet(t *testing.T) {
	k := newKernel(t, blocklist())
	mgr := newManager(k)

	require.NoError(t, mgr.DeleteSet(context.Background(), "blocklist"))
	msgs := batchMessages(t, k)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(unix.NFT_MSG_DELSET), msgType(msgs[0]))

	assert.Error(t, mgr.DeleteSet(context.Background(), "set;reboot"))
}

func TestFlushSet(t *testing.T) {
	k := newKernel(t, blocklist())
	require.NoError(t, newManager(k).FlushSet(context.Background(), "blocklist"))

	msgs := batchMessages(t, k)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(unix.NFT_MSG_DELSETELEM), msgType(msgs[0]))
}

func TestAddElements(t *testing.T) {
	k := newKernel(t, blocklist())
	mgr := newManager(k)

	require.NoError(t, mgr.AddElements(context.Background(), "blocklist", []string{"10.0.0.1", "192.168.0.0/16"}))

	els := decodedElements(t, batchMessages(t, k))
	want := []nft.SetElement{
		{Key: v4("10.0.0.1")},
		{Key: v4("10.0.0.2"), IntervalEnd: true},
		{Key: v4("192.168.0.0")},
		{Key: v4("192.169.0.0"), IntervalEnd: true},
	}
	require.Len(t, els, len(want))
	for i := range want {
		assert.Equal(t, want[i].Key, els[i].Key, "element %d", i)
		assert.Equal(t, want[i].IntervalEnd, els[i].IntervalEnd, "element %d", i)
	}

	require.NoError(t, mgr.AddElements(context.Background(), "blocklist", nil))
}

func TestAddElementsErrors(t *testing.T) {
	plain := &nft.Set{Table: testTable, Name: "hosts", KeyType: nft.TypeIPAddr}
	ports := &nft.Set{Table: testTable, Name: "ports", KeyType: nft.TypeInetService}
	k := newKernel(t, blocklist(), plain, ports)
	mgr := newManager(k)

	tests := []struct {
		name     string
		set      string
		elements []string
	}{
		{"invalid set name", "set;reboot", []string{"10.0.0.1"}},
		{"not an address", "blocklist", []string{"example.com"}},
		{"ipv6 in ipv4 set", "blocklist", []string{"2001:db8::1"}},
		{"cidr in plain set", "hosts", []string{"10.0.0.0/8"}},
		{"port zero", "ports", []string{"0"}},
		{"port too large", "ports", []string{"70000"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, mgr.AddElements(context.Background(), tc.set, tc.elements))
		})
	}
}

func TestAddElementsSpreadsBatches(t *testing.T) {
	ports := &nft.Set{Table: testTable, Name: "ports", KeyType: nft.TypeInetService}
	k := newKernel(t, ports)
	mgr := NewManager(nft.New(k, nft.WithBatchLimit(16384)), nft.FamilyINet, "nftwire")

	var elements []string
	for p := 1; p <= 2000; p++ {
		elements = append(elements, fmt.Sprint(p))
	}
	require.NoError(t, mgr.AddElements(context.Background(), "ports", elements))

	var (
		batches int
		total   int
	)
	for _, sent := range k.Sent() {
		if sent[0].Header.Type != netlink.HeaderType(unix.NFNL_MSG_BATCH_BEGIN) {
			continue
		}
		batches++
		total += len(decodedElements(t, sent))
	}
	assert.Greater(t, batches, 1)
	assert.Equal(t, 2000, total)
}

func TestRemoveElements(t *testing.T) {
	k := newKernel(t, blocklist())
	require.NoError(t, newManager(k).RemoveElements(context.Background(), "blocklist", []string{"10.1.0.0/24"}))

	msgs := batchMessages(t, k)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(unix.NFT_MSG_DELSETELEM), msgType(msgs[0]))
	els := decodedElements(t, msgs)
	require.Len(t, els, 2)
	assert.Equal(t, v4("10.1.0.0"), els[0].Key)
	assert.Equal(t, v4("10.1.1.0"), els[1].Key)
	assert.True(t, els[1].IntervalEnd)
}

func TestReloadSet(t *testing.T) {
	k := newKernel(t, blocklist())
	require.NoError(t, newManager(k).ReloadSet(context.Background(), "blocklist", []string{"1.1.1.1", "8.8.8.8"}))

	// Flush then add, in one batch.
	require.Len(t, k.Sent(), 3)
	msgs := batchMessages(t, k)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint16(unix.NFT_MSG_DELSETELEM), msgType(msgs[0]))
	assert.Equal(t, uint16(unix.NFT_MSG_NEWSETELEM), msgType(msgs[1]))

	se, err := nft.DecodeSetElements(msgs[1])
	require.NoError(t, err)
	assert.Len(t, se.Elements, 4)
}

func TestReloadSetEmpty(t *testing.T) {
	k := newKernel(t, blocklist())
	require.NoError(t, newManager(k).ReloadSet(context.Background(), "blocklist", nil))
	assert.Len(t, batchMessages(t, k), 1)
}

func TestReloadSetInvalidName(t *testing.T) {
	k := newKernel(t)
	err := newManager(k).ReloadSet(context.Background(), "set;reboot", []string{"1.1.1.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid set name")
	assert.Empty(t, k.Sent())
}

func TestGetSetElements(t *testing.T) {
	s := blocklist()
	k := newKernel(t, s)
	// Descending, the way the kernel dumps interval sets.
	k.elements["blocklist"] = []nft.SetElement{
		{Key: v4("192.169.0.0"), IntervalEnd: true},
		{Key: v4("192.168.0.0")},
		{Key: v4("10.0.0.20"), IntervalEnd: true},
		{Key: v4("10.0.0.5")},
		{Key: v4("8.8.8.9"), IntervalEnd: true},
		{Key: v4("8.8.8.8")},
	}

	elements, err := newManager(k).GetSetElements(context.Background(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8", "10.0.0.5-10.0.0.19", "192.168.0.0/16"}, elements)
}

func TestGetSetElementsPlain(t *testing.T) {
	hosts := &nft.Set{Table: testTable, Name: "hosts", KeyType: nft.TypeIPAddr}
	ports := &nft.Set{Table: testTable, Name: "ports", KeyType: nft.TypeInetService}
	k := newKernel(t, hosts, ports)
	k.elements["hosts"] = []nft.SetElement{{Key: v4("1.1.1.1")}, {Key: v4("8.8.8.8")}}
	k.elements["ports"] = []nft.SetElement{{Key: expr.Port(22)}, {Key: expr.Port(443)}}
	mgr := newManager(k)

	elements, err := mgr.GetSetElements(context.Background(), "hosts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.1.1.1", "8.8.8.8"}, elements)

	elements, err = mgr.GetSetElements(context.Background(), "ports")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"22", "443"}, elements)
}

func TestCheckElement(t *testing.T) {
	ports := &nft.Set{Table: testTable, Name: "ports", KeyType: nft.TypeInetService}
	k := newKernel(t, blocklist(), ports)
	k.elements["blocklist"] = []nft.SetElement{
		{Key: v4("10.0.0.0")},
		{Key: v4("10.1.0.0"), IntervalEnd: true},
	}
	k.elements["ports"] = []nft.SetElement{{Key: expr.Port(22)}}
	mgr := newManager(k)

	tests := []struct {
		set     string
		element string
		want    bool
	}{
		{"blocklist", "10.0.3.4", true},
		{"blocklist", "10.0.0.0/20", true},
		{"blocklist", "10.0.0.0/8", false},
		{"blocklist", "10.1.0.0", false},
		{"ports", "22", true},
		{"ports", "23", false},
	}
	for _, tc := range tests {
		t.Run(tc.set+" "+tc.element, func(t *testing.T) {
			got, err := mgr.CheckElement(context.Background(), tc.set, tc.element)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := mgr.CheckElement(context.Background(), "blocklist", "nope")
	assert.Error(t, err)
}

func TestListSets(t *testing.T) {
	anon := nft.NewAnonymousSet(testTable, 1, nft.TypeInetService)
	ports := &nft.Set{Table: testTable, Name: "ports", KeyType: nft.TypeInetService}
	k := newKernel(t, blocklist(), anon, ports)

	names, err := newManager(k).ListSets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"blocklist", "ports"}, names)
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		first, last string
		want        string
	}{
		{"10.0.0.1", "10.0.0.1", "10.0.0.1"},
		{"10.0.0.0", "10.0.0.255", "10.0.0.0/24"},
		{"10.0.0.1", "10.0.0.2", "10.0.0.1-10.0.0.2"},
		{"0.0.0.0", "255.255.255.255", "0.0.0.0/0"},
		{"2001:db8::", "2001:db8::ffff", "2001:db8::/112"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, formatRange(netip.MustParseAddr(tc.first), netip.MustParseAddr(tc.last)))
		})
	}
}

func TestRangeEndAtTop(t *testing.T) {
	s := blocklist()
	els, err := ParseElements(s, []string{"255.255.255.0/24"})
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.False(t, els[0].IntervalEnd)

	assert.Equal(t, []string{"255.255.255.0/24"}, FormatElements(s, els))
}

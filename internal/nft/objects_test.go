package nft

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft/expr"
)

func requireConfigError(t *testing.T, err error) *ConfigError {
	t.Helper()
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "want *ConfigError, got %T: %v", err, err)
	return ce
}

func TestTableRoundTrip(t *testing.T) {
	in := &Table{Family: FamilyINet, Name: "filter", Flags: TableFlagDormant}
	out, err := DecodeTable(roundTrip(t, in, OpAdd))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTableEncode(t *testing.T) {
	tbl := &Table{Family: FamilyIPv4, Name: "nat"}

	t.Run("delete carries only the name", func(t *testing.T) {
		p, err := tbl.Encode(OpDelete)
		require.NoError(t, err)
		attrs, err := netlink.UnmarshalAttributes(p.Attrs)
		require.NoError(t, err)
		require.Len(t, attrs, 1)
		assert.Equal(t, uint16(unix.NFTA_TABLE_NAME), attrs[0].Type)
	})

	t.Run("flush addresses the rules", func(t *testing.T) {
		p, err := tbl.Encode(OpFlush)
		require.NoError(t, err)
		assert.Equal(t, MessageRef{Kind: KindTable, Op: OpFlush, Family: FamilyIPv4, Table: "nat"}, p.Ref)
		attrs, err := netlink.UnmarshalAttributes(p.Attrs)
		require.NoError(t, err)
		require.Len(t, attrs, 1)
		assert.Equal(t, uint16(unix.NFTA_RULE_TABLE), attrs[0].Type)
	})

	tests := []struct {
		name  string
		table *Table
		op    Op
	}{
		{"empty name", &Table{Family: FamilyINet}, OpAdd},
		{"unspec family", &Table{Name: "t"}, OpAdd},
		{"unknown family", &Table{Family: Family(99), Name: "t"}, OpAdd},
		{"nul in name", &Table{Family: FamilyINet, Name: "a\x00b"}, OpAdd},
		{"insert", &Table{Family: FamilyINet, Name: "t"}, OpInsert},
		{"replace", &Table{Family: FamilyINet, Name: "t"}, OpReplace},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.table.Encode(tc.op)
			requireConfigError(t, err)
		})
	}
}

func TestChainRoundTrip(t *testing.T) {
	inet := &Table{Family: FamilyINet, Name: "filter"}

	tests := []struct {
		name string
		in   *Chain
		want *Chain
	}{
		{
			name: "regular chain",
			in:   &Chain{Table: inet, Name: "allow_ssh"},
			want: &Chain{Table: inet, Name: "allow_ssh"},
		},
		{
			name: "named priority with offset",
			in: &Chain{
				Table: inet, Name: "input", Type: ChainTypeFilter,
				Hook: Hook(ChainHookInput), Priority: NamedPriority(PriorityFilter, 10), Policy: Policy(ChainPolicyDrop),
			},
			want: &Chain{
				Table: inet, Name: "input", Type: ChainTypeFilter,
				Hook: Hook(ChainHookInput), Priority: Priority(10), Policy: Policy(ChainPolicyDrop),
			},
		},
		{
			name: "negative priority",
			in: &Chain{
				Table: inet, Name: "pre", Type: ChainTypeFilter,
				Hook: Hook(ChainHookPrerouting), Priority: NamedPriority(PriorityRaw, -5),
			},
			want: &Chain{
				Table: inet, Name: "pre", Type: ChainTypeFilter,
				Hook: Hook(ChainHookPrerouting), Priority: Priority(-305),
			},
		},
		{
			name: "arp output",
			in: &Chain{
				Table: &Table{Family: FamilyARP, Name: "arpf"}, Name: "out", Type: ChainTypeFilter,
				Hook: Hook(ChainHookOutput), Priority: Priority(0),
			},
			want: &Chain{
				Table: &Table{Family: FamilyARP, Name: "arpf"}, Name: "out", Type: ChainTypeFilter,
				Hook: Hook(ChainHookOutput), Priority: Priority(0),
			},
		},
		{
			name: "netdev ingress",
			in: &Chain{
				Table: &Table{Family: FamilyNetdev, Name: "edge"}, Name: "ingress", Type: ChainTypeFilter,
				Hook: Hook(ChainHookIngress), Priority: NamedPriority(PriorityFilter, 0), Device: "eth0",
			},
			want: &Chain{
				Table: &Table{Family: FamilyNetdev, Name: "edge"}, Name: "ingress", Type: ChainTypeFilter,
				Hook: Hook(ChainHookIngress), Priority: Priority(0), Device: "eth0",
			},
		},
		{
			name: "srcnat",
			in: &Chain{
				Table: &Table{Family: FamilyIPv4, Name: "nat"}, Name: "post", Type: ChainTypeNAT,
				Hook: Hook(ChainHookPostrouting), Priority: NamedPriority(PrioritySrcNAT, 0), Policy: Policy(ChainPolicyAccept),
			},
			want: &Chain{
				Table: &Table{Family: FamilyIPv4, Name: "nat"}, Name: "post", Type: ChainTypeNAT,
				Hook: Hook(ChainHookPostrouting), Priority: Priority(100), Policy: Policy(ChainPolicyAccept),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeChain(roundTrip(t, tc.in, OpAdd))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestChainARPHookNumbers(t *testing.T) {
	assert.Equal(t, uint32(1), hookNum(FamilyARP, ChainHookOutput))
	assert.Equal(t, uint32(0), hookNum(FamilyARP, ChainHookInput))
	assert.Equal(t, uint32(unix.NF_INET_LOCAL_OUT), hookNum(FamilyIPv4, ChainHookOutput))
	assert.Equal(t, ChainHookOutput, hookFromNum(FamilyARP, 1))
}

func TestChainHookName(t *testing.T) {
	tests := []struct {
		hook   ChainHook
		family Family
		want   string
	}{
		{ChainHookIngress, FamilyNetdev, "ingress"},
		{ChainHookPrerouting, FamilyINet, "prerouting"},
		{ChainHookPrerouting, FamilyBridge, "prerouting"},
		{ChainHookInput, FamilyNetdev, "input"},
		{ChainHookOutput, FamilyARP, "output"},
	}
	for _, tt := range tests {
		t.Run(tt.family.String()+" "+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.hook.Name(tt.family))
		})
	}
}

func TestChainValidation(t *testing.T) {
	inet := &Table{Family: FamilyINet, Name: "filter"}
	bridge := &Table{Family: FamilyBridge, Name: "br"}
	netdev := &Table{Family: FamilyNetdev, Name: "edge"}
	arp := &Table{Family: FamilyARP, Name: "arpf"}

	tests := []struct {
		name  string
		chain *Chain
		op    Op
	}{
		{"no table", &Chain{Name: "c"}, OpAdd},
		{"empty name", &Chain{Table: inet}, OpAdd},
		{"unspec family", &Chain{Table: &Table{Name: "t"}, Name: "c"}, OpAdd},
		{"insert", &Chain{Table: inet, Name: "c"}, OpInsert},
		{"priority without type", &Chain{Table: inet, Name: "c", Hook: Hook(ChainHookInput), Priority: Priority(0)}, OpAdd},
		{"policy without type", &Chain{Table: inet, Name: "c", Policy: Policy(ChainPolicyDrop)}, OpAdd},
		{"type without hook", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Priority: Priority(0)}, OpAdd},
		{"type without priority", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookInput)}, OpAdd},
		{"unknown type", &Chain{Table: inet, Name: "c", Type: "mangle", Hook: Hook(ChainHookInput), Priority: Priority(0)}, OpAdd},
		{"nat on forward", &Chain{Table: inet, Name: "c", Type: ChainTypeNAT, Hook: Hook(ChainHookForward), Priority: Priority(0)}, OpAdd},
		{"nat in bridge", &Chain{Table: bridge, Name: "c", Type: ChainTypeNAT, Hook: Hook(ChainHookPrerouting), Priority: Priority(0)}, OpAdd},
		{"nat priority too low", &Chain{Table: inet, Name: "c", Type: ChainTypeNAT, Hook: Hook(ChainHookPrerouting), Priority: NamedPriority(PriorityRaw, 0)}, OpAdd},
		{"route on input", &Chain{Table: inet, Name: "c", Type: ChainTypeRoute, Hook: Hook(ChainHookInput), Priority: Priority(0)}, OpAdd},
		{"route in arp", &Chain{Table: arp, Name: "c", Type: ChainTypeRoute, Hook: Hook(ChainHookOutput), Priority: Priority(0)}, OpAdd},
		{"arp forward", &Chain{Table: arp, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookForward), Priority: Priority(0)}, OpAdd},
		{"netdev without device", &Chain{Table: netdev, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookIngress), Priority: Priority(0)}, OpAdd},
		{"netdev bad device", &Chain{Table: netdev, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookIngress), Priority: Priority(0), Device: "way-too-long-device"}, OpAdd},
		{"netdev on input", &Chain{Table: netdev, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookInput), Priority: Priority(0), Device: "eth0"}, OpAdd},
		{"device outside netdev", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookInput), Priority: Priority(0), Device: "eth0"}, OpAdd},
		{"dstnat on input", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookInput), Priority: NamedPriority(PriorityDstNAT, 0)}, OpAdd},
		{"out in inet", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHookOutput), Priority: NamedPriority(PriorityOut, 0)}, OpAdd},
		{"bad hook", &Chain{Table: inet, Name: "c", Type: ChainTypeFilter, Hook: Hook(ChainHook(9)), Priority: Priority(0)}, OpAdd},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.chain.Encode(tc.op)
			requireConfigError(t, err)
		})
	}

	t.Run("base settings ignored on delete", func(t *testing.T) {
		c := &Chain{Table: inet, Name: "c", Priority: Priority(0), Handle: 12}
		p, err := c.Encode(OpDelete)
		require.NoError(t, err)
		attrs, err := netlink.UnmarshalAttributes(p.Attrs)
		require.NoError(t, err)
		require.Len(t, attrs, 3)
		assert.Equal(t, uint16(unix.NFTA_CHAIN_HANDLE), attrs[2].Type)
	})
}

func TestChainPriorityResolve(t *testing.T) {
	tests := []struct {
		name   string
		prio   *ChainPriority
		family Family
		hook   ChainHook
		want   int32
		err    bool
	}{
		{"numeric", Priority(-42), FamilyINet, ChainHookInput, -42, false},
		{"inet filter", NamedPriority(PriorityFilter, 0), FamilyINet, ChainHookInput, 0, false},
		{"mangle minus", NamedPriority(PriorityMangle, -5), FamilyIPv4, ChainHookOutput, -155, false},
		{"security", NamedPriority(PrioritySecurity, 0), FamilyIPv6, ChainHookForward, 50, false},
		{"dstnat", NamedPriority(PriorityDstNAT, 0), FamilyINet, ChainHookPrerouting, -100, false},
		{"srcnat", NamedPriority(PrioritySrcNAT, 1), FamilyINet, ChainHookPostrouting, 101, false},
		{"bridge filter", NamedPriority(PriorityFilter, 0), FamilyBridge, ChainHookForward, -200, false},
		{"bridge dstnat", NamedPriority(PriorityDstNAT, 0), FamilyBridge, ChainHookPrerouting, -300, false},
		{"bridge out", NamedPriority(PriorityOut, 0), FamilyBridge, ChainHookOutput, 100, false},
		{"bridge srcnat", NamedPriority(PrioritySrcNAT, 0), FamilyBridge, ChainHookPostrouting, 300, false},
		{"netdev filter", NamedPriority(PriorityFilter, 5), FamilyNetdev, ChainHookIngress, 5, false},
		{"arp raw", NamedPriority(PriorityRaw, 0), FamilyARP, ChainHookInput, 0, true},
		{"bridge out on input", NamedPriority(PriorityOut, 0), FamilyBridge, ChainHookInput, 0, true},
		{"srcnat on prerouting", NamedPriority(PrioritySrcNAT, 0), FamilyINet, ChainHookPrerouting, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.prio.Resolve(tc.family, tc.hook)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	assert.Equal(t, "filter + 10", NamedPriority(PriorityFilter, 10).String())
	assert.Equal(t, "mangle - 5", NamedPriority(PriorityMangle, -5).String())
	assert.Equal(t, "raw", NamedPriority(PriorityRaw, 0).String())
	assert.Equal(t, "-300", Priority(-300).String())
}

func testChain() *Chain {
	return &Chain{
		Table: &Table{Family: FamilyINet, Name: "filter"}, Name: "input", Type: ChainTypeFilter,
		Hook: Hook(ChainHookInput), Priority: NamedPriority(PriorityFilter, 0), Policy: Policy(ChainPolicyAccept),
	}
}

// iifnameAccept is the rule body of "iifname lo accept".
func iifnameAccept(name string) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaIIFName, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.IfName(name)},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

func TestRuleRoundTrip(t *testing.T) {
	ch := testChain()
	in := NewRule(ch, iifnameAccept("lo")...).AddExpr(&expr.Counter{})
	in.Position = 5
	in.UserData = []byte("comment")

	out, err := DecodeRule(roundTrip(t, in, OpAdd))
	require.NoError(t, err)
	assert.Equal(t, "filter", out.Chain.Table.Name)
	assert.Equal(t, FamilyINet, out.Chain.Table.Family)
	assert.Equal(t, "input", out.Chain.Name)
	assert.Equal(t, uint64(5), out.Position)
	assert.Equal(t, []byte("comment"), out.UserData)
	assert.Equal(t, in.Exprs, out.Exprs)
}

func TestVerdictMapRule(t *testing.T) {
	ch := testChain()
	vmap := &Set{Table: ch.Table, Name: "dispatch", KeyType: TypeInetService, DataType: TypeVerdict}
	in := NewRule(ch,
		&expr.Payload{Field: expr.TCPDport, Register: expr.Reg1},
		vmap.MapLookup(expr.Reg1, expr.RegVerdict),
	)

	out, err := DecodeRule(roundTrip(t, in, OpAdd))
	require.NoError(t, err)
	require.Len(t, out.Exprs, 2)
	lookup, ok := out.Exprs[1].(*expr.Lookup)
	require.True(t, ok)
	assert.True(t, lookup.IsMap)
	assert.Equal(t, expr.RegVerdict, lookup.DestRegister)
	assert.Equal(t, "dispatch", lookup.SetName)
}

func TestRuleExpressionOrder(t *testing.T) {
	exprs := []expr.Any{
		&expr.Counter{},
		&expr.Payload{Field: expr.TCPDport, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.Port(22)},
		&expr.Log{Prefix: "ssh: "},
		&expr.Verdict{Kind: expr.VerdictJump, Chain: "ssh"},
	}
	out, err := DecodeRule(roundTrip(t, NewRule(testChain(), exprs...), OpInsert))
	require.NoError(t, err)
	require.Len(t, out.Exprs, len(exprs))
	for i := range exprs {
		assert.Equal(t, exprs[i].Name(), out.Exprs[i].Name(), "expression %d", i)
	}
}

func TestRuleEncode(t *testing.T) {
	ch := testChain()

	t.Run("delete omits expressions", func(t *testing.T) {
		r := NewRule(ch, iifnameAccept("lo")...)
		r.Handle = 9
		out, err := DecodeRule(roundTrip(t, r, OpDelete))
		require.NoError(t, err)
		assert.Equal(t, uint64(9), out.Handle)
		assert.Empty(t, out.Exprs)
	})

	t.Run("replace keeps handle and drops position", func(t *testing.T) {
		r := NewRule(ch, &expr.Verdict{Kind: expr.VerdictDrop})
		r.Handle, r.Position = 9, 3
		out, err := DecodeRule(roundTrip(t, r, OpReplace))
		require.NoError(t, err)
		assert.Equal(t, uint64(9), out.Handle)
		assert.Zero(t, out.Position)
		assert.Len(t, out.Exprs, 1)
	})

	t.Run("empty rule", func(t *testing.T) {
		out, err := DecodeRule(roundTrip(t, NewRule(ch), OpAdd))
		require.NoError(t, err)
		assert.Empty(t, out.Exprs)
	})

	t.Run("ref", func(t *testing.T) {
		p, err := NewRule(ch).Encode(OpAdd)
		require.NoError(t, err)
		assert.Equal(t, "add rule inet filter input", p.Ref.String())
	})

	tests := []struct {
		name string
		rule *Rule
		op   Op
	}{
		{"no chain", &Rule{}, OpAdd},
		{"chain without table", &Rule{Chain: &Chain{Name: "input"}}, OpAdd},
		{"replace without handle", NewRule(ch), OpReplace},
		{"delete without handle", NewRule(ch), OpDelete},
		{"flush", NewRule(ch), OpFlush},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.rule.Encode(tc.op)
			requireConfigError(t, err)
		})
	}

	t.Run("invalid expression", func(t *testing.T) {
		_, err := NewRule(ch, &expr.Verdict{Kind: expr.VerdictJump}).Encode(OpAdd)
		require.Error(t, err)
		var ee *expr.EncodingError
		assert.True(t, errors.As(err, &ee))
	})
}

func TestSetRoundTrip(t *testing.T) {
	tbl := &Table{Family: FamilyINet, Name: "filter"}

	tests := []struct {
		name string
		in   *Set
		want *Set
	}{
		{
			name: "plain",
			in:   &Set{Table: tbl, Name: "blocklist", KeyType: TypeIPAddr},
			want: &Set{Table: tbl, Name: "blocklist", KeyType: TypeIPAddr},
		},
		{
			name: "timeout",
			in:   &Set{Table: tbl, Name: "seen", KeyType: TypeIP6Addr, Timeout: 90 * time.Second},
			want: &Set{Table: tbl, Name: "seen", KeyType: TypeIP6Addr, Flags: SetTimeout, Timeout: 90 * time.Second},
		},
		{
			name: "interval",
			in:   &Set{Table: tbl, Name: "nets", KeyType: TypeIPAddr, Flags: SetInterval},
			want: &Set{Table: tbl, Name: "nets", KeyType: TypeIPAddr, Flags: SetInterval},
		},
		{
			name: "verdict map",
			in:   &Set{Table: tbl, Name: "dispatch", KeyType: TypeInetService, DataType: TypeVerdict},
			want: &Set{Table: tbl, Name: "dispatch", KeyType: TypeInetService, DataType: TypeVerdict, Flags: SetMap},
		},
		{
			name: "mark map",
			in:   &Set{Table: tbl, Name: "marks", KeyType: TypeIFName, DataType: TypeMark, Flags: SetMap},
			want: &Set{Table: tbl, Name: "marks", KeyType: TypeIFName, DataType: TypeMark, Flags: SetMap},
		},
		{
			name: "anonymous",
			in:   NewAnonymousSet(tbl, 3, TypeInetService),
			want: &Set{Table: tbl, Name: "__set3", ID: 3, KeyType: TypeInetService, Flags: SetAnonymous | SetConstant},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeSet(roundTrip(t, tc.in, OpAdd))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}

	t.Run("unknown datatype keeps magic and length", func(t *testing.T) {
		s := &Set{Table: tbl, Name: "raw", KeyType: SetDatatype{Magic: 200, Bytes: 12}}
		out, err := DecodeSet(roundTrip(t, s, OpAdd))
		require.NoError(t, err)
		assert.Equal(t, SetDatatype{Magic: 200, Bytes: 12}, out.KeyType)
	})
}

func TestSetValidation(t *testing.T) {
	tbl := &Table{Family: FamilyINet, Name: "filter"}
	tests := []struct {
		name string
		set  *Set
		op   Op
	}{
		{"no table", &Set{Name: "s", KeyType: TypeIPAddr}, OpAdd},
		{"no name", &Set{Table: tbl, KeyType: TypeIPAddr}, OpAdd},
		{"no key type", &Set{Table: tbl, Name: "s"}, OpAdd},
		{"map without data type", &Set{Table: tbl, Name: "s", KeyType: TypeIPAddr, Flags: SetMap}, OpAdd},
		{"data type without length", &Set{Table: tbl, Name: "s", KeyType: TypeIPAddr, DataType: SetDatatype{Name: "x", Magic: 77}}, OpAdd},
		{"anonymous without id", &Set{Table: tbl, Name: "__set0", KeyType: TypeIPAddr, Flags: SetAnonymous}, OpAdd},
		{"constant with timeout", &Set{Table: tbl, Name: "s", KeyType: TypeIPAddr, Flags: SetConstant, Timeout: time.Minute}, OpAdd},
		{"insert", &Set{Table: tbl, Name: "s", KeyType: TypeIPAddr}, OpInsert},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.set.Encode(tc.op)
			requireConfigError(t, err)
		})
	}

	t.Run("delete needs no key type", func(t *testing.T) {
		_, err := (&Set{Table: tbl, Name: "s"}).Encode(OpDelete)
		assert.NoError(t, err)
	})
}

func TestSetEncodeAll(t *testing.T) {
	tbl := &Table{Family: FamilyIPv4, Name: "filter"}
	s := NewAnonymousSet(tbl, 1, TypeInetService,
		SetElement{Key: expr.Port(22)},
		SetElement{Key: expr.Port(80)},
	)

	ps, err := s.EncodeAll(OpAdd)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, KindSet, ps[0].Ref.Kind)
	assert.Equal(t, KindSetElements, ps[1].Ref.Kind)
	assert.Equal(t, "__set1", ps[1].Ref.Set)

	m, err := Frame(ps[1], 2)
	require.NoError(t, err)
	se, err := DecodeSetElements(m)
	require.NoError(t, err)
	assert.Equal(t, "__set1", se.Set.Name)
	assert.Equal(t, uint32(1), se.Set.ID)
	require.Len(t, se.Elements, 2)
	assert.Equal(t, expr.Port(22), se.Elements[0].Key)
	assert.Equal(t, expr.Port(80), se.Elements[1].Key)

	t.Run("delete sends only the set", func(t *testing.T) {
		ps, err := s.EncodeAll(OpDelete)
		require.NoError(t, err)
		assert.Len(t, ps, 1)
	})
}

func TestSetElementsRoundTrip(t *testing.T) {
	tbl := &Table{Family: FamilyINet, Name: "filter"}

	tests := []struct {
		name  string
		set   *Set
		elems []SetElement
	}{
		{
			name:  "addresses",
			set:   &Set{Table: tbl, Name: "blocklist", KeyType: TypeIPAddr, Timeout: time.Hour},
			elems: []SetElement{{Key: expr.Addr(netip.MustParseAddr("192.0.2.1"))}, {Key: expr.Addr(netip.MustParseAddr("192.0.2.2")), Timeout: time.Minute}},
		},
		{
			name: "intervals",
			set:  &Set{Table: tbl, Name: "nets", KeyType: TypeIPAddr, Flags: SetInterval},
			elems: []SetElement{
				{Key: []byte{10, 0, 0, 0}},
				{Key: []byte{11, 0, 0, 0}, IntervalEnd: true},
			},
		},
		{
			name: "verdict map",
			set:  &Set{Table: tbl, Name: "dispatch", KeyType: TypeInetService, DataType: TypeVerdict},
			elems: []SetElement{
				{Key: expr.Port(22), Verdict: &expr.Verdict{Kind: expr.VerdictJump, Chain: "ssh"}},
				{Key: expr.Port(23), Verdict: &expr.Verdict{Kind: expr.VerdictDrop}},
			},
		},
		{
			name:  "data map",
			set:   &Set{Table: tbl, Name: "marks", KeyType: TypeIFName, DataType: TypeMark},
			elems: []SetElement{{Key: expr.IfNameKey("eth0"), Data: expr.Mark(7)}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeSetElements(roundTrip(t, &SetElements{Set: tc.set, Elements: tc.elems}, OpAdd))
			require.NoError(t, err)
			assert.Equal(t, tc.set.Name, out.Set.Name)
			assert.Equal(t, tc.elems, out.Elements)
		})
	}

	t.Run("delete carries keys only", func(t *testing.T) {
		s := tests[2].set
		out, err := DecodeSetElements(roundTrip(t, &SetElements{Set: s, Elements: tests[2].elems}, OpDelete))
		require.NoError(t, err)
		require.Len(t, out.Elements, 2)
		assert.Nil(t, out.Elements[0].Verdict)
		assert.Equal(t, expr.Port(22), out.Elements[0].Key)
	})
}

func TestSetElementValidation(t *testing.T) {
	tbl := &Table{Family: FamilyINet, Name: "filter"}
	plain := &Set{Table: tbl, Name: "plain", KeyType: TypeIPAddr}
	vmap := &Set{Table: tbl, Name: "vmap", KeyType: TypeInetService, DataType: TypeVerdict}
	dmap := &Set{Table: tbl, Name: "dmap", KeyType: TypeIPAddr, DataType: TypeMark}

	tests := []struct {
		name string
		set  *Set
		el   SetElement
		op   Op
	}{
		{"empty key", plain, SetElement{}, OpAdd},
		{"wrong key length", plain, SetElement{Key: []byte{1, 2}}, OpDelete},
		{"timeout without support", plain, SetElement{Key: []byte{1, 2, 3, 4}, Timeout: time.Second}, OpAdd},
		{"interval end in plain set", plain, SetElement{Key: []byte{1, 2, 3, 4}, IntervalEnd: true}, OpAdd},
		{"data in plain set", plain, SetElement{Key: []byte{1, 2, 3, 4}, Data: []byte{1}}, OpAdd},
		{"verdict map without verdict", vmap, SetElement{Key: expr.Port(1)}, OpAdd},
		{"wrong data length", dmap, SetElement{Key: []byte{1, 2, 3, 4}, Data: []byte{1}}, OpAdd},
		{"flush", plain, SetElement{Key: []byte{1, 2, 3, 4}}, OpFlush},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := (&SetElements{Set: tc.set, Elements: []SetElement{tc.el}}).EncodeAll(tc.op)
			requireConfigError(t, err)
		})
	}

	t.Run("no elements", func(t *testing.T) {
		_, err := (&SetElements{Set: plain}).EncodeAll(OpAdd)
		requireConfigError(t, err)
	})

	t.Run("bad verdict", func(t *testing.T) {
		_, err := (&SetElements{Set: vmap, Elements: []SetElement{{Key: expr.Port(1), Verdict: &expr.Verdict{Kind: expr.VerdictGoto}}}}).EncodeAll(OpAdd)
		assert.Error(t, err)
	})
}

func TestSetElementChunking(t *testing.T) {
	s := &Set{Table: &Table{Family: FamilyIPv4, Name: "filter"}, Name: "big", KeyType: TypeIPAddr}
	elems := make([]SetElement, 5000)
	for i := range elems {
		elems[i] = SetElement{Key: []byte{10, byte(i >> 16), byte(i >> 8), byte(i)}}
	}
	se := &SetElements{Set: s, Elements: elems}

	ps, err := se.EncodeAll(OpAdd)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	var got []SetElement
	for i, p := range ps {
		m, err := Frame(p, uint32(i+1))
		require.NoError(t, err)
		raw, err := m.MarshalBinary()
		require.NoError(t, err)
		msgs, err := ParseMessages(raw)
		require.NoError(t, err)
		out, err := DecodeSetElements(msgs[0])
		require.NoError(t, err)
		got = append(got, out.Elements...)
	}
	assert.Equal(t, elems, got)

	_, err = se.Encode(OpAdd)
	requireConfigError(t, err)
}

func TestDatatypeFor(t *testing.T) {
	assert.Equal(t, TypeIPAddr, datatypeFor(TypeIPAddr.Magic, 4))
	assert.Equal(t, "ifname", datatypeFor(TypeIFName.Magic, 16).Name)
	assert.Equal(t, SetDatatype{Magic: 999, Bytes: 3}, datatypeFor(999, 3))
}

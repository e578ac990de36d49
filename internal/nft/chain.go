package nft

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/validation"
)

// ChainType is the type of a base chain.
type ChainType string

const (
	ChainTypeFilter ChainType = "filter"
	ChainTypeRoute  ChainType = "route"
	ChainTypeNAT    ChainType = "nat"
)

// ChainHook is a netfilter hook. The inet hook numbers are used for every
// family; ARP chains are translated on the wire.
type ChainHook uint32

const (
	ChainHookPrerouting  ChainHook = unix.NF_INET_PRE_ROUTING
	ChainHookInput       ChainHook = unix.NF_INET_LOCAL_IN
	ChainHookForward     ChainHook = unix.NF_INET_FORWARD
	ChainHookOutput      ChainHook = unix.NF_INET_LOCAL_OUT
	ChainHookPostrouting ChainHook = unix.NF_INET_POST_ROUTING
	ChainHookIngress     ChainHook = unix.NF_NETDEV_INGRESS
)

// ARP hook numbers (NF_ARP_IN, NF_ARP_OUT).
const (
	arpHookIn  = 0
	arpHookOut = 1
)

func (h ChainHook) String() string {
	switch h {
	case ChainHookPrerouting:
		return "prerouting"
	case ChainHookInput:
		return "input"
	case ChainHookForward:
		return "forward"
	case ChainHookOutput:
		return "output"
	case ChainHookPostrouting:
		return "postrouting"
	}
	return fmt.Sprintf("hook(%d)", uint32(h))
}

// Name renders h as nft(8) does in family f. Netdev reuses the inet hook
// numbers under its own names.
func (h ChainHook) Name(f Family) string {
	if f == FamilyNetdev && h == ChainHookIngress {
		return "ingress"
	}
	return h.String()
}

// Hook returns a pointer to h, for use in Chain literals.
func Hook(h ChainHook) *ChainHook { return &h }

// ChainPolicy is the verdict applied when a base chain runs off its end.
type ChainPolicy uint32

const (
	ChainPolicyDrop   ChainPolicy = 0
	ChainPolicyAccept ChainPolicy = 1
)

// Policy returns a pointer to p, for use in Chain literals.
func Policy(p ChainPolicy) *ChainPolicy { return &p }

// PriorityName is a symbolic chain priority as nft(8) spells it.
type PriorityName string

const (
	PriorityRaw      PriorityName = "raw"
	PriorityMangle   PriorityName = "mangle"
	PriorityDstNAT   PriorityName = "dstnat"
	PriorityFilter   PriorityName = "filter"
	PrioritySecurity PriorityName = "security"
	PrioritySrcNAT   PriorityName = "srcnat"
	PriorityOut      PriorityName = "out"
)

// ChainPriority is a base chain priority: either a plain number (empty
// Name) or a named priority plus an offset.
type ChainPriority struct {
	Name   PriorityName
	Offset int32
}

// Priority returns a numeric priority.
func Priority(v int32) *ChainPriority { return &ChainPriority{Offset: v} }

// NamedPriority returns a symbolic priority, e.g. NamedPriority(PriorityFilter, 10)
// for "filter + 10".
func NamedPriority(name PriorityName, offset int32) *ChainPriority {
	return &ChainPriority{Name: name, Offset: offset}
}

type namedPrio struct {
	value int32
	// hook the name is restricted to, nil if any hook
	hook *ChainHook
}

var (
	inetPriorities = map[PriorityName]namedPrio{
		PriorityRaw:      {value: -300},
		PriorityMangle:   {value: -150},
		PriorityDstNAT:   {value: -100, hook: Hook(ChainHookPrerouting)},
		PriorityFilter:   {value: 0},
		PrioritySecurity: {value: 50},
		PrioritySrcNAT:   {value: 100, hook: Hook(ChainHookPostrouting)},
	}
	bridgePriorities = map[PriorityName]namedPrio{
		PriorityDstNAT: {value: -300, hook: Hook(ChainHookPrerouting)},
		PriorityFilter: {value: -200},
		PriorityOut:    {value: 100, hook: Hook(ChainHookOutput)},
		PrioritySrcNAT: {value: 300, hook: Hook(ChainHookPostrouting)},
	}
	// arp and netdev only know "filter"
	filterOnlyPriorities = map[PriorityName]namedPrio{
		PriorityFilter: {value: 0},
	}
)

// Resolve returns the numeric priority for a chain of the given family on
// the given hook.
func (p *ChainPriority) Resolve(family Family, hook ChainHook) (int32, error) {
	if p.Name == "" {
		return p.Offset, nil
	}

	var table map[PriorityName]namedPrio
	switch family {
	case FamilyINet, FamilyIPv4, FamilyIPv6:
		table = inetPriorities
	case FamilyBridge:
		table = bridgePriorities
	default:
		table = filterOnlyPriorities
	}

	np, ok := table[p.Name]
	if !ok {
		return 0, fmt.Errorf("priority %q is not valid in family %s", p.Name, family)
	}
	if np.hook != nil && *np.hook != hook {
		return 0, fmt.Errorf("priority %q is only valid on the %s hook", p.Name, np.hook.Name(family))
	}
	return np.value + p.Offset, nil
}

func (p *ChainPriority) String() string {
	switch {
	case p.Name == "":
		return fmt.Sprintf("%d", p.Offset)
	case p.Offset > 0:
		return fmt.Sprintf("%s + %d", p.Name, p.Offset)
	case p.Offset < 0:
		return fmt.Sprintf("%s - %d", p.Name, -p.Offset)
	}
	return string(p.Name)
}

// Chain is an nf_tables chain. A chain with Type, Hook and Priority set is
// a base chain attached to a netfilter hook; a chain with none of them is a
// regular chain reachable only through jump and goto.
type Chain struct {
	Table    *Table
	Name     string
	Type     ChainType
	Hook     *ChainHook
	Priority *ChainPriority
	Policy   *ChainPolicy
	// Device binds a netdev ingress chain to an interface.
	Device string

	// Filled in by decoding.
	Handle uint64
	Use    uint32
}

// IsBase reports whether any base chain setting is present.
func (c *Chain) IsBase() bool {
	return c.Type != "" || c.Hook != nil || c.Priority != nil || c.Policy != nil || c.Device != ""
}

func (c *Chain) tableName() string {
	if c.Table == nil {
		return ""
	}
	return c.Table.Name
}

func (c *Chain) ref(op Op) MessageRef {
	r := MessageRef{Kind: KindChain, Op: op, Table: c.tableName(), Chain: c.Name, Handle: c.Handle}
	if c.Table != nil {
		r.Family = c.Table.Family
	}
	return r
}

func (c *Chain) validate(op Op) error {
	if !supports(KindChain, op) {
		return configErr("chain", c.Name, "operation %s not supported", op)
	}
	if c.Table == nil {
		return configErr("chain", c.Name, "no table")
	}
	if !c.Table.Family.tableFamily() {
		return configErr("chain", c.Name, "invalid family %s", c.Table.Family)
	}
	if err := validation.ValidateObjectName("table", c.Table.Name); err != nil {
		return configErr("chain", c.Name, "%v", err)
	}
	if err := validation.ValidateObjectName("chain", c.Name); err != nil {
		return configErr("chain", c.Name, "%v", err)
	}
	return nil
}

// basePriority checks the base chain settings and resolves the priority.
func (c *Chain) basePriority() (int32, error) {
	family := c.Table.Family
	switch {
	case c.Type == "" && c.Priority != nil:
		return 0, configErr("chain", c.Name, "priority set without chain type")
	case c.Type == "":
		return 0, configErr("chain", c.Name, "hook settings without chain type")
	case c.Hook == nil:
		return 0, configErr("chain", c.Name, "chain type %s without hook", c.Type)
	case c.Priority == nil:
		return 0, configErr("chain", c.Name, "chain type %s without priority", c.Type)
	}
	hook := *c.Hook

	switch c.Type {
	case ChainTypeFilter:
		switch family {
		case FamilyARP:
			if hook != ChainHookInput && hook != ChainHookOutput {
				return 0, configErr("chain", c.Name, "arp chains only attach to input and output")
			}
		case FamilyNetdev:
			if hook != ChainHookIngress {
				return 0, configErr("chain", c.Name, "netdev chains only attach to ingress")
			}
		case FamilyINet, FamilyIPv4, FamilyIPv6, FamilyBridge:
			if hook > ChainHookPostrouting {
				return 0, configErr("chain", c.Name, "invalid hook %d", uint32(hook))
			}
		}
	case ChainTypeNAT:
		if !isIPFamily(family) {
			return 0, configErr("chain", c.Name, "nat chains require family ip, ip6 or inet")
		}
		if hook == ChainHookForward || hook > ChainHookPostrouting {
			return 0, configErr("chain", c.Name, "nat chains do not attach to %s", hook.Name(family))
		}
	case ChainTypeRoute:
		if !isIPFamily(family) {
			return 0, configErr("chain", c.Name, "route chains require family ip, ip6 or inet")
		}
		if hook != ChainHookOutput {
			return 0, configErr("chain", c.Name, "route chains only attach to output")
		}
	default:
		return 0, configErr("chain", c.Name, "unknown chain type %q", c.Type)
	}

	if family == FamilyNetdev {
		if c.Device == "" {
			return 0, configErr("chain", c.Name, "netdev chains require a device")
		}
		if err := validation.ValidateInterfaceName(c.Device); err != nil {
			return 0, configErr("chain", c.Name, "%v", err)
		}
	} else if c.Device != "" {
		return 0, configErr("chain", c.Name, "device is only valid in family netdev")
	}

	prio, err := c.Priority.Resolve(family, hook)
	if err != nil {
		return 0, configErr("chain", c.Name, "%v", err)
	}
	if c.Type == ChainTypeNAT && prio <= -200 {
		return 0, configErr("chain", c.Name, "nat chain priority %d must be above -200", prio)
	}
	return prio, nil
}

func isIPFamily(f Family) bool {
	return f == FamilyINet || f == FamilyIPv4 || f == FamilyIPv6
}

func hookNum(family Family, h ChainHook) uint32 {
	if family == FamilyARP {
		if h == ChainHookOutput {
			return arpHookOut
		}
		return arpHookIn
	}
	return uint32(h)
}

func hookFromNum(family Family, n uint32) ChainHook {
	if family == FamilyARP {
		if n == arpHookOut {
			return ChainHookOutput
		}
		return ChainHookInput
	}
	return ChainHook(n)
}

// Encode implements Encoder. OpFlush removes every rule of the chain.
func (c *Chain) Encode(op Op) (*Payload, error) {
	if err := c.validate(op); err != nil {
		return nil, err
	}

	var (
		prio int32
		base = (op == OpAdd || op == OpCreate) && c.IsBase()
	)
	if base {
		var err error
		if prio, err = c.basePriority(); err != nil {
			return nil, err
		}
	}

	ae := newEncoder()
	if op == OpFlush {
		ae.String(unix.NFTA_RULE_TABLE, c.Table.Name)
		ae.String(unix.NFTA_RULE_CHAIN, c.Name)
	} else {
		ae.String(unix.NFTA_CHAIN_TABLE, c.Table.Name)
		ae.String(unix.NFTA_CHAIN_NAME, c.Name)
		if op == OpDelete && c.Handle != 0 {
			ae.Uint64(unix.NFTA_CHAIN_HANDLE, c.Handle)
		}
	}

	if base {
		ae.Nested(unix.NFTA_CHAIN_HOOK, func(nae *netlink.AttributeEncoder) error {
			nae.Uint32(unix.NFTA_HOOK_HOOKNUM, hookNum(c.Table.Family, *c.Hook))
			nae.Uint32(unix.NFTA_HOOK_PRIORITY, uint32(prio))
			if c.Device != "" {
				nae.String(unix.NFTA_HOOK_DEV, c.Device)
			}
			return nil
		})
		if c.Policy != nil {
			ae.Uint32(unix.NFTA_CHAIN_POLICY, uint32(*c.Policy))
		}
		ae.String(unix.NFTA_CHAIN_TYPE, string(c.Type))
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return &Payload{Ref: c.ref(op), Attrs: b}, nil
}

// DecodeChain parses an NFT_MSG_NEWCHAIN message. Priorities come back
// numeric.
func DecodeChain(m netlink.Message) (*Chain, error) {
	family, attrs, err := expectType(m, unix.NFT_MSG_NEWCHAIN)
	if err != nil {
		return nil, err
	}
	ad, err := newDecoder(attrs)
	if err != nil {
		return nil, err
	}

	c := &Chain{Table: &Table{Family: family}}
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_CHAIN_TABLE:
			c.Table.Name = ad.String()
		case unix.NFTA_CHAIN_NAME:
			c.Name = ad.String()
		case unix.NFTA_CHAIN_HANDLE:
			c.Handle = ad.Uint64()
		case unix.NFTA_CHAIN_USE:
			c.Use = ad.Uint32()
		case unix.NFTA_CHAIN_TYPE:
			c.Type = ChainType(ad.String())
		case unix.NFTA_CHAIN_POLICY:
			c.Policy = Policy(ChainPolicy(ad.Uint32()))
		case unix.NFTA_CHAIN_HOOK:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case unix.NFTA_HOOK_HOOKNUM:
						c.Hook = Hook(hookFromNum(family, nad.Uint32()))
					case unix.NFTA_HOOK_PRIORITY:
						c.Priority = Priority(int32(nad.Uint32()))
					case unix.NFTA_HOOK_DEV:
						c.Device = nad.String()
					}
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

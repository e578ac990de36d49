package nft

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft/expr"
)

// Rule is an ordered list of expressions in a chain.
type Rule struct {
	Chain *Chain
	Exprs []expr.Any
	// Handle identifies an existing rule for Replace, Delete and Get.
	Handle uint64
	// Position places an added rule after, or an inserted rule before,
	// the rule with this handle.
	Position uint64
	// UserData is opaque to the kernel; nft(8) keeps comments here.
	UserData []byte
}

// NewRule returns a rule for chain c with the given expressions.
func NewRule(c *Chain, exprs ...expr.Any) *Rule {
	return &Rule{Chain: c, Exprs: exprs}
}

// AddExpr appends an expression. Expressions are encoded in the order
// they were added.
func (r *Rule) AddExpr(e ...expr.Any) *Rule {
	r.Exprs = append(r.Exprs, e...)
	return r
}

func (r *Rule) ref(op Op) MessageRef {
	ref := MessageRef{Kind: KindRule, Op: op, Handle: r.Handle}
	if r.Chain != nil {
		ref.Chain = r.Chain.Name
		if r.Chain.Table != nil {
			ref.Family = r.Chain.Table.Family
			ref.Table = r.Chain.Table.Name
		}
	}
	return ref
}

func (r *Rule) validate(op Op) error {
	if !supports(KindRule, op) {
		return configErr("rule", "", "operation %s not supported", op)
	}
	if r.Chain == nil {
		return configErr("rule", "", "no chain")
	}
	if err := r.Chain.validate(OpGet); err != nil {
		return err
	}
	switch op {
	case OpReplace, OpDelete, OpGet:
		if r.Handle == 0 {
			return configErr("rule", r.Chain.Name, "%s requires a handle", op)
		}
	}
	return nil
}

// Encode implements Encoder.
func (r *Rule) Encode(op Op) (*Payload, error) {
	if err := r.validate(op); err != nil {
		return nil, err
	}

	ae := newEncoder()
	ae.String(unix.NFTA_RULE_TABLE, r.Chain.Table.Name)
	ae.String(unix.NFTA_RULE_CHAIN, r.Chain.Name)

	switch op {
	case OpReplace, OpDelete, OpGet:
		ae.Uint64(unix.NFTA_RULE_HANDLE, r.Handle)
	}

	if op != OpDelete && op != OpGet {
		if len(r.Exprs) > 0 {
			ae.Nested(unix.NFTA_RULE_EXPRESSIONS, func(nae *netlink.AttributeEncoder) error {
				for _, e := range r.Exprs {
					nae.Nested(unix.NFTA_LIST_ELEM, func(eae *netlink.AttributeEncoder) error {
						return expr.Encode(eae, e)
					})
				}
				return nil
			})
		}
		if r.Position != 0 && op != OpReplace {
			ae.Uint64(unix.NFTA_RULE_POSITION, r.Position)
		}
		if len(r.UserData) > 0 {
			ae.Bytes(unix.NFTA_RULE_USERDATA, r.UserData)
		}
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return &Payload{Ref: r.ref(op), Attrs: b}, nil
}

// DecodeRule parses an NFT_MSG_NEWRULE message.
func DecodeRule(m netlink.Message) (*Rule, error) {
	family, attrs, err := expectType(m, unix.NFT_MSG_NEWRULE)
	if err != nil {
		return nil, err
	}
	ad, err := newDecoder(attrs)
	if err != nil {
		return nil, err
	}

	r := &Rule{Chain: &Chain{Table: &Table{Family: family}}}
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_RULE_TABLE:
			r.Chain.Table.Name = ad.String()
		case unix.NFTA_RULE_CHAIN:
			r.Chain.Name = ad.String()
		case unix.NFTA_RULE_HANDLE:
			r.Handle = ad.Uint64()
		case unix.NFTA_RULE_POSITION:
			r.Position = ad.Uint64()
		case unix.NFTA_RULE_USERDATA:
			r.UserData = ad.Bytes()
		case unix.NFTA_RULE_EXPRESSIONS:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					if nad.Type() != unix.NFTA_LIST_ELEM {
						continue
					}
					nad.Nested(func(ead *netlink.AttributeDecoder) error {
						e, err := expr.Decode(ead)
						if err != nil {
							return err
						}
						r.Exprs = append(r.Exprs, e)
						return nil
					})
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

package nft

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/validation"
)

// TableFlags are the NFT_TABLE_F_* flags.
type TableFlags uint32

const (
	TableFlagDormant TableFlags = unix.NFT_TABLE_F_DORMANT
	TableFlagOwner   TableFlags = 0x2
)

const nftaTableHandle = 0x4

// Table is an nf_tables table.
type Table struct {
	Family Family
	Name   string
	Flags  TableFlags

	// Filled in by decoding.
	Handle uint64
	Use    uint32
}

func (t *Table) ref(op Op) MessageRef {
	return MessageRef{Kind: KindTable, Op: op, Family: t.Family, Table: t.Name}
}

func (t *Table) validate(op Op) error {
	if !supports(KindTable, op) {
		return configErr("table", t.Name, "operation %s not supported", op)
	}
	if !t.Family.tableFamily() {
		return configErr("table", t.Name, "invalid family %s", t.Family)
	}
	if err := validation.ValidateObjectName("table", t.Name); err != nil {
		return configErr("table", t.Name, "%v", err)
	}
	return nil
}

// Encode implements Encoder. OpFlush removes every rule of the table.
func (t *Table) Encode(op Op) (*Payload, error) {
	if err := t.validate(op); err != nil {
		return nil, err
	}

	ae := newEncoder()
	switch op {
	case OpFlush:
		ae.String(unix.NFTA_RULE_TABLE, t.Name)
	case OpAdd, OpCreate:
		ae.String(unix.NFTA_TABLE_NAME, t.Name)
		ae.Uint32(unix.NFTA_TABLE_FLAGS, uint32(t.Flags))
	default:
		ae.String(unix.NFTA_TABLE_NAME, t.Name)
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return &Payload{Ref: t.ref(op), Attrs: b}, nil
}

// DecodeTable parses an NFT_MSG_NEWTABLE message.
func DecodeTable(m netlink.Message) (*Table, error) {
	family, attrs, err := expectType(m, unix.NFT_MSG_NEWTABLE)
	if err != nil {
		return nil, err
	}
	ad, err := newDecoder(attrs)
	if err != nil {
		return nil, err
	}

	t := &Table{Family: family}
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_TABLE_NAME:
			t.Name = ad.String()
		case unix.NFTA_TABLE_FLAGS:
			t.Flags = TableFlags(ad.Uint32())
		case unix.NFTA_TABLE_USE:
			t.Use = ad.Uint32()
		case nftaTableHandle:
			t.Handle = ad.Uint64()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

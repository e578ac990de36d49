package nft

import (
	"fmt"
	"math"
	"time"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft/expr"
	"grimm.is/nftwire/internal/validation"
)

// SetDatatype describes the key or data type of a set as nft(8) knows it.
type SetDatatype struct {
	Name  string
	Bytes uint32
	Magic uint32
}

// Datatypes from nftables' src/datatype.c.
var (
	TypeVerdict     = SetDatatype{Name: "verdict", Bytes: 0, Magic: 1}
	TypeInteger     = SetDatatype{Name: "integer", Bytes: 4, Magic: 4}
	TypeIPAddr      = SetDatatype{Name: "ipv4_addr", Bytes: 4, Magic: 7}
	TypeIP6Addr     = SetDatatype{Name: "ipv6_addr", Bytes: 16, Magic: 8}
	TypeEtherAddr   = SetDatatype{Name: "ether_addr", Bytes: 6, Magic: 9}
	TypeEtherType   = SetDatatype{Name: "ether_type", Bytes: 2, Magic: 10}
	TypeInetProto   = SetDatatype{Name: "inet_proto", Bytes: 1, Magic: 12}
	TypeInetService = SetDatatype{Name: "inet_service", Bytes: 2, Magic: 13}
	TypeMark        = SetDatatype{Name: "mark", Bytes: 4, Magic: 19}
	TypeIFIndex     = SetDatatype{Name: "iface_index", Bytes: 4, Magic: 20}
	TypeCTState     = SetDatatype{Name: "ct_state", Bytes: 4, Magic: 26}
	TypeIFName      = SetDatatype{Name: "ifname", Bytes: expr.IfNameLen, Magic: 41}
)

var datatypes = map[uint32]SetDatatype{}

func init() {
	for _, dt := range []SetDatatype{
		TypeVerdict, TypeInteger, TypeIPAddr, TypeIP6Addr, TypeEtherAddr, TypeEtherType,
		TypeInetProto, TypeInetService, TypeMark, TypeIFIndex, TypeCTState, TypeIFName,
	} {
		datatypes[dt.Magic] = dt
	}
}

func datatypeFor(magic, length uint32) SetDatatype {
	dt, ok := datatypes[magic]
	if !ok {
		return SetDatatype{Bytes: length, Magic: magic}
	}
	dt.Bytes = length
	return dt
}

// SetFlags are the NFT_SET_* flags.
type SetFlags uint32

const (
	SetAnonymous SetFlags = unix.NFT_SET_ANONYMOUS
	SetConstant  SetFlags = unix.NFT_SET_CONSTANT
	SetInterval  SetFlags = unix.NFT_SET_INTERVAL
	SetMap       SetFlags = unix.NFT_SET_MAP
	SetTimeout   SetFlags = unix.NFT_SET_TIMEOUT
	SetEval      SetFlags = unix.NFT_SET_EVAL
)

// Set is an nf_tables set or map. Elements listed in the set are sent in
// the same batch when the set is added.
type Set struct {
	Table *Table
	Name  string
	// ID names the set inside a batch before the kernel has assigned a
	// handle. Anonymous sets and lookups against them need it.
	ID       uint32
	Flags    SetFlags
	KeyType  SetDatatype
	DataType SetDatatype
	Timeout  time.Duration
	Elements []SetElement
}

// NewAnonymousSet returns a constant anonymous set. The kernel binds it to
// the first rule that references it and drops it with that rule.
func NewAnonymousSet(t *Table, id uint32, key SetDatatype, elems ...SetElement) *Set {
	return &Set{
		Table:    t,
		Name:     fmt.Sprintf("__set%d", id),
		ID:       id,
		Flags:    SetAnonymous | SetConstant,
		KeyType:  key,
		Elements: elems,
	}
}

// IsMap reports whether the set maps keys to data.
func (s *Set) IsMap() bool {
	return s.Flags&SetMap != 0 || s.DataType.Magic != 0
}

// Lookup returns a lookup expression against this set.
func (s *Set) Lookup(src expr.Register) *expr.Lookup {
	return &expr.Lookup{SourceRegister: src, SetName: s.Name, SetID: s.ID}
}

// MapLookup returns a lookup that loads the data mapped to src into dst.
// For verdict maps dst is expr.RegVerdict.
func (s *Set) MapLookup(src, dst expr.Register) *expr.Lookup {
	return &expr.Lookup{SourceRegister: src, DestRegister: dst, IsMap: true, SetName: s.Name, SetID: s.ID}
}

func (s *Set) ref(op Op) MessageRef {
	r := MessageRef{Kind: KindSet, Op: op, Set: s.Name}
	if s.Table != nil {
		r.Family = s.Table.Family
		r.Table = s.Table.Name
	}
	return r
}

func (s *Set) validate(op Op) error {
	if !supports(KindSet, op) {
		return configErr("set", s.Name, "operation %s not supported", op)
	}
	if s.Table == nil {
		return configErr("set", s.Name, "no table")
	}
	if !s.Table.Family.tableFamily() {
		return configErr("set", s.Name, "invalid family %s", s.Table.Family)
	}
	if err := validation.ValidateObjectName("set", s.Name); err != nil {
		return configErr("set", s.Name, "%v", err)
	}
	if op != OpAdd && op != OpCreate {
		return nil
	}

	if s.KeyType.Magic == 0 || s.KeyType.Bytes == 0 {
		return configErr("set", s.Name, "key type required")
	}
	if s.Flags&SetMap != 0 && s.DataType.Magic == 0 {
		return configErr("set", s.Name, "map without data type")
	}
	if s.DataType.Magic != 0 && s.DataType != TypeVerdict && s.DataType.Bytes == 0 {
		return configErr("set", s.Name, "data type %q without length", s.DataType.Name)
	}
	if s.Flags&SetAnonymous != 0 && s.ID == 0 {
		return configErr("set", s.Name, "anonymous set without id")
	}
	if s.Timeout > 0 && s.Flags&SetConstant != 0 {
		return configErr("set", s.Name, "constant set cannot have a timeout")
	}
	return nil
}

func (s *Set) wireFlags() SetFlags {
	flags := s.Flags
	if s.DataType.Magic != 0 {
		flags |= SetMap
	}
	if s.Timeout > 0 {
		flags |= SetTimeout
	}
	return flags
}

// Encode implements Encoder for the set itself. Elements are not
// included; use EncodeAll or add the set to a batch.
func (s *Set) Encode(op Op) (*Payload, error) {
	if err := s.validate(op); err != nil {
		return nil, err
	}

	ae := newEncoder()
	if op == OpFlush {
		ae.String(unix.NFTA_SET_ELEM_LIST_TABLE, s.Table.Name)
		ae.String(unix.NFTA_SET_ELEM_LIST_SET, s.Name)
	} else {
		ae.String(unix.NFTA_SET_TABLE, s.Table.Name)
		ae.String(unix.NFTA_SET_NAME, s.Name)
	}

	if op == OpAdd || op == OpCreate {
		ae.Uint32(unix.NFTA_SET_FLAGS, uint32(s.wireFlags()))
		ae.Uint32(unix.NFTA_SET_KEY_TYPE, s.KeyType.Magic)
		ae.Uint32(unix.NFTA_SET_KEY_LEN, s.KeyType.Bytes)
		if s.DataType.Magic != 0 {
			if s.DataType == TypeVerdict {
				ae.Uint32(unix.NFTA_SET_DATA_TYPE, unix.NFT_DATA_VERDICT)
			} else {
				ae.Uint32(unix.NFTA_SET_DATA_TYPE, s.DataType.Magic)
			}
			ae.Uint32(unix.NFTA_SET_DATA_LEN, s.DataType.Bytes)
		}
		if s.ID != 0 {
			ae.Uint32(unix.NFTA_SET_ID, s.ID)
		}
		if s.Timeout > 0 {
			ae.Uint64(unix.NFTA_SET_TIMEOUT, uint64(s.Timeout.Milliseconds()))
		}
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return &Payload{Ref: s.ref(op), Attrs: b}, nil
}

// EncodeAll encodes the set followed by its elements when op adds the set.
func (s *Set) EncodeAll(op Op) ([]*Payload, error) {
	p, err := s.Encode(op)
	if err != nil {
		return nil, err
	}
	out := []*Payload{p}
	if (op != OpAdd && op != OpCreate) || len(s.Elements) == 0 {
		return out, nil
	}
	elems, err := (&SetElements{Set: s, Elements: s.Elements}).EncodeAll(OpAdd)
	if err != nil {
		return nil, err
	}
	return append(out, elems...), nil
}

// DecodeSet parses an NFT_MSG_NEWSET message.
func DecodeSet(m netlink.Message) (*Set, error) {
	family, attrs, err := expectType(m, unix.NFT_MSG_NEWSET)
	if err != nil {
		return nil, err
	}
	ad, err := newDecoder(attrs)
	if err != nil {
		return nil, err
	}

	var (
		s                 = &Set{Table: &Table{Family: family}}
		keyMagic, keyLen  uint32
		dataMagic, dataLn uint32
	)
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_SET_TABLE:
			s.Table.Name = ad.String()
		case unix.NFTA_SET_NAME:
			s.Name = ad.String()
		case unix.NFTA_SET_ID:
			s.ID = ad.Uint32()
		case unix.NFTA_SET_FLAGS:
			s.Flags = SetFlags(ad.Uint32())
		case unix.NFTA_SET_KEY_TYPE:
			keyMagic = ad.Uint32()
		case unix.NFTA_SET_KEY_LEN:
			keyLen = ad.Uint32()
		case unix.NFTA_SET_DATA_TYPE:
			dataMagic = ad.Uint32()
		case unix.NFTA_SET_DATA_LEN:
			dataLn = ad.Uint32()
		case unix.NFTA_SET_TIMEOUT:
			s.Timeout = time.Duration(ad.Uint64()) * time.Millisecond
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}

	s.KeyType = datatypeFor(keyMagic, keyLen)
	switch {
	case dataMagic == unix.NFT_DATA_VERDICT:
		s.DataType = TypeVerdict
	case dataMagic != 0:
		s.DataType = datatypeFor(dataMagic, dataLn)
	}
	return s, nil
}

// SetElement is a member of a set, or a key/value pair of a map.
type SetElement struct {
	Key []byte
	// Data is the value for maps with a non-verdict data type.
	Data []byte
	// Verdict is the value for verdict maps.
	Verdict *expr.Verdict
	// IntervalEnd marks the exclusive end of a range in interval sets.
	IntervalEnd bool
	Timeout     time.Duration
}

// SetElements is a batch of elements to add to, remove from or look up in
// an existing set.
type SetElements struct {
	Set      *Set
	Elements []SetElement
}

// The elements nest must fit in a u16 attribute length; leave room for
// the nest header.
const maxElementsLen = math.MaxUint16 - 2*4

func (se *SetElements) ref(op Op) MessageRef {
	r := MessageRef{Kind: KindSetElements, Op: op}
	if se.Set != nil {
		r.Set = se.Set.Name
		if se.Set.Table != nil {
			r.Family = se.Set.Table.Family
			r.Table = se.Set.Table.Name
		}
	}
	return r
}

func (se *SetElements) validate(op Op) error {
	if !supports(KindSetElements, op) {
		return configErr("set elements", "", "operation %s not supported", op)
	}
	if se.Set == nil {
		return configErr("set elements", "", "no set")
	}
	if err := se.Set.validate(OpGet); err != nil {
		return err
	}
	if len(se.Elements) == 0 {
		return configErr("set elements", se.Set.Name, "no elements")
	}

	s := se.Set
	for i, el := range se.Elements {
		if len(el.Key) == 0 {
			return configErr("set elements", s.Name, "element %d: empty key", i)
		}
		if s.KeyType.Bytes != 0 && uint32(len(el.Key)) != s.KeyType.Bytes {
			return configErr("set elements", s.Name, "element %d: key is %d bytes, set key is %d", i, len(el.Key), s.KeyType.Bytes)
		}
		if op != OpAdd && op != OpCreate {
			continue
		}
		if el.Timeout > 0 && s.Timeout == 0 && s.Flags&SetTimeout == 0 {
			return configErr("set elements", s.Name, "element %d: timeout on a set without timeout support", i)
		}
		if el.IntervalEnd {
			if s.Flags&SetInterval == 0 {
				return configErr("set elements", s.Name, "element %d: interval end in a non-interval set", i)
			}
			continue
		}
		switch {
		case !s.IsMap():
			if el.Data != nil || el.Verdict != nil {
				return configErr("set elements", s.Name, "element %d: data in a plain set", i)
			}
		case s.DataType == TypeVerdict:
			if el.Verdict == nil {
				return configErr("set elements", s.Name, "element %d: verdict map element without verdict", i)
			}
		default:
			if uint32(len(el.Data)) != s.DataType.Bytes {
				return configErr("set elements", s.Name, "element %d: data is %d bytes, map data is %d", i, len(el.Data), s.DataType.Bytes)
			}
		}
	}
	return nil
}

// encodeElement returns one complete NFTA_LIST_ELEM attribute.
func encodeElement(el SetElement, op Op) ([]byte, error) {
	ae := newEncoder()
	ae.Nested(unix.NFTA_LIST_ELEM, func(nae *netlink.AttributeEncoder) error {
		nae.Nested(unix.NFTA_SET_ELEM_KEY, func(kae *netlink.AttributeEncoder) error {
			kae.Bytes(unix.NFTA_DATA_VALUE, el.Key)
			return nil
		})
		if el.IntervalEnd {
			nae.Uint32(unix.NFTA_SET_ELEM_FLAGS, unix.NFT_SET_ELEM_INTERVAL_END)
		}
		if op != OpAdd && op != OpCreate {
			return nil
		}
		switch {
		case el.Verdict != nil:
			nae.Nested(unix.NFTA_SET_ELEM_DATA, func(dae *netlink.AttributeEncoder) error {
				return expr.EncodeVerdictData(dae, el.Verdict)
			})
		case el.Data != nil:
			nae.Nested(unix.NFTA_SET_ELEM_DATA, func(dae *netlink.AttributeEncoder) error {
				dae.Bytes(unix.NFTA_DATA_VALUE, el.Data)
				return nil
			})
		}
		if el.Timeout > 0 {
			nae.Uint64(unix.NFTA_SET_ELEM_TIMEOUT, uint64(el.Timeout.Milliseconds()))
		}
		return nil
	})
	return ae.Encode()
}

// EncodeAll encodes the elements into as many messages as needed to keep
// each element list under the netlink attribute length limit.
func (se *SetElements) EncodeAll(op Op) ([]*Payload, error) {
	if err := se.validate(op); err != nil {
		return nil, err
	}

	var (
		chunks [][]byte
		cur    []byte
	)
	for i, el := range se.Elements {
		b, err := encodeElement(el, op)
		if err != nil {
			return nil, fmt.Errorf("set %q element %d: %w", se.Set.Name, i, err)
		}
		if len(b) > maxElementsLen {
			return nil, configErr("set elements", se.Set.Name, "element %d is too large: %d bytes", i, len(b))
		}
		if len(cur)+len(b) > maxElementsLen {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, b...)
	}
	chunks = append(chunks, cur)

	out := make([]*Payload, 0, len(chunks))
	for _, chunk := range chunks {
		ae := newEncoder()
		ae.String(unix.NFTA_SET_ELEM_LIST_TABLE, se.Set.Table.Name)
		ae.String(unix.NFTA_SET_ELEM_LIST_SET, se.Set.Name)
		if se.Set.ID != 0 {
			ae.Uint32(unix.NFTA_SET_ELEM_LIST_SET_ID, se.Set.ID)
		}
		ae.Bytes(netlink.Nested|unix.NFTA_SET_ELEM_LIST_ELEMENTS, chunk)
		b, err := ae.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, &Payload{Ref: se.ref(op), Attrs: b})
	}
	return out, nil
}

// Encode implements Encoder. It fails if the elements need more than one
// message; batches use EncodeAll.
func (se *SetElements) Encode(op Op) (*Payload, error) {
	ps, err := se.EncodeAll(op)
	if err != nil {
		return nil, err
	}
	if len(ps) != 1 {
		return nil, configErr("set elements", se.Set.Name, "%d elements need %d messages", len(se.Elements), len(ps))
	}
	return ps[0], nil
}

// DecodeSetElements parses an NFT_MSG_NEWSETELEM message. The returned set
// only carries its table and name.
func DecodeSetElements(m netlink.Message) (*SetElements, error) {
	family, attrs, err := expectType(m, unix.NFT_MSG_NEWSETELEM)
	if err != nil {
		return nil, err
	}
	ad, err := newDecoder(attrs)
	if err != nil {
		return nil, err
	}

	se := &SetElements{Set: &Set{Table: &Table{Family: family}}}
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_SET_ELEM_LIST_TABLE:
			se.Set.Table.Name = ad.String()
		case unix.NFTA_SET_ELEM_LIST_SET:
			se.Set.Name = ad.String()
		case unix.NFTA_SET_ELEM_LIST_SET_ID:
			se.Set.ID = ad.Uint32()
		case unix.NFTA_SET_ELEM_LIST_ELEMENTS:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					if nad.Type() != unix.NFTA_LIST_ELEM {
						continue
					}
					var el SetElement
					nad.Nested(func(ead *netlink.AttributeDecoder) error {
						return decodeElement(ead, &el)
					})
					se.Elements = append(se.Elements, el)
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return se, nil
}

func decodeElement(ad *netlink.AttributeDecoder, el *SetElement) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_SET_ELEM_KEY:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				var err error
				el.Key, _, err = expr.DecodeData(nad)
				return err
			})
		case unix.NFTA_SET_ELEM_DATA:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				var err error
				el.Data, el.Verdict, err = expr.DecodeData(nad)
				return err
			})
		case unix.NFTA_SET_ELEM_FLAGS:
			el.IntervalEnd = ad.Uint32()&unix.NFT_SET_ELEM_INTERVAL_END != 0
		case unix.NFTA_SET_ELEM_TIMEOUT:
			el.Timeout = time.Duration(ad.Uint64()) * time.Millisecond
		}
	}
	return nil
}

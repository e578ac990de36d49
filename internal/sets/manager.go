// Package sets manages named nf_tables sets of addresses and ports.
package sets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"slices"
	"strconv"
	"sync"

	"grimm.is/nftwire/internal/logging"
	"grimm.is/nftwire/internal/nft"
	"grimm.is/nftwire/internal/nft/expr"
	"grimm.is/nftwire/internal/validation"
)

// SetType is the key type of a managed set.
type SetType string

const (
	SetTypeIPv4Addr    SetType = "ipv4_addr"
	SetTypeIPv6Addr    SetType = "ipv6_addr"
	SetTypeInetService SetType = "inet_service"
)

func (t SetType) datatype() (nft.SetDatatype, error) {
	switch t {
	case SetTypeIPv4Addr:
		return nft.TypeIPAddr, nil
	case SetTypeIPv6Addr:
		return nft.TypeIP6Addr, nil
	case SetTypeInetService:
		return nft.TypeInetService, nil
	}
	return nft.SetDatatype{}, fmt.Errorf("unsupported set type: %s", t)
}

// Conn is the part of *nft.Conn the manager uses.
type Conn interface {
	NewBatch() *nft.Batch
	Commit(ctx context.Context, b *nft.Batch) error
	GetTable(ctx context.Context, family nft.Family, name string) (*nft.Table, error)
	ListSets(ctx context.Context, t *nft.Table) iter.Seq2[*nft.Set, error]
	ListSetElements(ctx context.Context, s *nft.Set) iter.Seq2[nft.SetElement, error]
}

// Manager creates and fills sets in one table. Set definitions are cached
// after the first lookup.
type Manager struct {
	conn   Conn
	family nft.Family
	name   string
	logger *logging.Logger

	mu    sync.RWMutex
	table *nft.Table
	sets  map[string]*nft.Set
}

// NewManager returns a manager for the sets of table name in family.
func NewManager(conn Conn, family nft.Family, name string) *Manager {
	return &Manager{
		conn:   conn,
		family: family,
		name:   name,
		logger: logging.WithComponent("sets"),
		sets:   make(map[string]*nft.Set),
	}
}

func (m *Manager) getTable(ctx context.Context) (*nft.Table, error) {
	m.mu.RLock()
	t := m.table
	m.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	t, err := m.conn.GetTable(ctx, m.family, m.name)
	if err != nil {
		return nil, fmt.Errorf("table %s %s: %w", m.family, m.name, err)
	}
	m.mu.Lock()
	m.table = t
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) getSet(ctx context.Context, name string) (*nft.Set, error) {
	m.mu.RLock()
	s, ok := m.sets[name]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	t, err := m.getTable(ctx)
	if err != nil {
		return nil, err
	}
	for s, err := range m.conn.ListSets(ctx, t) {
		if err != nil {
			return nil, fmt.Errorf("failed to list sets: %w", err)
		}
		if s.Name == name {
			s.Table = t
			m.mu.Lock()
			m.sets[name] = s
			m.mu.Unlock()
			return s, nil
		}
	}
	return nil, fmt.Errorf("set %s: %w", name, nft.ErrNotFound)
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.sets, name)
	m.mu.Unlock()
}

// commit builds one batch with fill and commits it.
func (m *Manager) commit(ctx context.Context, fill func(b *nft.Batch) error) error {
	b := m.conn.NewBatch()
	if err := fill(b); err != nil {
		return err
	}
	if err := b.Finalize(); err != nil {
		return err
	}
	return m.conn.Commit(ctx, b)
}

// CreateSet creates a set. Flags may be "interval", "timeout" and
// "constant".
func (m *Manager) CreateSet(ctx context.Context, name string, setType SetType, flags ...string) error {
	if err := validation.ValidateSetName(name); err != nil {
		return err
	}
	key, err := setType.datatype()
	if err != nil {
		return err
	}
	t, err := m.getTable(ctx)
	if err != nil {
		return err
	}

	s := &nft.Set{Table: t, Name: name, KeyType: key}
	for _, f := range flags {
		switch f {
		case "interval":
			s.Flags |= nft.SetInterval
		case "timeout":
			s.Flags |= nft.SetTimeout
		case "constant":
			s.Flags |= nft.SetConstant
		default:
			return fmt.Errorf("unknown set flag: %s", f)
		}
	}
	if s.Flags&nft.SetInterval != 0 && setType == SetTypeInetService {
		return fmt.Errorf("interval flag not supported for %s sets", setType)
	}

	if err := m.commit(ctx, func(b *nft.Batch) error { return b.Add(s, nft.OpAdd) }); err != nil {
		return fmt.Errorf("failed to create set %s: %w", name, err)
	}
	m.mu.Lock()
	m.sets[name] = s
	m.mu.Unlock()
	m.logger.Info("set created", "set", name, "type", setType)
	return nil
}

// DeleteSet deletes a set.
func (m *Manager) DeleteSet(ctx context.Context, name string) error {
	if err := validation.ValidateSetName(name); err != nil {
		return err
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return err
	}
	if err := m.commit(ctx, func(b *nft.Batch) error { return b.Add(s, nft.OpDelete) }); err != nil {
		return fmt.Errorf("failed to delete set %s: %w", name, err)
	}
	m.forget(name)
	m.logger.Info("set deleted", "set", name)
	return nil
}

// FlushSet removes every element of a set.
func (m *Manager) FlushSet(ctx context.Context, name string) error {
	if err := validation.ValidateSetName(name); err != nil {
		return err
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return err
	}
	if err := m.commit(ctx, func(b *nft.Batch) error { return b.Add(s, nft.OpFlush) }); err != nil {
		return fmt.Errorf("failed to flush set %s: %w", name, err)
	}
	return nil
}

// AddElements adds addresses, CIDR ranges or ports to a set. Elements that
// do not fit in one batch are committed in several.
func (m *Manager) AddElements(ctx context.Context, name string, elements []string) error {
	return m.changeElements(ctx, name, elements, nft.OpAdd)
}

// RemoveElements removes elements from a set.
func (m *Manager) RemoveElements(ctx context.Context, name string, elements []string) error {
	return m.changeElements(ctx, name, elements, nft.OpDelete)
}

func (m *Manager) changeElements(ctx context.Context, name string, elements []string, op nft.Op) error {
	if err := validation.ValidateSetName(name); err != nil {
		return err
	}
	if len(elements) == 0 {
		return nil
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return err
	}
	elems, err := ParseElements(s, elements)
	if err != nil {
		return err
	}

	batches, err := m.commitSpread(ctx, s, elems, op)
	if err != nil {
		return fmt.Errorf("failed to %s elements of set %s: %w", op, name, err)
	}
	m.logger.Debug("set elements changed", "set", name, "op", op.String(), "elements", len(elements), "batches", batches)
	return nil
}

// elementGroup is how many elements are offered to a batch at once.
// Interval ranges are never split across groups.
const elementGroup = 512

func groups(elems []nft.SetElement) [][]nft.SetElement {
	var out [][]nft.SetElement
	for len(elems) > 0 {
		n := min(elementGroup, len(elems))
		if n < len(elems) && elems[n].IntervalEnd {
			n++
		}
		out = append(out, elems[:n])
		elems = elems[n:]
	}
	return out
}

// commitSpread adds elems in groups and commits whenever the next group
// would overflow the batch. It returns the number of batches committed.
func (m *Manager) commitSpread(ctx context.Context, s *nft.Set, elems []nft.SetElement, op nft.Op) (int, error) {
	var (
		b       = m.conn.NewBatch()
		n       int
		pending bool
	)
	flush := func() error {
		if err := b.Finalize(); err != nil {
			return err
		}
		if err := m.conn.Commit(ctx, b); err != nil {
			return err
		}
		n++
		b = m.conn.NewBatch()
		pending = false
		return nil
	}

	for _, g := range groups(elems) {
		se := &nft.SetElements{Set: s, Elements: g}
		err := b.Add(se, op)
		var capErr *nft.CapacityError
		if errors.As(err, &capErr) && pending {
			if err := flush(); err != nil {
				return n, err
			}
			err = b.Add(se, op)
		}
		if err != nil {
			return n, err
		}
		pending = true
	}
	if pending {
		if err := flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReloadSet replaces the contents of a set. The flush and the new elements
// go to the kernel in one batch, so the set is never seen half filled.
func (m *Manager) ReloadSet(ctx context.Context, name string, elements []string) error {
	if err := validation.ValidateSetName(name); err != nil {
		return err
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return err
	}
	elems, err := ParseElements(s, elements)
	if err != nil {
		return err
	}

	err = m.commit(ctx, func(b *nft.Batch) error {
		if err := b.Add(s, nft.OpFlush); err != nil {
			return err
		}
		if len(elems) == 0 {
			return nil
		}
		return b.Add(&nft.SetElements{Set: s, Elements: elems}, nft.OpAdd)
	})
	if err != nil {
		return fmt.Errorf("failed to reload set %s: %w", name, err)
	}
	m.logger.Info("set reloaded", "set", name, "elements", len(elements))
	return nil
}

// GetSetElements returns the elements of a set. Interval ranges that form
// a prefix are reported in CIDR notation, others as "first-last".
func (m *Manager) GetSetElements(ctx context.Context, name string) ([]string, error) {
	if err := validation.ValidateSetName(name); err != nil {
		return nil, err
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return nil, err
	}

	var elems []nft.SetElement
	for el, err := range m.conn.ListSetElements(ctx, s) {
		if err != nil {
			return nil, fmt.Errorf("failed to list elements of set %s: %w", name, err)
		}
		elems = append(elems, el)
	}
	return FormatElements(s, elems), nil
}

// CheckElement reports whether element is in the set. For interval sets
// an address inside a stored range counts.
func (m *Manager) CheckElement(ctx context.Context, name, element string) (bool, error) {
	elements, err := m.GetSetElements(ctx, name)
	if err != nil {
		return false, err
	}
	s, err := m.getSet(ctx, name)
	if err != nil {
		return false, err
	}

	if s.KeyType == nft.TypeInetService {
		for _, e := range elements {
			if e == element {
				return true, nil
			}
		}
		return false, nil
	}

	want, err := validation.ParseIPOrCIDR(element)
	if err != nil {
		return false, err
	}
	for _, e := range elements {
		r, err := parseRange(e)
		if err != nil {
			continue
		}
		if r.contains(want) {
			return true, nil
		}
	}
	return false, nil
}

// ListSets returns the names of the sets in the table.
func (m *Manager) ListSets(ctx context.Context) ([]string, error) {
	t, err := m.getTable(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for s, err := range m.conn.ListSets(ctx, t) {
		if err != nil {
			return nil, fmt.Errorf("failed to list sets: %w", err)
		}
		if s.Flags&nft.SetAnonymous != 0 {
			continue
		}
		names = append(names, s.Name)
	}
	return names, nil
}

// ParseElements turns element strings into set elements for s. Interval
// sets get a start and an exclusive end element per range; other sets
// accept single addresses only.
func ParseElements(s *nft.Set, elements []string) ([]nft.SetElement, error) {
	var out []nft.SetElement
	for _, e := range elements {
		if s.KeyType == nft.TypeInetService {
			p, err := strconv.ParseUint(e, 10, 16)
			if err != nil || validation.ValidatePortNumber(int(p)) != nil {
				return nil, fmt.Errorf("invalid port: %q", e)
			}
			out = append(out, nft.SetElement{Key: expr.Port(uint16(p))})
			continue
		}

		prefix, err := validation.ParseIPOrCIDR(e)
		if err != nil {
			return nil, err
		}
		if err := checkFamily(s, prefix.Addr()); err != nil {
			return nil, fmt.Errorf("%s: %w", e, err)
		}

		if s.Flags&nft.SetInterval == 0 {
			if !prefix.IsSingleIP() {
				return nil, fmt.Errorf("%s: CIDR ranges need an interval set", e)
			}
			out = append(out, nft.SetElement{Key: expr.Addr(prefix.Addr())})
			continue
		}

		out = append(out, nft.SetElement{Key: expr.Addr(prefix.Addr())})
		if end, ok := rangeEnd(prefix); ok {
			out = append(out, nft.SetElement{Key: expr.Addr(end), IntervalEnd: true})
		}
	}
	return out, nil
}

func checkFamily(s *nft.Set, a netip.Addr) error {
	switch s.KeyType {
	case nft.TypeIPAddr:
		if !a.Is4() {
			return errors.New("not an IPv4 address")
		}
	case nft.TypeIP6Addr:
		if !a.Is6() {
			return errors.New("not an IPv6 address")
		}
	}
	return nil
}

// rangeEnd returns the first address after the prefix. ok is false when
// the prefix runs to the top of the address space.
func rangeEnd(p netip.Prefix) (netip.Addr, bool) {
	last := lastAddr(p)
	next := last.Next()
	return next, next.IsValid()
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Masked().Addr().AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}

// FormatElements renders elements of s as strings, pairing interval
// starts with their ends.
func FormatElements(s *nft.Set, elems []nft.SetElement) []string {
	var out []string
	if s.KeyType == nft.TypeInetService {
		for _, el := range elems {
			if len(el.Key) == 2 {
				out = append(out, strconv.Itoa(int(el.Key[0])<<8|int(el.Key[1])))
			}
		}
		return out
	}

	interval := s.Flags&nft.SetInterval != 0
	if interval {
		elems = sortedInterval(elems)
	}
	for i := 0; i < len(elems); i++ {
		el := elems[i]
		if el.IntervalEnd {
			continue
		}
		start, ok := netip.AddrFromSlice(el.Key)
		if !ok {
			continue
		}
		if !interval {
			out = append(out, start.String())
			continue
		}

		var last netip.Addr
		if i+1 < len(elems) && elems[i+1].IntervalEnd {
			end, ok := netip.AddrFromSlice(elems[i+1].Key)
			if !ok {
				continue
			}
			last = end.Prev()
			i++
		} else {
			last = lastAddr(netip.PrefixFrom(start, 0))
		}
		out = append(out, formatRange(start, last))
	}
	return out
}

// sortedInterval orders elements by key. The kernel dumps interval sets
// in descending order; an end sorts before a start with the same key.
func sortedInterval(elems []nft.SetElement) []nft.SetElement {
	out := slices.Clone(elems)
	slices.SortStableFunc(out, func(a, b nft.SetElement) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		switch {
		case a.IntervalEnd == b.IntervalEnd:
			return 0
		case a.IntervalEnd:
			return -1
		}
		return 1
	})
	return out
}

// formatRange prefers CIDR notation when first..last is exactly a prefix.
func formatRange(first, last netip.Addr) string {
	for bits := 0; bits <= first.BitLen(); bits++ {
		p := netip.PrefixFrom(first, bits)
		if p.Masked().Addr() == first && lastAddr(p) == last {
			if p.IsSingleIP() {
				return first.String()
			}
			return p.String()
		}
	}
	return first.String() + "-" + last.String()
}

type addrRange struct {
	first, last netip.Addr
}

func parseRange(s string) (addrRange, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			first, err := netip.ParseAddr(s[:i])
			if err != nil {
				return addrRange{}, err
			}
			last, err := netip.ParseAddr(s[i+1:])
			if err != nil {
				return addrRange{}, err
			}
			return addrRange{first, last}, nil
		}
	}
	p, err := validation.ParseIPOrCIDR(s)
	if err != nil {
		return addrRange{}, err
	}
	return addrRange{p.Addr(), lastAddr(p)}, nil
}

func (r addrRange) contains(p netip.Prefix) bool {
	first := p.Addr()
	last := lastAddr(p)
	if first.BitLen() != r.first.BitLen() {
		return false
	}
	return r.first.Compare(first) <= 0 && last.Compare(r.last) <= 0
}

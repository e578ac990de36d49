package metrics

import (
	"context"
	"fmt"
	"iter"

	"grimm.is/nftwire/internal/nft"
)

// Lister is the part of *nft.Conn an inventory needs.
type Lister interface {
	ListTables(ctx context.Context, family nft.Family) iter.Seq2[*nft.Table, error]
	ListChains(ctx context.Context, t *nft.Table) iter.Seq2[*nft.Chain, error]
	ListRules(ctx context.Context, ch *nft.Chain) iter.Seq2[*nft.Rule, error]
	ListSets(ctx context.Context, t *nft.Table) iter.Seq2[*nft.Set, error]
	ListSetElements(ctx context.Context, s *nft.Set) iter.Seq2[nft.SetElement, error]
}

func drain[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ConnSource returns a Source that dumps every table over l. Anonymous sets
// are left out; interval sets count ranges, not boundaries.
func ConnSource(l Lister) Source {
	return func(ctx context.Context) ([]TableInventory, error) {
		tables, err := drain(l.ListTables(ctx, nft.FamilyUnspec))
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}

		inv := make([]TableInventory, 0, len(tables))
		for _, t := range tables {
			ti := TableInventory{
				Family: t.Family.String(),
				Name:   t.Name,
				Chains: map[string]int{},
				Sets:   map[string]int{},
			}

			chains, err := drain(l.ListChains(ctx, t))
			if err != nil {
				return nil, fmt.Errorf("list chains of %s %s: %w", t.Family, t.Name, err)
			}
			for _, ch := range chains {
				rules, err := drain(l.ListRules(ctx, ch))
				if err != nil {
					return nil, fmt.Errorf("list rules of %s: %w", ch.Name, err)
				}
				ti.Chains[ch.Name] = len(rules)
			}

			sets, err := drain(l.ListSets(ctx, t))
			if err != nil {
				return nil, fmt.Errorf("list sets of %s %s: %w", t.Family, t.Name, err)
			}
			for _, s := range sets {
				if s.Flags&nft.SetAnonymous != 0 {
					continue
				}
				elems, err := drain(l.ListSetElements(ctx, s))
				if err != nil {
					return nil, fmt.Errorf("list elements of %s: %w", s.Name, err)
				}
				n := 0
				for _, el := range elems {
					if !el.IntervalEnd {
						n++
					}
				}
				ti.Sets[s.Name] = n
			}
			inv = append(inv, ti)
		}
		return inv, nil
	}
}

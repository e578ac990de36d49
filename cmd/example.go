package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"grimm.is/nftwire/internal/i18n"
	"grimm.is/nftwire/internal/match"
	"grimm.is/nftwire/internal/nft"
	"grimm.is/nftwire/internal/nft/expr"
	"grimm.is/nftwire/internal/sets"
)

// ExampleOptions configure the example ruleset.
type ExampleOptions struct {
	Table     string
	Iface     string
	ByIndex   bool
	Counter   bool
	Blocklist string // comma separated addresses and CIDR ranges
	DryRun    bool
	Hex       bool

	ifIndex int
}

// lookupLink resolves an interface index in a network namespace.
var lookupLink = linkIndex

// resolveIface fills in the interface index when matching by index.
func resolveIface(eo *ExampleOptions, namespace string) error {
	if !eo.ByIndex {
		return nil
	}
	if strings.HasSuffix(eo.Iface, "*") {
		return fmt.Errorf("interface %s: wildcards cannot be matched by index", eo.Iface)
	}
	idx, err := lookupLink(namespace, eo.Iface)
	if err != nil {
		return err
	}
	eo.ifIndex = idx
	return nil
}

// exampleBatch fills b with an inet table holding an input base chain
// that accepts traffic from one interface, optionally after dropping
// sources in a blocklist set.
func exampleBatch(b *nft.Batch, eo ExampleOptions) error {
	table := &nft.Table{Family: nft.FamilyINet, Name: eo.Table}
	chain := &nft.Chain{
		Table:    table,
		Name:     "input",
		Type:     nft.ChainTypeFilter,
		Hook:     nft.Hook(nft.ChainHookInput),
		Priority: nft.NamedPriority(nft.PriorityFilter, 0),
		Policy:   nft.Policy(nft.ChainPolicyAccept),
	}
	if err := b.Add(table, nft.OpAdd); err != nil {
		return err
	}
	if err := b.Add(chain, nft.OpAdd); err != nil {
		return err
	}

	if eo.Blocklist != "" {
		set := &nft.Set{Table: table, Name: "blocklist", KeyType: nft.TypeIPAddr, Flags: nft.SetInterval}
		elems, err := sets.ParseElements(set, strings.Split(eo.Blocklist, ","))
		if err != nil {
			return err
		}
		set.Elements = elems
		if err := b.Add(set, nft.OpAdd); err != nil {
			return err
		}
		lookup, err := match.Set(set, match.Source, false)
		if err != nil {
			return err
		}
		drop := nft.NewRule(chain, lookup...).AddExpr(&expr.Verdict{Kind: expr.VerdictDrop})
		if err := b.Add(drop, nft.OpAdd); err != nil {
			return err
		}
	}

	var (
		iface []expr.Any
		err   error
	)
	if eo.ifIndex > 0 {
		iface, err = match.InterfaceIndex(eo.ifIndex, match.Source)
	} else {
		iface, err = match.Interface(eo.Iface, match.Source)
	}
	if err != nil {
		return err
	}
	rule := nft.NewRule(chain, iface...)
	if eo.Counter {
		rule.AddExpr(&expr.Counter{})
	}
	rule.AddExpr(&expr.Verdict{Kind: expr.VerdictAccept})
	if err := b.Add(rule, nft.OpAdd); err != nil {
		return err
	}
	return b.Finalize()
}

// RunExample builds the example ruleset and commits it, or with DryRun
// prints the batch layout instead.
func RunExample(o *Options, eo ExampleOptions) error {
	if eo.DryRun {
		ns := o.Netns
		if ns == "" && eo.ByIndex {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			ns = cfg.Netns
		}
		if err := resolveIface(&eo, ns); err != nil {
			return err
		}
		b := nft.NewBatch()
		if err := exampleBatch(b, eo); err != nil {
			return err
		}
		printBatch(b, eo.Hex)
		return nil
	}

	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := resolveIface(&eo, s.netns); err != nil {
		return err
	}
	if eo.ByIndex {
		s.logger.Debug("matching interface by index", "iface", eo.Iface, "index", eo.ifIndex)
	}

	b := s.conn.NewBatch()
	if err := exampleBatch(b, eo); err != nil {
		return err
	}
	if err := s.conn.Commit(context.Background(), b); err != nil {
		return explain(err, b)
	}
	Printer.Printf(i18n.MsgCommitted+"\n", b.Len(), humanize.Bytes(uint64(b.Size())), b.ID())
	return nil
}

func printBatch(b *nft.Batch, dump bool) {
	first, last := b.SeqRange()
	Printer.Printf("batch %s: %d messages, seq %d-%d, %s of %s\n",
		b.ID(), b.Len(), first, last, humanize.Bytes(uint64(b.Size())), humanize.Bytes(uint64(b.Limit())))
	for _, ref := range b.Refs() {
		Printer.Printf("  %4d  %s\n", ref.Seq, ref)
	}
	if dump {
		_, _ = os.Stdout.WriteString(hex.Dump(b.Bytes()))
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"grimm.is/nftwire/internal/i18n"
	"grimm.is/nftwire/internal/metrics"
	"grimm.is/nftwire/internal/nft"
	"grimm.is/nftwire/internal/nft/expr"
)

// RunTables prints every table with its chain, rule and set counts. An
// empty family lists all families.
func RunTables(o *Options) error {
	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	inv, err := metrics.ConnSource(s.conn)(context.Background())
	if err != nil {
		return err
	}

	want := o.Family
	if want == "all" {
		want = ""
	}
	var chains, rules, sets int
	shown := 0
	for _, t := range inv {
		if want != "" && !sameFamily(t.Family, want) {
			continue
		}
		n := 0
		for _, r := range t.Chains {
			n += r
		}
		Printer.Printf(i18n.MsgTableLine+"\n", t.Family, t.Name, len(t.Chains), n, len(t.Sets))
		shown++
		chains += len(t.Chains)
		rules += n
		sets += len(t.Sets)
	}
	Printer.Printf(i18n.MsgTables+"\n", shown, chains, rules, sets)
	return nil
}

func sameFamily(have, want string) bool {
	f, err := nft.ParseFamily(want)
	return err == nil && f.String() == have
}

// RunChains prints the chains of a table.
func RunChains(o *Options, table string) error {
	family, err := o.family()
	if err != nil {
		return err
	}
	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	t := &nft.Table{Family: family, Name: table}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tHOOK\tPRIORITY\tPOLICY\tHANDLE")
	for ch, err := range s.conn.ListChains(context.Background(), t) {
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			ch.Name, orDash(string(ch.Type)), hookString(ch), priorityString(ch), policyString(ch), ch.Handle)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func hookString(ch *nft.Chain) string {
	if ch.Hook == nil {
		return "-"
	}
	var family nft.Family
	if ch.Table != nil {
		family = ch.Table.Family
	}
	name := ch.Hook.Name(family)
	if ch.Device != "" {
		return name + " device " + ch.Device
	}
	return name
}

func priorityString(ch *nft.Chain) string {
	if ch.Priority == nil {
		return "-"
	}
	return ch.Priority.String()
}

func policyString(ch *nft.Chain) string {
	switch {
	case ch.Policy == nil:
		return "-"
	case *ch.Policy == nft.ChainPolicyAccept:
		return "accept"
	case *ch.Policy == nft.ChainPolicyDrop:
		return "drop"
	}
	return fmt.Sprintf("policy(%d)", uint32(*ch.Policy))
}

// RunRules prints the rules of a chain, one line of expressions each.
func RunRules(o *Options, table, chain string) error {
	family, err := o.family()
	if err != nil {
		return err
	}
	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	ch := &nft.Chain{Table: &nft.Table{Family: family, Name: table}, Name: chain}
	for r, err := range s.conn.ListRules(context.Background(), ch) {
		if err != nil {
			return err
		}
		Printer.Printf("%6d  %s\n", r.Handle, describeExprs(r.Exprs))
	}
	return nil
}

func describeExprs(exprs []expr.Any) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, describeExpr(e))
	}
	return strings.Join(parts, " ")
}

func describeExpr(e expr.Any) string {
	switch e := e.(type) {
	case *expr.Verdict:
		if e.Chain != "" {
			return fmt.Sprintf("%s %s", e.Kind, e.Chain)
		}
		return fmt.Sprint(e.Kind)
	case *expr.Cmp:
		return fmt.Sprintf("cmp %s %s 0x%x", e.Register, e.Op, e.Data)
	case *expr.Lookup:
		return fmt.Sprintf("lookup %s @%s", e.SourceRegister, e.SetName)
	case *expr.Counter:
		return fmt.Sprintf("counter packets %d bytes %d", e.Packets, e.Bytes)
	}
	return e.Name()
}

// RunDeleteTable deletes a table and everything in it.
func RunDeleteTable(o *Options, table string) error {
	family, err := o.family()
	if err != nil {
		return err
	}
	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	b := s.conn.NewBatch()
	if err := b.Add(&nft.Table{Family: family, Name: table}, nft.OpDelete); err != nil {
		return err
	}
	if err := b.Finalize(); err != nil {
		return err
	}
	if err := s.conn.Commit(context.Background(), b); err != nil {
		return explain(err, b)
	}
	s.logger.Audit("delete", "table", map[string]any{"family": family.String(), "table": table, "batch": b.ID()})
	return nil
}

// RunProbe reports whether the kernel processes nfnetlink batches.
func RunProbe(o *Options) error {
	s, err := openSession(o)
	if err != nil {
		return err
	}
	defer s.Close()

	ok, err := s.conn.BatchSupported(context.Background())
	if err != nil {
		return err
	}
	Printer.Printf(i18n.MsgBatchProbe+"\n", ok)
	return nil
}

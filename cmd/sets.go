package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"grimm.is/nftwire/internal/brand"
	"grimm.is/nftwire/internal/sets"
)

// RunSets handles the sets subcommands.
func RunSets(args []string) error {
	if len(args) < 1 {
		printSetsUsage()
		return fmt.Errorf("missing sets command")
	}

	var (
		o       Options
		table   string
		setType string
		flags   string
	)
	fs := flag.NewFlagSet("sets "+args[0], flag.ExitOnError)
	o.Register(fs)
	fs.StringVar(&table, "table", "filter", "Table holding the sets")
	if args[0] == "create" {
		fs.StringVar(&setType, "type", string(sets.SetTypeIPv4Addr), "Key type: ipv4_addr, ipv6_addr, inet_service")
		fs.StringVar(&flags, "flags", "", "Comma separated set flags: interval, timeout, constant")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	family, err := o.family()
	if err != nil {
		return err
	}
	s, err := openSession(&o)
	if err != nil {
		return err
	}
	defer s.Close()

	mgr := sets.NewManager(s.conn, family, table)
	ctx := context.Background()
	rest := fs.Args()

	need := func(n int, usage string) error {
		if len(rest) < n {
			return fmt.Errorf("usage: %s sets %s %s", brand.BinaryName, args[0], usage)
		}
		return nil
	}

	switch args[0] {
	case "list":
		names, err := mgr.ListSets(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			Printer.Println(n)
		}
	case "show":
		if err := need(1, "<set>"); err != nil {
			return err
		}
		elements, err := mgr.GetSetElements(ctx, rest[0])
		if err != nil {
			return err
		}
		Printer.Printf("%s (%d elements)\n", rest[0], len(elements))
		for _, e := range elements {
			Printer.Printf("  %s\n", e)
		}
	case "create":
		if err := need(1, "[-type t] [-flags f,...] <set>"); err != nil {
			return err
		}
		var fl []string
		if flags != "" {
			fl = strings.Split(flags, ",")
		}
		return mgr.CreateSet(ctx, rest[0], sets.SetType(setType), fl...)
	case "delete":
		if err := need(1, "<set>"); err != nil {
			return err
		}
		return mgr.DeleteSet(ctx, rest[0])
	case "flush":
		if err := need(1, "<set>"); err != nil {
			return err
		}
		return mgr.FlushSet(ctx, rest[0])
	case "add":
		if err := need(2, "<set> <element>..."); err != nil {
			return err
		}
		return mgr.AddElements(ctx, rest[0], rest[1:])
	case "remove":
		if err := need(2, "<set> <element>..."); err != nil {
			return err
		}
		return mgr.RemoveElements(ctx, rest[0], rest[1:])
	case "reload":
		if err := need(1, "<set> [element]..."); err != nil {
			return err
		}
		return mgr.ReloadSet(ctx, rest[0], rest[1:])
	case "check":
		if err := need(2, "<set> <element>"); err != nil {
			return err
		}
		ok, err := mgr.CheckElement(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		Printer.Printf("%s in %s: %t\n", rest[1], rest[0], ok)
		if !ok {
			os.Exit(2)
		}
	default:
		printSetsUsage()
		return fmt.Errorf("unknown sets command: %s", args[0])
	}
	return nil
}

func printSetsUsage() {
	Printer.Fprintf(os.Stderr, `Usage: %s sets <command> [-table t] [-family f] [args]

Commands:
  list                      List named sets
  show <set>                Print the elements of a set
  create <set>              Create a set (-type, -flags)
  delete <set>              Delete a set
  flush <set>               Remove every element
  add <set> <elem>...       Add addresses, CIDR ranges or ports
  remove <set> <elem>...    Remove elements
  reload <set> [elem]...    Replace the contents in one batch
  check <set> <elem>        Exit 0 if the element is in the set, 2 if not
`, brand.BinaryName)
}

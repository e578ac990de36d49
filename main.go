package main

import (
	"flag"
	"os"

	"grimm.is/nftwire/cmd"
	"grimm.is/nftwire/internal/brand"
	"grimm.is/nftwire/internal/nft/expr"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var o cmd.Options

	switch os.Args[1] {
	case "tables":
		fs := flag.NewFlagSet("tables", flag.ExitOnError)
		o.Register(fs)
		fs.Lookup("family").DefValue = "all"
		o.Family = "all"
		fs.Parse(os.Args[2:])
		if err := cmd.RunTables(&o); err != nil {
			cmd.Fail(err)
		}

	case "chains":
		fs := flag.NewFlagSet("chains", flag.ExitOnError)
		o.Register(fs)
		table := fs.String("table", "filter", "Table name")
		fs.Parse(os.Args[2:])
		if err := cmd.RunChains(&o, *table); err != nil {
			cmd.Fail(err)
		}

	case "rules":
		fs := flag.NewFlagSet("rules", flag.ExitOnError)
		o.Register(fs)
		table := fs.String("table", "filter", "Table name")
		chain := fs.String("chain", "input", "Chain name")
		fs.Parse(os.Args[2:])
		if err := cmd.RunRules(&o, *table, *chain); err != nil {
			cmd.Fail(err)
		}

	case "delete-table":
		fs := flag.NewFlagSet("delete-table", flag.ExitOnError)
		o.Register(fs)
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			cmd.Printer.Fprintf(os.Stderr, "Usage: %s delete-table [-family f] <table>\n", brand.BinaryName)
			os.Exit(1)
		}
		if err := cmd.RunDeleteTable(&o, fs.Arg(0)); err != nil {
			cmd.Fail(err)
		}

	case "probe":
		fs := flag.NewFlagSet("probe", flag.ExitOnError)
		o.Register(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunProbe(&o); err != nil {
			cmd.Fail(err)
		}

	case "example":
		var eo cmd.ExampleOptions
		fs := flag.NewFlagSet("example", flag.ExitOnError)
		o.Register(fs)
		fs.StringVar(&eo.Table, "table", "filter", "Table to create")
		fs.StringVar(&eo.Iface, "iface", "lo", "Interface to accept traffic from (trailing * for a prefix)")
		fs.BoolVar(&eo.ByIndex, "by-index", false, "Match the interface by index (it must exist)")
		fs.BoolVar(&eo.Counter, "counter", false, "Count accepted packets")
		fs.StringVar(&eo.Blocklist, "blocklist", "", "Comma separated addresses or CIDR ranges to drop")
		fs.BoolVar(&eo.DryRun, "dry-run", false, "Print the batch instead of committing it")
		fs.BoolVar(&eo.DryRun, "n", false, "Dry run (short)")
		fs.BoolVar(&eo.Hex, "hex", false, "With -dry-run, hex dump the batch")
		fs.Parse(os.Args[2:])
		if err := cmd.RunExample(&o, eo); err != nil {
			cmd.Fail(err)
		}

	case "sets":
		if err := cmd.RunSets(os.Args[2:]); err != nil {
			cmd.Fail(err)
		}

	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		o.Register(fs)
		listen := fs.String("listen", "", "Listen address (default from config, else "+cmd.DefaultListen+")")
		fs.Parse(os.Args[2:])
		if err := cmd.RunServe(&o, *listen); err != nil {
			cmd.Fail(err)
		}

	case "version", "-v", "--version":
		cmd.Printer.Println(brand.VersionString(expr.TargetVersion))

	case "help", "-h", "--help":
		printUsage()

	default:
		cmd.Printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	cmd.Printer.Printf(`%s - %s

Usage: %s <command> [options]

Ruleset:
  tables         List tables with chain, rule and set counts
  chains         List the chains of a table (-table)
  rules          List the rules of a chain (-table, -chain)
  delete-table   Delete a table and everything in it
  example        Install an example input chain (-iface, -blocklist, -dry-run)

Sets:
  sets           Manage named sets (list, show, create, delete, flush,
                 add, remove, reload, check)

Daemon:
  serve          Export Prometheus metrics (-listen)

Other:
  probe          Check that the kernel accepts nfnetlink batches
  version        Print version information
  help           Show this help

Common options:
  -config <file>   Configuration file (default %s)
  -netns <name>    Run in a network namespace
  -family <f>      Address family (default inet)
`, brand.Name, brand.Description, brand.BinaryName, brand.GetConfigPath())
}

// Command schemacat manages table schemas stored in a schemacat database.
//
// Usage:
//
//	schemacat [-config FILE] [-db PATH] [-v] COMMAND [ARGS]
//
// Commands:
//
//	create NAME attr:TYPE... -pk a,b
//	delete NAME
//	list
//	add-attr NAME ATTR TYPE
//	drop-attr NAME ATTR
//	drop-all
//	dump
//	stats
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/andreyvit/schemacat"
	"github.com/andreyvit/schemacat/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	args  string
	nargs int // minimum positional args
	run   func(ctx context.Context, c *schemacat.Catalog, out io.Writer, args []string, pk []string) error
}

var commands = map[string]command{
	"create":    {"NAME attr:TYPE... -pk a,b", 2, runCreate},
	"delete":    {"NAME", 1, runDelete},
	"list":      {"", 0, runList},
	"add-attr":  {"NAME ATTR TYPE", 3, runAddAttr},
	"drop-attr": {"NAME ATTR", 2, runDropAttr},
	"drop-all":  {"", 0, runDropAll},
	"dump":      {"", 0, runDump},
	"stats":     {"", 0, runStats},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schemacat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config `file`")
	dbPath := fs.String("db", "", "database `path` (overrides config)")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs)
		return 2
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "schemacat: unknown command %q\n", name)
		usage(fs)
		return 2
	}

	cmdFS := flag.NewFlagSet(name, flag.ContinueOnError)
	cmdFS.SetOutput(stderr)
	pk := cmdFS.String("pk", "", "comma-separated primary key attributes")
	positional, err := parseInterspersed(cmdFS, fs.Args()[1:])
	if err != nil {
		return 2
	}
	if len(positional) < cmd.nargs {
		fmt.Fprintf(stderr, "usage: schemacat %s %s\n", name, cmd.args)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "schemacat: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "schemacat: config: %v\n", err)
		return 1
	}

	logger, flush, err := setupLogger(stderr, cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "schemacat: %v\n", err)
		return 1
	}
	defer flush()

	store, err := schemacat.Open(cfg.DB.Path, schemacat.Options{
		Logger:     logger,
		Verbose:    *verbose,
		Timeout:    cfg.DB.Timeout,
		MaxRetries: cfg.DB.MaxRetries,
	})
	if err != nil {
		logger.Error("schemacat: open failed", "path", cfg.DB.Path, "err", err)
		fmt.Fprintf(stderr, "schemacat: %v\n", err)
		return 1
	}
	defer store.Close()

	catalog := schemacat.NewCatalog(store, schemacat.CatalogOptions{
		RootName: cfg.Catalog.Root,
		Logger:   logger,
	})
	var pks []string
	if *pk != "" {
		pks = strings.Split(*pk, ",")
	}
	if err := cmd.run(ctx, catalog, stdout, positional, pks); err != nil {
		fmt.Fprintf(stderr, "schemacat: %s: %v\n", name, err)
		return 1
	}
	return 0
}

// parseInterspersed parses fs allowing flags to appear after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "usage: schemacat [flags] COMMAND [ARGS]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", name, commands[name].args)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	fs.PrintDefaults()
}

func runCreate(ctx context.Context, c *schemacat.Catalog, out io.Writer, args []string, pk []string) error {
	table := args[0]
	var names []string
	var types []schemacat.AttributeType
	for _, spec := range args[1:] {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("invalid attribute %q, wanted name:TYPE", spec)
		}
		at, err := schemacat.ParseAttributeType(typ)
		if err != nil {
			return err
		}
		names = append(names, name)
		types = append(types, at)
	}
	if err := c.CreateTable(ctx, table, names, types, pk); err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s\n", table)
	return nil
}

func runDelete(ctx context.Context, c *schemacat.Catalog, out io.Writer, args []string, _ []string) error {
	if err := c.DeleteTable(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", args[0])
	return nil
}

func runList(ctx context.Context, c *schemacat.Catalog, out io.Writer, _ []string, _ []string) error {
	tables, err := c.ListTables(ctx)
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s %v\n", name, tables[name])
	}
	return err
}

func runAddAttr(ctx context.Context, c *schemacat.Catalog, out io.Writer, args []string, _ []string) error {
	at, err := schemacat.ParseAttributeType(args[2])
	if err != nil {
		return err
	}
	if err := c.AddAttribute(ctx, args[0], args[1], at); err != nil {
		return err
	}
	fmt.Fprintf(out, "added %s.%s\n", args[0], args[1])
	return nil
}

func runDropAttr(ctx context.Context, c *schemacat.Catalog, out io.Writer, args []string, _ []string) error {
	if err := c.DropAttribute(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(out, "dropped %s.%s\n", args[0], args[1])
	return nil
}

func runDropAll(ctx context.Context, c *schemacat.Catalog, out io.Writer, _ []string, _ []string) error {
	if err := c.DropAllTables(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "dropped all tables")
	return nil
}

func runDump(ctx context.Context, c *schemacat.Catalog, out io.Writer, _ []string, _ []string) error {
	s, err := c.Dump(ctx, schemacat.DumpAll)
	io.WriteString(out, s)
	return err
}

func runStats(ctx context.Context, c *schemacat.Catalog, out io.Writer, _ []string, _ []string) error {
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(out, "%s #%d records=%d data_size=%d alloc=%d\n", name, s.Ordinal, s.Records, s.DataSize, s.Alloc)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"

	"sapo/internal/ledger"
)

type exportCmd struct {
	*app
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a JSON snapshot of the ledger" }
func (*exportCmd) Usage() string {
	return `sapoctl export [-o <file>|-o auto]

  Writes to stdout by default. "auto" picks the dated backup file name.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "", "output file")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}

	var w io.Writer = c.out
	name := c.output
	if name == "auto" {
		name = ledger.BackupFilename(c.now())
	}
	if name != "" {
		f, err := os.Create(name)
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		w = f
	}
	if err := l.WriteSnapshot(ctx, w); err != nil {
		return fail(err)
	}
	if name != "" {
		fmt.Fprintln(c.out, "exported to", name)
	}
	return subcommands.ExitSuccess
}

type importCmd struct {
	*app
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "replace collections from a JSON snapshot" }
func (*importCmd) Usage() string {
	return `sapoctl import <file>

  Every collection present in the file replaces the stored one; absent
  collections are left alone. "-" reads stdin.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usage("import needs a snapshot file")
	}
	var (
		data []byte
		err  error
	)
	if f.Arg(0) == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(f.Arg(0))
	}
	if err != nil {
		return fail(err)
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	replaced, err := l.ImportSnapshot(ctx, data)
	if err != nil {
		return fail(err)
	}
	names := make([]string, len(replaced))
	for i, r := range replaced {
		names[i] = string(r)
	}
	fmt.Fprintln(c.out, "replaced:", strings.Join(names, ", "))
	return subcommands.ExitSuccess
}

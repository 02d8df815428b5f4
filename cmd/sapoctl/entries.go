package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"sapo/internal/core"
	"sapo/internal/ledger"
)

type addCmd struct {
	*app
	kind        string
	amount      string
	description string
	category    string
	date        string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "append a transaction" }
func (*addCmd) Usage() string {
	return `sapoctl add -type income|expense -amount <n> -desc <text> [-category <c>] [-date YYYY-MM-DD]

  Appends a transaction. The date defaults to today.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "type", "expense", "income or expense")
	f.StringVar(&c.amount, "amount", "", "positive amount, '.' or ',' as decimal separator")
	f.StringVar(&c.description, "desc", "", "description")
	f.StringVar(&c.category, "category", "", "category, defaults to the general one")
	f.StringVar(&c.date, "date", "", "date as YYYY-MM-DD, defaults to today")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := core.ParseMoney(c.amount)
	if err != nil {
		return usage(fmt.Sprintf("invalid amount %q", c.amount))
	}
	date, err := parseDateFlag(c.date)
	if err != nil {
		return usage(err.Error())
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	tx, err := l.AppendTransaction(ctx, ledger.TransactionInput{
		Kind:        core.Kind(strings.ToLower(c.kind)),
		Amount:      amount,
		Description: c.description,
		Category:    c.category,
		Date:        date,
	})
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(c.out, tx.ID)
	return subcommands.ExitSuccess
}

type quickCmd struct {
	*app
}

func (*quickCmd) Name() string     { return "quick" }
func (*quickCmd) Synopsis() string { return "record a quick transaction dated today" }
func (*quickCmd) Usage() string {
	return `sapoctl quick income|expense <amount> <description...>
`
}

func (*quickCmd) SetFlags(*flag.FlagSet) {}

func (c *quickCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 3 {
		return usage("quick needs a type, an amount and a description")
	}
	amount, err := core.ParseMoney(f.Arg(1))
	if err != nil {
		return usage(fmt.Sprintf("invalid amount %q", f.Arg(1)))
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	tx, err := l.AddQuickTransaction(ctx, core.Kind(strings.ToLower(f.Arg(0))), amount, strings.Join(f.Args()[2:], " "))
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(c.out, tx.ID)
	return subcommands.ExitSuccess
}

type investCmd struct {
	*app
	name   string
	kind   string
	amount string
	value  string
	date   string
}

func (*investCmd) Name() string     { return "invest" }
func (*investCmd) Synopsis() string { return "record an investment" }
func (*investCmd) Usage() string {
	return `sapoctl invest -name <name> -amount <principal> [-value <current>] [-type <kind>] [-date YYYY-MM-DD]
`
}

func (c *investCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "investment name")
	f.StringVar(&c.kind, "type", "", "free-form kind, e.g. etf or bond")
	f.StringVar(&c.amount, "amount", "", "amount invested")
	f.StringVar(&c.value, "value", "", "current value, defaults to the amount invested")
	f.StringVar(&c.date, "date", "", "date as YYYY-MM-DD, defaults to today")
}

func (c *investCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	principal, err := core.ParseMoney(c.amount)
	if err != nil {
		return usage(fmt.Sprintf("invalid amount %q", c.amount))
	}
	current := principal
	if c.value != "" {
		if current, err = core.ParseAmount(c.value, true); err != nil {
			return usage(fmt.Sprintf("invalid value %q", c.value))
		}
	}
	date, err := parseDateFlag(c.date)
	if err != nil {
		return usage(err.Error())
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	inv, err := l.AppendInvestment(ctx, ledger.InvestmentInput{
		Name:         c.name,
		Principal:    principal,
		CurrentValue: current,
		Kind:         c.kind,
		Date:         date,
	})
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(c.out, inv.ID)
	return subcommands.ExitSuccess
}

type goodCmd struct {
	*app
	name  string
	value string
	date  string
}

func (*goodCmd) Name() string     { return "good" }
func (*goodCmd) Synopsis() string { return "record a material good" }
func (*goodCmd) Usage() string {
	return `sapoctl good -name <name> -value <n> [-date YYYY-MM-DD]
`
}

func (c *goodCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "what it is")
	f.StringVar(&c.value, "value", "", "estimated value")
	f.StringVar(&c.date, "date", "", "date as YYYY-MM-DD, defaults to today")
}

func (c *goodCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	value, err := core.ParseMoney(c.value)
	if err != nil {
		return usage(fmt.Sprintf("invalid value %q", c.value))
	}
	date, err := parseDateFlag(c.date)
	if err != nil {
		return usage(err.Error())
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	g, err := l.AppendMaterialGood(ctx, ledger.MaterialGoodInput{Name: c.name, Value: value, Date: date})
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(c.out, g.ID)
	return subcommands.ExitSuccess
}

type deleteCmd struct {
	*app
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete an entry by id" }
func (*deleteCmd) Usage() string {
	return `sapoctl delete transactions|investments|goods <id>

  Exits with status 1 when no entry has that id.
`
}

func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (c *deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage("delete needs a collection and an id")
	}
	coll, err := ledger.ParseCollection(f.Arg(0))
	if err != nil {
		return usage(err.Error())
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	removed, err := l.DeleteEntity(ctx, coll, f.Arg(1))
	if err != nil {
		return fail(err)
	}
	if !removed {
		return fail(fmt.Errorf("no %s entry with id %s", coll, f.Arg(1)))
	}
	fmt.Fprintln(c.out, "deleted", f.Arg(1))
	return subcommands.ExitSuccess
}

func parseDateFlag(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"sapo/internal/ledger"
)

type listCmd struct {
	*app
	limit int
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list the most recent transactions" }
func (*listCmd) Usage() string {
	return `sapoctl list [-n <count>]
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", ledger.DefaultRecentLimit, "number of transactions to show")
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	txs, err := l.Recent(ctx, c.limit)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTYPE\tAMOUNT\tCATEGORY\tDESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", tx.ID, tx.Date, tx.Kind, tx.Amount.Display(), tx.Category, tx.Description)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type balanceCmd struct {
	*app
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show the dashboard figures" }
func (*balanceCmd) Usage() string {
	return `sapoctl balance
`
}

func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	d, err := l.Dashboard(ctx, c.now())
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Balance\t%s\n", d.Balance.Display())
	fmt.Fprintf(w, "Income this month\t%s\n", d.MonthlyIncome.Display())
	fmt.Fprintf(w, "Expense this month\t%s\n", d.MonthlyExpense.Display())
	fmt.Fprintf(w, "Investments\t%s\n", d.InvestmentValue.Display())
	fmt.Fprintf(w, "Material goods\t%s\n", d.MaterialGoodsValue.Display())
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type monthCmd struct {
	*app
}

func (*monthCmd) Name() string     { return "month" }
func (*monthCmd) Synopsis() string { return "show income and expense of one month" }
func (*monthCmd) Usage() string {
	return `sapoctl month <year> <month>

  Months are numbered 1 to 12.
`
}

func (*monthCmd) SetFlags(*flag.FlagSet) {}

func (c *monthCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage("month needs a year and a month")
	}
	year, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		return usage(fmt.Sprintf("invalid year %q", f.Arg(0)))
	}
	month, err := strconv.Atoi(f.Arg(1))
	if err != nil || month < 1 || month > 12 {
		return usage(fmt.Sprintf("invalid month %q", f.Arg(1)))
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	totals, err := l.MonthlyTotals(ctx, time.Month(month), year)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(c.out, "%04d-%02d income %s expense %s net %s\n",
		year, month, totals.Income.Display(), totals.Expense.Display(), totals.Net().Display())
	return subcommands.ExitSuccess
}

type seriesCmd struct {
	*app
	months int
}

func (*seriesCmd) Name() string     { return "series" }
func (*seriesCmd) Synopsis() string { return "show monthly income and expense up to this month" }
func (*seriesCmd) Usage() string {
	return `sapoctl series [-months <n>]
`
}

func (c *seriesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.months, "months", ledger.DefaultWindowMonths, "number of months, oldest first")
}

func (c *seriesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.months < 1 {
		return usage("months must be positive")
	}
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	buckets, err := l.TimeSeries(ctx, c.now(), c.months)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MONTH\tINCOME\tEXPENSE")
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Key, b.Income.Display(), b.Expense.Display())
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type categoriesCmd struct {
	*app
}

func (*categoriesCmd) Name() string     { return "categories" }
func (*categoriesCmd) Synopsis() string { return "show expenses per category" }
func (*categoriesCmd) Usage() string {
	return `sapoctl categories
`
}

func (*categoriesCmd) SetFlags(*flag.FlagSet) {}

func (c *categoriesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := c.open(ctx)
	if err != nil {
		return fail(err)
	}
	cats, err := l.CategoryBreakdown(ctx)
	if err != nil {
		return fail(err)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, ca := range cats {
		fmt.Fprintf(w, "%s\t%s\n", ca.Name, ca.Amount.Display())
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

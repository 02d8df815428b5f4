// Package ledger computes the derived views of the ledger and owns the
// append/delete/import paths of the three stored collections.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sapo/internal/core"
)

const (
	// DefaultWindowMonths is the length of the income/expense time series.
	DefaultWindowMonths = 6
	// DefaultRecentLimit is how many transactions the recent list shows.
	DefaultRecentLimit = 10

	CategoryOther   = "altro"
	CategoryGeneral = "generale"
	CategoryQuick   = "rapida"
)

// Balance is income minus expense plus the current value of investments and
// material goods.
func Balance(txs []core.Transaction, invs []core.Investment, goods []core.MaterialGood) core.Money {
	total := core.Money{}
	for _, t := range txs {
		total = total.Add(t.Signed())
	}
	return total.Add(InvestmentValue(invs)).Add(MaterialGoodsValue(goods))
}

// MonthlyTotals sums income and expense of transactions dated in month/year.
// The date's own year and month are used, with no time zone adjustment.
func MonthlyTotals(txs []core.Transaction, month time.Month, year int) core.Totals {
	var totals core.Totals
	for _, t := range txs {
		if t.Date.Year() != year || t.Date.Month() != month {
			continue
		}
		switch t.Kind {
		case core.Income:
			totals.Income = totals.Income.Add(t.Amount)
		case core.Expense:
			totals.Expense = totals.Expense.Add(t.Amount)
		}
	}
	return totals
}

// TimeSeries buckets transactions into windowMonths consecutive calendar
// months ending at now's month, oldest first. Transactions outside the
// window are ignored and empty months report zero.
func TimeSeries(txs []core.Transaction, now time.Time, windowMonths int) []core.MonthBucket {
	if windowMonths <= 0 {
		windowMonths = DefaultWindowMonths
	}

	first := time.Date(now.Year(), now.Month()-time.Month(windowMonths-1), 1, 0, 0, 0, 0, time.UTC)
	buckets := make([]core.MonthBucket, windowMonths)
	index := make(map[string]int, windowMonths)
	for i := range buckets {
		m := first.AddDate(0, i, 0)
		key := core.DateOf(m).MonthKey()
		buckets[i] = core.MonthBucket{Key: key, Label: MonthLabel(m)}
		index[key] = i
	}

	for _, t := range txs {
		i, ok := index[t.Date.MonthKey()]
		if !ok {
			continue
		}
		switch t.Kind {
		case core.Income:
			buckets[i].Income = buckets[i].Income.Add(t.Amount)
		case core.Expense:
			buckets[i].Expense = buckets[i].Expense.Add(t.Amount)
		}
	}
	return buckets
}

// italianMonths are the it-IT short month names used by the charts.
var italianMonths = [...]string{"gen", "feb", "mar", "apr", "mag", "giu", "lug", "ago", "set", "ott", "nov", "dic"}

// MonthLabel renders t's month as the chart axis shows it, e.g. "gen 2024".
func MonthLabel(t time.Time) string {
	return fmt.Sprintf("%s %d", italianMonths[t.Month()-1], t.Year())
}

// CategoryBreakdown sums expenses per category in first-seen order.
// Blank categories are reported as CategoryOther.
func CategoryBreakdown(txs []core.Transaction) []core.CategoryAmount {
	out := []core.CategoryAmount{}
	index := make(map[string]int)
	for _, t := range txs {
		if t.Kind != core.Expense {
			continue
		}
		name := strings.TrimSpace(t.Category)
		if name == "" {
			name = CategoryOther
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, core.CategoryAmount{Name: name})
		}
		out[i].Amount = out[i].Amount.Add(t.Amount)
	}
	return out
}

func InvestmentValue(invs []core.Investment) core.Money {
	total := core.Money{}
	for _, inv := range invs {
		total = total.Add(inv.CurrentValue)
	}
	return total
}

func MaterialGoodsValue(goods []core.MaterialGood) core.Money {
	total := core.Money{}
	for _, g := range goods {
		total = total.Add(g.Value)
	}
	return total
}

// Recent returns up to n transactions, newest first by creation time.
// The input slice is not modified.
func Recent(txs []core.Transaction, n int) []core.Transaction {
	if n <= 0 {
		n = DefaultRecentLimit
	}
	sorted := make([]core.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

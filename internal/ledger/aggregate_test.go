package ledger

import (
	"testing"
	"time"

	"sapo/internal/core"
)

func tx(kind core.Kind, amount, category, date string) core.Transaction {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Transaction{Kind: kind, Amount: core.MustMoney(amount), Description: "x", Category: category, Date: d}
}

func TestBalance(t *testing.T) {
	txs := []core.Transaction{
		tx(core.Income, "50", "", "2024-01-15"),
		tx(core.Expense, "20", "", "2024-01-15"),
	}
	invs := []core.Investment{{Name: "ETF", Principal: core.MustMoney("100"), CurrentValue: core.MustMoney("90.5")}}
	goods := []core.MaterialGood{{Name: "Bike", Value: core.MustMoney("300")}}

	if got := Balance(txs, nil, nil); got.String() != "30.00" {
		t.Fatalf("expected 30.00, got %s", got)
	}
	if got := Balance(txs, invs, goods); got.String() != "420.50" {
		t.Fatalf("expected 420.50, got %s", got)
	}
	if got := Balance(nil, nil, nil); !got.IsZero() {
		t.Fatalf("expected zero balance, got %s", got)
	}
}

func TestMonthlyTotals(t *testing.T) {
	txs := []core.Transaction{
		tx(core.Income, "50", "", "2024-01-15"),
		tx(core.Expense, "20", "", "2024-01-31"),
		tx(core.Expense, "7", "", "2024-02-01"),
		tx(core.Income, "1000", "", "2023-01-10"),
	}
	got := MonthlyTotals(txs, time.January, 2024)
	if got.Income.String() != "50.00" || got.Expense.String() != "20.00" {
		t.Fatalf("unexpected totals %+v", got)
	}
	if got.Net().String() != "30.00" {
		t.Fatalf("expected net 30.00, got %s", got.Net())
	}
	empty := MonthlyTotals(txs, time.March, 2024)
	if !empty.Income.IsZero() || !empty.Expense.IsZero() {
		t.Fatalf("expected zero totals, got %+v", empty)
	}
}

func TestTimeSeriesBucketCount(t *testing.T) {
	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	for _, n := range []int{1, 3, 6, 12, 25} {
		buckets := TimeSeries(nil, now, n)
		if len(buckets) != n {
			t.Fatalf("window %d: expected %d buckets, got %d", n, n, len(buckets))
		}
		if buckets[n-1].Key != "2024-02" {
			t.Fatalf("window %d: expected last bucket 2024-02, got %s", n, buckets[n-1].Key)
		}
		for i := 1; i < n; i++ {
			if buckets[i-1].Key >= buckets[i].Key {
				t.Fatalf("window %d: buckets not oldest first: %s then %s", n, buckets[i-1].Key, buckets[i].Key)
			}
		}
		for _, b := range buckets {
			if b.Income.IsNegative() || b.Expense.IsNegative() || !b.Income.IsZero() || !b.Expense.IsZero() {
				t.Fatalf("window %d: expected zero bucket, got %+v", n, b)
			}
		}
	}
}

func TestTimeSeriesAcrossYearBoundary(t *testing.T) {
	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		tx(core.Income, "100", "", "2023-09-01"),
		tx(core.Expense, "40", "", "2023-12-24"),
		tx(core.Expense, "5", "", "2024-02-09"),
		tx(core.Income, "999", "", "2023-08-31"), // outside window
		tx(core.Income, "999", "", "2024-03-01"), // in the future
	}
	buckets := TimeSeries(txs, now, 0)

	wantKeys := []string{"2023-09", "2023-10", "2023-11", "2023-12", "2024-01", "2024-02"}
	if len(buckets) != len(wantKeys) {
		t.Fatalf("expected default window of %d, got %d", len(wantKeys), len(buckets))
	}
	for i, k := range wantKeys {
		if buckets[i].Key != k {
			t.Fatalf("bucket %d: expected %s, got %s", i, k, buckets[i].Key)
		}
	}
	if buckets[0].Label != "set 2023" || buckets[4].Label != "gen 2024" {
		t.Errorf("unexpected labels %q, %q", buckets[0].Label, buckets[4].Label)
	}
	if buckets[0].Income.String() != "100.00" {
		t.Errorf("expected 100.00 income in 2023-09, got %s", buckets[0].Income)
	}
	if buckets[3].Expense.String() != "40.00" {
		t.Errorf("expected 40.00 expense in 2023-12, got %s", buckets[3].Expense)
	}
	if buckets[5].Expense.String() != "5.00" || !buckets[5].Income.IsZero() {
		t.Errorf("unexpected current month bucket %+v", buckets[5])
	}
}

func TestCategoryBreakdown(t *testing.T) {
	txs := []core.Transaction{
		tx(core.Expense, "10", "food", "2024-01-01"),
		tx(core.Income, "500", "salary", "2024-01-01"),
		tx(core.Expense, "3", "  ", "2024-01-02"),
		tx(core.Expense, "2.5", "bar", "2024-01-03"),
		tx(core.Expense, "5", "food", "2024-01-04"),
		tx(core.Expense, "1", "", "2024-01-05"),
	}
	got := CategoryBreakdown(txs)
	want := []struct{ name, amount string }{
		{"food", "15.00"},
		{CategoryOther, "4.00"},
		{"bar", "2.50"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %+v", len(want), got)
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Amount.String() != w.amount {
			t.Fatalf("category %d: expected %s=%s, got %s=%s", i, w.name, w.amount, got[i].Name, got[i].Amount)
		}
	}

	if out := CategoryBreakdown(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil breakdown, got %#v", out)
	}
}

func TestRecent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []core.Transaction
	for i := 0; i < 15; i++ {
		entry := tx(core.Expense, "1", "", "2024-01-01")
		entry.ID = string(rune('a' + i))
		entry.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		txs = append(txs, entry)
	}

	got := Recent(txs, 0)
	if len(got) != DefaultRecentLimit {
		t.Fatalf("expected %d, got %d", DefaultRecentLimit, len(got))
	}
	if got[0].ID != "o" || got[9].ID != "f" {
		t.Fatalf("expected newest first, got %s..%s", got[0].ID, got[9].ID)
	}
	if txs[0].ID != "a" {
		t.Fatalf("input slice was reordered")
	}
	if len(Recent(txs[:3], 10)) != 3 {
		t.Fatalf("expected short list to be returned whole")
	}
}

func TestMonthLabel(t *testing.T) {
	tests := []struct {
		month time.Month
		want  string
	}{
		{time.January, "gen 2024"},
		{time.May, "mag 2024"},
		{time.August, "ago 2024"},
		{time.December, "dic 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := MonthLabel(time.Date(2024, tt.month, 10, 0, 0, 0, 0, time.UTC)); got != tt.want {
				t.Errorf("MonthLabel(%s) = %q, want %q", tt.month, got, tt.want)
			}
		})
	}
}

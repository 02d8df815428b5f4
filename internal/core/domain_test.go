package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2024-01-15", true},
		{" 2025-12-31 ", true},
		{"2024-13-01", false},
		{"15/01/2024", false},
		{"", false},
	}
	for i, tc := range cases {
		_, err := ParseDate(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("case %d expected ErrInvalidDate, got %v", i, err)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, time.January, 15)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2024-01-15"` {
		t.Fatalf("unexpected json %s", b)
	}

	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(d.Time) {
		t.Fatalf("round trip mismatch: %v vs %v", back, d)
	}

	// Timestamps written by older clients keep their literal date.
	if err := json.Unmarshal([]byte(`"2024-01-31T23:30:00-05:00"`), &back); err != nil {
		t.Fatalf("unmarshal timestamp: %v", err)
	}
	if back.MonthKey() != "2024-01" || back.Day() != 31 {
		t.Fatalf("expected literal date 2024-01-31, got %s", back)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Kind:        Income,
		Amount:      MustMoney("50"),
		Description: "Salary",
		Date:        NewDate(2024, 1, 15),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		tx   Transaction
		want error
	}{
		{Transaction{Kind: "gift", Amount: MustMoney("1"), Description: "a"}, ErrInvalidKind},
		{Transaction{Kind: Expense, Amount: MustMoney("0"), Description: "a"}, ErrInvalidAmount},
		{Transaction{Kind: Expense, Amount: MustMoney("-3"), Description: "a"}, ErrInvalidAmount},
		{Transaction{Kind: Expense, Amount: MustMoney("1"), Description: "   "}, ErrEmptyDescription},
	}
	for i, b := range bads {
		err := b.tx.Validate()
		if !errors.Is(err, b.want) {
			t.Fatalf("case %d expected %v, got %v", i, b.want, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d expected *ValidationError, got %T", i, err)
		}
	}
}

func TestTransactionSigned(t *testing.T) {
	in := Transaction{Kind: Income, Amount: MustMoney("10")}
	out := Transaction{Kind: Expense, Amount: MustMoney("4")}
	if got := Sum(in.Signed(), out.Signed()); !got.Equal(MustMoney("6")) {
		t.Fatalf("expected 6, got %s", got)
	}
}

func TestInvestmentAndGoodValidate(t *testing.T) {
	if err := (Investment{Name: "ETF", Principal: MustMoney("100"), CurrentValue: MustMoney("90")}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Investment{Name: " "}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Investment{Name: "x", CurrentValue: MustMoney("-1")}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := (MaterialGood{Name: "Car", Value: MustMoney("5000")}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (MaterialGood{Name: ""}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestTransactionJSONFieldNames(t *testing.T) {
	raw := `{"id":"sapo_1","type":"expense","amount":20,"description":"Coffee","category":"bar","date":"2024-01-15","timestamp":"2024-01-15T10:00:00Z","isQuick":true}`
	var tx Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tx.Kind != Expense || !tx.Amount.Equal(MustMoney("20")) || !tx.IsQuick || tx.Date.String() != "2024-01-15" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

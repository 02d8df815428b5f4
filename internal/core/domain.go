package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

// DateFormat is the ISO-8601 calendar date layout used in storage and exports.
const DateFormat = "2006-01-02"

type (
	Kind string

	// Date is a calendar date with no time zone semantics.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID          string    `json:"id"`
		Kind        Kind      `json:"type"`
		Amount      Money     `json:"amount"`
		Description string    `json:"description"`
		Category    string    `json:"category"`
		Date        Date      `json:"date"`
		CreatedAt   time.Time `json:"timestamp"`
		IsQuick     bool      `json:"isQuick"`
	}

	Investment struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		Principal    Money     `json:"amount"`       // Amount invested
		CurrentValue Money     `json:"currentValue"` // Latest valuation, may be below principal
		Kind         string    `json:"type"`
		Date         Date      `json:"date"`
		CreatedAt    time.Time `json:"timestamp"`
	}

	MaterialGood struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Value     Money     `json:"value"`
		Date      Date      `json:"date"`
		CreatedAt time.Time `json:"timestamp"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidKind      = errors.New("invalid transaction type")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidDate      = errors.New("invalid date")
)

// NewDate creates a new Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateFormat)
}

// MonthKey returns the YYYY-MM bucket key of the date.
func (d Date) MonthKey() string {
	return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts YYYY-MM-DD and, for data written by older clients,
// full RFC 3339 timestamps whose date part is kept as-is.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, data)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(DateFormat) {
		s = s[:len(DateFormat)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (k Kind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidKind
	}
}

func (t Transaction) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return &ValidationError{Field: "type", Err: err}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if strings.TrimSpace(t.Description) == "" {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	return nil
}

// Signed returns the amount with the sign it contributes to the balance.
func (t Transaction) Signed() Money {
	if t.Kind == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

func (i Investment) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if i.Principal.IsNegative() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if i.CurrentValue.IsNegative() {
		return &ValidationError{Field: "currentValue", Err: ErrInvalidAmount}
	}
	return nil
}

func (g MaterialGood) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if g.Value.IsNegative() {
		return &ValidationError{Field: "value", Err: ErrInvalidAmount}
	}
	return nil
}

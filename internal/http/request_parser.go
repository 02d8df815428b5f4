// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Ledger forms arrive either as JSON (the web shell) or form-encoded (curl,
// plain HTML forms); both go through RequestBodyParser.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sapo/internal/core"
	"sapo/internal/ledger"
)

// maxBodyBytes bounds request bodies, snapshot imports included.
const maxBodyBytes = 10 << 20

// ErrBodyTooLarge is reported when a request body exceeds maxBodyBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month time.Month
}

// ParseMonthParams reads a calendar month from the {year} and {month} path
// values. Months are 1-based.
func ParseMonthParams(r *http.Request) (MonthParams, error) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1 || year > 9999 {
		return MonthParams{}, &core.ValidationError{Field: "year", Err: fmt.Errorf("invalid year %q", r.PathValue("year"))}
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil || month < 1 || month > 12 {
		return MonthParams{}, &core.ValidationError{Field: "month", Err: fmt.Errorf("invalid month %q", r.PathValue("month"))}
	}
	return MonthParams{Year: year, Month: time.Month(month)}, nil
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	readErr     error
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.readErr = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.readErr == nil && len(p.body) > maxBodyBytes {
		p.body, p.readErr = nil, ErrBodyTooLarge
	}
	return p
}

// ReadErr returns the error hit while reading the body, if any. Callers that
// use GetRaw without Parse must check it first.
func (p *RequestBodyParser) ReadErr() error {
	return p.readErr
}

// Parse attempts to parse the body as JSON or form data.
// Failures are returned as *core.ParseError.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.readErr != nil {
		p.err = &core.ParseError{Source: "request body", Err: p.readErr}
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if p.body[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = &core.ParseError{Source: "request body", Err: err}
			return p.err
		}
		return nil
	}

	// Fall back to form parsing
	form, err := url.ParseQuery(string(p.body))
	if err != nil {
		p.err = &core.ParseError{Source: "request body", Err: err}
		return p.err
	}
	p.formData = form
	return nil
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseTransactionInput reads a transaction form. An empty date means today.
func ParseTransactionInput(p *RequestBodyParser) (ledger.TransactionInput, error) {
	in := ledger.TransactionInput{
		Kind:        core.Kind(strings.ToLower(p.Get("type"))),
		Description: p.Get("description"),
		Category:    p.Get("category"),
	}
	amount, err := parseAmount(p, "amount")
	if err != nil {
		return in, err
	}
	in.Amount = amount
	if in.Date, err = parseOptionalDate(p, "date"); err != nil {
		return in, err
	}
	return in, nil
}

// ParseQuickInput reads the quick-add form: type, amount and description.
func ParseQuickInput(p *RequestBodyParser) (core.Kind, core.Money, string, error) {
	amount, err := parseAmount(p, "amount")
	if err != nil {
		return "", core.Money{}, "", err
	}
	return core.Kind(strings.ToLower(p.Get("type"))), amount, p.Get("description"), nil
}

// ParseInvestmentInput reads an investment form. When currentValue is
// omitted the investment is valued at its principal; zero is a write-off.
func ParseInvestmentInput(p *RequestBodyParser) (ledger.InvestmentInput, error) {
	in := ledger.InvestmentInput{
		Name: p.Get("name"),
		Kind: p.Get("type"),
	}
	principal, err := parseAmount(p, "amount")
	if err != nil {
		return in, err
	}
	in.Principal = principal
	in.CurrentValue = principal
	if s := p.Get("currentValue"); s != "" {
		if in.CurrentValue, err = core.ParseAmount(s, true); err != nil {
			return in, &core.ValidationError{Field: "currentValue", Err: err}
		}
	}
	if in.Date, err = parseOptionalDate(p, "date"); err != nil {
		return in, err
	}
	return in, nil
}

func ParseMaterialGoodInput(p *RequestBodyParser) (ledger.MaterialGoodInput, error) {
	in := ledger.MaterialGoodInput{Name: p.Get("name")}
	value, err := parseAmount(p, "value")
	if err != nil {
		return in, err
	}
	in.Value = value
	if in.Date, err = parseOptionalDate(p, "date"); err != nil {
		return in, err
	}
	return in, nil
}

func parseAmount(p *RequestBodyParser, field string) (core.Money, error) {
	m, err := core.ParseMoney(p.Get(field))
	if err != nil {
		return core.Money{}, &core.ValidationError{Field: field, Err: err}
	}
	return m, nil
}

func parseOptionalDate(p *RequestBodyParser, field string) (core.Date, error) {
	s := p.Get(field)
	if s == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: field, Err: err}
	}
	return d, nil
}

// errorResponse maps a ledger or parse error onto a JSON error response.
func errorResponse(err error) *JSONResponseBuilder {
	if errors.Is(err, ErrBodyTooLarge) {
		return ErrorResponse(http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return UnprocessableEntityError(verr.Field, verr.Err.Error())
	}
	var perr *core.ParseError
	if errors.As(err, &perr) {
		return BadRequestError(perr.Error())
	}
	return InternalServerError("internal error")
}

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sapo/internal/core"
	"sapo/internal/kv"
	"sapo/internal/log"
)

// IDPrefix marks identifiers generated by the ledger.
const IDPrefix = "sapo_"

// Collection identifies one of the three stored sequences.
type Collection string

const (
	Transactions  Collection = "transactions"
	Investments   Collection = "investments"
	MaterialGoods Collection = "materialGoods"
)

// Key returns the store key the collection is persisted under.
func (c Collection) Key() string {
	switch c {
	case Transactions:
		return kv.KeyTransactions
	case Investments:
		return kv.KeyInvestments
	case MaterialGoods:
		return kv.KeyMaterialGoods
	default:
		return ""
	}
}

// ParseCollection maps user-facing names to a Collection.
func ParseCollection(s string) (Collection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transactions", "transaction", "tx":
		return Transactions, nil
	case "investments", "investment":
		return Investments, nil
	case "materialgoods", "goods", "good":
		return MaterialGoods, nil
	default:
		return "", fmt.Errorf("unknown collection %q", s)
	}
}

// TransactionInput carries the user-supplied fields of a new transaction.
// A zero Date means today.
type TransactionInput struct {
	Kind        core.Kind
	Amount      core.Money
	Description string
	Category    string
	Date        core.Date
	IsQuick     bool
}

type InvestmentInput struct {
	Name         string
	Principal    core.Money
	CurrentValue core.Money
	Kind         string
	Date         core.Date
}

type MaterialGoodInput struct {
	Name  string
	Value core.Money
	Date  core.Date
}

// Ledger reads and writes the three collections of a kv.Store.
//
// Every write rewrites the whole collection. There is no locking across the
// read-modify-write cycle: the last writer wins.
type Ledger struct {
	store  kv.Store
	logger *log.Logger

	// Now and NewID may be replaced, mostly by tests.
	Now   func() time.Time
	NewID func() string
}

func New(store kv.Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Ledger{
		store:  store,
		logger: logger.WithComponent(log.ComponentLedger),
		Now:    time.Now,
		NewID:  func() string { return IDPrefix + uuid.NewString() },
	}
}

func (l *Ledger) Transactions(ctx context.Context) ([]core.Transaction, error) {
	return load[core.Transaction](ctx, l, Transactions)
}

func (l *Ledger) Investments(ctx context.Context) ([]core.Investment, error) {
	return load[core.Investment](ctx, l, Investments)
}

func (l *Ledger) MaterialGoods(ctx context.Context) ([]core.MaterialGood, error) {
	return load[core.MaterialGood](ctx, l, MaterialGoods)
}

// load reads a collection. A value that does not decode is logged and
// treated as empty; store errors are returned.
func load[T any](ctx context.Context, l *Ledger, c Collection) ([]T, error) {
	raw, ok, err := l.store.Get(ctx, c.Key())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		perr := &core.ParseError{Source: c.Key(), Err: err}
		l.logger.WarnContext(ctx, "Stored collection is corrupt, treating as empty",
			log.FieldCollection, string(c),
			log.FieldError, perr.Error())
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func save[T any](ctx context.Context, l *Ledger, c Collection, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c, err)
	}
	if err := l.store.Set(ctx, c.Key(), string(data)); err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	return nil
}

// AppendTransaction validates in, assigns an id and timestamp and appends the
// result. On validation failure the stored sequence is not touched.
func (l *Ledger) AppendTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	now := l.Now()
	tx := core.Transaction{
		Kind:        in.Kind,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Date:        in.Date,
		CreatedAt:   now.UTC(),
		IsQuick:     in.IsQuick,
	}
	if tx.Category == "" {
		tx.Category = CategoryGeneral
		if in.IsQuick {
			tx.Category = CategoryOther
		}
	}
	if tx.Date.IsZero() {
		tx.Date = core.DateOf(now)
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	txs, err := l.Transactions(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.ID = l.NewID()
	if err := save(ctx, l, Transactions, append(txs, tx)); err != nil {
		return core.Transaction{}, err
	}

	l.logger.InfoContext(ctx, "Transaction appended",
		log.NewFields().
			WithEntry(string(Transactions), tx.ID).
			WithTransaction(string(tx.Kind), tx.Amount.String(), tx.Category).
			WithOperation(log.OpAppend).
			ToSlice()...)
	return tx, nil
}

// AddQuickTransaction records a transaction dated today in the quick category.
func (l *Ledger) AddQuickTransaction(ctx context.Context, kind core.Kind, amount core.Money, description string) (core.Transaction, error) {
	return l.AppendTransaction(ctx, TransactionInput{
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Category:    CategoryQuick,
		IsQuick:     true,
	})
}

func (l *Ledger) AppendInvestment(ctx context.Context, in InvestmentInput) (core.Investment, error) {
	now := l.Now()
	inv := core.Investment{
		Name:         strings.TrimSpace(in.Name),
		Principal:    in.Principal,
		CurrentValue: in.CurrentValue,
		Kind:         strings.TrimSpace(in.Kind),
		Date:         in.Date,
		CreatedAt:    now.UTC(),
	}
	if inv.Date.IsZero() {
		inv.Date = core.DateOf(now)
	}
	if err := inv.Validate(); err != nil {
		return core.Investment{}, err
	}

	invs, err := l.Investments(ctx)
	if err != nil {
		return core.Investment{}, err
	}
	inv.ID = l.NewID()
	if err := save(ctx, l, Investments, append(invs, inv)); err != nil {
		return core.Investment{}, err
	}
	l.logger.InfoContext(ctx, "Investment appended",
		log.FieldCollection, string(Investments),
		log.FieldEntryID, inv.ID,
		log.FieldAmount, inv.CurrentValue.String())
	return inv, nil
}

func (l *Ledger) AppendMaterialGood(ctx context.Context, in MaterialGoodInput) (core.MaterialGood, error) {
	now := l.Now()
	g := core.MaterialGood{
		Name:      strings.TrimSpace(in.Name),
		Value:     in.Value,
		Date:      in.Date,
		CreatedAt: now.UTC(),
	}
	if g.Date.IsZero() {
		g.Date = core.DateOf(now)
	}
	if err := g.Validate(); err != nil {
		return core.MaterialGood{}, err
	}

	goods, err := l.MaterialGoods(ctx)
	if err != nil {
		return core.MaterialGood{}, err
	}
	g.ID = l.NewID()
	if err := save(ctx, l, MaterialGoods, append(goods, g)); err != nil {
		return core.MaterialGood{}, err
	}
	l.logger.InfoContext(ctx, "Material good appended",
		log.FieldCollection, string(MaterialGoods),
		log.FieldEntryID, g.ID,
		log.FieldAmount, g.Value.String())
	return g, nil
}

// DeleteEntity removes the first entry of c with the given id and reports
// whether one was found. An unknown id is not an error and nothing is written.
func (l *Ledger) DeleteEntity(ctx context.Context, c Collection, id string) (bool, error) {
	var (
		removed bool
		err     error
	)
	switch c {
	case Transactions:
		removed, err = deleteFrom(ctx, l, c, id, func(t core.Transaction) string { return t.ID })
	case Investments:
		removed, err = deleteFrom(ctx, l, c, id, func(i core.Investment) string { return i.ID })
	case MaterialGoods:
		removed, err = deleteFrom(ctx, l, c, id, func(g core.MaterialGood) string { return g.ID })
	default:
		return false, fmt.Errorf("unknown collection %q", c)
	}
	if err != nil {
		return false, err
	}
	if removed {
		l.logger.InfoContext(ctx, "Entry deleted",
			log.NewFields().WithEntry(string(c), id).WithOperation(log.OpDelete).ToSlice()...)
	}
	return removed, nil
}

func (l *Ledger) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	return l.DeleteEntity(ctx, Transactions, id)
}

func (l *Ledger) DeleteInvestment(ctx context.Context, id string) (bool, error) {
	return l.DeleteEntity(ctx, Investments, id)
}

func (l *Ledger) DeleteMaterialGood(ctx context.Context, id string) (bool, error) {
	return l.DeleteEntity(ctx, MaterialGoods, id)
}

func deleteFrom[T any](ctx context.Context, l *Ledger, c Collection, id string, idOf func(T) string) (bool, error) {
	items, err := load[T](ctx, l, c)
	if err != nil {
		return false, err
	}
	for i, item := range items {
		if idOf(item) != id {
			continue
		}
		rest := make([]T, 0, len(items)-1)
		rest = append(rest, items[:i]...)
		rest = append(rest, items[i+1:]...)
		return true, save(ctx, l, c, rest)
	}
	return false, nil
}

// Balance reads every collection and computes the overall balance.
func (l *Ledger) Balance(ctx context.Context) (core.Money, error) {
	txs, invs, goods, err := l.all(ctx)
	if err != nil {
		return core.Money{}, err
	}
	return Balance(txs, invs, goods), nil
}

// Dashboard returns the headline figures, with monthly totals taken from
// now's calendar month.
func (l *Ledger) Dashboard(ctx context.Context, now time.Time) (core.Dashboard, error) {
	txs, invs, goods, err := l.all(ctx)
	if err != nil {
		return core.Dashboard{}, err
	}
	month := MonthlyTotals(txs, now.Month(), now.Year())
	return core.Dashboard{
		Balance:            Balance(txs, invs, goods),
		MonthlyIncome:      month.Income,
		MonthlyExpense:     month.Expense,
		InvestmentValue:    InvestmentValue(invs),
		MaterialGoodsValue: MaterialGoodsValue(goods),
	}, nil
}

func (l *Ledger) MonthlyTotals(ctx context.Context, month time.Month, year int) (core.Totals, error) {
	txs, err := l.Transactions(ctx)
	if err != nil {
		return core.Totals{}, err
	}
	return MonthlyTotals(txs, month, year), nil
}

func (l *Ledger) TimeSeries(ctx context.Context, now time.Time, windowMonths int) ([]core.MonthBucket, error) {
	txs, err := l.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	return TimeSeries(txs, now, windowMonths), nil
}

func (l *Ledger) CategoryBreakdown(ctx context.Context) ([]core.CategoryAmount, error) {
	txs, err := l.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	return CategoryBreakdown(txs), nil
}

func (l *Ledger) Recent(ctx context.Context, n int) ([]core.Transaction, error) {
	txs, err := l.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	return Recent(txs, n), nil
}

func (l *Ledger) all(ctx context.Context) ([]core.Transaction, []core.Investment, []core.MaterialGood, error) {
	txs, err := l.Transactions(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	invs, err := l.Investments(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	goods, err := l.MaterialGoods(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return txs, invs, goods, nil
}

// legacyKeyMarkers identify keys left behind by older releases that kept
// credentials and server settings in the same store.
var legacyKeyMarkers = []string{"encrypted_", "api_", "server_"}

// Cleanup removes legacy keys, when the store can list them, and makes sure
// every collection exists.
func (l *Ledger) Cleanup(ctx context.Context) error {
	if lister, ok := l.store.(kv.Lister); ok {
		keys, err := lister.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		for _, key := range keys {
			if !isLegacyKey(key) {
				continue
			}
			if err := l.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete legacy key %s: %w", key, err)
			}
			l.logger.InfoContext(ctx, "Removed legacy key", "key", key)
		}
	}

	for _, c := range []Collection{Transactions, Investments, MaterialGoods} {
		_, ok, err := l.store.Get(ctx, c.Key())
		if err != nil {
			return fmt.Errorf("read %s: %w", c, err)
		}
		if ok {
			continue
		}
		if err := l.store.Set(ctx, c.Key(), "[]"); err != nil {
			return fmt.Errorf("initialise %s: %w", c, err)
		}
	}
	return nil
}

func isLegacyKey(key string) bool {
	for _, marker := range legacyKeyMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// Package kv defines the persisted key/value layout of the ledger.
package kv

import "context"

// Keys of the three ledger collections. Each value is a JSON array.
const (
	KeyTransactions  = "sapo_transactions"
	KeyInvestments   = "sapo_investments"
	KeyMaterialGoods = "sapo_material_goods"
)

// Ports for storage adapters.
type (
	// Store is a string key/value store. Every write replaces the whole value.
	Store interface {
		// Get returns the stored value and whether the key exists.
		Get(ctx context.Context, key string) (value string, ok bool, err error)
		Set(ctx context.Context, key, value string) error
		// Delete removes the key. Missing keys are not an error.
		Delete(ctx context.Context, key string) error
	}

	// Lister is implemented by stores that can enumerate their keys.
	Lister interface {
		Keys(ctx context.Context) ([]string, error)
	}
)

// CollectionKeys returns the keys of every ledger collection in storage order.
func CollectionKeys() []string {
	return []string{KeyTransactions, KeyInvestments, KeyMaterialGoods}
}

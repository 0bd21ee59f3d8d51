package chain

import (
	"context"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

// PlaceholderBackend stands in for a chain with no live integration. It
// never contacts anything.
type PlaceholderBackend struct {
	kind     models.ChainKind
	decimals uint8
}

// NewPlaceholderBackend returns a backend for kind reporting amounts with
// the given decimals.
func NewPlaceholderBackend(kind models.ChainKind, decimals uint8) *PlaceholderBackend {
	return &PlaceholderBackend{kind: kind, decimals: decimals}
}

func (b *PlaceholderBackend) sealed() {}

// CurrencyName returns the chain kind.
func (b *PlaceholderBackend) CurrencyName() string { return string(b.kind) }

// GetBalance always returns zero.
func (b *PlaceholderBackend) GetBalance(ctx context.Context, address string) models.Amount {
	return models.Zero(b.decimals)
}

// Send always fails with apperr.ErrNotImplemented.
func (b *PlaceholderBackend) Send(ctx context.Context, to, amount string) (string, error) {
	return "", apperr.New(apperr.CodeNotImplemented, "chain.PlaceholderBackend.Send", "sending %s is not supported", b.kind)
}

// GetTransactionHistory always returns an empty list.
func (b *PlaceholderBackend) GetTransactionHistory(ctx context.Context, address string) []models.Transaction {
	return []models.Transaction{}
}

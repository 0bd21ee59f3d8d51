package vault

import (
	"context"

	"github.com/olehkaliuzhnyi/coinvault/internal/chain"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

// Wallet is an unlocked wallet: an address, the key that controls it and
// the backend bound to its chain kind. The key never leaves the wallet in
// clear form.
type Wallet struct {
	Address         string
	Kind            models.ChainKind
	ContractAddress string // set iff Kind.IsToken()

	key     *wallet.PrivateKey
	backend chain.Backend
}

// Backend returns the chain backend bound to the wallet.
func (w *Wallet) Backend() chain.Backend { return w.backend }

// CurrencyName is the backend's display name, e.g. a token symbol.
func (w *Wallet) CurrencyName() string { return w.backend.CurrencyName() }

// Balance returns the wallet balance, zero when the backend cannot tell.
func (w *Wallet) Balance(ctx context.Context) models.Amount {
	return w.backend.GetBalance(ctx, w.Address)
}

// Send transfers amount to the given address and returns the transaction hash.
func (w *Wallet) Send(ctx context.Context, to, amount string) (string, error) {
	return w.backend.Send(ctx, to, amount)
}

// History returns the transfers the indexer reports for the wallet.
func (w *Wallet) History(ctx context.Context) []models.Transaction {
	return w.backend.GetTransactionHistory(ctx, w.Address)
}

func (w *Wallet) record(encryptedKey string) models.EncryptedWalletRecord {
	r := models.EncryptedWalletRecord{
		Address:             w.Address,
		EncryptedPrivateKey: encryptedKey,
		CurrencyName:        string(w.Kind),
	}
	if w.ContractAddress != "" {
		c := w.ContractAddress
		r.ContractAddress = &c
	}
	return r
}

// Ref returns the wallet's identity within its vault.
func (w *Wallet) Ref() models.WalletRef {
	return models.WalletRef{Address: w.Address, Kind: w.Kind, Contract: w.ContractAddress}
}

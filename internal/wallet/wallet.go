// Package wallet holds key material and per-chain address derivation.
package wallet

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

// Deriver computes and validates addresses per chain kind. Dispatch is on
// the kind only, never on the shape of the key.
type Deriver struct {
	BTCParams *chaincfg.Params
}

// NewDeriver returns a Deriver for Bitcoin mainnet or testnet3.
func NewDeriver(btcMainnet bool) *Deriver {
	params := &chaincfg.MainNetParams
	if !btcMainnet {
		params = &chaincfg.TestNet3Params
	}
	return &Deriver{BTCParams: params}
}

// DeriveAddress returns the address of key on the given chain kind.
func (d *Deriver) DeriveAddress(key *PrivateKey, kind models.ChainKind) (string, error) {
	switch kind {
	case models.ChainEthereum, models.ChainERC20:
		return accountAddress(key.PubKey()), nil
	case models.ChainBitcoin:
		return p2pkhAddress(key.PubKey(), d.BTCParams)
	}
	return "", apperr.New(apperr.CodeInvalidWallet, "wallet.DeriveAddress", "unknown chain kind %q", kind)
}

// ValidateAddress checks addr against the grammar of kind.
func (d *Deriver) ValidateAddress(kind models.ChainKind, addr string) error {
	const op = "wallet.ValidateAddress"

	switch kind {
	case models.ChainEthereum, models.ChainERC20:
		if !IsAccountAddress(addr) {
			return apperr.New(apperr.CodeInvalidAddress, op, "%q is not 0x followed by 40 hex characters", addr)
		}
		return nil
	case models.ChainBitcoin:
		if err := validateP2PKH(addr, d.BTCParams); err != nil {
			return apperr.WrapWithCode(apperr.CodeInvalidAddress, op, err)
		}
		return nil
	}
	return apperr.New(apperr.CodeInvalidWallet, op, "unknown chain kind %q", kind)
}

// MatchesKey reports an error unless addr is the address key derives to on
// kind. Account addresses compare case-insensitively.
func (d *Deriver) MatchesKey(key *PrivateKey, kind models.ChainKind, addr string) error {
	want, err := d.DeriveAddress(key, kind)
	if err != nil {
		return err
	}
	got := addr
	if kind.AccountModel() {
		got = strings.ToLower(addr)
	}
	if got != want {
		return apperr.New(apperr.CodeInvalidAddress, "wallet.MatchesKey", "address %s does not belong to the supplied key", addr)
	}
	return nil
}

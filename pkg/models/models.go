package models

import (
	"fmt"
	"math/big"
	"strings"
)

// ChainKind identifies the chain family a wallet belongs to.
// The set is closed; its string value is persisted as currencyName.
type ChainKind string

// Supported chain kinds.
const (
	ChainEthereum ChainKind = "Ethereum" // native coin, account model
	ChainBitcoin  ChainKind = "Bitcoin"  // native coin, UTXO legacy addresses
	ChainERC20    ChainKind = "ERC20"    // token contract on Ethereum
)

// Kinds lists every supported kind in display order.
var Kinds = []ChainKind{ChainEthereum, ChainBitcoin, ChainERC20}

// Valid reports whether k is one of the supported kinds.
func (k ChainKind) Valid() bool {
	switch k {
	case ChainEthereum, ChainBitcoin, ChainERC20:
		return true
	}
	return false
}

// IsToken reports whether wallets of this kind need a contract address.
func (k ChainKind) IsToken() bool {
	return k == ChainERC20
}

// AccountModel reports whether addresses of this kind use the 0x hex grammar.
func (k ChainKind) AccountModel() bool {
	return k == ChainEthereum || k == ChainERC20
}

// Transaction is a transfer reported by a remote indexer. It is never built
// locally except by parsing remote responses.
type Transaction struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value Amount `json:"value"`
}

// EncryptedWalletRecord is the persisted form of a wallet.
type EncryptedWalletRecord struct {
	Address             string  `json:"address"`
	EncryptedPrivateKey string  `json:"encryptedPrivateKey"`
	CurrencyName        string  `json:"currencyName"`
	ContractAddress     *string `json:"contractAddress"`
}

// UserCredential is the login gate for a user: a one-way hash of the seed.
type UserCredential struct {
	UserID   string `json:"userId"`
	SeedHash string `json:"seedHash"`
}

// Zero returns a zero amount with the given precision.
func Zero(decimals uint8) Amount {
	return Amount{Value: new(big.Int), Decimals: decimals}
}

// WalletRef identifies a wallet within one user's vault. An Ethereum and an
// ERC20 wallet may share an address, so the address alone is not enough.
type WalletRef struct {
	Address  string
	Kind     ChainKind
	Contract string // empty unless Kind.IsToken()
}

// Equal compares two refs. Account-model addresses and contracts compare
// case-insensitively; Bitcoin addresses are case-sensitive base58.
func (r WalletRef) Equal(o WalletRef) bool {
	if r.Kind != o.Kind || !strings.EqualFold(r.Contract, o.Contract) {
		return false
	}
	if r.Kind.AccountModel() {
		return strings.EqualFold(r.Address, o.Address)
	}
	return r.Address == o.Address
}

// String describes the wallet for messages.
func (r WalletRef) String() string {
	if r.Contract != "" {
		return fmt.Sprintf("%s wallet %s (contract %s)", r.Kind, r.Address, r.Contract)
	}
	return fmt.Sprintf("%s wallet %s", r.Kind, r.Address)
}

// Ref returns the identity of the wallet the record persists.
func (r EncryptedWalletRecord) Ref() WalletRef {
	ref := WalletRef{Address: r.Address, Kind: ChainKind(r.CurrencyName)}
	if r.ContractAddress != nil {
		ref.Contract = *r.ContractAddress
	}
	return ref
}

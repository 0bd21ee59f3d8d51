package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// seedEntropyBits gives a 12-word mnemonic.
const seedEntropyBits = 128

// Seed is a BIP-39 mnemonic phrase.
type Seed string

// NormalizeSeed lowercases the phrase and collapses whitespace so that the
// same words always hash and derive identically.
func NormalizeSeed(s string) Seed {
	return Seed(strings.Join(strings.Fields(strings.ToLower(s)), " "))
}

// Valid reports whether the phrase passes the wordlist and checksum checks.
func (s Seed) Valid() bool {
	return bip39.IsMnemonicValid(string(NormalizeSeed(string(s))))
}

// PrivateKey is a secp256k1 scalar owned by exactly one wallet.
type PrivateKey struct {
	d [32]byte
}

// GenerateSeed returns a fresh mnemonic backed by 128 bits of crypto/rand
// entropy.
func GenerateSeed() (Seed, error) {
	entropy, err := bip39.NewEntropy(seedEntropyBits)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	defer clear(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("mnemonic: %w", err)
	}
	return Seed(mnemonic), nil
}

// DeriveMasterKey returns the BIP-32 master private key of the seed (empty
// BIP-39 passphrase). The same seed always yields the same key.
func DeriveMasterKey(seed Seed) (*PrivateKey, error) {
	const op = "wallet.DeriveMasterKey"

	mnemonic := string(NormalizeSeed(string(seed)))
	seedBytes, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeInvalidSeed, op, err)
	}
	defer clear(seedBytes)

	master, err := bip32.NewMasterKey(seedBytes)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeInvalidSeed, op, fmt.Errorf("master key: %w", err))
	}
	defer clear(master.Key)

	return keyFromBytes(master.Key, op)
}

// ImportKey parses a raw hex scalar with an optional 0x prefix.
func ImportKey(rawHex string) (*PrivateKey, error) {
	const op = "wallet.ImportKey"

	s := strings.TrimSpace(rawHex)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return nil, apperr.New(apperr.CodeInvalidKeyFormat, op, "expected 64 hex characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeInvalidKeyFormat, op, err)
	}
	defer clear(raw)

	return keyFromBytes(raw, op)
}

// GenerateKey returns a random key that is not tied to any seed.
func GenerateKey() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer k.Zero()

	raw := k.Serialize()
	defer clear(raw)
	return keyFromBytes(raw, "wallet.GenerateKey")
}

func keyFromBytes(raw []byte, op string) (*PrivateKey, error) {
	// ToECDSA rejects zero and scalars >= N.
	if _, err := crypto.ToECDSA(raw); err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeInvalidKeyFormat, op, err)
	}
	k := &PrivateKey{}
	copy(k.d[:], raw)
	return k, nil
}

// Hex returns the scalar as 64 lowercase hex characters without prefix.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(k.d[:])
}

// Bytes returns a copy of the scalar.
func (k *PrivateKey) Bytes() []byte {
	b := make([]byte, len(k.d))
	copy(b, k.d[:])
	return b
}

// ECDSA returns the key in the form go-ethereum signs with.
func (k *PrivateKey) ECDSA() *ecdsa.PrivateKey {
	// Validated at construction.
	priv, _ := crypto.ToECDSA(k.d[:])
	return priv
}

// PubKey returns the secp256k1 public key.
func (k *PrivateKey) PubKey() *btcec.PublicKey {
	_, pub := btcec.PrivKeyFromBytes(k.d[:])
	return pub
}

// Equal reports whether two keys hold the same scalar.
func (k *PrivateKey) Equal(other *PrivateKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.d == other.d
}

// Zero wipes the scalar. The key is unusable afterwards.
func (k *PrivateKey) Zero() {
	clear(k.d[:])
}

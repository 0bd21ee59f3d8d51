package wallet

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

const (
	testSeed  Seed = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testSeed2 Seed = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"
)

// Scalar 1; its addresses are well-known.
const (
	keyOne    = "0000000000000000000000000000000000000000000000000000000000000001"
	keyOneETH = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	keyOneBTC = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
)

var lowerAccountRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func mustKey(t *testing.T, hexKey string) *PrivateKey {
	t.Helper()
	k, err := ImportKey(hexKey)
	if err != nil {
		t.Fatalf("ImportKey(%s): %v", hexKey, err)
	}
	return k
}

func TestGenerateSeed(t *testing.T) {
	s1, err := GenerateSeed()
	if err != nil {
		t.Fatal(err)
	}
	s2, err := GenerateSeed()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(strings.Fields(string(s1))); got != 12 {
		t.Errorf("seed should have 12 words, got %d", got)
	}
	if !s1.Valid() {
		t.Errorf("generated seed does not validate: %s", s1)
	}
	if s1 == s2 {
		t.Error("two generated seeds are identical")
	}
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	k1, err := DeriveMasterKey(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveMasterKey(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	if !k1.Equal(k2) {
		t.Errorf("same seed produced different keys: %s vs %s", k1.Hex(), k2.Hex())
	}

	// Case and spacing do not change the key.
	k3, err := DeriveMasterKey("  ABANDON abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon   About ")
	if err != nil {
		t.Fatal(err)
	}
	if !k1.Equal(k3) {
		t.Error("normalized seed produced a different key")
	}
}

func TestDeriveMasterKey_DifferentSeeds(t *testing.T) {
	k1, err := DeriveMasterKey(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveMasterKey(testSeed2)
	if err != nil {
		t.Fatal(err)
	}
	if k1.Equal(k2) {
		t.Error("different seeds produced the same key")
	}
}

func TestDeriveMasterKey_InvalidSeed(t *testing.T) {
	tests := []struct {
		name string
		seed Seed
	}{
		{"empty", ""},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"},
		{"unknown word", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon bitcoins"},
		{"too short", "abandon about"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveMasterKey(tt.seed)
			if !errors.Is(err, apperr.ErrInvalidSeed) {
				t.Errorf("expected ErrInvalidSeed, got %v", err)
			}
		})
	}
}

func TestImportKey(t *testing.T) {
	k := mustKey(t, "0x"+keyOne)
	if k.Hex() != keyOne {
		t.Errorf("Hex() = %s, want %s", k.Hex(), keyOne)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"long", keyOne + "00"},
		{"not hex", strings.Repeat("zz", 32)},
		{"zero scalar", strings.Repeat("0", 64)},
		{"above curve order", strings.Repeat("f", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportKey(tt.raw); !errors.Is(err, apperr.ErrInvalidKeyFormat) {
				t.Errorf("expected ErrInvalidKeyFormat, got %v", err)
			}
		})
	}
}

func TestPrivateKey_BytesIsCopy(t *testing.T) {
	k := mustKey(t, keyOne)
	b := k.Bytes()
	b[31] = 0xff
	if k.Hex() != keyOne {
		t.Error("mutating Bytes() changed the key")
	}

	k.Zero()
	if k.Hex() != strings.Repeat("0", 64) {
		t.Error("Zero() did not wipe the key")
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if k1.Equal(k2) {
		t.Error("two random keys are identical")
	}
	if k1.ECDSA() == nil {
		t.Error("ECDSA() returned nil")
	}
}

func TestDeriveAddress_KnownVectors(t *testing.T) {
	d := NewDeriver(true)
	k := mustKey(t, keyOne)

	tests := []struct {
		kind models.ChainKind
		want string
	}{
		{models.ChainEthereum, keyOneETH},
		{models.ChainERC20, keyOneETH},
		{models.ChainBitcoin, keyOneBTC},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := d.DeriveAddress(k, tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DeriveAddress = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveAddress_AccountFormat(t *testing.T) {
	d := NewDeriver(true)
	for _, seed := range []Seed{testSeed, testSeed2} {
		k, err := DeriveMasterKey(seed)
		if err != nil {
			t.Fatal(err)
		}
		addr, err := d.DeriveAddress(k, models.ChainEthereum)
		if err != nil {
			t.Fatal(err)
		}
		if !lowerAccountRe.MatchString(addr) {
			t.Errorf("account address %q does not match ^0x[0-9a-f]{40}$", addr)
		}
	}
	for i := 0; i < 20; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		addr, _ := d.DeriveAddress(k, models.ChainERC20)
		if !lowerAccountRe.MatchString(addr) {
			t.Errorf("account address %q does not match ^0x[0-9a-f]{40}$", addr)
		}
	}
}

func TestDeriveAddress_BitcoinNetworks(t *testing.T) {
	k := mustKey(t, keyOne)

	main, err := NewDeriver(true).DeriveAddress(k, models.ChainBitcoin)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(main, "1") {
		t.Errorf("mainnet P2PKH address should start with 1, got %s", main)
	}

	test, err := NewDeriver(false).DeriveAddress(k, models.ChainBitcoin)
	if err != nil {
		t.Fatal(err)
	}
	if test[0] != 'm' && test[0] != 'n' {
		t.Errorf("testnet P2PKH address should start with m or n, got %s", test)
	}
}

func TestDeriveAddress_UnknownKind(t *testing.T) {
	_, err := NewDeriver(true).DeriveAddress(mustKey(t, keyOne), "Dogecoin")
	if !errors.Is(err, apperr.ErrInvalidWallet) {
		t.Errorf("expected ErrInvalidWallet, got %v", err)
	}
}

func TestValidateAddress(t *testing.T) {
	d := &Deriver{BTCParams: &chaincfg.MainNetParams}

	tests := []struct {
		name  string
		kind  models.ChainKind
		addr  string
		valid bool
	}{
		{"eth lowercase", models.ChainEthereum, keyOneETH, true},
		{"eth checksummed", models.ChainEthereum, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", true},
		{"eth short", models.ChainEthereum, "0x7e5f4552091a69125d5dfcb7b8c2659029395b", false},
		{"eth no prefix", models.ChainERC20, keyOneETH[2:], false},
		{"eth non hex", models.ChainERC20, "0x" + strings.Repeat("g", 40), false},
		{"btc mainnet", models.ChainBitcoin, keyOneBTC, true},
		{"btc bad checksum", models.ChainBitcoin, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMJ", false},
		{"btc given eth", models.ChainBitcoin, keyOneETH, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.ValidateAddress(tt.kind, tt.addr)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, apperr.ErrInvalidAddress) {
				t.Errorf("expected ErrInvalidAddress, got %v", err)
			}
		})
	}
}

func TestMatchesKey(t *testing.T) {
	d := NewDeriver(true)
	k := mustKey(t, keyOne)

	if err := d.MatchesKey(k, models.ChainEthereum, strings.ToUpper(keyOneETH[2:])); err == nil {
		t.Error("address without prefix should not match")
	}
	if err := d.MatchesKey(k, models.ChainEthereum, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"); err != nil {
		t.Errorf("checksummed address should match: %v", err)
	}
	if err := d.MatchesKey(k, models.ChainBitcoin, keyOneBTC); err != nil {
		t.Errorf("bitcoin address should match: %v", err)
	}

	other, _ := DeriveMasterKey(testSeed)
	if err := d.MatchesKey(other, models.ChainEthereum, keyOneETH); !errors.Is(err, apperr.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

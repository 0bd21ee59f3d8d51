package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/chain"
	"github.com/olehkaliuzhnyi/coinvault/internal/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/storage"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeed  wallet.Seed = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testSeed2 wallet.Seed = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"

	keyOne    = "0000000000000000000000000000000000000000000000000000000000000001"
	keyOneETH = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	keyOneBTC = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	contract  = "0x1c7d4b196cb0c7b01d743fbc6116a902379c7238"
)

// fakeFactory binds placeholder backends so no test touches the network.
type fakeFactory struct {
	mu    sync.Mutex
	err   error
	built []models.ChainKind
	keys  []*wallet.PrivateKey // every key offered, bound or not
}

func (f *fakeFactory) Backend(kind models.ChainKind, key *wallet.PrivateKey, contract string) (chain.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	f.built = append(f.built, kind)
	return chain.NewPlaceholderBackend(kind, 18), nil
}

func newTestVault(t *testing.T, store storage.VaultStore, session Session) (*Vault, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	v, err := New(session, store, f, WithEncryptor(crypto.New(crypto.MinIterations)))
	require.NoError(t, err)
	return v, f
}

func aliceSession() Session {
	return NewSession("alice", testSeed)
}

func TestNew_EmptyUserID(t *testing.T) {
	_, err := New(Session{UserID: " "}, storage.NewMemoryVaultStore(), &fakeFactory{})
	assert.ErrorIs(t, err, apperr.ErrInvalidUserID)
}

func TestNewSession_PassphraseIsNormalizedSeed(t *testing.T) {
	s := NewSession("alice", "  ZOO zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong ")
	assert.Equal(t, testSeed2, s.Seed)
	assert.Equal(t, string(testSeed2), s.Passphrase)
}

func TestAddWallet_Sources(t *testing.T) {
	ctx := context.Background()
	v, f := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())

	random, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceRandom})
	require.NoError(t, err)
	assert.True(t, wallet.IsAccountAddress(random.Address))

	fromSession, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainBitcoin, Source: SourceSeed})
	require.NoError(t, err)
	master, err := wallet.DeriveMasterKey(testSeed)
	require.NoError(t, err)
	want, err := wallet.NewDeriver(true).DeriveAddress(master, models.ChainBitcoin)
	require.NoError(t, err)
	assert.Equal(t, want, fromSession.Address)

	recovered, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceSeed, Seed: testSeed2})
	require.NoError(t, err)
	assert.NotEqual(t, random.Address, recovered.Address)

	imported, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainERC20, Source: SourceImport, KeyHex: "0x" + keyOne, Contract: contract})
	require.NoError(t, err)
	assert.Equal(t, keyOneETH, imported.Address)
	assert.Equal(t, contract, imported.ContractAddress)

	assert.Len(t, v.Wallets(), 4)
	assert.Equal(t, []models.ChainKind{models.ChainEthereum, models.ChainBitcoin, models.ChainEthereum, models.ChainERC20}, f.built)
	assert.NotNil(t, imported.Backend())
}

func TestAddWallet_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		spec    WalletSpec
		wantErr error
	}{
		{"token without contract", WalletSpec{Kind: models.ChainERC20, Source: SourceRandom}, apperr.ErrInvalidWallet},
		{"contract on native", WalletSpec{Kind: models.ChainEthereum, Source: SourceRandom, Contract: contract}, apperr.ErrInvalidWallet},
		{"malformed contract", WalletSpec{Kind: models.ChainERC20, Source: SourceRandom, Contract: "0x1234"}, apperr.ErrInvalidAddress},
		{"unknown kind", WalletSpec{Kind: "Dogecoin", Source: SourceRandom}, apperr.ErrInvalidWallet},
		{"unknown source", WalletSpec{Kind: models.ChainEthereum, Source: Source(9)}, apperr.ErrInvalidWallet},
		{"bad seed", WalletSpec{Kind: models.ChainEthereum, Source: SourceSeed, Seed: "not a real seed"}, apperr.ErrInvalidSeed},
		{"bad key", WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: "abc"}, apperr.ErrInvalidKeyFormat},
		{"foreign address", WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne, Address: "0x2b5ad5c4795c026514f8317c7a215e218dccd6cf"}, apperr.ErrInvalidAddress},
		{"malformed address", WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne, Address: "0x7e5f"}, apperr.ErrInvalidAddress},
		{"bitcoin address wrong grammar", WalletSpec{Kind: models.ChainBitcoin, Source: SourceImport, KeyHex: keyOne, Address: keyOneETH}, apperr.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())
			w, err := v.AddWallet(context.Background(), tt.spec)
			assert.Nil(t, w)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, v.Wallets())
		})
	}
}

func TestAddWallet_ImportWithAddress(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())

	w, err := v.AddWallet(ctx, WalletSpec{
		Kind:    models.ChainEthereum,
		Source:  SourceImport,
		KeyHex:  keyOne,
		Address: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
	})
	require.NoError(t, err)
	assert.Equal(t, keyOneETH, w.Address, "account address should be stored lowercase")

	btc, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainBitcoin, Source: SourceImport, KeyHex: keyOne, Address: keyOneBTC})
	require.NoError(t, err)
	assert.Equal(t, keyOneBTC, btc.Address)
}

func TestAddWallet_Duplicate(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())

	spec := WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne}
	_, err := v.AddWallet(ctx, spec)
	require.NoError(t, err)
	_, err = v.AddWallet(ctx, spec)
	assert.ErrorIs(t, err, apperr.ErrInvalidWallet)

	// Same key as a token wallet is a different wallet.
	_, err = v.AddWallet(ctx, WalletSpec{Kind: models.ChainERC20, Source: SourceImport, KeyHex: keyOne, Contract: contract})
	assert.NoError(t, err)
}

func TestAddWallet_FactoryError(t *testing.T) {
	v, f := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())
	f.err = apperr.New(apperr.CodeConfiguration, "test", "no rpc")

	_, err := v.AddWallet(context.Background(), WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Empty(t, v.Wallets())
	require.Len(t, f.keys, 1)
	assert.Equal(t, strings.Repeat("0", 64), f.keys[0].Hex(), "unbound key should be wiped")
}

func addN(t *testing.T, v *Vault, n int) {
	t.Helper()
	kinds := []WalletSpec{
		{Kind: models.ChainEthereum, Source: SourceRandom},
		{Kind: models.ChainBitcoin, Source: SourceRandom},
		{Kind: models.ChainERC20, Source: SourceRandom, Contract: contract},
	}
	for i := 0; i < n; i++ {
		_, err := v.AddWallet(context.Background(), kinds[i%len(kinds)])
		require.NoError(t, err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("%d wallets", n), func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryVaultStore()

			v1, _ := newTestVault(t, store, aliceSession())
			addN(t, v1, n)
			require.NoError(t, v1.SaveAll(ctx))

			v2, f2 := newTestVault(t, store, aliceSession())
			loaded, err := v2.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, loaded, n)
			assert.Len(t, f2.built, n, "every loaded wallet gets a backend")

			for i, want := range v1.Wallets() {
				got := loaded[i]
				assert.Equal(t, want.Address, got.Address)
				assert.Equal(t, want.Kind, got.Kind)
				assert.Equal(t, want.ContractAddress, got.ContractAddress)
				assert.True(t, want.key.Equal(got.key), "key mismatch at %d", i)
				assert.NotNil(t, got.Backend())
			}
		})
	}
}

func TestSaveAll_RecordsAreEncrypted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v, _ := newTestVault(t, store, aliceSession())

	_, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainERC20, Source: SourceImport, KeyHex: keyOne, Contract: contract})
	require.NoError(t, err)
	_, err = v.AddWallet(ctx, WalletSpec{Kind: models.ChainBitcoin, Source: SourceImport, KeyHex: keyOne})
	require.NoError(t, err)
	require.NoError(t, v.SaveAll(ctx))

	records, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, keyOneETH, records[0].Address)
	assert.Equal(t, "ERC20", records[0].CurrencyName)
	require.NotNil(t, records[0].ContractAddress)
	assert.Equal(t, contract, *records[0].ContractAddress)

	assert.Equal(t, "Bitcoin", records[1].CurrencyName)
	assert.Nil(t, records[1].ContractAddress)

	for _, r := range records {
		assert.NotContains(t, r.EncryptedPrivateKey, keyOne)
	}
	assert.NotEqual(t, records[0].EncryptedPrivateKey, records[1].EncryptedPrivateKey, "same key must encrypt differently")
}

func TestLoadAll_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()

	v1, _ := newTestVault(t, store, aliceSession())
	addN(t, v1, 3)
	require.NoError(t, v1.SaveAll(ctx))

	wrong := aliceSession()
	wrong.Passphrase = "not the seed"
	v2, f2 := newTestVault(t, store, wrong)
	_, err := v2.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne})
	require.NoError(t, err)

	loaded, err := v2.LoadAll(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnlockFailed)
	assert.Nil(t, loaded)
	require.Len(t, v2.Wallets(), 1, "in-memory wallets must survive a failed unlock")
	assert.Equal(t, keyOneETH, v2.Wallets()[0].Address)
	assert.Len(t, f2.built, 1, "no backend should be bound for a failed unlock")
}

func TestLoadAll_OneBadRecordFailsAll(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()

	v1, _ := newTestVault(t, store, aliceSession())
	addN(t, v1, 3)
	require.NoError(t, v1.SaveAll(ctx))

	records, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	foreign, err := crypto.New(crypto.MinIterations).Encrypt(keyOne, "someone else")
	require.NoError(t, err)
	records[2].EncryptedPrivateKey = foreign
	require.NoError(t, store.Save(ctx, "alice", records))

	v2, _ := newTestVault(t, store, aliceSession())
	loaded, err := v2.LoadAll(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnlockFailed)
	assert.Nil(t, loaded)
	assert.Empty(t, v2.Wallets())
}

func TestLoadAll_CorruptRecords(t *testing.T) {
	ctx := context.Background()
	enc := crypto.New(crypto.MinIterations)
	pass := aliceSession().Passphrase

	goodBlob, err := enc.Encrypt(keyOne, pass)
	require.NoError(t, err)
	notAKey, err := enc.Encrypt("not a key", pass)
	require.NoError(t, err)
	c := contract

	tests := []struct {
		name   string
		record models.EncryptedWalletRecord
	}{
		{"unknown currency", models.EncryptedWalletRecord{Address: keyOneETH, EncryptedPrivateKey: goodBlob, CurrencyName: "Dogecoin"}},
		{"token without contract", models.EncryptedWalletRecord{Address: keyOneETH, EncryptedPrivateKey: goodBlob, CurrencyName: "ERC20"}},
		{"contract on native", models.EncryptedWalletRecord{Address: keyOneETH, EncryptedPrivateKey: goodBlob, CurrencyName: "Ethereum", ContractAddress: &c}},
		{"plaintext is not a key", models.EncryptedWalletRecord{Address: keyOneETH, EncryptedPrivateKey: notAKey, CurrencyName: "Ethereum"}},
		{"garbage blob", models.EncryptedWalletRecord{Address: keyOneETH, EncryptedPrivateKey: "%%%", CurrencyName: "Ethereum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryVaultStore()
			require.NoError(t, store.Save(ctx, "alice", []models.EncryptedWalletRecord{tt.record}))

			v, _ := newTestVault(t, store, aliceSession())
			_, err := v.LoadAll(ctx)
			assert.ErrorIs(t, err, apperr.ErrUnlockFailed)
		})
	}
}

func TestLoadAll_BindFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v1, _ := newTestVault(t, store, aliceSession())
	addN(t, v1, 2)
	require.NoError(t, v1.SaveAll(ctx))

	v2, f2 := newTestVault(t, store, aliceSession())
	f2.err = apperr.New(apperr.CodeConfiguration, "test", "no rpc")
	_, err := v2.LoadAll(ctx)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Empty(t, v2.Wallets())
}

func TestLoadAll_WipesReplacedKeys(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())
	old, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne})
	require.NoError(t, err)
	require.NoError(t, v.SaveAll(ctx))

	loaded, err := v.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, strings.Repeat("0", 64), old.key.Hex(), "replaced key should be wiped")
	assert.Equal(t, keyOne, loaded[0].key.Hex())
}

func TestSaveAll_Failure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v, _ := newTestVault(t, store, aliceSession())
	addN(t, v, 2)

	store.FailSave = errors.New("disk full")
	err := v.SaveAll(ctx)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Len(t, v.Wallets(), 2, "wallets lost after failed save")

	store.FailSave = nil
	require.NoError(t, v.SaveAll(ctx))
}

func TestSaveAll_FileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileVaultStore(t.TempDir())
	require.NoError(t, err)

	v1, _ := newTestVault(t, store, aliceSession())
	addN(t, v1, 3)
	require.NoError(t, v1.SaveAll(ctx))

	v2, _ := newTestVault(t, store, aliceSession())
	loaded, err := v2.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, w := range v1.Wallets() {
		assert.True(t, w.key.Equal(loaded[i].key))
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v, _ := newTestVault(t, store, aliceSession())

	eth, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceImport, KeyHex: keyOne})
	require.NoError(t, err)
	btc, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainBitcoin, Source: SourceImport, KeyHex: keyOne})
	require.NoError(t, err)
	require.NoError(t, v.SaveAll(ctx))

	require.NoError(t, v.Remove(ctx, eth.Ref()))
	assert.Equal(t, strings.Repeat("0", 64), eth.key.Hex(), "removed key should be wiped")

	_, ok := v.Find(eth.Ref())
	assert.False(t, ok)
	found, ok := v.Find(btc.Ref())
	require.True(t, ok)
	assert.Same(t, btc, found)

	records, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, keyOneBTC, records[0].Address)

	assert.ErrorIs(t, v.Remove(ctx, eth.Ref()), apperr.ErrInvalidWallet)

	// Unsaved wallets can be removed too.
	unsaved, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceRandom})
	require.NoError(t, err)
	assert.NoError(t, v.Remove(ctx, unsaved.Ref()))
}

func TestSharedAddress_EthereumAndToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v, _ := newTestVault(t, store, aliceSession())

	eth, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainEthereum, Source: SourceSeed})
	require.NoError(t, err)
	token, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainERC20, Source: SourceSeed, Contract: contract})
	require.NoError(t, err)
	require.Equal(t, eth.Address, token.Address)
	require.NoError(t, v.SaveAll(ctx))

	found, ok := v.Find(token.Ref())
	require.True(t, ok)
	assert.Same(t, token, found)
	found, ok = v.Find(eth.Ref())
	require.True(t, ok)
	assert.Same(t, eth, found)

	assert.Len(t, v.Match(eth.Address, "", ""), 2)
	assert.Len(t, v.Match("0x"+strings.ToUpper(eth.Address[2:]), "", ""), 2)
	assert.Equal(t, []*Wallet{token}, v.Match(eth.Address, models.ChainERC20, ""))
	assert.Equal(t, []*Wallet{eth}, v.Match(eth.Address, models.ChainEthereum, ""))
	assert.Empty(t, v.Match(eth.Address, "", "0x2b5ad5c4795c026514f8317c7a215e218dccd6cf"))

	require.NoError(t, v.Remove(ctx, token.Ref()))
	remaining := v.Wallets()
	require.Len(t, remaining, 1)
	assert.Same(t, eth, remaining[0])

	records, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ethereum", records[0].CurrencyName)
	assert.Nil(t, records[0].ContractAddress)
}

func TestWallet_DelegatesToBackend(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t, storage.NewMemoryVaultStore(), aliceSession())
	w, err := v.AddWallet(ctx, WalletSpec{Kind: models.ChainBitcoin, Source: SourceSeed})
	require.NoError(t, err)

	assert.Equal(t, "Bitcoin", w.CurrencyName())
	assert.True(t, w.Balance(ctx).IsZero())
	assert.Empty(t, w.History(ctx))
	_, err = w.Send(ctx, keyOneBTC, "1")
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
}

func TestSaveLoad_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVaultStore()
	v, _ := newTestVault(t, store, aliceSession())
	addN(t, v, 3)
	require.NoError(t, v.SaveAll(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.SaveAll(ctx))
		}()
		go func() {
			defer wg.Done()
			loaded, err := v.LoadAll(ctx)
			assert.NoError(t, err)
			assert.Len(t, loaded, 3)
		}()
	}
	wg.Wait()
	assert.Len(t, v.Wallets(), 3)
}

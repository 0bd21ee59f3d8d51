// Package vault owns a user's unlocked wallets and their encrypted
// persistence.
package vault

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/chain"
	"github.com/olehkaliuzhnyi/coinvault/internal/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/storage"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/sirupsen/logrus"
)

// Session is the authenticated context vault operations run in.
// Passphrase encrypts and decrypts every wallet key; Seed is the source
// for seed-derived wallets.
type Session struct {
	UserID     string
	Seed       wallet.Seed
	Passphrase string
}

// NewSession returns a session whose vault passphrase is the seed phrase
// itself.
func NewSession(userID string, seed wallet.Seed) Session {
	normalized := wallet.NormalizeSeed(string(seed))
	return Session{UserID: userID, Seed: normalized, Passphrase: string(normalized)}
}

// Source selects how AddWallet obtains a key.
type Source int

const (
	SourceRandom Source = iota // fresh random key
	SourceSeed                 // master key of WalletSpec.Seed, or of the session seed
	SourceImport               // raw key hex from WalletSpec.KeyHex
)

// String returns the lowercase source name used in logs.
func (s Source) String() string {
	switch s {
	case SourceRandom:
		return "random"
	case SourceSeed:
		return "seed"
	case SourceImport:
		return "import"
	}
	return "unknown"
}

// WalletSpec describes a wallet to add.
type WalletSpec struct {
	Kind     models.ChainKind
	Source   Source
	Seed     wallet.Seed // SourceSeed; empty means the session seed
	KeyHex   string      // SourceImport
	Address  string      // SourceImport; optional, must belong to KeyHex
	Contract string      // required iff Kind.IsToken()
}

// Vault is the in-memory wallet collection of one session.
type Vault struct {
	session Session
	store   storage.VaultStore
	factory chain.Factory
	enc     *crypto.Encryptor
	deriver *wallet.Deriver
	logger  *logrus.Entry

	// mu guards wallets and keeps SaveAll and LoadAll from interleaving.
	mu      sync.Mutex
	wallets []*Wallet
}

// Option configures a Vault.
type Option func(*Vault)

// WithEncryptor replaces the default encryptor, e.g. with fewer KDF iterations.
func WithEncryptor(enc *crypto.Encryptor) Option {
	return func(v *Vault) { v.enc = enc }
}

// WithDeriver replaces the default mainnet deriver.
func WithDeriver(d *wallet.Deriver) Option {
	return func(v *Vault) { v.deriver = d }
}

// New returns an empty vault for session. Call LoadAll to unlock saved
// wallets.
func New(session Session, store storage.VaultStore, factory chain.Factory, opts ...Option) (*Vault, error) {
	if strings.TrimSpace(session.UserID) == "" {
		return nil, apperr.New(apperr.CodeInvalidUserID, "vault.New", "user id must not be empty")
	}
	v := &Vault{
		session: session,
		store:   store,
		factory: factory,
		enc:     crypto.New(crypto.DefaultIterations),
		deriver: wallet.NewDeriver(true),
		logger:  logrus.WithFields(logrus.Fields{"component": "vault", "user_id": session.UserID}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// AddWallet creates a wallet from spec, binds its backend and appends it.
// Nothing is persisted until SaveAll.
func (v *Vault) AddWallet(ctx context.Context, spec WalletSpec) (*Wallet, error) {
	const op = "vault.AddWallet"

	if err := v.validateSpec(spec, op); err != nil {
		return nil, err
	}
	key, err := v.keyFor(spec, op)
	if err != nil {
		return nil, err
	}

	address, err := v.deriver.DeriveAddress(key, spec.Kind)
	if err != nil {
		key.Zero()
		return nil, err
	}
	if spec.Source == SourceImport && spec.Address != "" {
		if err := v.checkImportedAddress(key, spec, op); err != nil {
			key.Zero()
			return nil, err
		}
		if !spec.Kind.AccountModel() {
			address = spec.Address
		}
	}

	w := &Wallet{
		Address:         address,
		Kind:            spec.Kind,
		ContractAddress: strings.ToLower(spec.Contract),
		key:             key,
	}

	v.mu.Lock()
	if v.index(w.Ref()) >= 0 {
		v.mu.Unlock()
		key.Zero()
		return nil, apperr.New(apperr.CodeInvalidWallet, op, "%s is already in the vault", w.Ref())
	}
	v.mu.Unlock()

	if err := v.bind(ctx, w); err != nil {
		key.Zero()
		return nil, err
	}

	v.mu.Lock()
	v.wallets = append(v.wallets, w)
	v.mu.Unlock()

	v.logger.WithFields(logrus.Fields{
		"address": w.Address,
		"kind":    w.Kind,
		"source":  spec.Source.String(),
	}).Info("wallet added")
	return w, nil
}

func (v *Vault) validateSpec(spec WalletSpec, op string) error {
	if !spec.Kind.Valid() {
		return apperr.New(apperr.CodeInvalidWallet, op, "unknown chain kind %q", spec.Kind)
	}
	switch {
	case spec.Kind.IsToken() && spec.Contract == "":
		return apperr.New(apperr.CodeInvalidWallet, op, "%s wallet requires a contract address", spec.Kind)
	case !spec.Kind.IsToken() && spec.Contract != "":
		return apperr.New(apperr.CodeInvalidWallet, op, "%s wallet cannot have a contract address", spec.Kind)
	case spec.Contract != "" && !wallet.IsAccountAddress(spec.Contract):
		return apperr.New(apperr.CodeInvalidAddress, op, "contract address %q is not 0x followed by 40 hex characters", spec.Contract)
	}
	return nil
}

func (v *Vault) keyFor(spec WalletSpec, op string) (*wallet.PrivateKey, error) {
	switch spec.Source {
	case SourceRandom:
		return wallet.GenerateKey()
	case SourceSeed:
		seed := spec.Seed
		if seed == "" {
			seed = v.session.Seed
		}
		return wallet.DeriveMasterKey(seed)
	case SourceImport:
		return wallet.ImportKey(spec.KeyHex)
	}
	return nil, apperr.New(apperr.CodeInvalidWallet, op, "unknown wallet source %d", spec.Source)
}

// checkImportedAddress requires a supplied account address to be the key's
// own. Bitcoin addresses are checked by grammar only, since one key has
// several valid legacy encodings.
func (v *Vault) checkImportedAddress(key *wallet.PrivateKey, spec WalletSpec, op string) error {
	if err := v.deriver.ValidateAddress(spec.Kind, spec.Address); err != nil {
		return err
	}
	if spec.Kind.AccountModel() {
		return v.deriver.MatchesKey(key, spec.Kind, spec.Address)
	}
	return nil
}

func (v *Vault) bind(ctx context.Context, w *Wallet) error {
	backend, err := v.factory.Backend(w.Kind, w.key, w.ContractAddress)
	if err != nil {
		return err
	}
	if initializer, ok := backend.(chain.Initializer); ok {
		if err := initializer.Init(ctx); err != nil {
			v.logger.WithFields(logrus.Fields{
				"address":  w.Address,
				"contract": w.ContractAddress,
			}).WithError(err).Warn("backend not ready")
		}
	}
	w.backend = backend
	return nil
}

// Wallets returns the wallets in insertion order.
func (v *Vault) Wallets() []*Wallet {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Wallet, len(v.wallets))
	copy(out, v.wallets)
	return out
}

// Find returns the wallet identified by ref.
func (v *Vault) Find(ref models.WalletRef) (*Wallet, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.index(ref); i >= 0 {
		return v.wallets[i], true
	}
	return nil, false
}

// Match returns the wallets at address, narrowed by kind and contract when
// they are non-empty.
func (v *Vault) Match(address string, kind models.ChainKind, contract string) []*Wallet {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*Wallet
	for _, w := range v.wallets {
		switch {
		case !strings.EqualFold(w.Address, address):
		case kind != "" && w.Kind != kind:
		case contract != "" && !strings.EqualFold(w.ContractAddress, contract):
		default:
			out = append(out, w)
		}
	}
	return out
}

func (v *Vault) index(ref models.WalletRef) int {
	for i, w := range v.wallets {
		if w.Ref().Equal(ref) {
			return i
		}
	}
	return -1
}

// Remove deletes the wallet identified by ref from memory and from the
// store, and wipes its key.
func (v *Vault) Remove(ctx context.Context, ref models.WalletRef) error {
	const op = "vault.Remove"

	v.mu.Lock()
	defer v.mu.Unlock()

	idx := v.index(ref)
	if idx < 0 {
		return apperr.New(apperr.CodeInvalidWallet, op, "no %s", ref)
	}
	removed := v.wallets[idx]

	// A wallet that was never saved has no record.
	if err := v.store.Remove(ctx, v.session.UserID, removed.Ref()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}

	v.wallets = append(v.wallets[:idx:idx], v.wallets[idx+1:]...)
	removed.key.Zero()

	v.logger.WithFields(logrus.Fields{
		"address":  removed.Address,
		"kind":     removed.Kind,
		"contract": removed.ContractAddress,
	}).Info("wallet removed")
	return nil
}

// SaveAll encrypts every wallet key under the session passphrase and
// atomically replaces the stored vault. On failure the in-memory wallets
// are untouched.
func (v *Vault) SaveAll(ctx context.Context) error {
	const op = "vault.SaveAll"

	v.mu.Lock()
	defer v.mu.Unlock()

	records := make([]models.EncryptedWalletRecord, 0, len(v.wallets))
	for _, w := range v.wallets {
		if err := ctx.Err(); err != nil {
			return apperr.WrapWithCode(apperr.CodePersistence, op, err)
		}
		blob, err := v.enc.Encrypt(w.key.Hex(), v.session.Passphrase)
		if err != nil {
			return apperr.WrapWithCode(apperr.CodePersistence, op, err)
		}
		records = append(records, w.record(blob))
	}

	if err := v.store.Save(ctx, v.session.UserID, records); err != nil {
		return apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}
	v.logger.WithField("wallets", len(records)).Info("vault saved")
	return nil
}

// LoadAll replaces the in-memory wallets with the stored vault. If any
// record fails to decrypt the whole load fails with apperr.ErrUnlockFailed
// and the in-memory wallets are left as they were.
func (v *Vault) LoadAll(ctx context.Context) ([]*Wallet, error) {
	const op = "vault.LoadAll"

	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.store.Load(ctx, v.session.UserID)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}

	loaded := make([]*Wallet, 0, len(records))
	discard := func() {
		for _, w := range loaded {
			w.key.Zero()
		}
	}

	for i, r := range records {
		w, err := v.unlock(r, op)
		if err != nil {
			discard()
			v.logger.WithField("record", i).WithError(err).Warn("vault unlock failed")
			return nil, err
		}
		loaded = append(loaded, w)
	}

	for _, w := range loaded {
		if err := v.bind(ctx, w); err != nil {
			discard()
			return nil, err
		}
	}

	for _, w := range v.wallets {
		w.key.Zero()
	}
	v.wallets = loaded
	v.logger.WithField("wallets", len(loaded)).Info("vault unlocked")

	out := make([]*Wallet, len(loaded))
	copy(out, loaded)
	return out, nil
}

func (v *Vault) unlock(r models.EncryptedWalletRecord, op string) (*Wallet, error) {
	kind := models.ChainKind(r.CurrencyName)
	if !kind.Valid() {
		return nil, apperr.New(apperr.CodeUnlockFailed, op, "record %s has unknown currency %q", r.Address, r.CurrencyName)
	}
	contract := ""
	if r.ContractAddress != nil {
		contract = *r.ContractAddress
	}
	if kind.IsToken() != (contract != "") {
		return nil, apperr.New(apperr.CodeUnlockFailed, op, "record %s violates the contract address rule", r.Address)
	}

	keyHex, err := v.enc.Decrypt(r.EncryptedPrivateKey, v.session.Passphrase)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeUnlockFailed, op, err)
	}
	key, err := wallet.ImportKey(keyHex)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeUnlockFailed, op, err)
	}
	return &Wallet{Address: r.Address, Kind: kind, ContractAddress: contract, key: key}, nil
}

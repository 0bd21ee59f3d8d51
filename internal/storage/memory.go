package storage

import (
	"context"
	"sync"

	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

// MemoryVaultStore is an in-memory VaultStore.
type MemoryVaultStore struct {
	mu     sync.RWMutex
	vaults map[string][]models.EncryptedWalletRecord

	// FailSave, when set, is returned by Save. Tests use it to simulate a
	// broken disk.
	FailSave error
}

// NewMemoryVaultStore returns an empty store.
func NewMemoryVaultStore() *MemoryVaultStore {
	return &MemoryVaultStore{vaults: make(map[string][]models.EncryptedWalletRecord)}
}

// Load implements VaultStore.
func (s *MemoryVaultStore) Load(ctx context.Context, userID string) ([]models.EncryptedWalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.vaults[userID]), nil
}

// Save implements VaultStore. It fails with FailSave when set.
func (s *MemoryVaultStore) Save(ctx context.Context, userID string, records []models.EncryptedWalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.vaults[userID] = cloneRecords(records)
	return nil
}

// Remove implements VaultStore.
func (s *MemoryVaultStore) Remove(ctx context.Context, userID string, ref models.WalletRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := removeRecord(s.vaults[userID], ref)
	if err != nil {
		return err
	}
	s.vaults[userID] = records
	return nil
}

// MemoryCredentialRepo is an in-memory CredentialRepo.
type MemoryCredentialRepo struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewMemoryCredentialRepo returns an empty repo.
func NewMemoryCredentialRepo() *MemoryCredentialRepo {
	return &MemoryCredentialRepo{creds: make(map[string]string)}
}

// Put implements CredentialRepo.
func (s *MemoryCredentialRepo) Put(ctx context.Context, cred models.UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.UserID] = cred.SeedHash
	return nil
}

// Get implements CredentialRepo.
func (s *MemoryCredentialRepo) Get(ctx context.Context, userID string) (models.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.creds[userID]
	if !ok {
		return models.UserCredential{}, ErrNotFound
	}
	return models.UserCredential{UserID: userID, SeedHash: hash}, nil
}

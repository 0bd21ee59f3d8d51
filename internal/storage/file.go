package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	vaultsDir       = "vaults"
	credentialsFile = "credentials.json"
	fileMode        = 0o600
	dirMode         = 0o700
)

// FileVaultStore keeps each user's vault as a JSON array in its own file
// under <dir>/vaults. File names are the SHA-256 of the user id, so ids
// never reach the filesystem.
type FileVaultStore struct {
	dir    string
	mu     sync.Mutex
	logger *logrus.Entry
}

// NewFileVaultStore keeps vaults under dataDir/vaults, creating it if needed.
func NewFileVaultStore(dataDir string) (*FileVaultStore, error) {
	dir := filepath.Join(dataDir, vaultsDir)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &FileVaultStore{
		dir:    dir,
		logger: logrus.WithField("component", "file_vault_store"),
	}, nil
}

func (s *FileVaultStore) path(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Load implements VaultStore.
func (s *FileVaultStore) Load(ctx context.Context, userID string) ([]models.EncryptedWalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userID)
}

func (s *FileVaultStore) load(userID string) ([]models.EncryptedWalletRecord, error) {
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return []models.EncryptedWalletRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	var records []models.EncryptedWalletRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	if records == nil {
		records = []models.EncryptedWalletRecord{}
	}
	return records, nil
}

// Save implements VaultStore with an atomic file replace.
func (s *FileVaultStore) Save(ctx context.Context, userID string, records []models.EncryptedWalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(userID, records)
}

func (s *FileVaultStore) save(userID string, records []models.EncryptedWalletRecord) error {
	if records == nil {
		records = []models.EncryptedWalletRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	if err := writeFileAtomic(s.path(userID), data); err != nil {
		return err
	}
	s.logger.WithField("records", len(records)).Debug("vault saved")
	return nil
}

// Remove implements VaultStore.
func (s *FileVaultStore) Remove(ctx context.Context, userID string, ref models.WalletRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(userID)
	if err != nil {
		return err
	}
	records, err = removeRecord(records, ref)
	if err != nil {
		return err
	}
	return s.save(userID, records)
}

// FileCredentialRepo keeps all credentials in one JSON object
// {userId: seedHash}.
type FileCredentialRepo struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentialRepo keeps credentials in dataDir/credentials.json.
func NewFileCredentialRepo(dataDir string) (*FileCredentialRepo, error) {
	if err := os.MkdirAll(dataDir, dirMode); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileCredentialRepo{path: filepath.Join(dataDir, credentialsFile)}, nil
}

// Put implements CredentialRepo.
func (r *FileCredentialRepo) Put(ctx context.Context, cred models.UserCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAll()
	if err != nil {
		return err
	}
	all[cred.UserID] = cred.SeedHash

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return writeFileAtomic(r.path, data)
}

// Get implements CredentialRepo.
func (r *FileCredentialRepo) Get(ctx context.Context, userID string) (models.UserCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAll()
	if err != nil {
		return models.UserCredential{}, err
	}
	hash, ok := all[userID]
	if !ok {
		return models.UserCredential{}, ErrNotFound
	}
	return models.UserCredential{UserID: userID, SeedHash: hash}, nil
}

func (r *FileCredentialRepo) readAll() (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	all := map[string]string{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return all, nil
}

// writeFileAtomic replaces path with data so that readers see either the
// old or the new content, never a partial write.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	// Persist the rename itself. Not every platform can fsync a directory.
	if d, dirErr := os.Open(dir); dirErr == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

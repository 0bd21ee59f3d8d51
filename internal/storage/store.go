// Package storage persists encrypted wallet records and login credentials.
package storage

import (
	"context"
	"errors"

	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

// ErrNotFound is returned when a requested credential or record is absent.
var ErrNotFound = errors.New("not found")

// VaultStore keeps one ordered list of encrypted wallet records per user.
type VaultStore interface {
	// Load returns the user's records in saved order. A user who never
	// saved has an empty vault, not an error.
	Load(ctx context.Context, userID string) ([]models.EncryptedWalletRecord, error)
	// Save atomically replaces the user's records. A failed Save leaves the
	// previous vault intact.
	Save(ctx context.Context, userID string, records []models.EncryptedWalletRecord) error
	// Remove deletes the record identified by ref, keeping the order of the
	// rest.
	Remove(ctx context.Context, userID string, ref models.WalletRef) error
}

// CredentialRepo keeps one seed hash per user id.
type CredentialRepo interface {
	// Put stores cred, replacing any previous credential for the same id.
	Put(ctx context.Context, cred models.UserCredential) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, userID string) (models.UserCredential, error)
}

func cloneRecords(in []models.EncryptedWalletRecord) []models.EncryptedWalletRecord {
	out := make([]models.EncryptedWalletRecord, len(in))
	for i, r := range in {
		out[i] = r
		if r.ContractAddress != nil {
			c := *r.ContractAddress
			out[i].ContractAddress = &c
		}
	}
	return out
}

func removeRecord(records []models.EncryptedWalletRecord, ref models.WalletRef) ([]models.EncryptedWalletRecord, error) {
	for i, r := range records {
		if r.Ref().Equal(ref) {
			return append(records[:i:i], records[i+1:]...), nil
		}
	}
	return nil, ErrNotFound
}

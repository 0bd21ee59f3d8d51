// Package auth gates login on a one-way hash of the user's seed phrase.
// The hash is never used to derive or decrypt keys.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/storage"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore registers and verifies users against a CredentialRepo.
type CredentialStore struct {
	repo   storage.CredentialRepo
	cost   int
	logger *logrus.Entry

	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *CredentialStore) { s.cost = cost }
}

// NewCredentialStore returns a store backed by repo, hashing with bcrypt.DefaultCost
// unless WithCost overrides it.
func NewCredentialStore(repo storage.CredentialRepo, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		repo:   repo,
		cost:   bcrypt.DefaultCost,
		logger: logrus.WithField("component", "auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores the hash of seed for userID, replacing any earlier
// credential. Re-registering resets the user's recovery material.
func (s *CredentialStore) Register(ctx context.Context, userID string, seed wallet.Seed) error {
	const op = "auth.Register"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.New(apperr.CodeInvalidUserID, op, "user id must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(seedDigest(seed), s.cost)
	if err != nil {
		return fmt.Errorf("%s: hash seed: %w", op, err)
	}
	if err := s.repo.Put(ctx, models.UserCredential{UserID: userID, SeedHash: string(hash)}); err != nil {
		return apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}
	s.logger.WithField("user_id", userID).Info("user registered")
	return nil
}

// Verify reports whether seed matches the stored credential for userID.
// Unknown users and wrong seeds are indistinguishable, in result and in
// the bcrypt work performed.
func (s *CredentialStore) Verify(ctx context.Context, userID string, seed wallet.Seed) bool {
	userID = strings.TrimSpace(userID)
	digest := seedDigest(seed)

	cred, err := s.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WithError(err).Warn("credential lookup failed")
		}
		_ = bcrypt.CompareHashAndPassword(s.dummy(), digest)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cred.SeedHash), digest) == nil
}

func (s *CredentialStore) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("coinvault-dummy"), s.cost)
	})
	return s.dummyHash
}

// seedDigest keeps bcrypt input under its 72-byte limit; a 24-word phrase
// is far longer than that.
func seedDigest(seed wallet.Seed) []byte {
	sum := sha256.Sum256([]byte(wallet.NormalizeSeed(string(seed))))
	return []byte(hex.EncodeToString(sum[:]))
}

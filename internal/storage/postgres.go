package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const (
	credentialsTable = "user_credentials"
	walletsTable     = "wallet_records"
)

// PostgresStore implements both VaultStore and CredentialRepo on one pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Entry
}

// NewPostgresStore connects to dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{
		pool:   pool,
		logger: logrus.WithField("component", "postgres_store"),
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Migrate applies the embedded goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose up: %w", err)
	}
	return nil
}

type credentialRow struct {
	UserID   string `db:"user_id"`
	SeedHash string `db:"seed_hash"`
}

// Put upserts the credential.
func (p *PostgresStore) Put(ctx context.Context, cred models.UserCredential) error {
	query := fmt.Sprintf(`INSERT INTO %s (user_id, seed_hash) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET seed_hash = EXCLUDED.seed_hash;`, credentialsTable)

	if _, err := p.pool.Exec(ctx, query, cred.UserID, cred.SeedHash); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Get implements CredentialRepo.
func (p *PostgresStore) Get(ctx context.Context, userID string) (models.UserCredential, error) {
	query := fmt.Sprintf(`SELECT user_id, seed_hash FROM %s WHERE user_id = $1 LIMIT 1;`, credentialsTable)

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return models.UserCredential{}, fmt.Errorf("query credential: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[credentialRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserCredential{}, ErrNotFound
	}
	if err != nil {
		return models.UserCredential{}, fmt.Errorf("scan credential: %w", err)
	}
	return models.UserCredential{UserID: row.UserID, SeedHash: row.SeedHash}, nil
}

type walletRow struct {
	Address             string  `db:"address"`
	EncryptedPrivateKey string  `db:"encrypted_private_key"`
	CurrencyName        string  `db:"currency_name"`
	ContractAddress     *string `db:"contract_address"`
}

// Load returns the user's records ordered by position.
func (p *PostgresStore) Load(ctx context.Context, userID string) ([]models.EncryptedWalletRecord, error) {
	query := fmt.Sprintf(`SELECT address, encrypted_private_key, currency_name, contract_address
		FROM %s WHERE user_id = $1 ORDER BY position;`, walletsTable)

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	walletRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[walletRow])
	if err != nil {
		return nil, fmt.Errorf("scan wallets: %w", err)
	}

	records := make([]models.EncryptedWalletRecord, 0, len(walletRows))
	for _, r := range walletRows {
		records = append(records, models.EncryptedWalletRecord(r))
	}
	return records, nil
}

// Save replaces the user's rows inside one transaction.
func (p *PostgresStore) Save(ctx context.Context, userID string, records []models.EncryptedWalletRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1;`, walletsTable), userID); err != nil {
		return fmt.Errorf("clear wallets: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for i, r := range records {
		rows = append(rows, []any{userID, i, r.Address, r.EncryptedPrivateKey, r.CurrencyName, r.ContractAddress})
	}
	columns := []string{"user_id", "position", "address", "encrypted_private_key", "currency_name", "contract_address"}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{walletsTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy wallets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.logger.WithField("records", len(records)).Debug("vault saved")
	return nil
}

// Remove deletes the first row matching ref. Kind and contract are part of
// the match since an Ethereum and an ERC20 wallet can share an address.
func (p *PostgresStore) Remove(ctx context.Context, userID string, ref models.WalletRef) error {
	query := fmt.Sprintf(`DELETE FROM %[1]s WHERE user_id = $1 AND position = (
		SELECT min(position) FROM %[1]s
		WHERE user_id = $1 AND address = $2 AND currency_name = $3
			AND contract_address IS NOT DISTINCT FROM $4);`, walletsTable)

	var contract *string
	if ref.Contract != "" {
		contract = &ref.Contract
	}
	tag, err := p.pool.Exec(ctx, query, userID, ref.Address, string(ref.Kind), contract)
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/auth"
	"github.com/olehkaliuzhnyi/coinvault/internal/chain"
	"github.com/olehkaliuzhnyi/coinvault/internal/config"
	"github.com/olehkaliuzhnyi/coinvault/internal/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/storage"
	"github.com/olehkaliuzhnyi/coinvault/internal/vault"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// stdin is shared so consecutive prompts on a pipe see every line.
var (
	stdin      = bufio.NewReader(os.Stdin)
	isTerminal = term.IsTerminal
)

type globalOptions struct {
	configPath string
	userID     string
}

// app is the wiring shared by every command.
type app struct {
	cfg    config.Config
	creds  *auth.CredentialStore
	vaults storage.VaultStore
	env    *chain.Env

	closers []func()
}

func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeConfiguration, "openApp", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeConfiguration, "openApp", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	a := &app{cfg: cfg}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	env, err := chain.NewEnv(cfg.Chain())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.env = env
	a.closers = append(a.closers, env.Close)
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	const op = "openApp.storage"

	if a.cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return apperr.WrapWithCode(apperr.CodePersistence, op, err)
		}
		a.closers = append(a.closers, func() { _ = pg.Close() })
		a.creds = auth.NewCredentialStore(pg)
		a.vaults = pg
		return nil
	}

	repo, err := storage.NewFileCredentialRepo(a.cfg.DataDir)
	if err != nil {
		return apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}
	vaults, err := storage.NewFileVaultStore(a.cfg.DataDir)
	if err != nil {
		return apperr.WrapWithCode(apperr.CodePersistence, op, err)
	}
	a.creds = auth.NewCredentialStore(repo)
	a.vaults = vaults
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// unlock verifies the seed and opens the user's saved wallets.
func (a *app) unlock(ctx context.Context, userID string, seed wallet.Seed) (*vault.Vault, error) {
	if !a.creds.Verify(ctx, userID, seed) {
		return nil, apperr.New(apperr.CodeUnlockFailed, "unlock", "unknown user or wrong seed phrase")
	}
	v, err := vault.New(
		vault.NewSession(userID, seed),
		a.vaults,
		a.env,
		vault.WithEncryptor(crypto.New(a.cfg.KDFIterations)),
		vault.WithDeriver(wallet.NewDeriver(a.cfg.BTCMainnet)),
	)
	if err != nil {
		return nil, err
	}
	if _, err := v.LoadAll(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// withVault runs fn against the unlocked vault of the --user account.
func withVault(ctx context.Context, opts *globalOptions, fn func(*app, *vault.Vault) error) error {
	if opts.userID == "" {
		return apperr.New(apperr.CodeInvalidUserID, "withVault", "--user is required")
	}
	seed, err := readSeed("Seed phrase: ")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.unlock(ctx, opts.userID, seed)
	if err != nil {
		return err
	}
	return fn(a, v)
}

// readSeed prompts without echo on a terminal and reads one line otherwise.
func readSeed(label string) (wallet.Seed, error) {
	fd := int(os.Stdin.Fd())
	if isTerminal(fd) {
		fmt.Fprint(os.Stderr, label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read seed phrase: %w", err)
		}
		return wallet.NormalizeSeed(string(raw)), nil
	}
	return readSeedLine(stdin)
}

func readSeedLine(r *bufio.Reader) (wallet.Seed, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read seed phrase: %w", err)
	}
	if strings.TrimSpace(line) == "" {
		return "", apperr.New(apperr.CodeInvalidSeed, "readSeed", "empty seed phrase")
	}
	return wallet.NormalizeSeed(line), nil
}

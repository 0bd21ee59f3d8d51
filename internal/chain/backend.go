// Package chain implements the uniform balance/send/history contract for
// each supported chain kind.
//
// The set of backends is closed: NativeBackend (Ethereum), TokenBackend
// (ERC-20 on Ethereum) and PlaceholderBackend (Bitcoin, no live
// integration). Env.Backend is the only dispatch point.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/explorer"
	"github.com/olehkaliuzhnyi/coinvault/internal/tx"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
)

const defaultCallTimeout = 15 * time.Second

// Backend is the operation contract every chain kind satisfies.
//
// Read paths never fail: GetBalance returns zero and GetTransactionHistory
// an empty, non-nil slice when the remote side cannot answer. Send surfaces
// validation errors first (apperr.ErrInvalidAddress, apperr.ErrInvalidAmount,
// apperr.ErrInsufficientFunds); any later failure is wrapped in
// apperr.ErrRemoteUnavailable and must not be retried by the caller.
type Backend interface {
	CurrencyName() string
	GetBalance(ctx context.Context, address string) models.Amount
	Send(ctx context.Context, to, amount string) (string, error)
	GetTransactionHistory(ctx context.Context, address string) []models.Transaction

	sealed()
}

// Initializer is implemented by backends that need remote data before they
// are fully usable.
type Initializer interface {
	Init(ctx context.Context) error
	Ready() bool
}

// NodeClient is the Ethereum JSON-RPC surface used by live backends.
// *ethclient.Client satisfies it.
type NodeClient interface {
	tx.Node
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Indexer lists historical transfers. *explorer.Client satisfies it.
type Indexer interface {
	Transfers(ctx context.Context, address string) ([]explorer.Transfer, error)
	TokenTransfers(ctx context.Context, contract, address string) ([]explorer.Transfer, error)
}

// Factory binds a backend to a wallet's kind, key and contract.
type Factory interface {
	Backend(kind models.ChainKind, key *wallet.PrivateKey, contract string) (Backend, error)
}

// Config carries the remote endpoints and limits live backends use.
type Config struct {
	RPCURL         string
	ExplorerURL    string
	ExplorerAPIKey string
	CallTimeout    time.Duration
	MinFee         *big.Int // wei; used when fee estimation fails
	Tx             tx.BuilderConfig
}

// Env owns the shared remote clients. A nil Node or Indexer means the
// corresponding setting was absent; live backends then refuse to bind.
type Env struct {
	Node        NodeClient
	Indexer     Indexer
	CallTimeout time.Duration
	MinFee      *big.Int

	builder *tx.Builder
	closeFn func()
}

// NewEnv prepares clients for cfg without contacting them.
func NewEnv(cfg Config) (*Env, error) {
	env := &Env{CallTimeout: cfg.CallTimeout, MinFee: cfg.MinFee}

	if cfg.RPCURL != "" {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, apperr.WrapWithCode(apperr.CodeConfiguration, "chain.NewEnv", err)
		}
		env.Node = client
		env.closeFn = client.Close
	}
	if cfg.ExplorerAPIKey != "" {
		env.Indexer = explorer.NewClient(cfg.ExplorerURL, cfg.ExplorerAPIKey)
	}
	env.init(cfg.Tx)
	return env, nil
}

// NewEnvWith builds an Env around existing clients.
func NewEnvWith(node NodeClient, indexer Indexer, cfg Config) *Env {
	env := &Env{Node: node, Indexer: indexer, CallTimeout: cfg.CallTimeout, MinFee: cfg.MinFee}
	env.init(cfg.Tx)
	return env
}

func (e *Env) init(txCfg tx.BuilderConfig) {
	if e.CallTimeout <= 0 {
		e.CallTimeout = defaultCallTimeout
	}
	if e.MinFee == nil {
		e.MinFee = new(big.Int)
	}
	if txCfg.CallTimeout <= 0 {
		txCfg.CallTimeout = e.CallTimeout
	}
	if e.Node != nil {
		e.builder = tx.NewBuilder(e.Node, txCfg)
	}
}

// Close releases the node connection.
func (e *Env) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// Backend returns the backend for kind. It performs no I/O.
func (e *Env) Backend(kind models.ChainKind, key *wallet.PrivateKey, contract string) (Backend, error) {
	const op = "chain.Env.Backend"

	switch kind {
	case models.ChainEthereum:
		if err := e.requireLive(op); err != nil {
			return nil, err
		}
		return NewNativeBackend(e, key), nil
	case models.ChainERC20:
		if err := e.requireLive(op); err != nil {
			return nil, err
		}
		if !wallet.IsAccountAddress(contract) {
			return nil, apperr.New(apperr.CodeInvalidAddress, op, "contract address %q is not 0x followed by 40 hex characters", contract)
		}
		return NewTokenBackend(e, key, contract), nil
	case models.ChainBitcoin:
		return NewPlaceholderBackend(models.ChainBitcoin, 8), nil
	}
	return nil, apperr.New(apperr.CodeInvalidWallet, op, "unknown chain kind %q", kind)
}

func (e *Env) requireLive(op string) error {
	switch {
	case e.Node == nil:
		return apperr.New(apperr.CodeConfiguration, op, "ethereum RPC URL is not configured")
	case e.Indexer == nil:
		return apperr.New(apperr.CodeConfiguration, op, "explorer API key is not configured")
	}
	return nil
}

// fallbackFee returns the configured minimum fee.
func (e *Env) fallbackFee() *big.Int {
	return new(big.Int).Set(e.MinFee)
}

func toTransactions(transfers []explorer.Transfer, decimals uint8) []models.Transaction {
	out := make([]models.Transaction, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, models.Transaction{
			Hash:  t.Hash,
			From:  t.From,
			To:    t.To,
			Value: models.NewAmount(t.Value, decimals),
		})
	}
	return out
}

package tx

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Node is the part of an Ethereum JSON-RPC client the builder needs.
// *ethclient.Client satisfies it.
type Node interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// ErrReverted is returned when a transaction is mined with a failed status.
var ErrReverted = errors.New("transaction reverted")

// BuilderConfig holds configurable parameters for the transaction builder.
type BuilderConfig struct {
	MaxRetries     int
	RetryBackoff   time.Duration // attempt n waits n*n*RetryBackoff
	CallTimeout    time.Duration // per RPC call
	ConfirmTimeout time.Duration // waiting for the receipt
}

// Builder signs, broadcasts and confirms legacy EIP-155 transactions.
type Builder struct {
	node   Node
	logger *logrus.Entry
	cfg    BuilderConfig
}

// NewBuilder creates a new transaction builder, filling zero config fields
// with defaults.
func NewBuilder(node Node, cfg BuilderConfig) *Builder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Minute
	}
	return &Builder{
		node:   node,
		logger: logrus.WithField("component", "tx_builder"),
		cfg:    cfg,
	}
}

// SendRequest represents a request to send a transaction.
type SendRequest struct {
	Key      *ecdsa.PrivateKey
	To       common.Address
	Value    *big.Int // wei; nil means zero
	Data     []byte   // contract call data
	GasLimit uint64   // zero means estimate
}

// Send builds, signs, broadcasts and waits for req to be mined. A receipt
// with a failed status is returned together with ErrReverted.
func (b *Builder) Send(ctx context.Context, req SendRequest) (*types.Receipt, error) {
	if req.Key == nil {
		return nil, errors.New("missing signing key")
	}
	from := crypto.PubkeyToAddress(req.Key.PublicKey)
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var nonce uint64
	if err := b.call(ctx, func(ctx context.Context) (err error) {
		nonce, err = b.node.PendingNonceAt(ctx, from)
		return err
	}); err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := b.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data}
		if gasLimit, err = b.estimateGas(ctx, msg); err != nil {
			return nil, err
		}
	}

	var chainID *big.Int
	if err := b.call(ctx, func(ctx context.Context) (err error) {
		chainID, err = b.node.ChainID(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	unsigned := types.NewTransaction(nonce, req.To, value, gasLimit, gasPrice, req.Data)
	signed, err := types.SignTx(unsigned, types.NewEIP155Signer(chainID), req.Key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"from":      from.Hex(),
		"to":        req.To.Hex(),
		"value":     value.String(),
		"nonce":     nonce,
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
		"tx_hash":   signed.Hash().Hex(),
	}).Info("built transaction")

	if err := b.broadcastWithRetry(ctx, signed, b.cfg.MaxRetries); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, b.node, signed)
	if err != nil {
		return nil, fmt.Errorf("wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, signed.Hash().Hex())
	}

	b.logger.WithFields(logrus.Fields{
		"tx_hash": signed.Hash().Hex(),
		"block":   receipt.BlockNumber,
	}).Info("transaction mined")
	return receipt, nil
}

// EstimateFee returns gas(msg) times the suggested gas price, in wei.
func (b *Builder) EstimateFee(ctx context.Context, msg ethereum.CallMsg) (*big.Int, error) {
	gas, err := b.estimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	price, err := b.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), price), nil
}

func (b *Builder) gasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	if err := b.call(ctx, func(ctx context.Context) (err error) {
		price, err = b.node.SuggestGasPrice(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return price, nil
}

func (b *Builder) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	if err := b.call(ctx, func(ctx context.Context) (err error) {
		gas, err = b.node.EstimateGas(ctx, msg)
		return err
	}); err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// call runs fn under the per-call timeout.
func (b *Builder) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (b *Builder) broadcastWithRetry(ctx context.Context, tx *types.Transaction, maxRetries int) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := b.call(ctx, func(ctx context.Context) error {
			return b.node.SendTransaction(ctx, tx)
		})
		// A previous attempt may have reached the pool before timing out.
		if err == nil || isAlreadyKnown(err) {
			b.logger.WithFields(logrus.Fields{
				"tx_hash": tx.Hash().Hex(),
				"attempt": attempt,
			}).Info("transaction broadcast successful")
			return nil
		}

		lastErr = err
		b.logger.WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": maxRetries,
		}).WithError(err).Warn("broadcast attempt failed")

		if attempt == maxRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * b.cfg.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("all %d broadcast attempts failed: %w", maxRetries, lastErr)
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/tx"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/sirupsen/logrus"
)

// TokenBackend moves an ERC-20 token. Construction does no I/O; the token's
// decimals and symbol are fetched by Init. Until Init succeeds the backend
// reports zero balance, empty history and refuses to send.
type TokenBackend struct {
	env      *Env
	key      *wallet.PrivateKey
	from     common.Address
	contract common.Address
	logger   *logrus.Entry

	mu       sync.RWMutex
	ready    bool
	decimals uint8
	symbol   string
}

// NewTokenBackend binds key to the token at contract. It performs no I/O;
// call Init before use.
func NewTokenBackend(env *Env, key *wallet.PrivateKey, contract string) *TokenBackend {
	from := common.Address{}
	if key != nil {
		from = crypto.PubkeyToAddress(key.ECDSA().PublicKey)
	}
	logger := logrus.WithFields(logrus.Fields{
		"component": "chain",
		"currency":  string(models.ChainERC20),
		"contract":  contract,
	})
	return &TokenBackend{
		env:      env,
		key:      key,
		from:     from,
		contract: common.HexToAddress(contract),
		logger:   logger,
	}
}

func (b *TokenBackend) sealed() {}

// Init checks that the contract has code and caches decimals and symbol.
// Calling it again after success is a no-op.
func (b *TokenBackend) Init(ctx context.Context) error {
	const op = "chain.TokenBackend.Init"
	if b.Ready() {
		return nil
	}

	code, err := b.codeAt(ctx)
	if err != nil {
		return apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	if len(code) == 0 {
		return apperr.New(apperr.CodeInvalidAddress, op, "no contract deployed at %s", b.contract.Hex())
	}

	out, err := b.call(ctx, "decimals")
	if err != nil {
		return apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	decimals, err := unpackUint8("decimals", out)
	if err != nil {
		return apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}

	symbol := string(models.ChainERC20)
	if out, err := b.call(ctx, "symbol"); err != nil {
		b.logger.WithError(err).Warn("symbol unavailable")
	} else if s, err := unpackString("symbol", out); err != nil {
		b.logger.WithError(err).Warn("symbol not decodable")
	} else if s != "" {
		symbol = s
	}

	b.mu.Lock()
	b.decimals, b.symbol, b.ready = decimals, symbol, true
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{"symbol": symbol, "decimals": decimals}).Info("token backend ready")
	return nil
}

// Ready reports whether Init has fetched the token metadata.
func (b *TokenBackend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Decimals returns the token exponent, or zero before Init.
func (b *TokenBackend) Decimals() uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.decimals
}

// CurrencyName returns the token symbol once known.
func (b *TokenBackend) CurrencyName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.symbol == "" {
		return string(models.ChainERC20)
	}
	return b.symbol
}

// Contract returns the token contract address in lowercase hex.
func (b *TokenBackend) Contract() string {
	return lowerHexAddress(b.contract)
}

// GetBalance returns the token balance of address, or zero on any failure.
func (b *TokenBackend) GetBalance(ctx context.Context, address string) models.Amount {
	if !b.Ready() {
		return models.Zero(0)
	}
	decimals := b.Decimals()
	if !wallet.IsAccountAddress(address) {
		b.logger.WithField("address", address).Warn("balance requested for malformed address")
		return models.Zero(decimals)
	}
	bal, err := b.tokenBalance(ctx, common.HexToAddress(address))
	if err != nil {
		b.logger.WithField("address", address).WithError(err).Warn("balance unavailable")
		return models.Zero(decimals)
	}
	return models.NewAmount(bal, decimals)
}

// Send transfers amount tokens to the given address after checking the token
// balance and the Ether left for the fee.
func (b *TokenBackend) Send(ctx context.Context, to, amount string) (string, error) {
	const op = "chain.TokenBackend.Send"

	if !wallet.IsAccountAddress(to) {
		return "", apperr.New(apperr.CodeInvalidAddress, op, "recipient %q is not 0x followed by 40 hex characters", to)
	}
	if !b.Ready() {
		return "", apperr.New(apperr.CodeBackendNotReady, op, "token metadata not loaded")
	}
	decimals := b.Decimals()
	value, err := parsePositive(amount, decimals, op)
	if err != nil {
		return "", err
	}
	if b.key == nil {
		return "", apperr.New(apperr.CodeInvalidWallet, op, "backend has no key")
	}

	tokenBal, err := b.tokenBalance(ctx, b.from)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	if tokenBal.Cmp(value) < 0 {
		return "", apperr.New(apperr.CodeInsufficientFunds, op, "token balance %s is below %s",
			models.FormatUnits(tokenBal, decimals), amount)
	}

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, fmt.Errorf("pack transfer: %w", err))
	}

	nativeBal, err := b.nativeBalance(ctx)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	fee := b.estimateFee(ctx, ethereum.CallMsg{From: b.from, To: &b.contract, Data: data})
	if nativeBal.Cmp(fee) < 0 {
		return "", apperr.New(apperr.CodeInsufficientFunds, op, "ETH balance %s is below the estimated fee %s",
			models.FormatUnits(nativeBal, NativeDecimals), models.FormatUnits(fee, NativeDecimals))
	}

	receipt, err := b.env.builder.Send(ctx, tx.SendRequest{Key: b.key.ECDSA(), To: b.contract, Data: data})
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	hash := receipt.TxHash.Hex()
	b.logger.WithFields(logrus.Fields{"tx_hash": hash, "to": to}).Info("sent")
	return hash, nil
}

// GetTransactionHistory returns token transfers of address, newest first.
func (b *TokenBackend) GetTransactionHistory(ctx context.Context, address string) []models.Transaction {
	if !b.Ready() || !wallet.IsAccountAddress(address) {
		return []models.Transaction{}
	}
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()

	transfers, err := b.env.Indexer.TokenTransfers(ctx, b.Contract(), address)
	if err != nil {
		b.logger.WithField("address", address).WithError(err).Warn("history unavailable")
		return []models.Transaction{}
	}
	return toTransactions(transfers, b.Decimals())
}

func (b *TokenBackend) tokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := b.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return unpackBigInt("balanceOf", out)
}

func (b *TokenBackend) nativeBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()
	return b.env.Node.BalanceAt(ctx, b.from, nil)
}

func (b *TokenBackend) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()

	out, err := b.env.Node.CallContract(ctx, ethereum.CallMsg{To: &b.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (b *TokenBackend) codeAt(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()
	return b.env.Node.CodeAt(ctx, b.contract, nil)
}

func (b *TokenBackend) estimateFee(ctx context.Context, msg ethereum.CallMsg) *big.Int {
	fee, err := b.env.builder.EstimateFee(ctx, msg)
	if err != nil {
		b.logger.WithError(err).Warn("fee estimate failed, using configured minimum")
		return b.env.fallbackFee()
	}
	return fee
}

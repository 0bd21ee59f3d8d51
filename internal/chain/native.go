package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"github.com/olehkaliuzhnyi/coinvault/internal/tx"
	"github.com/olehkaliuzhnyi/coinvault/internal/wallet"
	"github.com/olehkaliuzhnyi/coinvault/pkg/models"
	"github.com/sirupsen/logrus"
)

// NativeDecimals is the exponent between wei and ether.
const NativeDecimals = 18

// NativeBackend moves ether.
type NativeBackend struct {
	env    *Env
	key    *wallet.PrivateKey
	from   common.Address
	logger *logrus.Entry
}

// NewNativeBackend binds key to Ether on env's node.
func NewNativeBackend(env *Env, key *wallet.PrivateKey) *NativeBackend {
	from := common.Address{}
	if key != nil {
		from = crypto.PubkeyToAddress(key.ECDSA().PublicKey)
	}
	logger := logrus.WithFields(logrus.Fields{
		"component": "chain",
		"currency":  string(models.ChainEthereum),
	})
	return &NativeBackend{env: env, key: key, from: from, logger: logger}
}

func (b *NativeBackend) sealed() {}

// CurrencyName returns "Ethereum".
func (b *NativeBackend) CurrencyName() string { return string(models.ChainEthereum) }

// GetBalance returns the Ether balance of address, or zero on any failure.
func (b *NativeBackend) GetBalance(ctx context.Context, address string) models.Amount {
	if !wallet.IsAccountAddress(address) {
		b.logger.WithField("address", address).Warn("balance requested for malformed address")
		return models.Zero(NativeDecimals)
	}
	bal, err := b.balanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		b.logger.WithField("address", address).WithError(err).Warn("balance unavailable")
		return models.Zero(NativeDecimals)
	}
	return models.NewAmount(bal, NativeDecimals)
}

// Send transfers amount Ether to the given address and waits for the receipt.
func (b *NativeBackend) Send(ctx context.Context, to, amount string) (string, error) {
	const op = "chain.NativeBackend.Send"

	if !wallet.IsAccountAddress(to) {
		return "", apperr.New(apperr.CodeInvalidAddress, op, "recipient %q is not 0x followed by 40 hex characters", to)
	}
	value, err := parsePositive(amount, NativeDecimals, op)
	if err != nil {
		return "", err
	}
	if b.key == nil {
		return "", apperr.New(apperr.CodeInvalidWallet, op, "backend has no key")
	}
	recipient := common.HexToAddress(to)

	balance, err := b.balanceAt(ctx, b.from)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	fee := b.estimateFee(ctx, ethereum.CallMsg{From: b.from, To: &recipient, Value: value})
	need := new(big.Int).Add(value, fee)
	if balance.Cmp(need) < 0 {
		return "", apperr.New(apperr.CodeInsufficientFunds, op, "balance %s ETH is below amount plus fee %s ETH",
			models.FormatUnits(balance, NativeDecimals), models.FormatUnits(need, NativeDecimals))
	}

	receipt, err := b.env.builder.Send(ctx, tx.SendRequest{Key: b.key.ECDSA(), To: recipient, Value: value})
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeRemoteUnavailable, op, err)
	}
	hash := receipt.TxHash.Hex()
	b.logger.WithFields(logrus.Fields{"tx_hash": hash, "to": to}).Info("sent")
	return hash, nil
}

// GetTransactionHistory returns normal transactions of address, newest first.
func (b *NativeBackend) GetTransactionHistory(ctx context.Context, address string) []models.Transaction {
	if !wallet.IsAccountAddress(address) {
		return []models.Transaction{}
	}
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()

	transfers, err := b.env.Indexer.Transfers(ctx, address)
	if err != nil {
		b.logger.WithField("address", address).WithError(err).Warn("history unavailable")
		return []models.Transaction{}
	}
	return toTransactions(transfers, NativeDecimals)
}

func (b *NativeBackend) balanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.env.CallTimeout)
	defer cancel()
	return b.env.Node.BalanceAt(ctx, account, nil)
}

func (b *NativeBackend) estimateFee(ctx context.Context, msg ethereum.CallMsg) *big.Int {
	fee, err := b.env.builder.EstimateFee(ctx, msg)
	if err != nil {
		b.logger.WithError(err).Warn("fee estimate failed, using configured minimum")
		return b.env.fallbackFee()
	}
	return fee
}

// parsePositive parses a human amount into smallest units and rejects zero.
func parsePositive(amount string, decimals uint8, op string) (*big.Int, error) {
	v, err := models.ParseAmount(amount, decimals)
	if err != nil {
		return nil, apperr.WrapWithCode(apperr.CodeInvalidAmount, op, err)
	}
	if v.Sign() <= 0 {
		return nil, apperr.New(apperr.CodeInvalidAmount, op, "amount must be positive")
	}
	return v, nil
}

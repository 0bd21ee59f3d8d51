package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/olehkaliuzhnyi/coinvault/internal/explorer"
)

// mockNode implements NodeClient for testing.
type mockNode struct {
	mu sync.Mutex

	balances      map[common.Address]*big.Int // ether
	tokenBalances map[common.Address]*big.Int
	decimals      uint8
	symbol        string
	code          []byte
	gasPrice      *big.Int
	gas           uint64
	estimateErr   error
	sendErr       error
	hang          bool // block every call until ctx is done

	calls int
	sent  []*types.Transaction
}

func newMockNode() *mockNode {
	return &mockNode{
		balances:      map[common.Address]*big.Int{},
		tokenBalances: map[common.Address]*big.Int{},
		decimals:      6,
		symbol:        "USDC",
		code:          []byte{0x60, 0x80},
		gasPrice:      big.NewInt(1_000_000_000),
		gas:           21_000,
	}
}

func (m *mockNode) enter(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mockNode) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockNode) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *mockNode) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}
	selector, args := msg.Data[:4], msg.Data[4:]
	for name, method := range erc20ABI.Methods {
		if !bytes.Equal(method.ID, selector) {
			continue
		}
		switch name {
		case "decimals":
			return method.Outputs.Pack(m.decimals)
		case "symbol":
			return method.Outputs.Pack(m.symbol)
		case "balanceOf":
			vals, err := method.Inputs.Unpack(args)
			if err != nil {
				return nil, err
			}
			bal := m.tokenBalances[vals[0].(common.Address)]
			if bal == nil {
				bal = new(big.Int)
			}
			return method.Outputs.Pack(bal)
		}
	}
	return nil, errors.New("execution reverted")
}

func (m *mockNode) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	return m.code, nil
}

func (m *mockNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := m.enter(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

func (m *mockNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.gasPrice), nil
}

func (m *mockNode) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := m.enter(ctx); err != nil {
		return 0, err
	}
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return m.gas, nil
}

func (m *mockNode) ChainID(ctx context.Context) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	return big.NewInt(11155111), nil
}

func (m *mockNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	return nil
}

func (m *mockNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

// mockIndexer implements Indexer for testing.
type mockIndexer struct {
	transfers []explorer.Transfer
	err       error

	lastContract string
	calls        int
}

func (m *mockIndexer) Transfers(ctx context.Context, address string) ([]explorer.Transfer, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.transfers, nil
}

func (m *mockIndexer) TokenTransfers(ctx context.Context, contract, address string) ([]explorer.Transfer, error) {
	m.calls++
	m.lastContract = strings.ToLower(contract)
	if m.err != nil {
		return nil, m.err
	}
	return m.transfers, nil
}

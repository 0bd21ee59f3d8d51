package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

func lowerHexAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func unpackBigInt(method string, out []byte) (*big.Int, error) {
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: %d values", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func unpackUint8(method string, out []byte) (uint8, error) {
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("unpack %s: %d values", method, len(vals))
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func unpackString(method string, out []byte) (string, error) {
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("unpack %s: %d values", method, len(vals))
	}
	v, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

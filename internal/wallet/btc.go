package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// p2pkhAddress computes a legacy pay-to-pubkey-hash address:
// Base58Check(version + Hash160(compressed pubkey)).
func p2pkhAddress(pub *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return "", fmt.Errorf("p2pkh: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// validateP2PKH accepts only legacy addresses for the given network.
func validateP2PKH(s string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return err
	}
	if _, ok := addr.(*btcutil.AddressPubKeyHash); !ok {
		return fmt.Errorf("%s is not a P2PKH address", s)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("%s belongs to another network", s)
	}
	return nil
}

package wallet

import (
	"encoding/hex"
	"regexp"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/sha3"
)

var accountAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// accountAddress computes an account-model address:
// last 20 bytes of Keccak256(uncompressed pubkey without the 0x04 prefix).
func accountAddress(pub *btcec.PublicKey) string {
	pubBytes := pub.SerializeUncompressed()
	hash := keccak256(pubBytes[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

// IsAccountAddress reports whether s is 0x followed by 40 hex characters.
// Mixed-case (checksummed) input is accepted.
func IsAccountAddress(s string) bool {
	return accountAddressRe.MatchString(s)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

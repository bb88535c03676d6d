package execution

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// loadWallet parses a hex-encoded private key (with or without the "0x"
// prefix) the way Hyperliquid/Lighter's on-chain-signed order flow needs,
// and derives the public address for balance/position queries.
func loadWallet(hexKey string) (*ecdsa.PrivateKey, string, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, "", fmt.Errorf("parse wallet private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return key, address, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

package execution

import (
	"fmt"

	"tradeengine/models"
)

// Credentials holds the venue-specific secrets a strategy's execution
// gateway needs. Only the fields relevant to the selected exchange are
// populated; the rest stay zero. Stored encrypted at rest by the store
// package and decrypted just before a gateway is constructed.
type Credentials struct {
	APIKey    string
	APISecret string
	// Passphrase is used by venues that require a third credential
	// alongside key/secret (unused by the venues currently wired).
	Passphrase string

	WalletPrivateKey string
	WalletAddress    string
	Testnet          bool

	// LighterAPIKeyIndex selects among a Lighter account's registered
	// API keys; most single-key setups use 0.
	LighterAPIKeyIndex int
}

// NewGateway dispatches to the Gateway implementation for exchangeID,
// mirroring the trader-selection switch a multi-venue engine needs: each
// venue is wired independently and PAPER never touches network creds.
func NewGateway(exchangeID string, creds Credentials, constraints models.Constraints) (Gateway, error) {
	switch exchangeID {
	case "", "paper":
		return NewPaperGateway(), nil

	case "binance":
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("binance requires api key and secret")
		}
		return NewBinanceGateway(creds.APIKey, creds.APISecret, constraints), nil

	case "bybit":
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("bybit requires api key and secret")
		}
		return NewBybitGateway(creds.APIKey, creds.APISecret, constraints), nil

	case "hyperliquid":
		if creds.WalletPrivateKey == "" {
			return nil, fmt.Errorf("hyperliquid requires a wallet private key")
		}
		return NewHyperliquidGateway(creds.WalletPrivateKey, creds.WalletAddress, creds.Testnet, constraints)

	case "lighter":
		if creds.WalletAddress == "" || creds.WalletPrivateKey == "" {
			return nil, fmt.Errorf("lighter requires wallet address and api key private key")
		}
		// Lighter only supports mainnet.
		return NewLighterGateway(creds.WalletAddress, creds.WalletPrivateKey, creds.LighterAPIKeyIndex, constraints)

	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeID)
	}
}

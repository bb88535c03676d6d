package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"tradeengine/execution"
)

const nonceSize = 24

// secretBox seals/opens execution.Credentials blobs with NaCl secretbox
// before they reach the strategies.credentials_sealed column. A zero key
// (store opened without an encryption key configured) runs in plaintext
// mode — acceptable for local/paper development, never for a deployment
// holding real venue credentials.
type secretBox struct {
	key     [32]byte
	enabled bool
}

func newSecretBox(keyHex string) (*secretBox, error) {
	if keyHex == "" {
		return &secretBox{}, nil
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex chars), got %d bytes", len(raw))
	}
	b := &secretBox{enabled: true}
	copy(b.key[:], raw)
	return b, nil
}

// seal encrypts creds into a self-contained blob (nonce prefix + sealed
// box). When the box has no key configured, seal stores the JSON plain so
// local/paper strategies (which carry empty Credentials anyway) still
// round-trip correctly.
func (b *secretBox) seal(creds execution.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	if !b.enabled {
		return plain, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &b.key)
	return sealed, nil
}

// open reverses seal. Without a key configured it decodes the blob as
// plain JSON. With a key configured, a plain-JSON blob written while the
// box was disabled fails authentication and open returns an error.
func (b *secretBox) open(blob []byte) (execution.Credentials, error) {
	var creds execution.Credentials
	if len(blob) == 0 {
		return creds, nil
	}
	if !b.enabled {
		if err := json.Unmarshal(blob, &creds); err != nil {
			return creds, fmt.Errorf("unmarshal plaintext credentials: %w", err)
		}
		return creds, nil
	}

	if len(blob) < nonceSize {
		return creds, fmt.Errorf("sealed credentials blob too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])

	plain, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &b.key)
	if !ok {
		return creds, fmt.Errorf("decrypt credentials: authentication failed")
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}

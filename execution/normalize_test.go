package execution

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeClientOrderID_ShortIDPassesThroughFiltered(t *testing.T) {
	id := sanitizeClientOrderID("compose_abc:BTC-USDT:0", 36)
	require.Equal(t, "compose_abc-BTC-USDT-0", id)
	require.LessOrEqual(t, len(id), 36)
}

func TestSanitizeClientOrderID_LongIDFallsBackToDeterministicHash(t *testing.T) {
	raw := "compose_7f3e9c1a-4b2d-4e6a-9f0a-1234567890ab:BTC-USDT:12"
	maxLen := 36

	id := sanitizeClientOrderID(raw, maxLen)
	// An MD5 hex digest is 32 chars, which already fits within maxLen.
	require.Len(t, id, 32)

	sum := md5.Sum([]byte(raw))
	want := hex.EncodeToString(sum[:])
	require.Equal(t, want, id)

	// Deterministic: same input always hashes to the same id.
	require.Equal(t, id, sanitizeClientOrderID(raw, maxLen))
}

func TestSanitizeClientOrderID_LongIDHashDiffersByInput(t *testing.T) {
	a := sanitizeClientOrderID("compose_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa:BTC-USDT:0", 36)
	b := sanitizeClientOrderID("compose_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb:BTC-USDT:0", 36)
	require.NotEqual(t, a, b)
}

package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashKnownVector(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		ContentHash(nil))
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		ContentHash([]byte("hello")))
}

func TestHashWithDomainSeparates(t *testing.T) {
	data := []byte(`{"a":1}`)
	a := HashWithDomain(DomainIntent, data)
	b := HashWithDomain(DomainTxDigest, data)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashWithDomain(DomainIntent, data))
	assert.NotEqual(t, ContentHash(data), a)
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a, err := Fingerprint(DomainIntent, map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := Fingerprint(DomainIntent, map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = Fingerprint(DomainIntent, map[string]any{"f": 0.5})
	require.Error(t, err)
}

package mongocrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongocrypt-go/core/internal/blob"
)

func TestAEADCryptoRoundTrip(t *testing.T) {
	c := NewAEADCrypto()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	ciphertext, st := c.Encrypt(key, []byte("hello world"), []byte("0123456789012345"), blob.AlgorithmRandom)
	require.Nil(t, st)

	plaintext, st := c.Decrypt(key, ciphertext)
	require.Nil(t, st)
	assert.Equal(t, []byte("hello world"), plaintext)
}

func TestAEADCryptoDeterministicIsStable(t *testing.T) {
	c := NewAEADCrypto()
	key := []byte("arbitrary-length-key-material-ok")
	iv := []byte("0123456789012345")

	a, st := c.Encrypt(key, []byte("same plaintext"), iv, blob.AlgorithmDeterministic)
	require.Nil(t, st)
	b, st := c.Encrypt(key, []byte("same plaintext"), iv, blob.AlgorithmDeterministic)
	require.Nil(t, st)
	assert.Equal(t, a, b, "deterministic algorithm must produce identical ciphertext for identical plaintext")
}

func TestAEADCryptoRandomIsFresh(t *testing.T) {
	c := NewAEADCrypto()
	key := []byte("another-arbitrary-key-material")

	a, st := c.Encrypt(key, []byte("same plaintext"), nil, blob.AlgorithmRandom)
	require.Nil(t, st)
	b, st := c.Encrypt(key, []byte("same plaintext"), nil, blob.AlgorithmRandom)
	require.Nil(t, st)
	assert.NotEqual(t, a, b, "random algorithm must not reuse a nonce across calls")
}

func TestAEADCryptoDecryptRejectsShortCiphertext(t *testing.T) {
	c := NewAEADCrypto()
	_, st := c.Decrypt([]byte("key-material"), []byte{0x01, 0x02})
	require.NotNil(t, st)
	assert.Equal(t, "malformed-input", st.Category.String())
}

func TestAEADCryptoRejectsEmptyKeyMaterial(t *testing.T) {
	c := NewAEADCrypto()
	_, st := c.Encrypt(nil, []byte("x"), nil, blob.AlgorithmRandom)
	require.NotNil(t, st)
	assert.Equal(t, "client-misuse", st.Category.String())
}

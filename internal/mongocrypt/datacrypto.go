package mongocrypt

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/status"
)

// aeadCrypto is the single Crypto collaborator (spec §6) every Context the
// Engine mints shares, regardless of which KMSProvider unwrapped the DEK
// that key_material came from. key_material is treated as high-entropy
// opaque key bytes of provider-defined length (spec's real mongocrypt uses
// a 96-byte AES-256-CBC+HMAC key; this stand-in instead HKDF-derives a
// chacha20poly1305 key from whatever length the broker handed back, the
// same "don't assume a wire shape, derive what you need" approach the
// teacher's internal/crypto/keymanager.go envelope took with KeyEnvelope
// ciphertext blobs of varying provider shape).
type aeadCrypto struct{}

// NewAEADCrypto constructs the engine-wide Crypto collaborator.
func NewAEADCrypto() *aeadCrypto {
	return &aeadCrypto{}
}

var hkdfInfo = []byte("mongocrypt-go/core data key")

func (a *aeadCrypto) deriveAEAD(keyMaterial []byte) (*aeadCipher, *status.Status) {
	if len(keyMaterial) == 0 {
		return nil, status.New(status.ClientMisuse, "empty key material")
	}
	kdf := hkdf.New(sha256.New, keyMaterial, nil, hkdfInfo)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, status.Wrap(status.ClientMisuse, err, "derive data key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, status.Wrap(status.ClientMisuse, err, "construct AEAD")
	}
	return &aeadCipher{aead: aead, key: key}, nil
}

type aeadCipher struct {
	aead interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		NonceSize() int
	}
	key []byte
}

// Encrypt implements cryptctx.Crypto. For AlgorithmDeterministic, iv (which
// the marking or explicit-encrypt call supplied) derives the nonce via
// HMAC-SHA256 over the plaintext so equal plaintexts under the same key
// produce equal ciphertexts (spec §4.1's deterministic-algorithm
// invariant); for AlgorithmRandom a fresh nonce is drawn from crypto/rand.
// The nonce is prefixed to the returned ciphertext so Decrypt is
// self-contained.
func (a *aeadCrypto) Encrypt(keyMaterial, plaintext, iv []byte, alg blob.Algorithm) ([]byte, *status.Status) {
	c, st := a.deriveAEAD(keyMaterial)
	if st != nil {
		return nil, st
	}

	nonce := make([]byte, c.aead.NonceSize())
	switch alg {
	case blob.AlgorithmDeterministic:
		mac := hmac.New(sha256.New, c.key)
		mac.Write(iv)
		mac.Write(plaintext)
		copy(nonce, mac.Sum(nil))
	case blob.AlgorithmRandom:
		if _, err := rand.Read(nonce); err != nil {
			return nil, status.Wrap(status.ClientMisuse, err, "generate nonce")
		}
	default:
		return nil, status.Errorf("unsupported algorithm %d", alg)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt implements cryptctx.Crypto, reversing Encrypt's nonce-prefixed
// layout. The algorithm isn't carried on the wire separately (spec's
// ciphertext blob only distinguishes subtype for routing, §3); AEAD
// decryption needs only the nonce and key, not which path produced it.
func (a *aeadCrypto) Decrypt(keyMaterial, ciphertext []byte) ([]byte, *status.Status) {
	c, st := a.deriveAEAD(keyMaterial)
	if st != nil {
		return nil, st
	}
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, status.New(status.MalformedInput, "ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "decrypt ciphertext")
	}
	return plaintext, nil
}

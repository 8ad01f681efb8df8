package mongocrypt

import (
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/status"
)

// localKMSProvider is a KMSProvider stand-in wrapping DEKs under a single
// static master key, the same role the teacher's "local" provider profile
// played in internal/s3/providers.go for development without a real KMS.
// It must never be selected in a production configuration (spec §3 treats
// the KMS round trip as entirely out of core scope, so nothing here
// enforces that; it is the caller's decision).
type localKMSProvider struct {
	aead interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		NonceSize() int
	}
}

// NewLocalKMSProvider constructs a localKMSProvider from cfg.MasterKey,
// generating an ephemeral one if none was configured (suitable only for
// examples and tests, never for a real deployment).
func NewLocalKMSProvider(cfg config.LocalConfig) (*localKMSProvider, *status.Status) {
	key := cfg.MasterKey
	if len(key) == 0 {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, status.Wrap(status.ClientMisuse, err, "generate ephemeral local master key")
		}
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, status.Errorf("local master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, status.Wrap(status.ClientMisuse, err, "construct local master AEAD")
	}
	return &localKMSProvider{aead: aead}, nil
}

func (p *localKMSProvider) Provider() string { return "local" }

func (p *localKMSProvider) WrapKey(ctx context.Context, plaintext []byte) (*KeyEnvelope, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("local KMS: generate nonce: %w", err)
	}
	sealed := p.aead.Seal(nil, nonce, plaintext, nil)
	out := append(nonce, sealed...)
	return &KeyEnvelope{Provider: "local", Ciphertext: out}, nil
}

func (p *localKMSProvider) UnwrapKey(ctx context.Context, envelope *KeyEnvelope) ([]byte, error) {
	if len(envelope.Ciphertext) < p.aead.NonceSize() {
		return nil, fmt.Errorf("local KMS: envelope shorter than nonce")
	}
	nonce, sealed := envelope.Ciphertext[:p.aead.NonceSize()], envelope.Ciphertext[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("local KMS: unwrap: %w", err)
	}
	return plaintext, nil
}

func (p *localKMSProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *localKMSProvider) Close(ctx context.Context) error { return nil }

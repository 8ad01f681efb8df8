package mongocrypt

import (
	"context"

	"github.com/mongocrypt-go/core/internal/status"
)

// KMSProvider wraps and unwraps data encryption keys against an external
// key management system, the caller-side half of spec §4.3's NEED_KMS
// state: the core only ever hands a context's caller a kms_message to send
// and waits for kms bytes back, never touching a KMS itself. KMSProvider is
// the concrete interface grounded on the teacher's deleted
// internal/crypto/keymanager.go KeyManager — renamed because this domain's
// DEKs are never streamed, only wrapped/unwrapped whole.
type KMSProvider interface {
	// Provider returns a short identifier ("kmip", "aws", "local") used for
	// diagnostics and audit metadata.
	Provider() string

	// WrapKey encrypts a freshly generated plaintext DEK under the KMS's
	// master key and returns the envelope to persist on the key document.
	WrapKey(ctx context.Context, plaintext []byte) (*KeyEnvelope, error)

	// UnwrapKey decrypts envelope.Ciphertext back to the plaintext DEK,
	// the operation a caller performs once NEED_KMS's kms_message has been
	// answered, to obtain the key_material a Context.Feed expects.
	UnwrapKey(ctx context.Context, envelope *KeyEnvelope) ([]byte, error)

	// HealthCheck verifies the KMS is reachable without performing a real
	// wrap/unwrap.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying connection.
	Close(ctx context.Context) error
}

// KeyEnvelope captures what a key document's masterkey/keyMaterial fields
// carry on disk (spec's key document shape, §4.3).
type KeyEnvelope struct {
	Provider   string
	KeyID      string
	Ciphertext []byte
}

func kmsErrStatus(provider string, err error) *status.Status {
	if err == nil {
		return nil
	}
	return status.Wrap(status.KeyUnavailable, err, provider+": KMS operation failed")
}

package mongocrypt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/ovh/kmip-go/kmipclient"

	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/status"
)

// kmipProvider wraps/unwraps DEKs against a KMIP 1.4 server, adapted from
// the teacher's KeyManager doc comment ("Cosmian KMIP: fully implemented
// and tested") which named ovh/kmip-go as the client library, though the
// teacher never actually wired it into Go code — only the interface it
// would satisfy survived into internal/crypto/keymanager.go.
type kmipProvider struct {
	client *kmipclient.Client
}

// NewKMIPProvider dials cfg.Endpoint over mutual TLS, the same
// CA/client-cert/client-key trio the teacher's provider profiles carried
// for S3-compatible endpoints, here pointed at a KMIP server instead.
func NewKMIPProvider(cfg config.KMIPConfig) (*kmipProvider, *status.Status) {
	if cfg.Endpoint == "" {
		return nil, status.Errorf("kmip provider requires an endpoint")
	}

	tlsCfg := &tls.Config{}
	if cfg.CACert != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, status.Wrap(status.KeyUnavailable, err, "read kmip ca cert")
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, status.Errorf("kmip ca cert %s contains no usable certificates", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, status.Wrap(status.KeyUnavailable, err, "load kmip client certificate")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	client, err := kmipclient.Dial(cfg.Endpoint, kmipclient.WithTlsConfig(tlsCfg))
	if err != nil {
		return nil, status.Wrap(status.KeyUnavailable, err, "dial kmip endpoint %s", cfg.Endpoint)
	}
	return &kmipProvider{client: client}, nil
}

func (p *kmipProvider) Provider() string { return "kmip" }

// WrapKey registers plaintext as a new symmetric KMIP object and activates
// it, then immediately encrypts it with itself wrapped under the server's
// own key-encryption key via the KMIP Encrypt operation, returning the
// unique identifier alongside the wrapped bytes so UnwrapKey can reference
// both.
func (p *kmipProvider) WrapKey(ctx context.Context, plaintext []byte) (*KeyEnvelope, error) {
	created, err := p.client.Create(kmipclient.SecretDataTypeSeed).
		WithBytes(plaintext).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("kmip: create: %w", err)
	}
	if err := p.client.Activate(created.UniqueIdentifier).ExecContext(ctx); err != nil {
		return nil, fmt.Errorf("kmip: activate %s: %w", created.UniqueIdentifier, err)
	}

	encrypted, err := p.client.Encrypt(created.UniqueIdentifier).
		WithData(plaintext).
		ExecContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("kmip: encrypt under %s: %w", created.UniqueIdentifier, err)
	}

	return &KeyEnvelope{Provider: "kmip", KeyID: created.UniqueIdentifier, Ciphertext: encrypted.Data}, nil
}

func (p *kmipProvider) UnwrapKey(ctx context.Context, envelope *KeyEnvelope) ([]byte, error) {
	decrypted, err := p.client.Decrypt(envelope.KeyID).
		WithData(envelope.Ciphertext).
		ExecContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("kmip: decrypt under %s: %w", envelope.KeyID, err)
	}
	return decrypted.Data, nil
}

func (p *kmipProvider) HealthCheck(ctx context.Context) error {
	if err := p.client.DiscoverVersions().ExecContext(ctx); err != nil {
		return fmt.Errorf("kmip: discover versions: %w", err)
	}
	return nil
}

func (p *kmipProvider) Close(ctx context.Context) error {
	return p.client.Close()
}

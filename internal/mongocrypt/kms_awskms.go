package mongocrypt

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/status"
)

// awsKMSProvider wraps/unwraps DEKs with AWS KMS's GenerateDataKey/Decrypt
// API, adapted from the teacher's internal/s3/providers.go AWS client
// construction (aws-sdk-go-v2, region-scoped config, one client per
// provider profile).
type awsKMSProvider struct {
	client *kms.Client
	cmk    string
}

// NewAWSKMSProvider constructs an awsKMSProvider against cfg.CMK in
// cfg.Region, using the default credential chain (profile, env, instance
// role) the way aws-sdk-go-v2 resolves it for any CLI tool.
func NewAWSKMSProvider(cfg config.AWSConfig) (*awsKMSProvider, *status.Status) {
	if cfg.CMK == "" {
		return nil, status.Errorf("aws kms provider requires a cmk")
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		optFns = append(optFns, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, status.Wrap(status.KeyUnavailable, err, "load aws config")
	}

	return &awsKMSProvider{client: kms.NewFromConfig(awsCfg), cmk: cfg.CMK}, nil
}

func (p *awsKMSProvider) Provider() string { return "aws" }

// WrapKey asks KMS to encrypt plaintext directly under the CMK, rather than
// calling GenerateDataKey, since the plaintext DEK already originates from
// the core's own random generation (spec §4.3's key document creation path
// owns that, not the KMS collaborator).
func (p *awsKMSProvider) WrapKey(ctx context.Context, plaintext []byte) (*KeyEnvelope, error) {
	out, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:               &p.cmk,
		Plaintext:           plaintext,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms: encrypt: %w", classifyAWSError(err))
	}
	return &KeyEnvelope{Provider: "aws", KeyID: p.cmk, Ciphertext: out.CiphertextBlob}, nil
}

func (p *awsKMSProvider) UnwrapKey(ctx context.Context, envelope *KeyEnvelope) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:               &p.cmk,
		CiphertextBlob:      envelope.Ciphertext,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms: decrypt: %w", classifyAWSError(err))
	}
	return out.Plaintext, nil
}

// classifyAWSError unwraps a smithy API error (the shape every aws-sdk-go-v2
// service client returns on a non-transport failure) to tag the message with
// the service-reported error code, so a caller inspecting the wrapped status
// message can distinguish e.g. NotFoundException from AccessDeniedException
// without depending on kms-specific types.
func classifyAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err
}

func (p *awsKMSProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: &p.cmk})
	if err != nil {
		return fmt.Errorf("aws kms: health check: %w", err)
	}
	return nil
}

func (p *awsKMSProvider) Close(ctx context.Context) error { return nil }

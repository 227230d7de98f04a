package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

// AWSSecretsManagerConfig configures the AWS Secrets Manager backend
type AWSSecretsManagerConfig struct {
	Region string

	// Profile selects a shared config profile for local development
	Profile string

	// Endpoint overrides the service endpoint (LocalStack)
	Endpoint string

	CacheTTL    time.Duration
	EnableCache bool
}

// DefaultAWSSecretsManagerConfig returns defaults for region
func DefaultAWSSecretsManagerConfig(region string) *AWSSecretsManagerConfig {
	return &AWSSecretsManagerConfig{
		Region:      region,
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// secretsAPI is the part of *secretsmanager.Client the backend uses
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	TagResource(ctx context.Context, in *secretsmanager.TagResourceInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error)
}

// AWSSecretsManager reads the requisite decryption key from AWS Secrets
// Manager. Reads are cached for CacheTTL.
type AWSSecretsManager struct {
	client secretsAPI
	logger *zap.Logger
	cache  *secretCache
}

var _ ports.SecretManager = (*AWSSecretsManager)(nil)

// NewAWSSecretsManagerAdapter loads the default AWS credential chain and
// creates the backend
func NewAWSSecretsManagerAdapter(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (*AWSSecretsManager, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsConfig, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("AWS Secrets Manager backend initialized",
		zap.String("region", cfg.Region),
		zap.Bool("cache_enabled", cfg.EnableCache),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	return newAWSSecretsManager(client, newSecretCache(cfg.EnableCache, cfg.CacheTTL), logger), nil
}

func newAWSSecretsManager(client secretsAPI, cache *secretCache, logger *zap.Logger) *AWSSecretsManager {
	return &AWSSecretsManager{client: client, cache: cache, logger: logger}
}

// GetSecret returns the current version of the secret named path. Binary
// secrets are returned as their raw bytes.
func (a *AWSSecretsManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := a.cache.get(path); cached != nil {
		return cached, nil
	}

	start := time.Now()
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	var notFound *smtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	value := aws.ToString(out.SecretString)
	if out.SecretString == nil {
		value = string(out.SecretBinary)
	}
	secret := &ports.Secret{
		Value:    value,
		Version:  aws.ToString(out.VersionId),
		Metadata: map[string]string{},
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = out.CreatedDate.UTC().Format(time.RFC3339)
	}
	if out.ARN != nil {
		secret.Metadata["arn"] = *out.ARN
	}

	a.logger.Debug("Secret read from AWS Secrets Manager",
		zap.String("path", path),
		zap.String("version", secret.Version),
		zap.Duration("elapsed", time.Since(start)),
	)
	a.cache.set(path, secret)
	return secret, nil
}

// PutSecret adds a version to the secret, creating it on first use.
// metadata becomes resource tags.
func (a *AWSSecretsManager) PutSecret(ctx context.Context, path, value string, metadata map[string]string) (string, error) {
	defer a.cache.invalidate(path)

	out, err := a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(path),
		SecretString: aws.String(value),
	})
	var notFound *smtypes.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		return a.create(ctx, path, value, metadata)
	case err != nil:
		return "", fmt.Errorf("failed to put secret %s: %w", path, err)
	}

	if len(metadata) > 0 {
		if _, err := a.client.TagResource(ctx, &secretsmanager.TagResourceInput{
			SecretId: aws.String(path),
			Tags:     tags(metadata),
		}); err != nil {
			a.logger.Warn("Secret stored but tagging failed", zap.String("path", path), zap.Error(err))
		}
	}

	a.logger.Info("Secret version added",
		zap.String("path", path),
		zap.String("version", aws.ToString(out.VersionId)),
	)
	return aws.ToString(out.VersionId), nil
}

func (a *AWSSecretsManager) create(ctx context.Context, path, value string, metadata map[string]string) (string, error) {
	out, err := a.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(path),
		SecretString: aws.String(value),
		Description:  aws.String("Processing service payment requisite key"),
		Tags:         tags(metadata),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create secret %s: %w", path, err)
	}

	a.logger.Info("Secret created",
		zap.String("path", path),
		zap.String("version", aws.ToString(out.VersionId)),
	)
	return aws.ToString(out.VersionId), nil
}

func tags(metadata map[string]string) []smtypes.Tag {
	out := make([]smtypes.Tag, 0, len(metadata))
	for k, v := range metadata {
		out = append(out, smtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

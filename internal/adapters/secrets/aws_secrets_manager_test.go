package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/domain/ports"
)

type mockSecretsAPI struct {
	mock.Mock
}

func (m *mockSecretsAPI) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(in.SecretId))
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func (m *mockSecretsAPI) PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(in.SecretId))
	out, _ := args.Get(0).(*secretsmanager.PutSecretValueOutput)
	return out, args.Error(1)
}

func (m *mockSecretsAPI) CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	args := m.Called(ctx, aws.ToString(in.Name), len(in.Tags))
	out, _ := args.Get(0).(*secretsmanager.CreateSecretOutput)
	return out, args.Error(1)
}

func (m *mockSecretsAPI) TagResource(ctx context.Context, in *secretsmanager.TagResourceInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error) {
	args := m.Called(ctx, aws.ToString(in.SecretId), len(in.Tags))
	out, _ := args.Get(0).(*secretsmanager.TagResourceOutput)
	return out, args.Error(1)
}

func TestAWSSecretsManager_GetSecretCached(t *testing.T) {
	api := new(mockSecretsAPI)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	api.On("GetSecretValue", mock.Anything, "processing/key").Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("pem"),
		VersionId:    aws.String("v-1"),
		ARN:          aws.String("arn:aws:secretsmanager:eu-west-1:1:secret:processing/key"),
		CreatedDate:  &created,
	}, nil).Once()

	sm := newAWSSecretsManager(api, newSecretCache(true, time.Minute), zap.NewNop())
	for range 2 {
		secret, err := sm.GetSecret(context.Background(), "processing/key")
		require.NoError(t, err)
		assert.Equal(t, "pem", secret.Value)
		assert.Equal(t, "v-1", secret.Version)
		assert.Equal(t, "2024-03-01T12:00:00Z", secret.CreatedAt)
		assert.Contains(t, secret.Metadata["arn"], "processing/key")
	}
	api.AssertExpectations(t)
}

func TestAWSSecretsManager_GetSecretBinary(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("GetSecretValue", mock.Anything, "bin").Return(&secretsmanager.GetSecretValueOutput{
		SecretBinary: []byte("raw"),
	}, nil)

	sm := newAWSSecretsManager(api, newSecretCache(false, 0), zap.NewNop())
	secret, err := sm.GetSecret(context.Background(), "bin")
	require.NoError(t, err)
	assert.Equal(t, "raw", secret.Value)
}

func TestAWSSecretsManager_GetSecretNotFound(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("GetSecretValue", mock.Anything, "missing").
		Return(nil, &smtypes.ResourceNotFoundException{Message: aws.String("nope")})

	sm := newAWSSecretsManager(api, newSecretCache(false, 0), zap.NewNop())
	_, err := sm.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestAWSSecretsManager_PutSecretExisting(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("PutSecretValue", mock.Anything, "k").
		Return(&secretsmanager.PutSecretValueOutput{VersionId: aws.String("v-2")}, nil)
	api.On("TagResource", mock.Anything, "k", 1).
		Return(&secretsmanager.TagResourceOutput{}, nil)

	sm := newAWSSecretsManager(api, newSecretCache(true, time.Minute), zap.NewNop())
	sm.cache.set("k", &ports.Secret{Value: "old"})

	version, err := sm.PutSecret(context.Background(), "k", "new", map[string]string{"fingerprint": "ab"})
	require.NoError(t, err)
	assert.Equal(t, "v-2", version)
	assert.Nil(t, sm.cache.get("k"))
	api.AssertExpectations(t)
}

func TestAWSSecretsManager_PutSecretCreates(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("PutSecretValue", mock.Anything, "k").
		Return(nil, &smtypes.ResourceNotFoundException{})
	api.On("CreateSecret", mock.Anything, "k", 2).
		Return(&secretsmanager.CreateSecretOutput{VersionId: aws.String("v-1")}, nil)

	sm := newAWSSecretsManager(api, newSecretCache(false, 0), zap.NewNop())
	version, err := sm.PutSecret(context.Background(), "k", "pem", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, "v-1", version)
	api.AssertNotCalled(t, "TagResource", mock.Anything, mock.Anything, mock.Anything)
}

func TestAWSSecretsManager_PutSecretError(t *testing.T) {
	api := new(mockSecretsAPI)
	api.On("PutSecretValue", mock.Anything, "k").Return(nil, errors.New("throttled"))

	sm := newAWSSecretsManager(api, newSecretCache(false, 0), zap.NewNop())
	_, err := sm.PutSecret(context.Background(), "k", "pem", nil)
	assert.ErrorContains(t, err, "throttled")
}

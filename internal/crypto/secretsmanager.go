package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsManagerClient builds a client from the default AWS credential chain.
func NewSecretsManagerClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var (
		cfg aws.Config
		err error
	)
	if region != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return secretsmanager.NewFromConfig(cfg), nil
}

// LoadFromSecretsManager fetches the signing key from a secret. The secret is
// either the PEM itself or a JSON object with a "private_key" member.
func LoadFromSecretsManager(ctx context.Context, client SecretsManagerAPI, secretID string) (*KeyPair, error) {
	output, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case output.SecretString != nil:
		payload = *output.SecretString
	case len(output.SecretBinary) > 0:
		payload = string(output.SecretBinary)
	default:
		return nil, fmt.Errorf("secret %s has no payload", secretID)
	}

	if strings.HasPrefix(strings.TrimSpace(payload), "{") {
		var wrapped struct {
			PrivateKey string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
			return nil, fmt.Errorf("parsing secret %s as JSON: %w", secretID, err)
		}
		payload = wrapped.PrivateKey
	}

	return ParsePrivateKeyPEM([]byte(payload))
}

// Package secrets loads the Google OAuth client registration from AWS
// Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"go.uber.org/zap"
)

// ErrEmptySecret is returned when the secret has no string value.
var ErrEmptySecret = errors.New("secret has no string value")

// API is the subset of the Secrets Manager client used here.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GoogleClient is the JSON document stored in the secret.
type GoogleClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func NewClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// Fetch reads and decodes secretID.
func Fetch(ctx context.Context, client API, secretID string) (*GoogleClient, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", secretID, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptySecret, secretID)
	}

	var gc GoogleClient
	if err := json.Unmarshal([]byte(*out.SecretString), &gc); err != nil {
		return nil, fmt.Errorf("failed to decode secret %s: %w", secretID, err)
	}
	return &gc, nil
}

// Apply fills the Google client id and secret from the secret named by
// google.secret_id. Values already set in the config are kept. It is a no-op
// when no secret is configured.
func Apply(ctx context.Context, cfg *config.Config, client API) error {
	if cfg.Google.SecretID == "" {
		return nil
	}

	gc, err := Fetch(ctx, client, cfg.Google.SecretID)
	if err != nil {
		return err
	}

	if cfg.Google.ClientID == "" {
		cfg.Google.ClientID = gc.ClientID
	}
	if cfg.Google.ClientSecret == "" {
		cfg.Google.ClientSecret = gc.ClientSecret
	}
	logger.Info("Loaded Google client from Secrets Manager", zap.String("secret_id", cfg.Google.SecretID))
	return nil
}

// Resolve builds a Secrets Manager client for google.secret_region and calls
// Apply.
func Resolve(ctx context.Context, cfg *config.Config) error {
	if cfg.Google.SecretID == "" {
		return nil
	}
	client, err := NewClient(ctx, cfg.Google.SecretRegion)
	if err != nil {
		return err
	}
	return Apply(ctx, cfg, client)
}

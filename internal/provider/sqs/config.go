package sqs

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"gopkg.in/yaml.v3"
)

// AWSConfig holds the client settings that can be passed as backend config,
// either inline or as a YAML/JSON file.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
	MaxRetries      int    `yaml:"maxRetries"`
}

// LoadAWSConfigFile reads an AWSConfig from a YAML or JSON file.
func LoadAWSConfigFile(path string) (*AWSConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read AWS config %s: %w", path, err)
	}
	var cfg AWSConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse AWS config %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveAWSConfig interprets the backend config option. A string is a
// file path; a map is decoded field by field like a file would be.
func resolveAWSConfig(backend any) (*AWSConfig, error) {
	switch cfg := backend.(type) {
	case nil:
		return nil, nil
	case string:
		if cfg == "" {
			return nil, nil
		}
		return LoadAWSConfigFile(cfg)
	case AWSConfig:
		return &cfg, nil
	case *AWSConfig:
		return cfg, nil
	case map[string]any:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid AWS config: %w", err)
		}
		var out AWSConfig
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("invalid AWS config: %w", err)
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("unsupported AWS backend config %T", backend)
	}
}

func loadOptions(cfg *AWSConfig) []func(*config.LoadOptions) error {
	if cfg == nil {
		return nil
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxRetries+1))
	}
	return opts
}

// NewClient builds an SQS client from the default credential chain,
// overridden by cfg when set.
func NewClient(ctx context.Context, cfg *AWSConfig) (*awssqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg != nil && cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

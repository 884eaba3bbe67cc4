// Package aws lists and deletes EC2 instances, EBS volumes, AMIs and
// snapshots for the cleanup engine.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Provider implements the resource directory and deleter over EC2.
type Provider struct {
	region  string
	client  EC2API
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Config holds AWS provider configuration.
type Config struct {
	Region  string
	Profile string

	// RequestsPerSecond bounds mutating calls. Zero means unlimited.
	RequestsPerSecond float64

	Logger zerolog.Logger
}

// New loads the default credential chain and creates a provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("no aws region configured")
	}

	cfg.Region = awsCfg.Region
	return NewWithClient(ec2.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient creates a provider on an existing client.
func NewWithClient(client EC2API, cfg Config) *Provider {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Provider{
		region:  cfg.Region,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
	}
}

// Region returns the region the provider operates in.
func (p *Provider) Region() string {
	return p.region
}

// Package cdn implements deploy.CDN on Amazon CloudFront.
package cdn

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

const (
	// DefaultMaxWait bounds each waiter. CloudFront propagation routinely
	// takes tens of minutes.
	DefaultMaxWait = 35 * time.Minute

	defaultDeployPoll     = 60 * time.Second
	defaultInvalidatePoll = 20 * time.Second
)

// API is the subset of the CloudFront client used here. *cloudfront.Client
// satisfies it.
type API interface {
	GetDistributionConfig(ctx context.Context, in *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistribution(ctx context.Context, in *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
	CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
	cloudfront.GetDistributionAPIClient
	cloudfront.GetInvalidationAPIClient
}

type Options struct {
	Logger log.Logger

	// MaxWait bounds each Await. Zero uses DefaultMaxWait.
	MaxWait time.Duration

	// PollInterval is the first delay between waiter polls. Zero keeps the
	// provider defaults (60s for deploys, 20s for invalidations).
	PollInterval time.Duration
}

type Client struct {
	api     API
	logger  log.Logger
	maxWait time.Duration
	poll    time.Duration
}

var _ deploy.CDN = (*Client)(nil)

func New(awsCfg aws.Config, opts Options) *Client {
	return NewWithAPI(cloudfront.NewFromConfig(awsCfg), opts)
}

// NewWithAPI wraps an existing client, mainly for tests.
func NewWithAPI(api API, opts Options) *Client {
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Client{
		api:     api,
		logger:  log.OrNop(opts.Logger),
		maxWait: maxWait,
		poll:    opts.PollInterval,
	}
}

// GetDistributionConfig returns the distribution's origins and its ETag as the
// concurrency token. The full CloudFront config rides along in Native.
func (c *Client) GetDistributionConfig(ctx context.Context, id string) (deploy.DistributionConfig, deploy.ConcurrencyToken, error) {
	out, err := c.api.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		return deploy.DistributionConfig{}, "", xerrors.Wrapf(err, "get distribution config %s%s", id, xerrors.CodeSuffix(err))
	}
	if out.DistributionConfig == nil {
		return deploy.DistributionConfig{}, "", xerrors.Newf("distribution %s returned no config", id)
	}

	cfg := deploy.DistributionConfig{Native: out.DistributionConfig}
	if o := out.DistributionConfig.Origins; o != nil {
		for _, item := range o.Items {
			cfg.Origins = append(cfg.Origins, deploy.Origin{
				ID:   aws.ToString(item.Id),
				Path: aws.ToString(item.OriginPath),
			})
		}
	}
	return cfg, deploy.ConcurrencyToken(aws.ToString(out.ETag)), nil
}

// UpdateDistributionConfig writes origin paths from cfg into the native config
// read by GetDistributionConfig and submits it with IfMatch set to token.
func (c *Client) UpdateDistributionConfig(ctx context.Context, id string, cfg deploy.DistributionConfig, token deploy.ConcurrencyToken) (deploy.ConcurrencyToken, deploy.Operation, error) {
	native, ok := cfg.Native.(*types.DistributionConfig)
	if !ok || native == nil {
		return "", deploy.Operation{}, xerrors.Newf("distribution %s: config was not read from CloudFront", id)
	}

	next := applyOriginPaths(native, cfg.Origins)
	out, err := c.api.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(id),
		IfMatch:            aws.String(string(token)),
		DistributionConfig: next,
	})
	if err != nil {
		err = xerrors.Wrapf(err, "update distribution %s%s", id, xerrors.CodeSuffix(err))
		if isConcurrentModification(err) {
			return "", deploy.Operation{}, xerrors.Mark(err, deploy.ErrConcurrentModification)
		}
		return "", deploy.Operation{}, err
	}

	c.logger.Debug(ctx, "distribution update accepted",
		"distribution_id", id,
		"status", distributionStatus(out.Distribution),
	)
	op := deploy.Operation{Kind: deploy.OpDistributionDeploy, DistributionID: id, ID: id}
	return deploy.ConcurrencyToken(aws.ToString(out.ETag)), op, nil
}

func (c *Client) CreateInvalidation(ctx context.Context, id string, paths []string, callerReference string) (deploy.Operation, error) {
	out, err := c.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(id),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(callerReference),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return deploy.Operation{}, xerrors.Wrapf(err, "create invalidation on %s%s", id, xerrors.CodeSuffix(err))
	}
	if out.Invalidation == nil || out.Invalidation.Id == nil {
		return deploy.Operation{}, xerrors.Newf("create invalidation on %s returned no id", id)
	}
	return deploy.Operation{
		Kind:           deploy.OpInvalidation,
		DistributionID: id,
		ID:             aws.ToString(out.Invalidation.Id),
	}, nil
}

// Await polls until op is visible at every edge, MaxWait elapses or ctx is done.
func (c *Client) Await(ctx context.Context, op deploy.Operation) error {
	start := time.Now()
	var err error
	switch op.Kind {
	case deploy.OpDistributionDeploy:
		w := cloudfront.NewDistributionDeployedWaiter(c.api, func(o *cloudfront.DistributionDeployedWaiterOptions) {
			o.MinDelay, o.MaxDelay = c.delays(defaultDeployPoll, o.MaxDelay)
		})
		err = w.Wait(ctx, &cloudfront.GetDistributionInput{Id: aws.String(op.DistributionID)}, c.maxWait)
	case deploy.OpInvalidation:
		w := cloudfront.NewInvalidationCompletedWaiter(c.api, func(o *cloudfront.InvalidationCompletedWaiterOptions) {
			o.MinDelay, o.MaxDelay = c.delays(defaultInvalidatePoll, o.MaxDelay)
		})
		err = w.Wait(ctx, &cloudfront.GetInvalidationInput{
			DistributionId: aws.String(op.DistributionID),
			Id:             aws.String(op.ID),
		}, c.maxWait)
	default:
		return xerrors.Newf("unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return xerrors.Wrapf(err, "await %s %s", op.Kind, op.ID)
	}
	c.logger.Debug(ctx, "operation completed",
		"kind", string(op.Kind),
		"distribution_id", op.DistributionID,
		"id", op.ID,
		"waited", time.Since(start).Round(time.Second).String(),
	)
	return nil
}

func (c *Client) delays(defaultMin, maxDelay time.Duration) (time.Duration, time.Duration) {
	minDelay := defaultMin
	if c.poll > 0 {
		minDelay = c.poll
	}
	// the waiter rejects MinDelay > MaxDelay and gives up when less than
	// MinDelay remains
	if minDelay > c.maxWait {
		minDelay = c.maxWait
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return minDelay, maxDelay
}

// applyOriginPaths returns a copy of native with OriginPath set from origins,
// matched by id. native is not modified.
func applyOriginPaths(native *types.DistributionConfig, origins []deploy.Origin) *types.DistributionConfig {
	next := *native
	if native.Origins == nil {
		return &next
	}
	paths := make(map[string]string, len(origins))
	for _, o := range origins {
		paths[o.ID] = o.Path
	}
	list := *native.Origins
	list.Items = append([]types.Origin(nil), native.Origins.Items...)
	for i := range list.Items {
		if p, ok := paths[aws.ToString(list.Items[i].Id)]; ok {
			list.Items[i].OriginPath = aws.String(p)
		}
	}
	next.Origins = &list
	return &next
}

func distributionStatus(d *types.Distribution) string {
	if d == nil {
		return ""
	}
	return aws.ToString(d.Status)
}

// isConcurrentModification reports whether CloudFront rejected an IfMatch.
func isConcurrentModification(err error) bool {
	var pf *types.PreconditionFailed
	if errors.As(err, &pf) {
		return true
	}
	switch xerrors.APICode(err) {
	case "PreconditionFailed", "InvalidIfMatchVersion":
		return true
	}
	return false
}

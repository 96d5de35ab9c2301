package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

const (
	// DryRunInvalidationID stands in for the provider id when nothing is sent.
	DryRunInvalidationID = "fake-invalidation-id"

	// callerReferenceLayout is unique per run; invalidations are never retried
	// within one run so a second-resolution timestamp is enough.
	callerReferenceLayout = "20060102T150405Z"
)

// InvalidateAll is the path set purged after an origin switch.
var InvalidateAll = []string{"/*"}

// SwitchResult describes what a switchover did (or would have done).
type SwitchResult struct {
	DistributionID  string
	OriginName      string
	PreviousPath    string
	OriginPath      string
	Token           ConcurrencyToken
	InvalidationID  string
	CallerReference string
	DryRun          bool
}

// Switchover repoints a CDN origin and purges the cache. The origin update
// must succeed before any invalidation is issued.
type Switchover struct {
	cdn    CDN
	logger log.Logger
	now    func() time.Time
}

func NewSwitchover(cdn CDN, logger log.Logger) *Switchover {
	return &Switchover{cdn: cdn, logger: log.OrNop(logger), now: time.Now}
}

// Update points target's origin at newOriginPath, waits for the distribution
// to deploy, then invalidates "/*" and waits for that too.
//
// Dry run still reads the distribution config so a missing origin fails the
// same way it would for real; the update and invalidation are skipped.
func (s *Switchover) Update(ctx context.Context, target CdnTarget, newOriginPath string, dryRun bool) (*SwitchResult, error) {
	res := &SwitchResult{
		DistributionID: target.DistributionID,
		OriginName:     target.OriginName,
		DryRun:         dryRun,
	}
	if err := s.updateOrigin(ctx, target, newOriginPath, dryRun, res); err != nil {
		return res, err
	}
	if err := s.invalidate(ctx, target.DistributionID, InvalidateAll, dryRun, res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Switchover) updateOrigin(ctx context.Context, target CdnTarget, newOriginPath string, dryRun bool, res *SwitchResult) error {
	id := target.DistributionID
	cfg, token, err := s.cdn.GetDistributionConfig(ctx, id)
	if err != nil {
		return xerrors.Mark(xerrors.Wrapf(err, "get config of distribution %s", id), ErrCdnUnavailable)
	}

	idx := -1
	for i, o := range cfg.Origins {
		if o.ID == target.OriginName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return xerrors.Markf(ErrOriginNotFound, "no origin %q in distribution %s", target.OriginName, id)
	}

	path := OriginPath(newOriginPath)
	res.PreviousPath = cfg.Origins[idx].Path
	res.OriginPath = path
	res.Token = token

	s.logger.Info(ctx, "updating origin path",
		"distribution_id", id,
		"origin", target.OriginName,
		"from", res.PreviousPath,
		"to", path,
		"dry_run", dryRun,
	)
	if dryRun {
		return nil
	}

	next := cfg.clone()
	next.Origins[idx].Path = path
	newToken, op, err := s.cdn.UpdateDistributionConfig(ctx, id, next, token)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return xerrors.Wrapf(err, "update distribution %s", id)
		}
		return xerrors.Mark(xerrors.Wrapf(err, "update distribution %s", id), ErrCdnUnavailable)
	}
	res.Token = newToken

	s.logger.Info(ctx, "waiting for distribution update to deploy", "distribution_id", id)
	if err := s.cdn.Await(ctx, op); err != nil {
		return xerrors.Mark(xerrors.Wrapf(err, "wait for distribution %s to deploy", id), ErrCdnUnavailable)
	}
	s.logger.Info(ctx, "distribution update deployed", "distribution_id", id)
	return nil
}

func (s *Switchover) invalidate(ctx context.Context, id string, paths []string, dryRun bool, res *SwitchResult) error {
	ref := s.now().UTC().Format(callerReferenceLayout)
	res.CallerReference = ref

	if dryRun {
		res.InvalidationID = DryRunInvalidationID
		s.logger.Info(ctx, "dry run: skipping invalidation",
			"distribution_id", id,
			"invalidation_id", res.InvalidationID,
			"paths", paths,
			"caller_reference", ref,
		)
		return nil
	}

	op, err := s.cdn.CreateInvalidation(ctx, id, paths, ref)
	if err != nil {
		return xerrors.Mark(xerrors.Wrapf(err, "create invalidation on %s", id), ErrCdnUnavailable)
	}
	res.InvalidationID = op.ID

	s.logger.Info(ctx, "waiting for invalidation to complete",
		"distribution_id", id,
		"invalidation_id", op.ID,
		"paths", paths,
	)
	if err := s.cdn.Await(ctx, op); err != nil {
		return xerrors.Mark(xerrors.Wrapf(err, "wait for invalidation %s on %s", op.ID, id), ErrCdnUnavailable)
	}
	s.logger.Info(ctx, "invalidation completed", "distribution_id", id, "invalidation_id", op.ID)
	return nil
}

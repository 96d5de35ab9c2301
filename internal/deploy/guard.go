package deploy

import (
	"context"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// VersionGuard decides whether a version prefix may be deployed to or rolled
// back to. It only reads from storage.
//
// A failed probe is never read as an answer: both RequireAbsent and
// RequirePresent return ErrStorageUnavailable, so an unreachable bucket blocks
// the run instead of letting a deploy overwrite a published version.
type VersionGuard struct {
	store  ObjectStore
	logger log.Logger
}

func NewVersionGuard(store ObjectStore, logger log.Logger) *VersionGuard {
	return &VersionGuard{store: store, logger: log.OrNop(logger)}
}

// Exists reports whether at least one object lives under prefix, treated as a
// directory.
func (g *VersionGuard) Exists(ctx context.Context, bucket, prefix string) (bool, error) {
	dir := dirPrefix(prefix)
	keys, err := g.store.ListObjects(ctx, bucket, dir, 1)
	if err != nil {
		return false, xerrors.Mark(xerrors.Wrapf(err, "list s3://%s/%s", bucket, dir), ErrStorageUnavailable)
	}
	return len(keys) > 0, nil
}

// RequireAbsent fails with ErrVersionConflict when prefix is already populated.
func (g *VersionGuard) RequireAbsent(ctx context.Context, bucket, prefix, version string) error {
	exists, err := g.Exists(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.Markf(ErrVersionConflict, "version %s already exists at s3://%s/%s", version, bucket, dirPrefix(prefix))
	}
	g.logger.Debug(ctx, "version prefix is free", "bucket", bucket, "prefix", prefix)
	return nil
}

// RequirePresent fails with ErrVersionNotFound when prefix holds no objects.
func (g *VersionGuard) RequirePresent(ctx context.Context, bucket, prefix, version string) error {
	exists, err := g.Exists(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	if !exists {
		return xerrors.Markf(ErrVersionNotFound, "version %s does not exist at s3://%s/%s", version, bucket, dirPrefix(prefix))
	}
	g.logger.Debug(ctx, "version prefix is populated", "bucket", bucket, "prefix", prefix)
	return nil
}

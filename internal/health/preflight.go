package health

import (
	"context"
	"os"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// BucketListable passes when the bucket can be listed under prefix. It uses
// the same probe call as the version guard.
func BucketListable(store deploy.ObjectStore, bucket, prefix string) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := store.ListObjects(ctx, bucket, prefix, 1); err != nil {
			return xerrors.Mark(xerrors.Wrapf(err, "list s3://%s/%s", bucket, prefix), deploy.ErrStorageUnavailable)
		}
		return nil
	}
}

// OriginPresent passes when the distribution can be read and has an origin
// with the target's name.
func OriginPresent(cdn deploy.CDN, target deploy.CdnTarget) CheckFunc {
	return func(ctx context.Context) error {
		cfg, _, err := cdn.GetDistributionConfig(ctx, target.DistributionID)
		if err != nil {
			return xerrors.Mark(xerrors.Wrapf(err, "read distribution %s", target.DistributionID), deploy.ErrCdnUnavailable)
		}
		for _, o := range cfg.Origins {
			if o.ID == target.OriginName {
				return nil
			}
		}
		return xerrors.Markf(deploy.ErrOriginNotFound, "no origin %q in distribution %s", target.OriginName, target.DistributionID)
	}
}

// VersionFree passes when nothing is stored under the version prefix yet.
func VersionFree(guard *deploy.VersionGuard, bucket, prefix, version string) CheckFunc {
	return func(ctx context.Context) error {
		return guard.RequireAbsent(ctx, bucket, prefix, version)
	}
}

// VersionPresent passes when the version prefix holds objects.
func VersionPresent(guard *deploy.VersionGuard, bucket, prefix, version string) CheckFunc {
	return func(ctx context.Context) error {
		return guard.RequirePresent(ctx, bucket, prefix, version)
	}
}

// DirReadable passes when dir exists, is a directory and can be opened.
func DirReadable(dir string) CheckFunc {
	return func(context.Context) error {
		f, err := os.Open(dir)
		if err != nil {
			return xerrors.Mark(xerrors.Wrapf(err, "open %s", dir), deploy.ErrLocalIO)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return xerrors.Mark(xerrors.Wrapf(err, "stat %s", dir), deploy.ErrLocalIO)
		}
		if !fi.IsDir() {
			return xerrors.Markf(deploy.ErrLocalIO, "%s is not a directory", dir)
		}
		return nil
	}
}

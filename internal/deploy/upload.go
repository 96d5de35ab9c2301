package deploy

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// DefaultWorkers is the upload pool size when none is configured.
func DefaultWorkers() int { return 2 * runtime.NumCPU() }

type UploadCoordinatorOptions struct {
	Store  ObjectStore
	Logger log.Logger

	// Workers bounds concurrent uploads. Zero uses DefaultWorkers.
	Workers int

	// RateLimit caps upload starts per second. Zero means unlimited.
	RateLimit float64

	Observer Observer
}

// UploadCoordinator pushes a file set to storage with a bounded pool. A failed
// file never cancels its siblings: every dispatched upload runs to completion
// and the outcome is the AND of all of them.
type UploadCoordinator struct {
	store    ObjectStore
	logger   log.Logger
	workers  int
	limiter  *rate.Limiter
	observer Observer
}

func NewUploadCoordinator(opts UploadCoordinatorOptions) *UploadCoordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &UploadCoordinator{
		store:    opts.Store,
		logger:   log.OrNop(opts.Logger),
		workers:  workers,
		limiter:  limiter,
		observer: observer,
	}
}

// FileResult is the outcome of one mapping. Err is nil on success.
type FileResult struct {
	Mapping  FileMapping
	Bytes    int64
	Duration time.Duration
	Err      error
}

// UploadReport lists one result per mapping, in input order.
type UploadReport struct {
	Results []FileResult
	Workers int
	DryRun  bool
}

// OK is true iff every upload succeeded. An empty report is OK.
func (r *UploadReport) OK() bool {
	if r == nil {
		return false
	}
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

func (r *UploadReport) Failed() []FileResult {
	var out []FileResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Bytes sums the size of the files that were uploaded (or would have been).
func (r *UploadReport) Bytes() int64 {
	var n int64
	for _, res := range r.Results {
		if res.Err == nil {
			n += res.Bytes
		}
	}
	return n
}

// UploadAll uploads every mapping from rootDir into bucket. In dry-run mode the
// local file is still opened and its metadata derived and logged, only the put
// is skipped.
func (u *UploadCoordinator) UploadAll(ctx context.Context, rootDir, bucket string, mappings []FileMapping, opts UploadOptions, dryRun bool) *UploadReport {
	report := &UploadReport{
		Results: make([]FileResult, len(mappings)),
		Workers: u.workers,
		DryRun:  dryRun,
	}

	u.logger.Info(ctx, "starting uploads",
		"files", len(mappings),
		"workers", u.workers,
		"bucket", bucket,
	)
	start := time.Now()

	// no errgroup.WithContext: one failure must not cancel the rest
	var g errgroup.Group
	g.SetLimit(u.workers)
	for i, m := range mappings {
		i, m := i, m
		g.Go(func() error {
			// each worker owns exactly one slot
			report.Results[i] = u.uploadOne(ctx, rootDir, bucket, m, opts, dryRun)
			return nil
		})
	}
	_ = g.Wait()

	failed := report.Failed()
	for _, f := range failed {
		u.logger.Error(ctx, f.Err, "upload failed",
			"file", f.Mapping.LocalPath,
			"key", f.Mapping.RemotePath,
			"bucket", bucket,
		)
	}

	result := "success"
	if len(failed) > 0 {
		result = "failure"
	}
	u.logger.Info(ctx, "all uploads finished",
		"files", len(mappings),
		"failed", len(failed),
		"bytes", humanize.IBytes(uint64(report.Bytes())),
		"duration", time.Since(start).Round(time.Millisecond).String(),
		"result", result,
	)
	return report
}

func (u *UploadCoordinator) uploadOne(ctx context.Context, rootDir, bucket string, m FileMapping, opts UploadOptions, dryRun bool) (res FileResult) {
	res.Mapping = m
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		u.observer.ObserveUpload(res.Err == nil, res.Bytes, res.Duration)
	}()

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			res.Err = xerrors.Wrapf(err, "wait for upload slot for %s", m.LocalPath)
			return res
		}
	}

	localPath := filepath.Join(rootDir, filepath.FromSlash(m.LocalPath))
	f, err := os.Open(localPath)
	if err != nil {
		res.Err = xerrors.Mark(xerrors.Wrapf(err, "open %s", localPath), ErrLocalIO)
		return res
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		res.Err = xerrors.Mark(xerrors.Wrapf(err, "stat %s", localPath), ErrLocalIO)
		return res
	}
	if !fi.Mode().IsRegular() {
		res.Err = xerrors.Markf(ErrLocalIO, "%s is not a regular file", localPath)
		return res
	}

	contentType, contentEncoding := GuessType(m.LocalPath)
	meta := ObjectMeta{
		CacheControl:    opts.CacheControl(),
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		ContentLength:   fi.Size(),
	}
	u.logger.Debug(ctx, "upload",
		"file", localPath,
		"dest", "s3://"+bucket+"/"+m.RemotePath,
		"size", fi.Size(),
		"cache_control", meta.CacheControl,
		"content_type", meta.ContentType,
		"content_encoding", meta.ContentEncoding,
		"dry_run", dryRun,
	)
	res.Bytes = fi.Size()
	if dryRun {
		return res
	}

	if err := u.store.PutObject(ctx, bucket, m.RemotePath, f, meta); err != nil {
		res.Err = xerrors.Mark(xerrors.Wrapf(err, "put s3://%s/%s", bucket, m.RemotePath), ErrStorageUnavailable)
		return res
	}
	return res
}

var encodingsByExt = map[string]string{
	".gz":  "gzip",
	".br":  "br",
	".bz2": "bzip2",
	".xz":  "xz",
	".Z":   "compress",
}

var suffixAliases = map[string]string{
	".tgz":  ".tar.gz",
	".taz":  ".tar.gz",
	".tz":   ".tar.gz",
	".tbz2": ".tar.bz2",
	".txz":  ".tar.xz",
}

// GuessType infers a Content-Type and Content-Encoding from name's
// extension. "app.js.gz" is javascript encoded with gzip, "data.gz" has only
// an encoding. Unknown extensions return "".
func GuessType(name string) (contentType, contentEncoding string) {
	base := path.Base(filepath.ToSlash(name))
	ext := path.Ext(base)
	if alias, ok := suffixAliases[strings.ToLower(ext)]; ok {
		base = strings.TrimSuffix(base, ext) + alias
		ext = path.Ext(base)
	}
	if enc, ok := encodingsByExt[ext]; ok {
		contentEncoding = enc
		base = strings.TrimSuffix(base, ext)
		ext = path.Ext(base)
	} else if enc, ok := encodingsByExt[strings.ToLower(ext)]; ok {
		contentEncoding = enc
		base = strings.TrimSuffix(base, ext)
		ext = path.Ext(base)
	}
	if ext == "" {
		return "", contentEncoding
	}
	return mime.TypeByExtension(ext), contentEncoding
}

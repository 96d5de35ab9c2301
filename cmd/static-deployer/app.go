package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/keithlinneman/static-deployer/internal/cdn"
	"github.com/keithlinneman/static-deployer/internal/cfg"
	"github.com/keithlinneman/static-deployer/internal/content"
	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/health"
	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/metrics"
	"github.com/keithlinneman/static-deployer/internal/otelx"
	"github.com/keithlinneman/static-deployer/internal/release"
	"github.com/keithlinneman/static-deployer/internal/storage"
	v "github.com/keithlinneman/static-deployer/internal/version"
)

// pushTimeout bounds the pushgateway request made after the run.
const pushTimeout = 10 * time.Second

// loadAWSConfig is swapped in tests.
var loadAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, optFns...)
}

// awsLoadOptions traces every S3, CloudFront and SSM request as a child of
// the stage span that issued it when tracing is on.
func awsLoadOptions(tracing bool) []func(*config.LoadOptions) error {
	if !tracing {
		return nil
	}
	return []func(*config.LoadOptions) error{
		config.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
}

// app holds everything one command invocation wires together.
type app struct {
	conf    cfg.App
	logger  log.Logger
	metrics *metrics.DeployMetrics
	store   *storage.Client
	cdn     *cdn.Client
	files   *content.Resolver
	awsCfg  aws.Config

	cancel       context.CancelFunc
	shutdownOTEL otelx.ShutdownFunc
}

// setup loads and validates config, then builds the logger, tracer provider,
// metrics and provider clients. The returned context carries the logger and
// the --timeout deadline.
func setup(cmd *cobra.Command, command cfg.Command, stderr io.Writer) (context.Context, *app, error) {
	ctx := cmd.Context()

	conf, err := cfg.Load(cmd.Flags(), func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(conf, command); err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	vi := v.Get()
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    vi.Version,
		Level:      lvl,
		JSONFormat: conf.LogJSON,
		Writer:     stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init error: %w", err)
	}
	runID := uuid.NewString()
	L := lg.With("run_id", runID, "command", string(command), "dry_run", conf.DryRun)
	ctx = log.WithContext(ctx, L)

	a := &app{conf: conf, logger: L, cancel: func() {}}
	if conf.Timeout > 0 {
		ctx, a.cancel = context.WithTimeout(ctx, conf.Timeout)
	}

	L.Info(ctx, "initializing",
		"version", vi.Version,
		"commit", vi.Commit,
		"config_file", conf.ConfigFile,
		"target_version", conf.Version,
		"root_dir", conf.RootDir,
		"patterns", conf.Patterns,
		"bucket", conf.BucketName,
		"bucket_prefix", conf.BucketPrefix,
		"distribution_id", conf.DistributionID,
		"origin", conf.OriginName,
		"concurrency", conf.Concurrency,
		"upload_rate", conf.UploadRate,
		"wait_timeout", conf.WaitTimeout,
		"release_param", conf.ReleaseParam,
		"enable_tracing", conf.EnableTracing,
		"otlp_insecure", conf.OTLPInsecure,
		"metrics_pushgateway", conf.MetricsPushgateway,
	)

	// Setup otel for tracing
	a.shutdownOTEL, err = otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: conf.OTLPInsecure,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
		RunID:    runID,
	})
	if err != nil {
		// tracing is optional, the run continues without it
		L.Error(ctx, err, "otel init failed")
		a.shutdownOTEL = nil
	}

	a.metrics = metrics.New()
	a.metrics.SetBuildInfoFromVersion(v.AppName, vi)

	a.awsCfg, err = loadAWSConfig(ctx, awsLoadOptions(conf.EnableTracing && a.shutdownOTEL != nil)...)
	if err != nil {
		a.close(ctx)
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}
	a.store = storage.New(a.awsCfg, storage.Options{Logger: L})
	a.cdn = cdn.New(a.awsCfg, cdn.Options{Logger: L, MaxWait: conf.WaitTimeout})
	a.files = content.NewResolver(content.ResolverOptions{
		Logger:        L,
		IncludeHidden: conf.IncludeHidden,
		Validation: content.ValidationOptions{
			MinFiles:     conf.MinFiles,
			RequireIndex: conf.RequireIndex,
		},
	})
	return ctx, a, nil
}

// close flushes traces, pushes metrics when configured and syncs the logger.
// It runs on a context detached from the run so a cancelled run still
// reports.
func (a *app) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	a.cancel()

	if a.conf.MetricsPushgateway != "" && a.metrics != nil {
		pctx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := a.metrics.Push(pctx, a.conf.MetricsPushgateway, v.AppName, "distribution_id", a.conf.DistributionID)
		cancel()
		if err != nil {
			a.logger.Warn(ctx, "failed to push metrics", "pushgateway", a.conf.MetricsPushgateway, "error", err)
		}
	}
	if a.shutdownOTEL != nil {
		if err := a.shutdownOTEL(ctx); err != nil {
			a.logger.Warn(ctx, "failed to flush traces", "error", err)
		}
	}
	_ = a.logger.Sync()
}

func (a *app) storageLocation(ctx context.Context) deploy.StorageLocation {
	return deploy.NewStorageLocation(ctx, a.logger, a.conf.BucketName, a.conf.BucketPrefix)
}

func (a *app) target() deploy.CdnTarget {
	return deploy.CdnTarget{DistributionID: a.conf.DistributionID, OriginName: a.conf.OriginName}
}

// releases returns nil when no --release-param is configured.
func (a *app) releases() (*release.Recorder, error) {
	if a.conf.ReleaseParam == "" {
		return nil, nil
	}
	return release.New(a.awsCfg, release.Options{
		Logger:       a.logger,
		Param:        a.conf.ReleaseParam,
		Distribution: a.conf.DistributionID,
	})
}

func (a *app) orchestrator() (*deploy.Orchestrator, error) {
	var recorder deploy.ReleaseRecorder
	rec, err := a.releases()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		recorder = rec
	}
	return deploy.New(deploy.Options{
		Store:      a.store,
		CDN:        a.cdn,
		Files:      a.files,
		Recorder:   recorder,
		Logger:     a.logger,
		Observer:   a.metrics,
		Tracer:     otel.Tracer(v.AppName),
		Workers:    a.conf.Concurrency,
		UploadRate: a.conf.UploadRate,
	})
}

func runWorkflow(cmd *cobra.Command, command cfg.Command, stdout, stderr io.Writer) error {
	ctx, a, err := setup(cmd, command, stderr)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	var rep *deploy.Report
	switch command {
	case cfg.CommandDeploy:
		rep, err = orch.Deploy(ctx, deploy.DeploySpec{
			Content: deploy.ContentTree{RootDir: a.conf.RootDir, Patterns: a.conf.Patterns},
			Storage: a.storageLocation(ctx),
			CDN:     a.target(),
			Version: a.conf.Version,
			Upload:  deploy.UploadOptions{CacheMaxAge: a.conf.CacheMaxAgePtr()},
		}, a.conf.DryRun)
	case cfg.CommandRollback:
		rep, err = orch.Rollback(ctx, deploy.RollbackSpec{
			Storage: a.storageLocation(ctx),
			CDN:     a.target(),
			Version: a.conf.Version,
		}, a.conf.DryRun)
	default:
		return fmt.Errorf("unknown workflow %q", command)
	}
	if err != nil {
		return err
	}
	if !a.conf.DryRun {
		a.metrics.SetLiveVersion(a.conf.DistributionID, a.conf.Version)
	}
	printReport(stdout, rep)
	return nil
}

// printReport writes the one-line outcome to stdout; logs go to stderr.
func printReport(w io.Writer, rep *deploy.Report) {
	if rep == nil {
		return
	}
	var b strings.Builder
	if rep.DryRun {
		b.WriteString("dry run: ")
	}
	switch rep.Workflow {
	case deploy.WorkflowDeploy:
		fmt.Fprintf(&b, "deployed %s: %d files", rep.Version, len(rep.Files))
		if rep.Uploads != nil && !rep.DryRun {
			fmt.Fprintf(&b, " (%s)", humanize.IBytes(uint64(rep.Uploads.Bytes())))
		}
		fmt.Fprintf(&b, " under %s", rep.Prefix)
	case deploy.WorkflowRollback:
		fmt.Fprintf(&b, "rolled back to %s under %s", rep.Version, rep.Prefix)
	}
	if s := rep.Switch; s != nil {
		fmt.Fprintf(&b, ", origin %s path %q -> %q, invalidation %s", s.OriginName, s.PreviousPath, s.OriginPath, s.InvalidationID)
	}
	fmt.Fprintf(&b, " in %s", rep.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, b.String())
}

func runCheck(cmd *cobra.Command, forRollback bool, stdout, stderr io.Writer) error {
	ctx, a, err := setup(cmd, cfg.CommandCheck, stderr)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	loc := a.storageLocation(ctx)
	prefix := deploy.ComputePrefix(loc.Prefix, a.conf.Version)
	guard := deploy.NewVersionGuard(a.store, a.logger)

	// list permission is checked on the static part of a templated prefix
	base := deploy.StaticPrefix(loc.Prefix)

	probes := []health.NamedProbe{
		health.Named("bucket", health.BucketListable(a.store, loc.Name, base)),
		health.Named("origin", health.OriginPresent(a.cdn, a.target())),
	}
	if forRollback {
		probes = append(probes, health.Named("version", health.VersionPresent(guard, loc.Name, prefix, a.conf.Version)))
	} else {
		probes = append(probes, health.Named("version", health.VersionFree(guard, loc.Name, prefix, a.conf.Version)))
		probes = append(probes, health.Named("content", a.contentProbe(prefix)))
	}

	var (
		live     *release.Record
		liveRead bool
	)
	recorder, err := a.releases()
	if err != nil {
		return err
	}
	if recorder != nil {
		probes = append(probes, health.Named("release", health.CheckFunc(func(ctx context.Context) error {
			rec, err := recorder.Current(ctx)
			switch {
			case errors.Is(err, release.ErrNotRecorded):
			case err != nil:
				return err
			default:
				live = rec
			}
			liveRead = true
			return nil
		})))
	}

	results := health.Run(ctx, probes...)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "FAIL %-8s %v\n", r.Name, r.Err)
			a.logger.Error(ctx, r.Err, "preflight check failed", "check", r.Name, "duration", r.Duration)
			continue
		}
		fmt.Fprintf(stdout, "ok   %-8s %s\n", r.Name, r.Duration.Round(time.Millisecond))
	}
	if liveRead {
		printLiveRelease(stdout, live)
	}
	if failed := health.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
	}
	return nil
}

// contentProbe reads the tree a deploy would upload. A deploy cannot run
// without --root-dir, so its absence fails the check.
func (a *app) contentProbe(prefix string) health.Probe {
	if a.conf.RootDir == "" {
		return health.Fixed(false, "ROOT_DIR not set")
	}
	tree := deploy.ContentTree{RootDir: a.conf.RootDir, Patterns: a.conf.Patterns}
	return health.All(
		health.DirReadable(a.conf.RootDir),
		health.CheckFunc(func(ctx context.Context) error {
			files, err := a.files.Resolve(ctx, tree, prefix)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("%w: no files under %s match %v", deploy.ErrNoContent, tree.RootDir, tree.Patterns)
			}
			return nil
		}),
	)
}

func printLiveRelease(w io.Writer, rec *release.Record) {
	if rec == nil {
		fmt.Fprintln(w, "live release: none recorded")
		return
	}
	fmt.Fprintf(w, "live release: %s", rec.Version)
	if rec.Prefix != "" {
		fmt.Fprintf(w, " under %s", rec.Prefix)
	}
	if !rec.DeployedAt.IsZero() {
		fmt.Fprintf(w, ", deployed %s", rec.DeployedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}

package deploy

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/static-deployer/internal/deploy"

type Options struct {
	Store ObjectStore
	CDN   CDN
	Files FileResolver

	// Recorder is optional. When set, the live version is recorded after a
	// successful switch; a recording failure is logged and does not fail the run.
	Recorder ReleaseRecorder

	Logger   log.Logger
	Observer Observer
	Tracer   trace.Tracer

	// upload pool settings, see UploadCoordinatorOptions
	Workers    int
	UploadRate float64
}

// Orchestrator runs deploy and rollback workflows. It is safe to reuse across
// runs but takes no locks: two runs against the same origin race at the CDN,
// where the concurrency token makes the loser fail.
type Orchestrator struct {
	guard    *VersionGuard
	uploads  *UploadCoordinator
	switcher *Switchover
	files    FileResolver
	recorder ReleaseRecorder
	logger   log.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, xerrors.New("deploy: Store is required")
	}
	if opts.CDN == nil {
		return nil, xerrors.New("deploy: CDN is required")
	}
	logger := log.OrNop(opts.Logger)
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		guard: NewVersionGuard(opts.Store, logger),
		uploads: NewUploadCoordinator(UploadCoordinatorOptions{
			Store:     opts.Store,
			Logger:    logger,
			Workers:   opts.Workers,
			RateLimit: opts.UploadRate,
			Observer:  observer,
		}),
		switcher: NewSwitchover(opts.CDN, logger),
		files:    opts.Files,
		recorder: opts.Recorder,
		logger:   logger,
		observer: observer,
		tracer:   tracer,
	}, nil
}

// Report summarizes one run. Fields are filled as stages complete, so a failed
// run reports how far it got.
type Report struct {
	Workflow Workflow
	Version  string
	Prefix   string
	DryRun   bool
	Files    []FileMapping
	Uploads  *UploadReport
	Switch   *SwitchResult
	Duration time.Duration
}

// Deploy uploads spec's content under a fresh version prefix and switches the
// CDN to it. The returned error is nil on success, otherwise a *StageError.
func (o *Orchestrator) Deploy(ctx context.Context, spec DeploySpec, dryRun bool) (*Report, error) {
	r := &run{o: o, wf: WorkflowDeploy, report: &Report{Workflow: WorkflowDeploy, Version: spec.Version, DryRun: dryRun}}
	return r.exec(ctx, spec.Storage, spec.CDN, func(ctx context.Context) error {
		if err := r.stage(ctx, StageComputePrefix, func(ctx context.Context) error {
			if err := spec.Validate(); err != nil {
				return err
			}
			return r.computePrefix(spec.Storage, spec.Version)
		}); err != nil {
			return err
		}
		if err := r.stage(ctx, StageGuard, func(ctx context.Context) error {
			return o.guard.RequireAbsent(ctx, spec.Storage.Name, r.report.Prefix, spec.Version)
		}); err != nil {
			return err
		}
		if err := r.stage(ctx, StageResolve, func(ctx context.Context) error {
			return r.resolve(ctx, spec.Content)
		}); err != nil {
			return err
		}
		if err := r.stage(ctx, StageUpload, func(ctx context.Context) error {
			rep := o.uploads.UploadAll(ctx, spec.Content.RootDir, spec.Storage.Name, r.report.Files, spec.Upload, dryRun)
			r.report.Uploads = rep
			if !rep.OK() {
				return xerrors.Markf(ErrUploadFailed, "%d of %d files failed to upload to s3://%s/%s",
					len(rep.Failed()), len(rep.Results), spec.Storage.Name, dirPrefix(r.report.Prefix))
			}
			return nil
		}); err != nil {
			return err
		}
		return r.switchAndRecord(ctx, spec.CDN, spec.Version, dryRun)
	})
}

// Rollback switches the CDN back to a version that is already in storage.
func (o *Orchestrator) Rollback(ctx context.Context, spec RollbackSpec, dryRun bool) (*Report, error) {
	r := &run{o: o, wf: WorkflowRollback, report: &Report{Workflow: WorkflowRollback, Version: spec.Version, DryRun: dryRun}}
	return r.exec(ctx, spec.Storage, spec.CDN, func(ctx context.Context) error {
		if err := r.stage(ctx, StageComputePrefix, func(ctx context.Context) error {
			if err := spec.Validate(); err != nil {
				return err
			}
			return r.computePrefix(spec.Storage, spec.Version)
		}); err != nil {
			return err
		}
		if err := r.stage(ctx, StageGuard, func(ctx context.Context) error {
			return o.guard.RequirePresent(ctx, spec.Storage.Name, r.report.Prefix, spec.Version)
		}); err != nil {
			return err
		}
		return r.switchAndRecord(ctx, spec.CDN, spec.Version, dryRun)
	})
}

// run carries the per-invocation state of one workflow.
type run struct {
	o      *Orchestrator
	wf     Workflow
	report *Report
	logger log.Logger
}

func (r *run) exec(ctx context.Context, storage StorageLocation, cdn CdnTarget, body func(context.Context) error) (*Report, error) {
	start := time.Now()
	r.logger = r.o.logger.With(
		"workflow", string(r.wf),
		"version", r.report.Version,
		"bucket", storage.Name,
		"distribution_id", cdn.DistributionID,
		"origin", cdn.OriginName,
		"dry_run", r.report.DryRun,
	)

	ctx, span := r.o.tracer.Start(ctx, string(r.wf), trace.WithAttributes(
		attribute.String("deploy.version", r.report.Version),
		attribute.String("deploy.bucket", storage.Name),
		attribute.String("deploy.distribution_id", cdn.DistributionID),
		attribute.Bool("deploy.dry_run", r.report.DryRun),
	))
	defer span.End()

	r.logger.Info(ctx, "run starting", "storage_prefix", storage.Prefix)
	err := body(ctx)
	r.report.Duration = time.Since(start)
	r.o.observer.ObserveRun(r.wf, err == nil, r.report.Duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(FailedStage(err)))
		r.logger.Error(ctx, err, "run failed",
			"stage", string(FailedStage(err)),
			"prefix", r.report.Prefix,
			"duration", r.report.Duration.Round(time.Millisecond).String(),
		)
		return r.report, err
	}
	r.logger.Info(ctx, "run succeeded",
		"prefix", r.report.Prefix,
		"duration", r.report.Duration.Round(time.Millisecond).String(),
	)
	return r.report, nil
}

// stage runs fn as one named step. Cancellation between stages stops the run.
func (r *run) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Workflow: r.wf, Stage: stage, Err: xerrors.Wrap(err, "run cancelled")}
	}

	ctx, span := r.o.tracer.Start(ctx, string(r.wf)+"."+string(stage))
	defer span.End()

	start := time.Now()
	r.logger.Debug(ctx, "stage starting", "stage", string(stage))
	err := fn(ctx)
	d := time.Since(start)
	r.o.observer.ObserveStage(r.wf, stage, err == nil, d)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Workflow: r.wf, Stage: stage, Err: err}
	}
	r.logger.Debug(ctx, "stage finished", "stage", string(stage), "duration", d.Round(time.Millisecond).String())
	return nil
}

func (r *run) computePrefix(storage StorageLocation, version string) error {
	p, err := versionPrefix(storage, version)
	if err != nil {
		return err
	}
	r.report.Prefix = p
	return nil
}

func (r *run) resolve(ctx context.Context, tree ContentTree) error {
	if r.o.files == nil {
		return xerrors.New("deploy: no file resolver configured")
	}
	files, err := r.o.files.Resolve(ctx, tree, r.report.Prefix)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return xerrors.Markf(ErrNoContent, "no files under %s match %v", tree.RootDir, tree.Patterns)
	}
	r.report.Files = files
	r.logger.Info(ctx, "resolved content", "files", len(files), "root_dir", tree.RootDir)
	return nil
}

func (r *run) switchAndRecord(ctx context.Context, target CdnTarget, version string, dryRun bool) error {
	if err := r.stage(ctx, StageSwitchCDN, func(ctx context.Context) error {
		res, err := r.o.switcher.Update(ctx, target, OriginPath(r.report.Prefix), dryRun)
		r.report.Switch = res
		return err
	}); err != nil {
		return err
	}

	if r.o.recorder == nil {
		return nil
	}
	if dryRun {
		r.logger.Info(ctx, "dry run: skipping release record", "prefix", r.report.Prefix)
		return nil
	}
	// the CDN already serves the new version, a failed record must not turn
	// that into a reported failure
	if err := r.stage(ctx, StageRecord, func(ctx context.Context) error {
		return r.o.recorder.Record(ctx, version, r.report.Prefix)
	}); err != nil {
		r.logger.Warn(ctx, "failed to record live release", "error", err.Error())
	}
	return nil
}

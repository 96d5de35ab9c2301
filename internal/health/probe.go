package health

import (
	"context"
	"time"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// Probe nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always returns ok or fails with the given reason
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All is AND: passes only if all probes pass; returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// NamedProbe labels a probe for reporting.
type NamedProbe struct {
	Name  string
	Probe Probe
}

func Named(name string, p Probe) NamedProbe { return NamedProbe{Name: name, Probe: p} }

type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Run checks every probe in order, without short-circuiting. Nil probes are
// skipped. Each outcome is logged at debug on the logger carried by ctx.
func Run(ctx context.Context, ps ...NamedProbe) []Result {
	logger := log.FromContext(ctx)
	out := make([]Result, 0, len(ps))
	for _, p := range ps {
		if p.Probe == nil {
			continue
		}
		start := time.Now()
		err := p.Probe.Check(ctx)
		r := Result{Name: p.Name, Err: err, Duration: time.Since(start)}
		logger.Debug(ctx, "probe checked", "probe", r.Name, "ok", err == nil, "duration", r.Duration)
		out = append(out, r)
	}
	return out
}

// Failed returns the results with a non-nil error.
func Failed(rs []Result) []Result {
	var out []Result
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}

	// json or logfmt
	var h slog.Handler
	if opts.JSONFormat {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}

	// enrich with otel data
	h = otelHandler{next: h}

	baseAttrs := []slog.Attr{
		slog.String("app", opts.App),
	}
	if opts.Version != "" {
		baseAttrs = append(baseAttrs, slog.String("app_version", opts.Version))
	}

	return &slogLogger{
		h:     h,
		attrs: baseAttrs,
	}, nil
}

func (s *slogLogger) With(kv ...any) Logger {
	add := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			add = append(add, slog.Any(k, kv[i+1]))
		}
	}
	// copy-on-write so loggers are safe to share across upload workers
	next := make([]slog.Attr, 0, len(s.attrs)+len(add))
	next = append(next, s.attrs...)
	next = append(next, add...)
	return &slogLogger{
		h:     s.h,
		attrs: next,
	}
}
func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelDebug, msg, kv...)
}
func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelInfo, msg, kv...)
}
func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelWarn, msg, kv...)
}
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := classifyTypes(err)
		kv = append(kv,
			"err", err.Error(),
			"error_type", surface,
			"cause_type", root,
		)
		if chain := errorChain(err); len(chain) > 1 {
			kv = append(kv, "error_chain", chain)
		}
		if fn, file, line, ok := xerrors.PosOf(err); ok {
			kv = append(kv, "error_at", fmt.Sprintf("%s %s:%d", shortFunc(fn), file, line))
		}
	}
	s.logWithPC(ctx, slog.LevelError, msg, kv...)
}

// stderr is unbuffered, Sync exists so main can defer it regardless of backend
func (s *slogLogger) Sync() error { return nil }

// for skipping past log handlers
func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func addKV(r *slog.Record, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		r.AddAttrs(slog.Any(k, kv[i+1]))
	}
}

func (s *slogLogger) logWithPC(ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Respect log level: skip if handler says this level is disabled.
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	const skip = 4
	pc := callerPC(skip)
	r := slog.NewRecord(time.Now(), lvl, msg, pc)
	for _, a := range s.attrs {
		r.AddAttrs(a)
	}

	addKV(&r, kv)
	_ = s.h.Handle(ctx, r)
}

// for otel enrichment
type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}
func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}
func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}
func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

// errorChain flattens err into its distinct messages, outermost first.
// Multi-unwrap errors (errors.Join, xerrors.Mark) contribute each branch.
func errorChain(err error) []string {
	out := make([]string, 0, 8)
	seen := make(map[string]bool)
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		if e == nil || depth > 16 {
			return
		}
		if msg := e.Error(); !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner, depth+1)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap(), depth+1)
		}
	}
	walk(err, 0)
	return out
}

// classifyTypes reports the first non-wrapper type (surface) and the type of
// the innermost error (root) so log queries can group by provider error.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}

	var last error
	var walk func(e error) bool
	walk = func(e error) bool {
		for e != nil {
			last = e
			if surface == "" && !isWrapper(e) {
				surface = fmt.Sprintf("%T", e)
			}
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				// the last branch holds the cause for xerrors.Mark and errors.Join
				branches := u.Unwrap()
				if len(branches) == 0 {
					return true
				}
				return walk(branches[len(branches)-1])
			default:
				e = errors.Unwrap(e)
			}
		}
		return true
	}
	walk(err)

	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	if last != nil {
		root = fmt.Sprintf("%T", last)
	}
	return surface, root
}

func isWrapper(e error) bool {
	if _, ok := e.(interface{ IsXerrorsWrapper() }); ok {
		return true
	}
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() == "fmt" && t.Name() == "wrapError"
}

// shortFunc trims the module path from a fully qualified function name
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		return fn[i+1:]
	}
	return fn
}

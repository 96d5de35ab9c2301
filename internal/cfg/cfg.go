package cfg

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/pathutil"
)

// EnvPrefix is prepended to the upper-cased flag name: --root-dir is
// STATIC_DEPLOYER_ROOT_DIR.
const EnvPrefix = "STATIC_DEPLOYER_"

// UnsetMaxAge marks cache max-age as not configured.
const UnsetMaxAge = -1

type App struct {
	ConfigFile string

	Version string
	DryRun  bool

	RootDir       string
	Patterns      []string
	IncludeHidden bool
	RequireIndex  bool
	MinFiles      int

	BucketName   string
	BucketPrefix string

	DistributionID string
	OriginName     string

	CacheMaxAge int
	Concurrency int
	UploadRate  float64

	WaitTimeout time.Duration
	Timeout     time.Duration

	ReleaseParam string

	LogLevel string
	LogJSON  bool

	EnableTracing bool
	OTLPEndpoint  string
	OTLPInsecure  bool
	TraceSample   float64

	MetricsPushgateway string
}

// Command selects which fields Validate requires.
type Command string

const (
	CommandDeploy   Command = "deploy"
	CommandRollback Command = "rollback"
	CommandCheck    Command = "check"
)

// flagKeys maps each flag to its key in the TOML config file.
var flagKeys = map[string]string{
	"version":             "version",
	"dry-run":             "dry_run",
	"root-dir":            "content.root_dir",
	"patterns":            "content.patterns",
	"include-hidden":      "content.include_hidden",
	"require-index":       "content.require_index",
	"min-files":           "content.min_files",
	"bucket-name":         "storage.name",
	"bucket-prefix":       "storage.prefix",
	"distribution-id":     "cdn.distribution_id",
	"origin-name":         "cdn.origin_name",
	"cache-max-age":       "upload.cache_max_age",
	"concurrency":         "upload.concurrency",
	"upload-rate":         "upload.rate_limit",
	"wait-timeout":        "wait.timeout",
	"timeout":             "wait.run_timeout",
	"release-param":       "release.ssm_param",
	"log-level":           "log.level",
	"log-json":            "log.json",
	"enable-tracing":      "tracing.enabled",
	"otlp-endpoint":       "tracing.endpoint",
	"otlp-insecure":       "tracing.insecure",
	"trace-sample":        "tracing.sample",
	"metrics-pushgateway": "metrics.pushgateway",
}

// Register binds all config fields to the given FlagSet with defaults inline.
// Values are read back through Load, which layers env and the config file.
func Register(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "TOML config file; flags and env override it")

	fs.String("version", "", "version tag to deploy or roll back to")
	fs.String("dry-run", "false", "log every step without changing storage or the CDN (true|1|t|y|yes)")
	fs.Lookup("dry-run").NoOptDefVal = "true"

	fs.String("root-dir", "", "local directory holding the site")
	fs.String("patterns", "**", "comma separated glob patterns relative to root-dir (** is recursive)")
	fs.Bool("include-hidden", false, "also match files and directories starting with a dot")
	fs.Bool("require-index", false, "refuse to deploy unless a non-empty index.html is matched")
	fs.Int("min-files", 0, "refuse to deploy fewer matched files than this (0 disables)")

	fs.String("bucket-name", "", "destination S3 bucket")
	fs.String("bucket-prefix", "{{version}}", "key prefix; {{version}} is replaced by the version")

	fs.String("distribution-id", "", "CloudFront distribution id")
	fs.String("origin-name", "", "origin id inside the distribution to repoint")

	fs.Int("cache-max-age", UnsetMaxAge, "Cache-Control max-age in seconds for uploaded objects (-1 sends no header)")
	fs.Int("concurrency", 0, "parallel uploads (0 = 2 x CPUs)")
	fs.Float64("upload-rate", 0, "max upload starts per second (0 = unlimited)")

	fs.Duration("wait-timeout", 35*time.Minute, "max wait for each CloudFront propagation or invalidation")
	fs.Duration("timeout", 0, "overall run timeout (0 = none)")

	fs.String("release-param", "", "SSM parameter to record the live version in (empty disables)")

	fs.String("log-level", "info", "debug|info|warn|error")
	fs.Bool("log-json", false, "JSON logs (true) or logfmt (false)")

	fs.Bool("enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.String("otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Bool("otlp-insecure", false, "export traces without TLS (local collectors only)")
	fs.Float64("trace-sample", 1.0, "trace sampling ratio (0..1)")

	fs.String("metrics-pushgateway", "", "Prometheus pushgateway URL to push run metrics to (empty disables)")
}

// Load resolves every registered flag with precedence
// cli flag > env var > config file > default.
func Load(fs *pflag.FlagSet, logf func(string, ...any)) (App, error) {
	v := viper.New()
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return App{}, fmt.Errorf("bind flag --%s: %w", name, err)
		}
		if err := v.BindEnv(key, EnvName(name)); err != nil {
			return App{}, fmt.Errorf("bind env %s: %w", EnvName(name), err)
		}
	}

	var c App
	if f := fs.Lookup("config"); f != nil {
		c.ConfigFile = f.Value.String()
	}
	if c.ConfigFile == "" {
		c.ConfigFile = os.Getenv(EnvName("config"))
	}
	if c.ConfigFile != "" {
		v.SetConfigFile(c.ConfigFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return App{}, fmt.Errorf("read config %s: %w", c.ConfigFile, err)
		}
		if logf != nil {
			logf("loaded config file %s", c.ConfigFile)
		}
	}

	var errs []error
	c.Version = strings.TrimSpace(v.GetString("version"))
	dry, err := ParseBool(v.GetString("dry_run"))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid DRY_RUN: %w", err))
	}
	c.DryRun = dry

	c.RootDir = v.GetString("content.root_dir")
	c.Patterns = stringList(v.Get("content.patterns"))
	c.IncludeHidden = v.GetBool("content.include_hidden")
	c.RequireIndex = v.GetBool("content.require_index")
	c.MinFiles = v.GetInt("content.min_files")

	c.BucketName = v.GetString("storage.name")
	c.BucketPrefix = v.GetString("storage.prefix")
	c.DistributionID = v.GetString("cdn.distribution_id")
	c.OriginName = v.GetString("cdn.origin_name")

	c.CacheMaxAge = v.GetInt("upload.cache_max_age")
	c.Concurrency = v.GetInt("upload.concurrency")
	c.UploadRate = v.GetFloat64("upload.rate_limit")

	c.WaitTimeout = v.GetDuration("wait.timeout")
	c.Timeout = v.GetDuration("wait.run_timeout")

	c.ReleaseParam = v.GetString("release.ssm_param")

	c.LogLevel = v.GetString("log.level")
	c.LogJSON = v.GetBool("log.json")

	c.EnableTracing = v.GetBool("tracing.enabled")
	c.OTLPEndpoint = v.GetString("tracing.endpoint")
	c.OTLPInsecure = v.GetBool("tracing.insecure")
	c.TraceSample = v.GetFloat64("tracing.sample")

	c.MetricsPushgateway = v.GetString("metrics.pushgateway")

	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return c, nil
}

// EnvName returns the environment variable read for flag name.
func EnvName(flag string) string {
	return EnvPrefix + strings.ReplaceAll(strings.ToUpper(flag), "-", "_")
}

// ParseBool accepts true/1/t/y/yes and false/0/f/n/no/"" in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t", "y", "yes":
		return true, nil
	case "false", "0", "f", "n", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// CacheMaxAgePtr returns nil when max-age is unset.
func (c App) CacheMaxAgePtr() *int {
	if c.CacheMaxAge == UnsetMaxAge {
		return nil
	}
	n := c.CacheMaxAge
	return &n
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App, cmd Command) error {
	var errs []error

	// Target
	if c.Version == "" {
		errs = append(errs, fmt.Errorf("VERSION is required"))
	}
	if c.BucketName == "" {
		errs = append(errs, fmt.Errorf("BUCKET_NAME is required"))
	}
	if c.DistributionID == "" {
		errs = append(errs, fmt.Errorf("DISTRIBUTION_ID is required"))
	}
	if c.OriginName == "" {
		errs = append(errs, fmt.Errorf("ORIGIN_NAME is required"))
	}

	// Content
	if cmd == CommandDeploy {
		if c.RootDir == "" {
			errs = append(errs, fmt.Errorf("ROOT_DIR is required for deploy"))
		}
		if len(c.Patterns) == 0 {
			errs = append(errs, fmt.Errorf("PATTERNS must name at least one glob for deploy"))
		}
	}
	if c.MinFiles < 0 {
		errs = append(errs, fmt.Errorf("invalid MIN_FILES %d (must be >= 0)", c.MinFiles))
	}

	// Upload
	if c.CacheMaxAge < UnsetMaxAge {
		errs = append(errs, fmt.Errorf("invalid CACHE_MAX_AGE %d (must be >= 0, or -1 to unset)", c.CacheMaxAge))
	}
	if c.Concurrency < 0 || c.Concurrency > 1024 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 0..1024)", c.Concurrency))
	}
	if c.UploadRate < 0 {
		errs = append(errs, fmt.Errorf("invalid UPLOAD_RATE %g (must be >= 0)", c.UploadRate))
	}

	// Waits
	if c.WaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid WAIT_TIMEOUT %s (must be > 0)", c.WaitTimeout))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid TIMEOUT %s (must be >= 0)", c.Timeout))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pushgateway (URL and scheme)
	if c.MetricsPushgateway != "" {
		if u, err := url.Parse(c.MetricsPushgateway); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("METRICS_PUSHGATEWAY must be a URL (got %q)", c.MetricsPushgateway))
		}
	}

	// SSM parameter names are absolute paths or bare names
	if c.ReleaseParam != "" && strings.ContainsAny(c.ReleaseParam, " \t") {
		errs = append(errs, fmt.Errorf("invalid RELEASE_PARAM %q (no whitespace allowed)", c.ReleaseParam))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// stringList accepts a TOML array, a comma separated string, or a flag value.
// Commas inside glob {a,b} alternation do not separate.
func stringList(raw any) []string {
	var parts []string
	switch x := raw.(type) {
	case nil:
		return nil
	case string:
		return pathutil.SplitGlobList(x)
	case []string:
		parts = x
	case []any:
		for _, e := range x {
			parts = append(parts, fmt.Sprint(e))
		}
	default:
		return pathutil.SplitGlobList(fmt.Sprint(x))
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}


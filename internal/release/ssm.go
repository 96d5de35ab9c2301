// Package release records which version a distribution serves in an SSM
// parameter, so other tooling can read the live release without asking the
// CDN.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// ErrNotRecorded is returned by Current when the parameter does not exist
// yet, before the first recorded deploy.
var ErrNotRecorded = errors.New("no release recorded")

// API is the subset of the SSM client used here.
type API interface {
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Options struct {
	Logger log.Logger

	// Param is the SSM parameter name, e.g. /static-deployer/www/live.
	Param string

	// Distribution is stored alongside the version for reference.
	Distribution string
}

// Record is the parameter value, stored as JSON.
type Record struct {
	Version      string    `json:"version"`
	Prefix       string    `json:"prefix"`
	Distribution string    `json:"distribution_id,omitempty"`
	DeployedAt   time.Time `json:"deployed_at"`
}

type Recorder struct {
	api    API
	opts   Options
	logger log.Logger
	now    func() time.Time
}

var _ deploy.ReleaseRecorder = (*Recorder)(nil)

func New(awsCfg aws.Config, opts Options) (*Recorder, error) {
	return NewWithAPI(ssm.NewFromConfig(awsCfg), opts)
}

func NewWithAPI(api API, opts Options) (*Recorder, error) {
	if strings.TrimSpace(opts.Param) == "" {
		return nil, xerrors.New("release: Param is required")
	}
	return &Recorder{api: api, opts: opts, logger: log.OrNop(opts.Logger), now: time.Now}, nil
}

// Record overwrites the parameter with version and prefix.
func (r *Recorder) Record(ctx context.Context, version, prefix string) error {
	rec := Record{
		Version:      version,
		Prefix:       prefix,
		Distribution: r.opts.Distribution,
		DeployedAt:   r.now().UTC().Truncate(time.Second),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(err, "encode release record")
	}

	_, err = r.api.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(r.opts.Param),
		Value:     aws.String(string(b)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put SSM parameter %s", r.opts.Param)
	}
	r.logger.Info(ctx, "recorded live release", "param", r.opts.Param, "version", version, "prefix", prefix)
	return nil
}

// Current reads the recorded release. A bare, non-JSON value is read as the
// version. A missing parameter is ErrNotRecorded.
func (r *Recorder) Current(ctx context.Context) (*Record, error) {
	out, err := r.api.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(r.opts.Param)})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) || xerrors.APICode(err) == "ParameterNotFound" {
			return nil, xerrors.Mark(xerrors.Wrapf(err, "get SSM parameter %s", r.opts.Param), ErrNotRecorded)
		}
		return nil, xerrors.Wrapf(err, "get SSM parameter %s%s", r.opts.Param, xerrors.CodeSuffix(err))
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", r.opts.Param)
	}

	raw := strings.TrimSpace(*out.Parameter.Value)
	if raw == "" {
		return nil, xerrors.Newf("SSM parameter %s is empty", r.opts.Param)
	}
	var rec Record
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, xerrors.Wrapf(err, "decode SSM parameter %s", r.opts.Param)
		}
		return &rec, nil
	}
	return &Record{Version: raw}, nil
}

package deploy

import (
	"context"
	"io"
	"time"
)

// ObjectMeta is the metadata attached to an uploaded object. Empty fields are
// not sent.
type ObjectMeta struct {
	CacheControl    string
	ContentType     string
	// ContentEncoding is sent as its own Content-Encoding header, not
	// appended to ContentType.
	ContentEncoding string
	ContentLength   int64
}

// ObjectStore is the slice of the object storage API the core needs. The
// implementation owns transport level retry.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta ObjectMeta) error
	// ListObjects returns at most maxKeys keys starting with prefix.
	ListObjects(ctx context.Context, bucket, prefix string, maxKeys int32) ([]string, error)
}

// ConcurrencyToken is the opaque version tag returned with a distribution
// config and required to update it.
type ConcurrencyToken string

type Origin struct {
	ID   string
	Path string
}

// DistributionConfig is the provider-neutral view of a distribution. Native
// carries the provider's full config so an update round-trips every field the
// core does not model.
type DistributionConfig struct {
	Origins []Origin
	Native  any
}

func (c DistributionConfig) clone() DistributionConfig {
	out := c
	out.Origins = append([]Origin(nil), c.Origins...)
	return out
}

type OperationKind string

const (
	OpDistributionDeploy OperationKind = "distribution_deploy"
	OpInvalidation       OperationKind = "invalidation"
)

// Operation is a handle to a provider side change that completes
// asynchronously. Await it to block until it is visible everywhere.
type Operation struct {
	Kind           OperationKind
	DistributionID string
	ID             string
}

// CDN is the slice of the CDN management API the core needs.
//
// UpdateDistributionConfig is a compare-and-swap: it fails with
// ErrConcurrentModification when token no longer matches the distribution.
// Await blocks until op completes, the provider gives up, or ctx is done.
type CDN interface {
	GetDistributionConfig(ctx context.Context, distributionID string) (DistributionConfig, ConcurrencyToken, error)
	UpdateDistributionConfig(ctx context.Context, distributionID string, cfg DistributionConfig, token ConcurrencyToken) (ConcurrencyToken, Operation, error)
	CreateInvalidation(ctx context.Context, distributionID string, paths []string, callerReference string) (Operation, error)
	Await(ctx context.Context, op Operation) error
}

// FileResolver enumerates a content tree and maps it under prefix.
type FileResolver interface {
	Resolve(ctx context.Context, tree ContentTree, prefix string) ([]FileMapping, error)
}

// ReleaseRecorder stores which version is live after a successful switch.
type ReleaseRecorder interface {
	Record(ctx context.Context, version, prefix string) error
}

// Observer receives run metrics. Implementations must be safe for concurrent
// use; ObserveUpload is called from upload workers.
type Observer interface {
	ObserveUpload(ok bool, bytes int64, d time.Duration)
	ObserveStage(wf Workflow, stage Stage, ok bool, d time.Duration)
	ObserveRun(wf Workflow, ok bool, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveUpload(bool, int64, time.Duration)           {}
func (nopObserver) ObserveStage(Workflow, Stage, bool, time.Duration) {}
func (nopObserver) ObserveRun(Workflow, bool, time.Duration)          {}

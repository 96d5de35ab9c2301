package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/pathutil"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// FileMapping pairs a path relative to the content root with its object key.
type FileMapping struct {
	LocalPath  string
	RemotePath string
}

// StorageLocation is a bucket plus a key prefix template. Prefix never starts
// with "/"; build values with NewStorageLocation.
type StorageLocation struct {
	Name   string
	Prefix string
}

// NewStorageLocation strips all leading slashes from prefix, warning when it
// does.
func NewStorageLocation(ctx context.Context, logger log.Logger, name, prefix string) StorageLocation {
	if strings.HasPrefix(prefix, "/") {
		log.OrNop(logger).Warn(ctx, "storage prefix starts with a slash, stripping it",
			"bucket", name,
			"prefix", prefix,
		)
		prefix = strings.TrimLeft(prefix, "/")
	}
	return StorageLocation{Name: name, Prefix: prefix}
}

func (l StorageLocation) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Name, l.Prefix)
}

// CdnTarget identifies a distribution and the origin inside it to repoint.
type CdnTarget struct {
	DistributionID string
	OriginName     string
}

// UploadOptions controls object metadata. A nil CacheMaxAge sets no
// Cache-Control header.
type UploadOptions struct {
	CacheMaxAge *int
}

// CacheControl returns the header value for the configured max-age, or "".
func (o UploadOptions) CacheControl() string {
	if o.CacheMaxAge == nil {
		return ""
	}
	return fmt.Sprintf("public, max-age=%d", *o.CacheMaxAge)
}

// ContentTree describes the local files of a deploy.
type ContentTree struct {
	RootDir  string
	Patterns []string
}

type DeploySpec struct {
	Content ContentTree
	Storage StorageLocation
	CDN     CdnTarget
	Version string
	Upload  UploadOptions
}

type RollbackSpec struct {
	Storage StorageLocation
	CDN     CdnTarget
	Version string
}

var versionToken = regexp.MustCompile(`{{\s*version\s*}}`)

// ComputePrefix substitutes version into every {{version}} token of template.
// A template without the token (including an empty one) yields version.
func ComputePrefix(template, version string) string {
	if !versionToken.MatchString(template) {
		return version
	}
	return versionToken.ReplaceAllLiteralString(template, version)
}

// StaticPrefix returns the part of template that precedes the first
// {{version}} token: the key prefix every version shares. A template without
// the token shares nothing.
func StaticPrefix(template string) string {
	loc := versionToken.FindStringIndex(template)
	if loc == nil {
		return ""
	}
	return template[:loc[0]]
}

// OriginPath turns a storage prefix into a CDN origin path: one leading "/",
// no trailing "/".
func OriginPath(prefix string) string {
	return "/" + strings.Trim(prefix, "/")
}

// dirPrefix forces p to end with "/" so a probe cannot match "v10" for "v1".
func dirPrefix(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func validateCommon(storage StorageLocation, cdn CdnTarget, version string) error {
	var missing []string
	if strings.TrimSpace(version) == "" {
		missing = append(missing, "version")
	}
	if storage.Name == "" {
		missing = append(missing, "bucket name")
	}
	if cdn.DistributionID == "" {
		missing = append(missing, "distribution id")
	}
	if cdn.OriginName == "" {
		missing = append(missing, "origin name")
	}
	if len(missing) > 0 {
		return xerrors.Markf(ErrInvalidSpec, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// versionPrefix computes and checks the remote prefix for version.
func versionPrefix(storage StorageLocation, version string) (string, error) {
	p := ComputePrefix(storage.Prefix, version)
	if strings.Trim(p, "/") == "" {
		return "", xerrors.Markf(ErrInvalidSpec, "version %q yields an empty prefix", version)
	}
	if strings.HasPrefix(p, "/") || pathutil.HasDotSegments(p) {
		return "", xerrors.Markf(ErrInvalidSpec, "version %q yields unsafe prefix %q", version, p)
	}
	return p, nil
}

func (s DeploySpec) Validate() error {
	if err := validateCommon(s.Storage, s.CDN, s.Version); err != nil {
		return err
	}
	if s.Content.RootDir == "" {
		return xerrors.Markf(ErrInvalidSpec, "missing content root dir")
	}
	if len(s.Content.Patterns) == 0 {
		return xerrors.Markf(ErrInvalidSpec, "missing content patterns")
	}
	if s.Upload.CacheMaxAge != nil && *s.Upload.CacheMaxAge < 0 {
		return xerrors.Markf(ErrInvalidSpec, "cache max-age must be non-negative, got %d", *s.Upload.CacheMaxAge)
	}
	return nil
}

func (s RollbackSpec) Validate() error {
	return validateCommon(s.Storage, s.CDN, s.Version)
}

package deploy

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestComputePrefix(t *testing.T) {
	tests := []struct {
		template, version, want string
	}{
		{"{{version}}", "v1", "v1"},
		{"site/{{version}}", "v1", "site/v1"},
		{"site/{{ version }}/assets", "v2", "site/v2/assets"},
		{"site/{{  version}}", "v3", "site/v3"},
		{"{{version}}/{{version}}", "v4", "v4/v4"},
		{"site", "v1", "v1"},
		{"", "v1", "v1"},
		{"site/{{other}}", "v1", "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got := ComputePrefix(tt.template, tt.version)
			if got != tt.want {
				t.Fatalf("ComputePrefix(%q, %q) = %q, want %q", tt.template, tt.version, got, tt.want)
			}
			if again := ComputePrefix(tt.template, tt.version); again != got {
				t.Fatalf("second call = %q, first = %q", again, got)
			}
		})
	}
}

func TestComputePrefix_LiteralVersion(t *testing.T) {
	// replacement text is not expanded
	got := ComputePrefix("site/{{version}}", "$1")
	if got != "site/$1" {
		t.Fatalf("got %q", got)
	}
}

func TestStaticPrefix(t *testing.T) {
	tests := map[string]string{
		"{{version}}":               "",
		"site/{{version}}":          "site/",
		"site/{{ version }}/x":      "site/",
		"a/{{version}}/{{version}}": "a/",
		"site":                      "",
		"":                          "",
	}
	for template, want := range tests {
		if got := StaticPrefix(template); got != want {
			t.Errorf("StaticPrefix(%q) = %q, want %q", template, got, want)
		}
	}
}

func TestOriginPath(t *testing.T) {
	tests := map[string]string{
		"v1":       "/v1",
		"/v1":      "/v1",
		"site/v1/": "/site/v1",
		"//v1":     "/v1",
	}
	for in, want := range tests {
		if got := OriginPath(in); got != want {
			t.Errorf("OriginPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDirPrefix(t *testing.T) {
	if got := dirPrefix("v1"); got != "v1/" {
		t.Fatalf("got %q", got)
	}
	if got := dirPrefix("v1/"); got != "v1/" {
		t.Fatalf("got %q", got)
	}
}

func TestNewStorageLocation_StripsLeadingSlash(t *testing.T) {
	logger := newRecLogger()
	loc := NewStorageLocation(context.Background(), logger, "bucket", "/foo")
	if loc.Prefix != "foo" {
		t.Fatalf("prefix = %q, want foo", loc.Prefix)
	}
	if n := len(logger.find("warn", "storage prefix starts with a slash, stripping it")); n != 1 {
		t.Fatalf("warnings = %d, want 1", n)
	}

	if loc := NewStorageLocation(context.Background(), nil, "bucket", "//site/{{version}}"); loc.Prefix != "site/{{version}}" {
		t.Fatalf("prefix = %q, want every leading slash stripped", loc.Prefix)
	}
}

func TestNewStorageLocation_NoWarningWhenClean(t *testing.T) {
	logger := newRecLogger()
	loc := NewStorageLocation(context.Background(), logger, "bucket", "foo/{{version}}")
	if loc.Prefix != "foo/{{version}}" {
		t.Fatalf("prefix = %q", loc.Prefix)
	}
	if n := len(logger.find("warn", "storage prefix starts with a slash, stripping it")); n != 0 {
		t.Fatalf("unexpected warning")
	}
	if loc.String() != "s3://bucket/foo/{{version}}" {
		t.Fatalf("String() = %q", loc.String())
	}
}

func TestNewStorageLocation_NilLogger(t *testing.T) {
	loc := NewStorageLocation(context.Background(), nil, "b", "//x")
	if loc.Prefix != "x" {
		t.Fatalf("prefix = %q", loc.Prefix)
	}
}

func TestCacheControl(t *testing.T) {
	if got := (UploadOptions{}).CacheControl(); got != "" {
		t.Fatalf("unset max-age: got %q", got)
	}
	if got := (UploadOptions{CacheMaxAge: intPtr(0)}).CacheControl(); got != "public, max-age=0" {
		t.Fatalf("got %q", got)
	}
	if got := (UploadOptions{CacheMaxAge: intPtr(3600)}).CacheControl(); got != "public, max-age=3600" {
		t.Fatalf("got %q", got)
	}
}

func TestVersionPrefix_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		version string
	}{
		{"empty version", "{{version}}", ""},
		{"only slashes", "{{version}}", "/"},
		{"dot dot", "site/{{version}}", ".."},
		{"leading slash via version", "{{version}}/x", "/abs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := versionPrefix(StorageLocation{Name: "b", Prefix: tt.prefix}, tt.version)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("err = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func validDeploySpec() DeploySpec {
	return DeploySpec{
		Content: ContentTree{RootDir: os.TempDir(), Patterns: []string{"**"}},
		Storage: StorageLocation{Name: "bucket", Prefix: "{{version}}"},
		CDN:     CdnTarget{DistributionID: "E1", OriginName: "site"},
		Version: "v1",
	}
}

func TestDeploySpec_Validate(t *testing.T) {
	if err := validDeploySpec().Validate(); err != nil {
		t.Fatalf("valid spec: %v", err)
	}

	tests := map[string]func(*DeploySpec){
		"no version":       func(s *DeploySpec) { s.Version = " " },
		"no bucket":        func(s *DeploySpec) { s.Storage.Name = "" },
		"no distribution":  func(s *DeploySpec) { s.CDN.DistributionID = "" },
		"no origin":        func(s *DeploySpec) { s.CDN.OriginName = "" },
		"no root dir":      func(s *DeploySpec) { s.Content.RootDir = "" },
		"no patterns":      func(s *DeploySpec) { s.Content.Patterns = nil },
		"negative max age": func(s *DeploySpec) { s.Upload.CacheMaxAge = intPtr(-1) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := validDeploySpec()
			mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("err = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestRollbackSpec_Validate(t *testing.T) {
	s := RollbackSpec{
		Storage: StorageLocation{Name: "bucket"},
		CDN:     CdnTarget{DistributionID: "E1", OriginName: "site"},
		Version: "v1",
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid spec: %v", err)
	}
	s.CDN = CdnTarget{}
	err := s.Validate()
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("err = %v", err)
	}
	if want := "missing distribution id, origin name"; !strings.Contains(err.Error(), want) {
		t.Fatalf("err %q should list %q", err, want)
	}
}

func TestStageError(t *testing.T) {
	base := errors.New("boom")
	err := error(&StageError{Workflow: WorkflowDeploy, Stage: StageUpload, Err: base})
	if err.Error() != "deploy failed at upload: boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("StageError should unwrap to its cause")
	}
	if FailedStage(err) != StageUpload {
		t.Fatalf("FailedStage = %q", FailedStage(err))
	}
	if FailedStage(base) != "" {
		t.Fatal("plain errors have no stage")
	}
}

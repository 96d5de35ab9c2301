package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/static-deployer/internal/cfg"
	"github.com/keithlinneman/static-deployer/internal/content"
	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/release"
)

func TestVersionCommand(t *testing.T) {
	var out, errb bytes.Buffer
	if code := execute([]string{"version"}, &out, &errb); code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errb.String())
	}
	if !strings.HasPrefix(out.String(), "static-deployer ") {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	var out, errb bytes.Buffer
	if code := execute([]string{"publish"}, &out, &errb); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}

func TestDeploy_ConfigErrorExitsNonZero(t *testing.T) {
	var out, errb bytes.Buffer
	code := execute([]string{"deploy", "--bucket-name=b"}, &out, &errb)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	for _, want := range []string{"config error", "VERSION is required", "ROOT_DIR is required"} {
		if !strings.Contains(errb.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, errb.String())
		}
	}
	if out.Len() != 0 {
		t.Errorf("stdout should stay empty on failure, got %q", out.String())
	}
}

func TestRollback_AWSConfigError(t *testing.T) {
	orig := loadAWSConfig
	loadAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}
	t.Cleanup(func() { loadAWSConfig = orig })

	var out, errb bytes.Buffer
	code := execute([]string{
		"rollback",
		"--version=v1",
		"--bucket-name=b",
		"--distribution-id=E1",
		"--origin-name=site",
	}, &out, &errb)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(errb.String(), "load AWS config: no credentials") {
		t.Fatalf("stderr = %s", errb.String())
	}
	// the logger was up before the failure and tagged the run
	if !strings.Contains(errb.String(), "run_id=") {
		t.Fatalf("stderr missing run_id:\n%s", errb.String())
	}
}

func TestAWSLoadOptions(t *testing.T) {
	if opts := awsLoadOptions(false); len(opts) != 0 {
		t.Fatalf("tracing off: %d options, want 0", len(opts))
	}
	opts := awsLoadOptions(true)
	if len(opts) != 1 {
		t.Fatalf("tracing on: %d options, want 1", len(opts))
	}
	var lo config.LoadOptions
	if err := opts[0](&lo); err != nil {
		t.Fatal(err)
	}
	if lo.HTTPClient == nil {
		t.Fatal("HTTPClient not set")
	}
}

func TestPrintReport(t *testing.T) {
	tests := []struct {
		name string
		rep  *deploy.Report
		want []string
	}{
		{
			name: "deploy",
			rep: &deploy.Report{
				Workflow: deploy.WorkflowDeploy,
				Version:  "v2",
				Prefix:   "site/v2",
				Files:    make([]deploy.FileMapping, 3),
				Uploads: &deploy.UploadReport{Results: []deploy.FileResult{
					{Bytes: 1024}, {Bytes: 1024}, {Bytes: 2048},
				}},
				Switch: &deploy.SwitchResult{
					OriginName:     "site",
					PreviousPath:   "/site/v1",
					OriginPath:     "/site/v2",
					InvalidationID: "I123",
				},
				Duration: 1500 * time.Millisecond,
			},
			want: []string{"deployed v2: 3 files (4.0 KiB) under site/v2", `origin site path "/site/v1" -> "/site/v2"`, "invalidation I123", "in 1.5s"},
		},
		{
			name: "dry run rollback",
			rep: &deploy.Report{
				Workflow: deploy.WorkflowRollback,
				Version:  "v1",
				Prefix:   "v1",
				DryRun:   true,
				Switch:   &deploy.SwitchResult{OriginName: "site", OriginPath: "/v1", InvalidationID: deploy.DryRunInvalidationID},
			},
			want: []string{"dry run: rolled back to v1 under v1", "invalidation fake-invalidation-id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b bytes.Buffer
			printReport(&b, tt.rep)
			for _, w := range tt.want {
				if !strings.Contains(b.String(), w) {
					t.Errorf("output %q missing %q", b.String(), w)
				}
			}
		})
	}

	var b bytes.Buffer
	printReport(&b, nil)
	if b.Len() != 0 {
		t.Fatalf("nil report printed %q", b.String())
	}
}

func TestContentProbe(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	newApp := func(rootDir string, patterns ...string) *app {
		return &app{
			conf:  cfg.App{RootDir: rootDir, Patterns: patterns},
			files: content.NewResolver(content.ResolverOptions{}),
		}
	}

	tests := []struct {
		name    string
		a       *app
		wantErr string
	}{
		{"ok", newApp(root, "**/*.{html,css}"), ""},
		{"no root dir", newApp(""), "ROOT_DIR not set"},
		{"missing root dir", newApp(filepath.Join(root, "nope"), "**"), "nope"},
		{"nothing matches", newApp(root, "*.txt"), "no files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.contentProbe("v1").Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPrintLiveRelease(t *testing.T) {
	tests := []struct {
		name string
		rec  *release.Record
		want string
	}{
		{"none", nil, "live release: none recorded\n"},
		{"bare version", &release.Record{Version: "v7"}, "live release: v7\n"},
		{
			"full record",
			&release.Record{Version: "v2", Prefix: "site/v2", DeployedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
			"live release: v2 under site/v2, deployed 2024-05-01T12:00:00Z\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b bytes.Buffer
			printLiveRelease(&b, tt.rec)
			if b.String() != tt.want {
				t.Fatalf("output = %q, want %q", b.String(), tt.want)
			}
		})
	}
}

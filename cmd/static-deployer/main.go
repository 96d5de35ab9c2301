package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/static-deployer/internal/cfg"
	v "github.com/keithlinneman/static-deployer/internal/version"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit status: 0 when the
// command succeeded, 1 otherwise.
func execute(args []string, stdout, stderr io.Writer) int {
	// SIGINT/SIGTERM cancel the run; in-flight uploads finish or fail and
	// no further stage starts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", v.AppName, err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   v.AppName,
		Short: "Upload a versioned static site to S3 and switch a CloudFront origin to it",
		Long: `static-deployer uploads a local content tree under a fresh, version named
S3 prefix, repoints one CloudFront origin at that prefix and invalidates the
cache. rollback repoints the origin at a version that is already uploaded.

Every setting can come from a flag, a STATIC_DEPLOYER_* environment variable
or a TOML file given with --config, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	cfg.Register(root.PersistentFlags())

	root.AddCommand(
		newDeployCmd(stdout, stderr),
		newRollbackCmd(stdout, stderr),
		newCheckCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

func newDeployCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Upload --root-dir under a new version prefix and switch the CDN to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd, cfg.CommandDeploy, stdout, stderr)
		},
	}
}

func newRollbackCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Switch the CDN back to an already uploaded --version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd, cfg.CommandRollback, stdout, stderr)
		},
	}
}

func newCheckCmd(stdout, stderr io.Writer) *cobra.Command {
	var forRollback bool
	c := &cobra.Command{
		Use:   "check",
		Short: "Run read-only preflight checks against the bucket, distribution and content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, forRollback, stdout, stderr)
		},
	}
	c.Flags().BoolVar(&forRollback, "rollback", false, "check that --version exists instead of that it is free")
	return c
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(stdout, v.Get().String())
		},
	}
}

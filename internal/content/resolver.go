package content

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/pathutil"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

type ResolverOptions struct {
	Logger log.Logger

	// IncludeHidden also matches files and directories whose name starts
	// with ".".
	IncludeHidden bool

	// Validation runs on the matched set before it is returned.
	Validation ValidationOptions
}

// Resolver implements deploy.FileResolver over the local filesystem.
type Resolver struct {
	opts   ResolverOptions
	logger log.Logger
}

var _ deploy.FileResolver = (*Resolver)(nil)

func NewResolver(opts ResolverOptions) *Resolver {
	return &Resolver{opts: opts, logger: log.OrNop(opts.Logger)}
}

// Resolve lists the files under tree.RootDir matching tree.Patterns and maps
// each to prefix + "/" + its slash separated relative path. A file matched by
// several patterns is returned once, with a warning.
func (r *Resolver) Resolve(ctx context.Context, tree deploy.ContentTree, prefix string) ([]deploy.FileMapping, error) {
	files, err := r.Find(ctx, tree.RootDir, tree.Patterns)
	if err != nil {
		return nil, err
	}
	if err := Validate(tree.RootDir, files, r.opts.Validation); err != nil {
		return nil, err
	}
	return MapToRemote(prefix, files), nil
}

// Find returns the sorted relative paths of regular files under root that
// match at least one pattern.
func (r *Resolver) Find(ctx context.Context, root string, patterns []string) ([]string, error) {
	raw := SplitPatterns(patterns...)
	if len(raw) == 0 {
		return nil, xerrors.Mark(xerrors.New("no patterns given"), deploy.ErrInvalidSpec)
	}
	compiled := make([]pattern, 0, len(raw))
	for _, p := range raw {
		c, err := compilePattern(p)
		if err != nil {
			return nil, xerrors.Mark(err, deploy.ErrInvalidSpec)
		}
		compiled = append(compiled, c)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, xerrors.Mark(xerrors.Wrapf(err, "stat root dir %s", root), deploy.ErrLocalIO)
	}
	if !info.IsDir() {
		return nil, xerrors.Markf(deploy.ErrLocalIO, "root dir %s is not a directory", root)
	}

	r.logger.Debug(ctx, "scanning content tree", "root_dir", root, "patterns", raw)

	var (
		files   []string
		matches int
		perPat  = make([]int, len(compiled))
	)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if !r.opts.IncludeHidden && pathutil.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isFile(p, d) {
			r.logger.Debug(ctx, "skipping non-regular file", "path", p)
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		hits := 0
		for i, c := range compiled {
			if c.Match(rel) {
				perPat[i]++
				hits++
			}
		}
		if hits == 0 {
			return nil
		}
		matches += hits
		if hits > 1 {
			r.logger.Debug(ctx, "file matched by several patterns", "path", rel, "patterns", hits)
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(err, "scan content tree")
		}
		return nil, xerrors.Mark(xerrors.Wrapf(err, "scan %s", root), deploy.ErrLocalIO)
	}

	if matches > len(files) {
		r.logger.Warn(ctx, "some files are included more than once, review your patterns",
			"matches", matches,
			"unique_files", len(files),
		)
	}
	for i, n := range perPat {
		if n == 0 {
			r.logger.Warn(ctx, "pattern matched no files", "pattern", compiled[i].raw, "root_dir", root)
		}
	}

	sort.Strings(files)
	return files, nil
}

// MapToRemote joins each relative path onto prefix.
func MapToRemote(prefix string, files []string) []deploy.FileMapping {
	base := strings.Trim(prefix, "/")
	out := make([]deploy.FileMapping, 0, len(files))
	for _, f := range files {
		out = append(out, deploy.FileMapping{
			LocalPath:  f,
			RemotePath: path.Join(base, f),
		})
	}
	return out
}

// isFile reports whether d is a regular file, following symlinks.
func isFile(p string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// checkRel rejects relative paths that would escape the version prefix.
func checkRel(rel string) error {
	if !pathutil.IsSafeRelative(rel) {
		return xerrors.Markf(deploy.ErrLocalIO, "unsafe relative path %q", rel)
	}
	return nil
}

// internal/content/validate.go
//

package content

import (
	"os"
	"path/filepath"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// ValidationOptions controls which checks Validate performs. The zero value
// only checks that paths are safe.
type ValidationOptions struct {
	// MinFiles rejects trees with fewer matched files than this.
	// 0 disables the check.
	MinFiles int

	// RequireIndex fails unless a non-empty index.html was matched at the
	// root of the tree.
	RequireIndex bool
}

// Validate checks a matched file set before anything is uploaded, so a broken
// build never reaches a version prefix.
func Validate(root string, files []string, opts ValidationOptions) error {
	for _, f := range files {
		if err := checkRel(f); err != nil {
			return err
		}
	}

	if opts.MinFiles > 0 && len(files) < opts.MinFiles {
		return xerrors.Markf(deploy.ErrNoContent, "validate: matched %d files, minimum is %d", len(files), opts.MinFiles)
	}

	if opts.RequireIndex {
		if err := checkIndexHTML(root, files); err != nil {
			return err
		}
	}
	return nil
}

// checkIndexHTML verifies index.html was matched and has content.
func checkIndexHTML(root string, files []string) error {
	found := false
	for _, f := range files {
		if f == "index.html" {
			found = true
			break
		}
	}
	if !found {
		return xerrors.Markf(deploy.ErrNoContent, "validate: index.html not matched")
	}

	info, err := os.Stat(filepath.Join(root, "index.html"))
	if err != nil {
		return xerrors.Mark(xerrors.Wrap(err, "validate: cannot stat index.html"), deploy.ErrLocalIO)
	}
	if info.Size() == 0 {
		return xerrors.Markf(deploy.ErrNoContent, "validate: index.html is empty")
	}
	return nil
}

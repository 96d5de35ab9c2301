package content

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/keithlinneman/static-deployer/internal/pathutil"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// SplitPatterns splits comma separated pattern lists, trimming blanks and
// dropping empty entries. Each input may itself hold several patterns; commas
// inside {a,b} alternation do not separate.
func SplitPatterns(in ...string) []string {
	var out []string
	for _, s := range in {
		out = append(out, pathutil.SplitGlobList(s)...)
	}
	return out
}

type pattern struct {
	raw string
	g   []glob.Glob
}

func (p pattern) Match(rel string) bool {
	for _, g := range p.g {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// compilePattern compiles raw with "/" as the separator. A "**/" segment also
// matches zero directories.
func compilePattern(raw string) (pattern, error) {
	clean := strings.TrimPrefix(raw, "./")
	if strings.HasPrefix(clean, "/") {
		return pattern{}, xerrors.Newf("pattern %q must be relative to the root dir", raw)
	}
	if !pathutil.BalancedBraces(clean) {
		return pattern{}, xerrors.Newf("pattern %q has unbalanced braces", raw)
	}

	variants := []string{clean}
	if strings.Contains(clean, "/**/") {
		variants = append(variants, strings.ReplaceAll(clean, "/**/", "/"))
	}
	for _, v := range variants {
		if strings.HasPrefix(v, "**/") {
			variants = append(variants, strings.TrimPrefix(v, "**/"))
		}
	}

	p := pattern{raw: raw}
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return pattern{}, xerrors.Wrapf(err, "compile pattern %q", raw)
		}
		p.g = append(p.g, g)
	}
	return p, nil
}

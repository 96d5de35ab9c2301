// Package content enumerates the local content tree of a deploy.
//
// A [Resolver] walks the root directory, keeps regular files matching any of
// the configured glob patterns, and maps each one to an object key under the
// version prefix. Patterns use "/" separators on every platform: "*" stays
// within one path segment and "**" crosses segments, so "**/*.html" also
// matches "index.html" at the root.
//
// Hidden entries (a path segment starting with ".") are skipped unless
// ResolverOptions.IncludeHidden is set. Results are sorted by relative path.
package content

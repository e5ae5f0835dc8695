// Package assets implements the per-mod asset cache: a mapping from
// normalized relative paths to lazily-loaded values with concurrent
// get-or-load, background refresh, and stale-while-revalidate reads. Each
// loaded mod registers one cache under its name in a process-scoped prefix
// registry, and consumers address assets as "prefix:/relative/path".
//
// Two backing sources are provided: a filesystem directory (optionally
// watched for changes) and an in-memory zip archive snapshot that reloads
// with CRC-based minimal invalidation.
package assets

// Package core keeps a lookup index in step with a periodically replaced
// spreadsheet and answers point queries over it.
//
// The package has no HTTP or storage driver code. It can be used by the web
// server, the tdfcctl CLI, or tests without modification.
//
// # Data flow
//
// A query enters through [Service.Lookup]. The service computes the
// [Signature] of the source file (resolved path, mtime, size, sheet) and
// compares it with the signature stored next to the index. When they differ
// the index is rebuilt before the query is answered:
//
//  1. [IndexBuilder.Stage] opens the workbook and the sheet
//  2. [HeaderLocator] finds the first row naming Imprimé, Code EDI and Libellé
//  3. Each data row is normalized with [Normalize] and written in batches
//  4. The store transaction is committed, making the new entries and the new
//     signature visible together
//
// There is no background poller. A stale index is only discovered, and
// rebuilt, when a query arrives.
//
// # Stores
//
// [IndexStore] is implemented by internal/store/sqlite (embedded, the
// default) and internal/store/postgres. Both keep two tables: meta, holding
// the file_sig key, and entries, ordered by insertion so that single-mode
// lookups return the first matching source row.
//
// # Concurrency
//
// At most one rebuild runs at a time. Stale queries arriving together share
// one rebuild through singleflight and recheck freshness under the rebuild
// lock. Readers keep seeing the previous generation until commit.
//
// # Failures
//
// A missing source is a [ConfigurationError]. A missing sheet or header row is
// a [SchemaError]. Either is remembered for the failing signature: identical
// queries fail fast until the file changes or [Service.Rebuild] is called.
// Malformed rows are skipped and counted in [RebuildSummary].
//
// Technical errors are mapped to user-facing messages with [MapError].
package core

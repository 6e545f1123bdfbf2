// Package dbexec executes single SQL statements against the configured database.
//
// It wraps database/sql with the drivers cronsql ships:
//   - "sqlite" (modernc.org/sqlite)
//   - "postgres" (github.com/lib/pq)
//   - "clickhouse" (github.com/ClickHouse/clickhouse-go/v2)
//
// Each Exec call may be bounded by a per-statement timeout and paced by a
// token-bucket limiter so large batches don't saturate the database.
package dbexec

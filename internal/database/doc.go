// Package database manages the database/sql connection pool behind the
// audit ledger's GORM handle: pool limits, idle recycling, a background
// health check, and structured pool statistics.
package database

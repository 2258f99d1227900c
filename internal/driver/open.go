package driver

import (
	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "modernc.org/sqlite"              // registers "sqlite", pure-Go, no cgo
)

// OpenEmbedded opens the embedded, file-based backend at path (a plain
// filesystem path to the database file; ":memory:" is accepted for
// tests).
func OpenEmbedded(path string, stmtCacheSize int) (*Driver, error) {
	return Open(DialectSQLite, path, stmtCacheSize)
}

// OpenClientServer opens the client/server backend at the given
// go-sql-driver/mysql DSN (e.g. "user:pass@tcp(host:3306)/akonadi").
func OpenClientServer(dsn string, stmtCacheSize int) (*Driver, error) {
	return Open(DialectMySQL, dsn, stmtCacheSize)
}

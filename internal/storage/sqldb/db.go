package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Open connects with the named driver and verifies the connection.
// MySQL migrations additionally need multiStatements=true in the DSN.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d.name == "mysql" {
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// mysqlDSN forces the options the repository relies on: parseTime for
// DATETIME scanning and clientFoundRows so an UPDATE that matches a row
// without changing it still reports one affected row.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

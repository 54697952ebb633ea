// Package wpdb reads and writes a WordPress database directly, for sites where the REST API is
// unavailable or too slow for a bulk run.
package wpdb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DefaultPrefix is the stock WordPress table prefix.
const DefaultPrefix = "wp_"

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Open connects to the WordPress MySQL database described by dsn.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("wpdb: dsn required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("wpdb: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("wpdb: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("wpdb: ping: %w", err)
	}
	return db, nil
}

func validatePrefix(prefix string) (string, error) {
	if prefix == "" {
		return DefaultPrefix, nil
	}
	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("wpdb: invalid table prefix %q", prefix)
	}
	return prefix, nil
}

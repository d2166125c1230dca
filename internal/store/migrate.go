package store

import (
	"database/sql"
	"fmt"
)

// migration is one idempotent schema step. Steps are applied in
// version order and recorded in schema_migrations; re-running against
// an already-migrated database is a no-op.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base tables", createBaseTables},
	{2, "financials period_end primary key", rebuildFinancialsKey},
}

// Migrate brings the schema up to date. A failure here is fatal to
// the caller: the pipeline cannot safely write to an incompatible
// schema.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && m.version <= int(current.Int64) {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.version, m.name, nowUTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: record: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
	}
	return nil
}

func createBaseTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_daily (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS indicators_daily (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			date TEXT NOT NULL,
			sma20 REAL,
			sma50 REAL,
			ema12 REAL,
			ema26 REAL,
			rsi14 REAL,
			macd REAL,
			macd_signal REAL,
			macd_hist REAL,
			bb_mid REAL,
			bb_upper REAL,
			bb_lower REAL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS news_items (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			published_at TEXT,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, url)
		)`,
		`CREATE TABLE IF NOT EXISTS financials (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			period_end TEXT NOT NULL,
			report_type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, report_type, period_end)
		)`,
		`CREATE TABLE IF NOT EXISTS sentiment_items (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			published_at TEXT,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			source TEXT NOT NULL,
			score REAL NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, url)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			report_date TEXT NOT NULL,
			price REAL NOT NULL,
			ai_summary TEXT NOT NULL,
			ai_prediction TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, report_date)
		)`,
		`CREATE TABLE IF NOT EXISTS accuracy (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			report_date TEXT NOT NULL,
			report_price REAL NOT NULL,
			compare_date TEXT NOT NULL,
			compare_price REAL NOT NULL,
			ai_prediction TEXT NOT NULL,
			actual_direction TEXT NOT NULL,
			hit INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, report_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebuildFinancialsKey fixes databases created before period_end was
// part of the financials primary key: the table is rebuilt with the
// composite key, rows copied across (missing period_end becomes the
// empty string), and the new table renamed into place. No-op when the
// key is already correct.
func rebuildFinancialsKey(tx *sql.Tx) error {
	rows, err := tx.Query("PRAGMA table_info(financials)")
	if err != nil {
		return err
	}
	periodEndInKey := false
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			dflt     sql.NullString
			pkSerial int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pkSerial); err != nil {
			rows.Close()
			return err
		}
		if name == "period_end" && pkSerial > 0 {
			periodEndInKey = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if periodEndInKey {
		return nil
	}

	stmts := []string{
		`CREATE TABLE financials_v2 (
			market TEXT NOT NULL,
			symbol TEXT NOT NULL,
			period_end TEXT NOT NULL,
			report_type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (market, symbol, report_type, period_end)
		)`,
		`INSERT OR REPLACE INTO financials_v2
			(market, symbol, period_end, report_type, payload_json, source, created_at)
		 SELECT market, symbol, COALESCE(period_end, ''), report_type, payload_json, source, created_at
		 FROM financials`,
		`DROP TABLE financials`,
		`ALTER TABLE financials_v2 RENAME TO financials`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

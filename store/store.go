// Package store persists strategy configuration, portfolio/holdings
// snapshots, decision-cycle history and trade history to sqlite, the way
// SynapseStrike_teacher_ref/store/strategy.go persists its own Strategy
// rows: raw database/sql statements, JSON-blob config columns, no ORM.
// Credentials embedded in a strategy's config are encrypted at rest with
// NaCl secretbox before they ever reach a column.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"tradeengine/logger"
)

// Store is the sqlite-backed persistence layer for one engine instance,
// covering every strategy it runs.
type Store struct {
	db  *sql.DB
	box *secretBox
	log logger.Logger
}

// Open opens (creating if absent) the sqlite database at path, enables
// foreign-key enforcement (off by default in sqlite, required for the
// CASCADE deletes below), and runs schema migration. encryptionKeyHex is
// a 64-char hex string (32 raw bytes) used to seal embedded venue
// credentials; see secrets.go for the fallback behavior when it's empty.
func Open(path string, encryptionKeyHex string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes internally; a single connection avoids
	// "database is locked" errors under concurrent strategy loops.
	db.SetMaxOpenConns(1)

	box, err := newSecretBox(encryptionKeyHex)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init credential encryption: %w", err)
	}

	s := &Store{db: db, box: box, log: logger.With("component", "store")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates every table this package owns if absent. All
// per-strategy tables FK to strategies(id) ON DELETE CASCADE so deleting
// a strategy sweeps its whole history in one statement.
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			exchange_id TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT '{}',
			credentials_sealed BLOB,
			status TEXT NOT NULL DEFAULT 'stopped',
			stop_reason TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_strategies_updated_at
			AFTER UPDATE ON strategies
			BEGIN
				UPDATE strategies SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,

		`CREATE TABLE IF NOT EXISTS strategy_holdings (
			strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL DEFAULT 0,
			avg_price REAL NOT NULL DEFAULT 0,
			mark_price REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			leverage REAL NOT NULL DEFAULT 0,
			trade_type TEXT NOT NULL DEFAULT '',
			entry_ts INTEGER NOT NULL DEFAULT 0,
			closed_ts INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (strategy_id, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS strategy_portfolio_views (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
			ts_ms INTEGER NOT NULL,
			account_balance REAL NOT NULL DEFAULT 0,
			total_value REAL NOT NULL DEFAULT 0,
			total_unrealized_pnl REAL NOT NULL DEFAULT 0,
			total_realized_pnl REAL NOT NULL DEFAULT 0,
			buying_power REAL NOT NULL DEFAULT 0,
			free_cash REAL NOT NULL DEFAULT 0,
			gross_exposure REAL NOT NULL DEFAULT 0,
			net_exposure REAL NOT NULL DEFAULT 0,
			pnl_pct REAL NOT NULL DEFAULT 0,
			unrealized_pnl_pct REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_portfolio_views_strategy ON strategy_portfolio_views(strategy_id, ts_ms)`,

		`CREATE TABLE IF NOT EXISTS strategy_compose_cycles (
			compose_id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
			ts_ms INTEGER NOT NULL,
			cycle_index INTEGER NOT NULL DEFAULT 0,
			rationale TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compose_cycles_strategy ON strategy_compose_cycles(strategy_id, ts_ms)`,

		`CREATE TABLE IF NOT EXISTS strategy_instructions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
			compose_id TEXT NOT NULL REFERENCES strategy_compose_cycles(compose_id) ON DELETE CASCADE,
			instruction_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instructions_compose ON strategy_instructions(compose_id)`,

		`CREATE TABLE IF NOT EXISTS strategy_details (
			trade_id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
			compose_id TEXT NOT NULL DEFAULT '',
			instruction_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			trade_type TEXT NOT NULL DEFAULT '',
			quantity REAL NOT NULL DEFAULT 0,
			entry_price REAL,
			exit_price REAL,
			notional_entry REAL,
			notional_exit REAL,
			entry_ts INTEGER,
			exit_ts INTEGER,
			trade_ts INTEGER NOT NULL DEFAULT 0,
			holding_ms INTEGER,
			realized_pnl REAL,
			fee_cost REAL,
			leverage REAL,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_details_strategy ON strategy_details(strategy_id, trade_ts)`,

		`CREATE TABLE IF NOT EXISTS strategy_summaries (
			strategy_id TEXT PRIMARY KEY REFERENCES strategies(id) ON DELETE CASCADE,
			realized_pnl REAL NOT NULL DEFAULT 0,
			pnl_pct REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			unrealized_pnl_pct REAL NOT NULL DEFAULT 0,
			total_value REAL NOT NULL DEFAULT 0,
			model_provider TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			last_updated_ts INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS strategy_prompts (
			strategy_id TEXT PRIMARY KEY REFERENCES strategies(id) ON DELETE CASCADE,
			role_definition TEXT NOT NULL DEFAULT '',
			trading_frequency TEXT NOT NULL DEFAULT '',
			entry_standards TEXT NOT NULL DEFAULT '',
			decision_process TEXT NOT NULL DEFAULT '',
			custom_prompt TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// ctxOrBackground lets call sites omit a context the way the teacher's
// store methods take none at all; every method here still threads one
// through to database/sql for cancellation, defaulting to Background.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

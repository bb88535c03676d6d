package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeengine/config"
	"tradeengine/execution"
	"tradeengine/models"
)

// ErrNotFound is returned by Get-style lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// StrategyRecord is one row of the strategies table, decoded back into
// its structured form (config, credentials) for the caller.
type StrategyRecord struct {
	ID          string
	Name        string
	ExchangeID  string
	Config      config.StrategyConfig
	Credentials execution.Credentials
	Status      models.StrategyStatus
	StopReason  models.StopReason
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateStrategy inserts a new strategy row, sealing its credentials.
// Mirrors the teacher's Create: generate-or-accept an id, marshal the
// config blob, insert, done — no read-back.
func (s *Store) CreateStrategy(ctx context.Context, rec StrategyRecord) error {
	cfgBlob, err := rec.Config.Marshal()
	if err != nil {
		return err
	}
	sealed, err := s.box.seal(rec.Credentials)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	if rec.Status == "" {
		rec.Status = models.StatusStopped
	}

	_, err = s.db.ExecContext(ctxOrBackground(ctx), `
		INSERT INTO strategies (id, name, exchange_id, config, credentials_sealed, status, stop_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, rec.ExchangeID, cfgBlob, sealed, string(rec.Status), string(rec.StopReason))
	if err != nil {
		return fmt.Errorf("insert strategy %s: %w", rec.ID, err)
	}
	return nil
}

// GetStrategy loads and decodes one strategy row.
func (s *Store) GetStrategy(ctx context.Context, id string) (StrategyRecord, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `
		SELECT id, name, exchange_id, config, credentials_sealed, status, stop_reason, created_at, updated_at
		FROM strategies WHERE id = ?
	`, id)
	return s.scanStrategy(row)
}

// ListStrategies returns every strategy row, most recently created first.
func (s *Store) ListStrategies(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `
		SELECT id, name, exchange_id, config, credentials_sealed, status, stop_reason, created_at, updated_at
		FROM strategies ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		rec, err := s.scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRunning returns every strategy currently marked running, the set
// an engine process resumes on startup.
func (s *Store) ListRunning(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `
		SELECT id, name, exchange_id, config, credentials_sealed, status, stop_reason, created_at, updated_at
		FROM strategies WHERE status = ? ORDER BY created_at ASC
	`, string(models.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		rec, err := s.scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStrategyConfig overwrites a strategy's config blob.
func (s *Store) UpdateStrategyConfig(ctx context.Context, id string, cfg config.StrategyConfig) error {
	blob, err := cfg.Marshal()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctxOrBackground(ctx), `UPDATE strategies SET config = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("update strategy config %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// UpdateStrategyCredentials reseals and overwrites a strategy's venue
// credentials, e.g. on an API-key rotation.
func (s *Store) UpdateStrategyCredentials(ctx context.Context, id string, creds execution.Credentials) error {
	sealed, err := s.box.seal(creds)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	res, err := s.db.ExecContext(ctxOrBackground(ctx), `UPDATE strategies SET credentials_sealed = ? WHERE id = ?`, sealed, id)
	if err != nil {
		return fmt.Errorf("update strategy credentials %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// DeleteStrategy removes a strategy and, via ON DELETE CASCADE, every
// holding/history/instruction/prompt row that references it.
func (s *Store) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctxOrBackground(ctx), `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete strategy %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// SetStrategyStatus implements supervisor.Store: flips a strategy's
// status (RUNNING to start the supervised loop, STOPPED on finalize).
func (s *Store) SetStrategyStatus(ctx context.Context, strategyID string, status models.StrategyStatus) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `UPDATE strategies SET status = ? WHERE id = ?`, string(status), strategyID)
	if err != nil {
		return fmt.Errorf("set strategy status %s: %w", strategyID, err)
	}
	return nil
}

// RecordStopReason implements supervisor.Store.
func (s *Store) RecordStopReason(ctx context.Context, strategyID string, reason models.StopReason) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `UPDATE strategies SET stop_reason = ? WHERE id = ?`, string(reason), strategyID)
	if err != nil {
		return fmt.Errorf("record stop reason %s: %w", strategyID, err)
	}
	return nil
}

// StrategyRunning implements supervisor.Store: the go-signal a freshly
// created strategy waits on until an operator (or the API layer) flips
// status to running.
func (s *Store) StrategyRunning(ctx context.Context, strategyID string) bool {
	var status string
	err := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT status FROM strategies WHERE id = ?`, strategyID).Scan(&status)
	if err != nil {
		return false
	}
	return models.StrategyStatus(status) == models.StatusRunning
}

// HasInitialState implements supervisor.Store: true once at least one
// portfolio view snapshot has been persisted for the strategy.
func (s *Store) HasInitialState(ctx context.Context, strategyID string) bool {
	var count int
	err := s.db.QueryRowContext(ctxOrBackground(ctx), `SELECT COUNT(1) FROM strategy_portfolio_views WHERE strategy_id = ?`, strategyID).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func (s *Store) scanStrategy(row interface {
	Scan(dest ...any) error
}) (StrategyRecord, error) {
	var (
		rec                  StrategyRecord
		cfgBlob              string
		sealed               []byte
		status               string
		stopReason           string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.ExchangeID, &cfgBlob, &sealed, &status, &stopReason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StrategyRecord{}, ErrNotFound
		}
		return StrategyRecord{}, fmt.Errorf("scan strategy row: %w", err)
	}

	cfg, err := config.ParseStrategyConfig(cfgBlob)
	if err != nil {
		return StrategyRecord{}, err
	}
	creds, err := s.box.open(sealed)
	if err != nil {
		return StrategyRecord{}, fmt.Errorf("open credentials for strategy %s: %w", rec.ID, err)
	}

	rec.Config = cfg
	rec.Credentials = creds
	rec.Status = models.StrategyStatus(status)
	rec.StopReason = models.StopReason(stopReason)
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return rec, nil
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: strategy %s", ErrNotFound, id)
	}
	return nil
}

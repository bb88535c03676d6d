package store

import (
	"context"
	"database/sql"
	"fmt"

	"tradeengine/models"
)

// PersistPortfolioView implements supervisor.Store: appends an
// account-level snapshot row and replaces the strategy's holdings table
// with the view's current positions (holdings are current state, not a
// time series — the portfolio_views table carries the history instead).
func (s *Store) PersistPortfolioView(ctx context.Context, view models.PortfolioView) error {
	c := ctxOrBackground(ctx)
	tx, err := s.db.BeginTx(c, nil)
	if err != nil {
		return fmt.Errorf("begin portfolio view tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(c, `
		INSERT INTO strategy_portfolio_views (
			strategy_id, ts_ms, account_balance, total_value, total_unrealized_pnl,
			total_realized_pnl, buying_power, free_cash, gross_exposure, net_exposure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, view.StrategyID, view.TsMs, view.AccountBalance, view.TotalValue, view.TotalUnrealizedPnL,
		view.TotalRealizedPnL, view.BuyingPower, view.FreeCash, view.GrossExposure, view.NetExposure)
	if err != nil {
		return fmt.Errorf("insert portfolio view: %w", err)
	}

	if _, err := tx.ExecContext(c, `DELETE FROM strategy_holdings WHERE strategy_id = ?`, view.StrategyID); err != nil {
		return fmt.Errorf("clear holdings: %w", err)
	}
	for symbol, pos := range view.Positions {
		if pos == nil || pos.Quantity == 0 {
			continue
		}
		_, err := tx.ExecContext(c, `
			INSERT INTO strategy_holdings (
				strategy_id, symbol, quantity, avg_price, mark_price, unrealized_pnl,
				leverage, trade_type, entry_ts, closed_ts
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, view.StrategyID, symbol, pos.Quantity, pos.AvgPrice, pos.MarkPrice, pos.UnrealizedPnL,
			pos.Leverage, string(pos.TradeType), pos.EntryTsMs, pos.ClosedTsMs)
		if err != nil {
			return fmt.Errorf("insert holding %s: %w", symbol, err)
		}
	}

	return tx.Commit()
}

// GetLatestPortfolioSnapshot returns the most recently persisted view for
// a strategy along with its current holdings, the resume-time read the
// reference controller calls get_latest_portfolio_snapshot for.
func (s *Store) GetLatestPortfolioSnapshot(ctx context.Context, strategyID string) (models.PortfolioView, error) {
	c := ctxOrBackground(ctx)
	row := s.db.QueryRowContext(c, `
		SELECT ts_ms, account_balance, total_value, total_unrealized_pnl, total_realized_pnl,
			buying_power, free_cash, gross_exposure, net_exposure
		FROM strategy_portfolio_views WHERE strategy_id = ? ORDER BY ts_ms DESC LIMIT 1
	`, strategyID)

	var view models.PortfolioView
	view.StrategyID = strategyID
	err := row.Scan(&view.TsMs, &view.AccountBalance, &view.TotalValue, &view.TotalUnrealizedPnL,
		&view.TotalRealizedPnL, &view.BuyingPower, &view.FreeCash, &view.GrossExposure, &view.NetExposure)
	if err != nil {
		if err == sql.ErrNoRows {
			return view, ErrNotFound
		}
		return view, fmt.Errorf("scan latest portfolio view: %w", err)
	}

	rows, err := s.db.QueryContext(c, `
		SELECT symbol, quantity, avg_price, mark_price, unrealized_pnl, leverage, trade_type, entry_ts, closed_ts
		FROM strategy_holdings WHERE strategy_id = ?
	`, strategyID)
	if err != nil {
		return view, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	positions := map[string]*models.PositionSnapshot{}
	for rows.Next() {
		var (
			symbol, tradeType string
			pos               models.PositionSnapshot
		)
		if err := rows.Scan(&symbol, &pos.Quantity, &pos.AvgPrice, &pos.MarkPrice, &pos.UnrealizedPnL,
			&pos.Leverage, &tradeType, &pos.EntryTsMs, &pos.ClosedTsMs); err != nil {
			return view, fmt.Errorf("scan holding row: %w", err)
		}
		pos.Instrument = models.InstrumentRef{Symbol: symbol}
		pos.TradeType = models.TradeType(tradeType)
		positions[symbol] = &pos
	}
	if err := rows.Err(); err != nil {
		return view, err
	}
	view.Positions = positions
	return view, nil
}

// ValueCurve returns the strategy's total_value time series, oldest
// first — the equity/holding price curve an API client plots.
func (s *Store) ValueCurve(ctx context.Context, strategyID string, limit int) ([]models.MetricPoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `
		SELECT ts_ms, total_value FROM (
			SELECT ts_ms, total_value FROM strategy_portfolio_views
			WHERE strategy_id = ? ORDER BY ts_ms DESC LIMIT ?
		) ORDER BY ts_ms ASC
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query value curve for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []models.MetricPoint
	for rows.Next() {
		var p models.MetricPoint
		if err := rows.Scan(&p.TsMs, &p.Value); err != nil {
			return nil, fmt.Errorf("scan value curve point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PersistStrategySummary implements supervisor.Store. Summaries are kept
// as the one current row per strategy (leaderboard read pattern), not a
// time series, so this upserts strategy_summaries on strategy_id.
func (s *Store) PersistStrategySummary(ctx context.Context, summary models.StrategySummary) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `
		INSERT INTO strategy_summaries (
			strategy_id, realized_pnl, pnl_pct, unrealized_pnl, unrealized_pnl_pct,
			total_value, model_provider, model_id, last_updated_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			pnl_pct = excluded.pnl_pct,
			unrealized_pnl = excluded.unrealized_pnl,
			unrealized_pnl_pct = excluded.unrealized_pnl_pct,
			total_value = excluded.total_value,
			model_provider = excluded.model_provider,
			model_id = excluded.model_id,
			last_updated_ts = excluded.last_updated_ts
	`, summary.StrategyID, summary.RealizedPnL, summary.PnLPct, summary.UnrealizedPnL, summary.UnrealizedPnLPct,
		summary.TotalValue, summary.ModelProvider, summary.ModelID, summary.LastUpdatedTsMs)
	if err != nil {
		return fmt.Errorf("persist strategy summary %s: %w", summary.StrategyID, err)
	}
	return nil
}

// GetStrategySummary reads back a strategy's current leaderboard summary,
// joining in its name/exchange/mode/status from the strategies table.
func (s *Store) GetStrategySummary(ctx context.Context, strategyID string) (models.StrategySummary, error) {
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `
		SELECT st.id, st.name, st.exchange_id, st.status,
			COALESCE(sm.realized_pnl, 0), COALESCE(sm.pnl_pct, 0), COALESCE(sm.unrealized_pnl, 0),
			COALESCE(sm.unrealized_pnl_pct, 0), COALESCE(sm.total_value, 0),
			COALESCE(sm.model_provider, ''), COALESCE(sm.model_id, ''), COALESCE(sm.last_updated_ts, 0)
		FROM strategies st
		LEFT JOIN strategy_summaries sm ON sm.strategy_id = st.id
		WHERE st.id = ?
	`, strategyID)

	var (
		summary models.StrategySummary
		status  string
	)
	err := row.Scan(&summary.StrategyID, &summary.Name, &summary.ExchangeID, &status,
		&summary.RealizedPnL, &summary.PnLPct, &summary.UnrealizedPnL, &summary.UnrealizedPnLPct,
		&summary.TotalValue, &summary.ModelProvider, &summary.ModelID, &summary.LastUpdatedTsMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return summary, ErrNotFound
		}
		return summary, fmt.Errorf("scan strategy summary %s: %w", strategyID, err)
	}
	summary.Status = models.StrategyStatus(status)
	return summary, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"tradeengine/models"
)

// PersistTradeHistory implements supervisor.Store: upserts one settled or
// rolled trade. Upsert rather than insert-only because annotatePairedExit
// mutates a previously-recorded trade's exit fields in place — the second
// persist of the same trade_id must overwrite, not duplicate.
func (s *Store) PersistTradeHistory(ctx context.Context, strategyID string, trade models.TradeHistoryEntry) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `
		INSERT INTO strategy_details (
			trade_id, strategy_id, compose_id, instruction_id, symbol, side, trade_type,
			quantity, entry_price, exit_price, notional_entry, notional_exit,
			entry_ts, exit_ts, trade_ts, holding_ms, realized_pnl, fee_cost, leverage, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			exit_price = excluded.exit_price,
			notional_exit = excluded.notional_exit,
			exit_ts = excluded.exit_ts,
			holding_ms = excluded.holding_ms,
			realized_pnl = excluded.realized_pnl,
			note = excluded.note
	`,
		trade.TradeID, strategyID, trade.ComposeID, trade.InstructionID,
		trade.Instrument.Symbol, string(trade.Side), string(trade.Type),
		trade.Quantity, nullFloat(trade.EntryPrice), nullFloat(trade.ExitPrice),
		nullFloat(trade.NotionalEntry), nullFloat(trade.NotionalExit),
		nullInt(trade.EntryTsMs), nullInt(trade.ExitTsMs), trade.TradeTsMs,
		nullInt(trade.HoldingMs), nullFloat(trade.RealizedPnL), nullFloat(trade.FeeCost),
		nullFloat(trade.Leverage), trade.Note,
	)
	if err != nil {
		return fmt.Errorf("upsert trade %s: %w", trade.TradeID, err)
	}
	return nil
}

// ListTradeHistory returns a strategy's trades, newest first.
func (s *Store) ListTradeHistory(ctx context.Context, strategyID string, limit int) ([]models.TradeHistoryEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `
		SELECT trade_id, compose_id, instruction_id, symbol, side, trade_type, quantity,
			entry_price, exit_price, notional_entry, notional_exit, entry_ts, exit_ts,
			trade_ts, holding_ms, realized_pnl, fee_cost, leverage, note
		FROM strategy_details WHERE strategy_id = ? ORDER BY trade_ts DESC LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []models.TradeHistoryEntry
	for rows.Next() {
		var (
			t                                                    models.TradeHistoryEntry
			side, tradeType                                      string
			entryPrice, exitPrice, notionalEntry, notionalExit   sql.NullFloat64
			entryTs, exitTs, holdingMs                           sql.NullInt64
			realizedPnL, feeCost, leverage                       sql.NullFloat64
		)
		err := rows.Scan(
			&t.TradeID, &t.ComposeID, &t.InstructionID, &t.Instrument.Symbol, &side, &tradeType,
			&t.Quantity, &entryPrice, &exitPrice, &notionalEntry, &notionalExit,
			&entryTs, &exitTs, &t.TradeTsMs, &holdingMs, &realizedPnL, &feeCost, &leverage, &t.Note,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = models.TradeSide(side)
		t.Type = models.TradeType(tradeType)
		t.EntryPrice = floatPtr(entryPrice)
		t.ExitPrice = floatPtr(exitPrice)
		t.NotionalEntry = floatPtr(notionalEntry)
		t.NotionalExit = floatPtr(notionalExit)
		t.EntryTsMs = intPtr(entryTs)
		t.ExitTsMs = intPtr(exitTs)
		t.HoldingMs = intPtr(holdingMs)
		t.RealizedPnL = floatPtr(realizedPnL)
		t.FeeCost = floatPtr(feeCost)
		t.Leverage = floatPtr(leverage)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

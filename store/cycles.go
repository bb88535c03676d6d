package store

import (
	"context"
	"encoding/json"
	"fmt"

	"tradeengine/models"
)

// PersistComposeCycle implements supervisor.Store: records one decision
// cycle's identity and rationale.
func (s *Store) PersistComposeCycle(ctx context.Context, strategyID, composeID string, tsMs int64, cycleIndex int, rationale string) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `
		INSERT INTO strategy_compose_cycles (compose_id, strategy_id, ts_ms, cycle_index, rationale)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(compose_id) DO UPDATE SET rationale = excluded.rationale
	`, composeID, strategyID, tsMs, cycleIndex, rationale)
	if err != nil {
		return fmt.Errorf("insert compose cycle %s: %w", composeID, err)
	}
	return nil
}

// PersistInstructions implements supervisor.Store: stores each normalized
// instruction as a JSON row tied to its compose cycle. Instructions are
// immutable once emitted, so this is an append-only insert.
func (s *Store) PersistInstructions(ctx context.Context, strategyID, composeID string, instructions []models.TradeInstruction) error {
	if len(instructions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctxOrBackground(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin instructions tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_instructions (strategy_id, compose_id, instruction_json) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare instruction insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instructions {
		blob, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("marshal instruction %s: %w", inst.InstructionID, err)
		}
		if _, err := stmt.ExecContext(ctx, strategyID, composeID, blob); err != nil {
			return fmt.Errorf("insert instruction %s: %w", inst.InstructionID, err)
		}
	}
	return tx.Commit()
}

// ListInstructions returns every instruction recorded for a compose
// cycle, decoded back to their structured form.
func (s *Store) ListInstructions(ctx context.Context, composeID string) ([]models.TradeInstruction, error) {
	rows, err := s.db.QueryContext(ctxOrBackground(ctx), `
		SELECT instruction_json FROM strategy_instructions WHERE compose_id = ? ORDER BY id ASC
	`, composeID)
	if err != nil {
		return nil, fmt.Errorf("list instructions for %s: %w", composeID, err)
	}
	defer rows.Close()

	var out []models.TradeInstruction
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan instruction row: %w", err)
		}
		var inst models.TradeInstruction
		if err := json.Unmarshal([]byte(blob), &inst); err != nil {
			return nil, fmt.Errorf("unmarshal instruction: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

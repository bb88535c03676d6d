package store

import (
	"context"
	"database/sql"
	"fmt"

	"tradeengine/compose"
)

// SavePromptSections upserts a strategy's editable system-prompt sections
// and custom prompt, the fields config.StrategyConfig.PromptSections and
// CustomPrompt mirror for quick editing without round-tripping the whole
// config blob.
func (s *Store) SavePromptSections(ctx context.Context, strategyID string, sections compose.PromptSections, customPrompt string) error {
	_, err := s.db.ExecContext(ctxOrBackground(ctx), `
		INSERT INTO strategy_prompts (strategy_id, role_definition, trading_frequency, entry_standards, decision_process, custom_prompt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			role_definition = excluded.role_definition,
			trading_frequency = excluded.trading_frequency,
			entry_standards = excluded.entry_standards,
			decision_process = excluded.decision_process,
			custom_prompt = excluded.custom_prompt,
			updated_at = CURRENT_TIMESTAMP
	`, strategyID, sections.RoleDefinition, sections.TradingFrequency, sections.EntryStandards, sections.DecisionProcess, customPrompt)
	if err != nil {
		return fmt.Errorf("save prompt sections for %s: %w", strategyID, err)
	}
	return nil
}

// GetPromptSections reads back a strategy's editable prompt sections.
// Returns zero-value sections, not an error, when the strategy has never
// had a custom prompt saved — the composer falls back to its built-in
// defaults in that case.
func (s *Store) GetPromptSections(ctx context.Context, strategyID string) (compose.PromptSections, string, error) {
	var (
		sections     compose.PromptSections
		customPrompt string
	)
	row := s.db.QueryRowContext(ctxOrBackground(ctx), `
		SELECT role_definition, trading_frequency, entry_standards, decision_process, custom_prompt
		FROM strategy_prompts WHERE strategy_id = ?
	`, strategyID)
	err := row.Scan(&sections.RoleDefinition, &sections.TradingFrequency, &sections.EntryStandards, &sections.DecisionProcess, &customPrompt)
	if err != nil {
		if err == sql.ErrNoRows {
			return sections, "", nil
		}
		return sections, "", fmt.Errorf("get prompt sections for %s: %w", strategyID, err)
	}
	return sections, customPrompt, nil
}

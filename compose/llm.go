package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tradeengine/logger"
	"tradeengine/models"
)

// Composer is the shared surface both the rule-based GridComposer and the
// LLM-backed LLMComposer implement, letting the coordinator swap between
// them without caring which one backs a given strategy.
type Composer interface {
	Compose(ctx context.Context, compCtx models.ComposeContext) models.ComposeResult
}

// Provider is the opaque LLM call boundary: given a system prompt and the
// serialized compose context, it returns the raw provider response text
// (expected to contain a JSON TradePlanProposal) or an error. Concrete
// providers (OpenAI-compatible, local, etc.) implement this the way the
// teacher's mcp.AIClient implementations wrap one HTTP call per provider.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ClientOption configures an LLMComposer the way the teacher's
// mcp.ClientOption configures its AI clients (WithProvider/WithModel/...).
type ClientOption func(*LLMComposer)

// WithProvider overrides the provider implementation used for Compose.
func WithProvider(p Provider) ClientOption {
	return func(c *LLMComposer) { c.provider = p }
}

// WithPromptSections overrides the editable system-prompt sections.
func WithPromptSections(sections PromptSections) ClientOption {
	return func(c *LLMComposer) { c.sections = sections }
}

// PromptSections mirrors the teacher's editable System Prompt sections
// (store.PromptSectionsConfig), carried into SPEC_FULL.md even though
// spec.md §4.5 only summarizes the prompt shape.
type PromptSections struct {
	RoleDefinition   string
	TradingFrequency string
	EntryStandards   string
	DecisionProcess  string
}

// LLMComposer builds a JSON prompt from the compose context and asks a
// Provider to return a TradePlanProposal, then runs it through the shared
// Normalizer. Quota/rate-limit errors and schema failures both degrade to
// an empty plan with an explanatory rationale rather than escalating.
type LLMComposer struct {
	Norm     *Normalizer
	provider Provider
	sections PromptSections

	log logger.Logger
}

// NewLLMComposer builds an LLMComposer, applying functional options the
// way mcp.NewClient(opts...) does.
func NewLLMComposer(norm *Normalizer, opts ...ClientOption) *LLMComposer {
	c := &LLMComposer{Norm: norm, log: logger.With("component", "compose.llm")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildSystemPrompt assembles the system prompt: role definition, hard
// constraints (risk control derived from Constraints), and a description
// of the expected JSON output schema.
func (c *LLMComposer) BuildSystemPrompt(ctx models.ComposeContext) string {
	var sb strings.Builder

	if c.sections.RoleDefinition != "" {
		sb.WriteString(c.sections.RoleDefinition)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("# You are an autonomous crypto trading strategy agent\n\n")
		sb.WriteString("Your task is to produce a trade plan proposal based on the provided market data, portfolio state and trade digest.\n\n")
	}

	if c.sections.TradingFrequency != "" {
		sb.WriteString(c.sections.TradingFrequency)
		sb.WriteString("\n\n")
	}
	if c.sections.EntryStandards != "" {
		sb.WriteString(c.sections.EntryStandards)
		sb.WriteString("\n\n")
	}
	if c.sections.DecisionProcess != "" {
		sb.WriteString(c.sections.DecisionProcess)
		sb.WriteString("\n\n")
	}

	sb.WriteString("# Hard constraints (enforced in code, do not bypass)\n")
	cons := ctx.Portfolio.Constraints
	if cons != nil {
		if cons.MaxPositions != nil {
			sb.WriteString(fmt.Sprintf("- Max concurrent positions: %d\n", *cons.MaxPositions))
		}
		if cons.MaxLeverage != nil {
			sb.WriteString(fmt.Sprintf("- Max leverage: %.1fx\n", *cons.MaxLeverage))
		}
		if cons.MinNotional != nil {
			sb.WriteString(fmt.Sprintf("- Min order notional: %.2f\n", *cons.MinNotional))
		}
	}
	if ctx.Digest.SharpeRatio != nil {
		sb.WriteString(fmt.Sprintf("- Recent Sharpe ratio: %.3f\n", *ctx.Digest.SharpeRatio))
	}
	sb.WriteString(fmt.Sprintf("- Current equity: %.2f\n\n", equityOf(ctx)))

	sb.WriteString("# Output schema\n")
	sb.WriteString("Return JSON matching TradePlanProposal: {\"items\": [{\"instrument\": {\"symbol\": \"BTCUSDT\"}, \"action\": \"open_long|open_short|close_long|close_short|noop\", \"target_qty\": number, \"leverage\": number, \"confidence\": number, \"rationale\": string}], \"rationale\": string}\n")

	return sb.String()
}

func equityOf(ctx models.ComposeContext) float64 {
	if ctx.Portfolio.TotalValue != 0 {
		return ctx.Portfolio.TotalValue
	}
	return ctx.Portfolio.AccountBalance
}

// BuildUserPrompt serializes the portfolio, feature groups and digest for
// the provider call.
func (c *LLMComposer) BuildUserPrompt(ctx models.ComposeContext) (string, error) {
	payload := map[string]any{
		"ts":        ctx.TsMs,
		"portfolio": ctx.Portfolio,
		"features":  ctx.Features,
		"digest":    ctx.Digest,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal compose context: %w", err)
	}
	return string(b), nil
}

// Compose calls the provider and normalizes its proposal. Any quota error
// or invalid JSON yields an empty ComposeResult with a rationale instead
// of propagating — the coordinator's next cycle is the retry domain.
func (c *LLMComposer) Compose(ctx context.Context, compCtx models.ComposeContext) models.ComposeResult {
	if c.provider == nil {
		return models.ComposeResult{Rationale: "no provider configured"}
	}

	systemPrompt := c.BuildSystemPrompt(compCtx)
	userPrompt, err := c.BuildUserPrompt(compCtx)
	if err != nil {
		c.log.Errorf("build user prompt: %v", err)
		return models.ComposeResult{Rationale: fmt.Sprintf("failed to build prompt: %v", err)}
	}

	raw, err := c.provider.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		if IsQuotaError(err) {
			c.log.Warnf("provider quota/rate-limit error: %v", err)
			return models.ComposeResult{Rationale: "provider quota exceeded, retrying next cycle"}
		}
		c.log.Errorf("provider call failed: %v", err)
		return models.ComposeResult{Rationale: fmt.Sprintf("provider error: %v", err)}
	}

	var proposal models.TradePlanProposal
	if err := json.Unmarshal([]byte(extractJSON(raw)), &proposal); err != nil {
		c.log.Warnf("invalid proposal JSON: %v; raw=%s", err, raw)
		return models.ComposeResult{Rationale: fmt.Sprintf("invalid proposal output: %s", raw)}
	}

	instructions, warnings := c.Norm.Normalize(compCtx, proposal)
	return models.ComposeResult{Instructions: instructions, Rationale: withWarnings(proposal.Rationale, warnings)}
}

// extractJSON trims common LLM wrapping (```json fences) around the
// payload so a lenient unmarshal can still succeed.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// withWarnings appends an "Execution Warnings" block to a rationale, the
// same shape the coordinator uses for rejected tx results (spec §4.6 step 7)
// reused here for guardrail-time rejections (spec §8 scenario S3).
func withWarnings(rationale string, warnings []string) string {
	if len(warnings) == 0 {
		return rationale
	}
	var sb strings.Builder
	sb.WriteString(rationale)
	sb.WriteString("\n\nExecution Warnings:\n")
	for _, w := range warnings {
		sb.WriteString("- ")
		sb.WriteString(w)
		sb.WriteString("\n")
	}
	return sb.String()
}

package execution

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"tradeengine/models"
)

// reduceOnlyFor derives the reduceOnly flag from the instruction's
// action: opens are never reduce-only, closes always are. Instructions
// with no Action set fall back to Meta's "reduce_only" hint, the key
// coordinator.CloseAllPositions writes; the composer records its own hint
// under "reduceOnly", which is not read here.
func reduceOnlyFor(inst models.TradeInstruction) bool {
	switch inst.Action {
	case models.ActionOpenLong, models.ActionOpenShort:
		return false
	case models.ActionCloseLong, models.ActionCloseShort:
		return true
	default:
		return inst.Meta["reduce_only"] == "true"
	}
}

// sanitizeClientOrderID strips characters venues commonly reject (colons
// from our "compose_id:symbol:idx" instruction id format), replacing them
// with "-". If the filtered id already fits the venue's max client order
// id length it's returned as-is; otherwise it's deterministically
// replaced with the 32-char MD5 hex digest of the original id, truncated
// to maxLen only when maxLen is shorter, so every order still gets a
// unique, reproducible id instead of a lossy suffix truncation.
func sanitizeClientOrderID(instructionID string, maxLen int) string {
	id := strings.ReplaceAll(instructionID, ":", "-")
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
	if len(id) <= maxLen {
		return id
	}
	sum := md5.Sum([]byte(instructionID))
	hashed := hex.EncodeToString(sum[:])
	if len(hashed) > maxLen {
		return hashed[:maxLen]
	}
	return hashed
}

// checkFilters applies exchange filters to a requested quantity and
// rejects (never silently lifts) when any fails.
func checkFilters(quantity, refPrice float64, qtyStep, minTradeQty, maxOrderQty, minNotional *float64) (reason string, ok bool) {
	if quantity <= 0 {
		return "non-positive quantity", false
	}
	if minTradeQty != nil && quantity < *minTradeQty {
		return fmt.Sprintf("quantity %.8f below min_trade_qty %.8f", quantity, *minTradeQty), false
	}
	if maxOrderQty != nil && quantity > *maxOrderQty {
		return fmt.Sprintf("quantity %.8f above max_order_qty %.8f", quantity, *maxOrderQty), false
	}
	if qtyStep != nil && *qtyStep > 0 {
		steps := quantity / *qtyStep
		if rounded := float64(int64(steps + 0.5)); abs(steps-rounded) > 1e-6 {
			return fmt.Sprintf("quantity %.8f not aligned to step %.8f", quantity, *qtyStep), false
		}
	}
	if minNotional != nil && refPrice > 0 && quantity*refPrice < *minNotional {
		return fmt.Sprintf("notional %.4f below min_notional %.4f", quantity*refPrice, *minNotional), false
	}
	return "", true
}

// estimateRequiredMargin mirrors spec.md's derivatives opens pre-check:
// notional / leverage * 1.02 (2% buffer for fees/slippage).
func estimateRequiredMargin(notional, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return (notional / leverage) * 1.02
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// rejected builds a REJECTED TxResult with a diagnostic reason, used for
// filter failures and NOOP instructions.
func rejected(inst models.TradeInstruction, reason string) models.TxResult {
	side := inst.Side
	if side == "" {
		side = models.DeriveSide(inst.Action)
	}
	return models.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          side,
		RequestedQty:  inst.Quantity,
		Status:        models.TxRejected,
		Reason:        reason,
	}
}

// errored builds an ERROR TxResult from a submission-time exception,
// letting the rest of the batch continue.
func errored(inst models.TradeInstruction, err error) models.TxResult {
	side := inst.Side
	if side == "" {
		side = models.DeriveSide(inst.Action)
	}
	return models.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          side,
		RequestedQty:  inst.Quantity,
		Status:        models.TxError,
		Reason:        err.Error(),
	}
}

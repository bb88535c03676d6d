package models

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a prefixed unique id, e.g. NewID("compose") -> "compose_<uuid>".
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// InstructionID builds the deterministic instruction id described in spec
// §4.5: compose_id, symbol and a sub-step index combine into one stable key
// so retries and idempotent persistence never collide.
func InstructionID(composeID, symbol string, itemIdx, subStep int) string {
	return fmt.Sprintf("%s:%s:%d", composeID, symbol, itemIdx*10+subStep)
}

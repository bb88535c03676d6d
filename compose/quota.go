package compose

import "strings"

// quotaSubstrings are the rate-limit/quota markers spec.md §6 calls out;
// any provider error containing one of these is treated as transient and
// yields an empty proposal with a retry rationale rather than escalating.
var quotaSubstrings = []string{"429", "RESOURCE_EXHAUSTED", "quota"}

// IsQuotaError reports whether err's message looks like a rate-limit or
// quota rejection from an LLM provider.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range quotaSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

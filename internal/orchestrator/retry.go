package orchestrator

import "strings"

// retryableKeywords mark execution errors a regenerated statement can
// plausibly fix: bad syntax, wrong identifiers, parse failures. Anything
// else (connection refused, timeout, permission) fails the turn outright.
var retryableKeywords = []string{
	"syntax",
	"error in your sql",
	"unknown column",
	"doesn't exist",
	"table",
	"ambiguous",
	"parse",
	"not executed",
	"error parsing query",
	"undefined identifier",
	"invalid",
	"measurement not found",
}

// isRetryable reports whether regenerating the statement might fix the
// error.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range retryableKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

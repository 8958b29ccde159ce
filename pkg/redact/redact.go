// Package redact strips personally identifying content from transcript text
// before it leaves the worker.
package redact

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
)

// Text redacts emails, phone numbers and card-like digit runs.
func Text(in string) string {
	if strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = cardRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

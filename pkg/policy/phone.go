package policy

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// digitRun matches digits (ASCII or full-width) joined only by spaces and
// dash-like separators.
var digitRun = regexp.MustCompile(`[0-9０-９](?:[\s\-－ー‐―−]*[0-9０-９])*`)

// NormalizePhoneNumbers rewrites every digit run of exactly 10 or 11 digits
// into hyphenated form. Other runs are left as they are.
func NormalizePhoneNumbers(text string) string {
	return digitRun.ReplaceAllStringFunc(text, func(run string) string {
		formatted, ok := FormatPhoneNumber(run)
		if !ok {
			return run
		}
		return formatted
	})
}

// FormatPhoneNumber formats the digits of s as a Japanese phone number:
// 11 digits as 3-4-4, 10 digits starting 03 or 06 as 2-4-4, other 10 digits
// as 3-3-4.
func FormatPhoneNumber(s string) (string, bool) {
	var b strings.Builder
	for _, r := range width.Fold.String(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:], true
	case len(d) == 10 && (strings.HasPrefix(d, "03") || strings.HasPrefix(d, "06")):
		return d[:2] + "-" + d[2:6] + "-" + d[6:], true
	case len(d) == 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:], true
	}
	return "", false
}

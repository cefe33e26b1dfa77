package verify

import (
	"regexp"
	"strings"
)

// prefixAbbreviations maps app names to their conventional deployment paths.
var prefixAbbreviations = map[string]string{
	"damn vulnerable web application": "dvwa",
	"owasp juice shop":                "juice-shop",
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

const maxPrefixLength = 20

// AppPrefix derives the context-path segment an application is conventionally
// deployed under, e.g. "Damn Vulnerable Web Application" becomes "dvwa" and
// "OWASP Juice Shop" becomes "juice-shop". Long multi-word names collapse to
// an acronym.
func AppPrefix(appName string) string {
	if appName == "" {
		return ""
	}

	lower := strings.TrimSpace(strings.ToLower(appName))
	if abbr, ok := prefixAbbreviations[lower]; ok {
		return abbr
	}

	for _, p := range []string{"owasp ", "apache ", "the "} {
		if strings.HasPrefix(lower, p) {
			lower = lower[len(p):]
			break
		}
	}

	prefix := strings.Trim(nonAlnumRun.ReplaceAllString(lower, "-"), "-")

	if len(prefix) > maxPrefixLength {
		words := strings.Fields(appName)
		if len(words) > 1 {
			var acronym strings.Builder
			for _, w := range words {
				acronym.WriteString(strings.ToLower(w[:1]))
			}
			if acronym.Len() >= 2 {
				return acronym.String()
			}
		}
		return prefix[:maxPrefixLength]
	}
	return prefix
}

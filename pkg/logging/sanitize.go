package logging

import "regexp"

type maskRule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: URL credentials and bearer tokens are masked before the
// generic key=value rule can swallow their prefixes.
var maskRules = []maskRule{
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@\s]+):([^@\s]+)@`), "${1}:***@"},
	{regexp.MustCompile(`(?i)\b(bearer|jwt)\s+[A-Za-z0-9\-_=]+(?:\.[A-Za-z0-9\-_=]+)*`), "${1} ***"},
	{regexp.MustCompile(`(?i)\b(basic)\s+[A-Za-z0-9+/]{8,}={0,2}`), "${1} ***"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|password|passwd|secret|auth)(\s*[=:]\s*)['"]?[^'"\s,;&]+['"]?`), "${1}${2}***"},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), "***"},
}

// Sanitize masks credential-shaped substrings: key=value secrets, bearer and
// basic tokens, Google API keys and user:password pairs embedded in URLs.
func Sanitize(s string) string {
	for _, r := range maskRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Package issuekey derives the issue-tracker key referenced by a commit
// message.
package issuekey

import (
	"fmt"
	"regexp"
	"strings"
)

// Extractor matches issue keys for a configured set of project-key prefixes.
// Matching is case-insensitive; the key must sit at the start of the message
// or after whitespace, "/", "_", "-" or a quote, and may use "-", "_" or a
// space as the key/number separator.
type Extractor struct {
	re *regexp.Regexp
}

// New builds an extractor for the given project keys
func New(projectKeys []string) (*Extractor, error) {
	if len(projectKeys) == 0 {
		return nil, fmt.Errorf("must specify at least one project key")
	}
	quoted := make([]string, len(projectKeys))
	for i, key := range projectKeys {
		quoted[i] = regexp.QuoteMeta(key)
	}
	re, err := regexp.Compile(
		`(?i)(?:^|[\s/_"'-])((?:` + strings.Join(quoted, "|") + `)[- _]\d+)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile issue key pattern: %w", err)
	}
	return &Extractor{re: re}, nil
}

// Extract returns the first issue key in the message, normalized to
// uppercase with "-" as the separator, and whether one was found.
func (e *Extractor) Extract(message string) (string, bool) {
	match := e.re.FindStringSubmatch(message)
	if match == nil {
		return "", false
	}
	return Normalize(match[1]), true
}

// Matches reports whether the message contains any key pattern at all
func (e *Extractor) Matches(message string) bool {
	return e.re.MatchString(message)
}

var separatorPattern = regexp.MustCompile(`[ _]`)

// Normalize uppercases a raw key and replaces the first separator with "-"
func Normalize(raw string) string {
	upper := strings.ToUpper(raw)
	loc := separatorPattern.FindStringIndex(upper)
	if loc == nil {
		return upper
	}
	return upper[:loc[0]] + "-" + upper[loc[1]:]
}

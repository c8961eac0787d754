package source

import (
	"net/url"
	"regexp"
	"strings"
)

// Matcher tries to pull a release id out of a feed entry field.
type Matcher func(s string) (string, bool)

var (
	structuredKeyRe = regexp.MustCompile(`(?:[?&]id=|/id/)([A-Za-z0-9_.\-]+)`)
	domainPrefixRe  = regexp.MustCompile(`(?i)\b((?:llamado|adjudicacion|ampliacion|aclaracion|release)-[0-9]+(?:-[0-9]+)*)`)
	segmentRe       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)
	numericRe       = regexp.MustCompile(`\d{5,}`)
)

// StructuredKey matches an explicit id parameter or /id/ path element.
func StructuredKey(s string) (string, bool) {
	m := structuredKeyRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DomainPrefix matches the portal's typed ids such as "adjudicacion-1234".
func DomainPrefix(s string) (string, bool) {
	m := domainPrefixRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// PathSegment takes the last URL path segment that contains a digit.
func PathSegment(s string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Path == "" {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSuffix(strings.TrimSuffix(segments[i], ".json"), ".xml")
		if segmentRe.MatchString(seg) && strings.ContainsAny(seg, "0123456789") {
			return seg, true
		}
	}
	return "", false
}

// NumericRun takes the first run of five or more digits.
func NumericRun(s string) (string, bool) {
	m := numericRe.FindString(s)
	return m, m != ""
}

// IDExtractor runs matchers in priority order over each candidate field.
type IDExtractor struct {
	matchers []Matcher
}

func NewIDExtractor(matchers ...Matcher) *IDExtractor {
	return &IDExtractor{matchers: matchers}
}

// DefaultIDExtractor is the most-specific-first chain used for the portal feed.
func DefaultIDExtractor() *IDExtractor {
	return NewIDExtractor(StructuredKey, DomainPrefix, PathSegment, NumericRun)
}

// Extract returns the first match of the highest-priority matcher that
// matches any candidate, or "" when nothing matches.
func (e *IDExtractor) Extract(candidates ...string) string {
	for _, match := range e.matchers {
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if id, ok := match(c); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

// Package sanitize converts text that may carry legacy markup into the
// plain-text form used for storage and display.
package sanitize

import (
	"regexp"
	"strings"
)

// tagRe matches tag-shaped substructures: an opening angle bracket, an
// optional slash, a letter, then anything up to the closing bracket.
// HTML comments are matched separately so their bodies go too.
var (
	tagRe     = regexp.MustCompile(`</?[A-Za-z][^<>]*>`)
	commentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
)

// entities is the fixed set of named character references the legacy
// server emits. Anything outside this set is left untouched.
var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

// ContainsMarkup reports whether s has tag-shaped substructures.
// Outgoing text for which this returns true is rejected, not stripped.
func ContainsMarkup(s string) bool {
	return tagRe.MatchString(s) || commentRe.MatchString(s)
}

// Strip removes tag-like substructures and decodes the fixed entity set.
// Stripping runs to a fixed point so that decoding an entity can never
// smuggle a tag past a single pass; Strip(Strip(x)) == Strip(x).
func Strip(s string) string {
	for {
		next := stripOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func stripOnce(s string) string {
	s = entities.Replace(s)
	s = commentRe.ReplaceAllString(s, "")
	return tagRe.ReplaceAllString(s, "")
}

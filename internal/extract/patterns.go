package extract

import (
	"strings"
	"unicode"
)

// articles dropped when distributing a shared qualifier over enumerated
// heads, e.g. "of the public" contributes "Public".
var articles = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "its": {}, "their": {},
}

// splitByPattern detects coordinated enumerations in a compound label and
// decomposes them deterministically. "safety, health, and welfare of the
// public" becomes ["Public Safety", "Public Health", "Public Welfare"]:
// the shared qualifier after "of" is distributed over each conjunct.
// Returns nil when no structural signal is present.
func splitByPattern(label string) []string {
	clean := strings.TrimSpace(label)
	if clean == "" {
		return nil
	}

	head, qualifier := splitSharedQualifier(clean)
	conjuncts := splitConjuncts(head)
	if len(conjuncts) < 2 {
		return nil
	}

	out := make([]string, 0, len(conjuncts))
	for _, c := range conjuncts {
		if qualifier != "" {
			out = append(out, titleWords(qualifier)+" "+titleWords(c))
		} else {
			out = append(out, titleWords(c))
		}
	}
	return out
}

// splitSharedQualifier separates an enumeration head from a trailing
// shared qualifier introduced by "of" ("safety, health, and welfare | of
// the public"). The qualifier is returned with articles stripped.
func splitSharedQualifier(s string) (head, qualifier string) {
	idx := strings.LastIndex(strings.ToLower(s), " of ")
	if idx < 0 {
		return s, ""
	}

	head = strings.TrimSpace(s[:idx])
	tail := strings.TrimSpace(s[idx+len(" of "):])

	// Only distribute when the head actually enumerates; "conflict of
	// interest" keeps its qualifier attached.
	if len(splitConjuncts(head)) < 2 {
		return s, ""
	}

	words := strings.Fields(tail)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, isArticle := articles[strings.ToLower(w)]; isArticle {
			continue
		}
		kept = append(kept, w)
	}
	return head, strings.Join(kept, " ")
}

// splitConjuncts splits an enumeration on commas and coordinating
// conjunctions. "safety, health, and welfare" yields three conjuncts.
func splitConjuncts(s string) []string {
	var parts []string
	for _, segment := range strings.Split(s, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		for _, sub := range splitOnConjunction(segment) {
			sub = strings.TrimSpace(sub)
			if sub == "" {
				continue
			}
			parts = append(parts, sub)
		}
	}
	return parts
}

// splitOnConjunction splits a segment on standalone "and"/"or" tokens.
func splitOnConjunction(s string) []string {
	words := strings.Fields(s)
	var parts []string
	var current []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == "and" || lower == "or" || lower == "&" {
			if len(current) > 0 {
				parts = append(parts, strings.Join(current, " "))
				current = nil
			}
			continue
		}
		current = append(current, w)
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

// splitHeuristic is the last-resort decomposition tier: a coarse split on
// semicolons and slashes for overlong labels the pattern tier could not
// structure.
func splitHeuristic(label string) []string {
	clean := strings.TrimSpace(label)
	if clean == "" {
		return nil
	}

	segments := strings.FieldsFunc(clean, func(r rune) bool {
		return r == ';' || r == '/'
	})
	if len(segments) < 2 {
		return nil
	}

	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, titleWords(seg))
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// titleWords capitalizes the first letter of each word, leaving the rest
// of each word unchanged.
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

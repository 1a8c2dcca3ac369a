// Package knowledge keeps persona voices current with their inspiration
// figures: it filters interpersonal drama out of source material, extracts
// wisdom through the gateway and folds recent entries into a per-figure synthesis.
package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter contexts.
const (
	ContextWisdomExtraction = "wisdom_extraction"
	ContextDirectQuote      = "direct_quote"
	ContextSynthesis        = "synthesis"
	ContextPrompt           = "prompt"
)

// Severities.
const (
	SeverityHard   = "hard"
	SeveritySoft   = "soft"
	SeverityCustom = "custom"
)

// ValidContext reports whether c is a known filter context.
func ValidContext(c string) bool {
	switch c {
	case ContextWisdomExtraction, ContextDirectQuote, ContextSynthesis, ContextPrompt:
		return true
	}
	return false
}

type conflictPattern struct {
	name     string
	severity string
	re       *regexp.Regexp
}

// Evaluated in this order; the first hard match wins.
var conflictPatterns = []conflictPattern{
	{
		name:     "rivalry",
		severity: SeverityHard,
		re:       regexp.MustCompile(`(?i)\b(criticiz\w*|criticis\w*|slamm?(ed|s|ing)?|mock(ed|s|ing)|insult\w*|rival(s|ry|ries)?|bash(ed|es|ing)|trash[- ]talk\w*|took (a )?shots? at|tak(es|ing) (a )?shots? at|war of words|pokes? fun at)\b`),
	},
	{
		name:     "legal_dispute",
		severity: SeverityHard,
		re:       regexp.MustCompile(`(?i)\b(lawsuits?|sued|sues|suing|litigation|countersu\w*|court (battle|fight|case)|legal (battle|fight|dispute|action)|injunction)\b`),
	},
	{
		name:     "social_media_feud",
		severity: SeverityHard,
		re:       regexp.MustCompile(`(?i)\b((twitter|x|online|social media) (spat|feud|fight|war|beef|exchange)|tweetstorm|subtweet\w*|ratioed|clapped back|fired back on (twitter|x))\b`),
	},
	{
		name:     "personal_life",
		severity: SeveritySoft,
		re:       regexp.MustCompile(`(?i)\b(divorc\w*|marriage|married|ex-wife|ex-husband|girlfriend|boyfriend|dating|affair|custody|family drama)\b`),
	},
	{
		name:     "partisan_politics",
		severity: SeveritySoft,
		re:       regexp.MustCompile(`(?i)\b(democrats?|republicans?|gop|maga|left-wing|right-wing|partisan|campaign(ed|ing)? for|endorse[ds]? (the )?(candidate|president|senator))\b`),
	},
}

// Decision is the outcome of ShouldFilterContent.
type Decision struct {
	Filter   bool   `json:"filter"`
	Reason   string `json:"reason,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Severity string `json:"severity,omitempty" enum:"hard,soft,custom"`
}

// ShouldFilterContent is pure: the same input always yields the same decision.
// Soft patterns are allowed through only for direct quotes; custom figure terms
// match case-insensitively as substrings.
func ShouldFilterContent(content string, figureFilters []string, context string) Decision {
	for _, p := range conflictPatterns {
		if !p.re.MatchString(content) {
			continue
		}
		if p.severity == SeveritySoft && context == ContextDirectQuote {
			continue
		}
		return Decision{
			Filter:   true,
			Reason:   fmt.Sprintf("matched %s pattern %q", p.name, p.re.FindString(content)),
			Pattern:  p.name,
			Severity: p.severity,
		}
	}
	lower := strings.ToLower(content)
	for _, term := range figureFilters {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(lower, t) {
			return Decision{
				Filter:   true,
				Reason:   fmt.Sprintf("matched custom filter %q", term),
				Pattern:  "custom",
				Severity: SeverityCustom,
			}
		}
	}
	return Decision{}
}

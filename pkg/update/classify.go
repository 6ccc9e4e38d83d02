package update

import (
	"strings"

	"golang.org/x/text/cases"
)

// KeywordRule assigns Label when any of Terms occurs in the folded text.
type KeywordRule struct {
	Label string
	Terms []string
}

// Classifier labels text with the first matching rule, in order.
type Classifier struct {
	Rules   []KeywordRule
	Default string
}

// Fold returns the case-folded form of s used for keyword matching.
// A Caser is stateful, so each call gets its own.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Classify returns the label of the first rule whose term appears in any
// of the given texts.
func (c Classifier) Classify(texts ...string) string {
	folded := make([]string, 0, len(texts))
	for _, t := range texts {
		folded = append(folded, Fold(t))
	}
	for _, r := range c.Rules {
		for _, term := range r.Terms {
			ft := Fold(term)
			for _, t := range folded {
				if strings.Contains(t, ft) {
					return r.Label
				}
			}
		}
	}
	return c.Default
}

// FeedClassifier is the heuristic applied to feed entries.
var FeedClassifier = Classifier{
	Rules: []KeywordRule{
		{Label: "Enforcement Action", Terms: []string{"enforcement", "violation", "penalty", "fine"}},
		{Label: "Guidance", Terms: []string{"guidance", "advisory", "bulletin"}},
		{Label: "Rule Change", Terms: []string{"rule", "regulation", "requirement"}},
	},
	Default: "General Update",
}

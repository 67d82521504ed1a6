// ABOUTME: Deterministic rule-based scope classification for request text
// ABOUTME: No include match means out of scope; evaluation always fails closed

package scope

import (
	"fmt"
	"strings"
)

// Rules declares a capability's remit. At least one include term must match
// the request text, and no exclude term may match it.
type Rules struct {
	Include []string
	Exclude []string
}

// Classifier evaluates request text against per-capability rules. Rules are
// fixed at construction; the classifier is safe for concurrent use.
type Classifier struct {
	rules map[string]Rules
}

// NewClassifier builds a classifier from per-capability rules. A capability
// with no include terms would silently reject everything, which is a config
// mistake rather than a policy, so it fails construction.
func NewClassifier(rules map[string]Rules) (*Classifier, error) {
	folded := make(map[string]Rules, len(rules))
	for capability, r := range rules {
		f := Rules{
			Include: foldTerms(r.Include),
			Exclude: foldTerms(r.Exclude),
		}
		if len(f.Include) == 0 {
			return nil, fmt.Errorf("capability %q declares no include terms", capability)
		}
		folded[capability] = f
	}
	return &Classifier{rules: folded}, nil
}

// Check reports whether text is inside the capability's remit. The reason is
// safe to return to a caller: it names the matched rule term or the absence
// of a match, never the request text.
func (c *Classifier) Check(capability, text string) (bool, string) {
	r, ok := c.rules[capability]
	if !ok {
		return false, "capability has no declared remit"
	}

	folded := strings.ToLower(text)

	for _, term := range r.Exclude {
		if strings.Contains(folded, term) {
			return false, fmt.Sprintf("matches excluded term %q", term)
		}
	}

	for _, term := range r.Include {
		if strings.Contains(folded, term) {
			return true, ""
		}
	}

	return false, "matches no declared topic for this capability"
}

// foldTerms lowercases rule terms and drops empties so a stray blank line in
// config cannot turn into a match-everything rule.
func foldTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

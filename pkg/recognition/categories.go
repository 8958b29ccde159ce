package recognition

import "strings"

// CategoryRule matches a category label against keywords in final
// transcript text.
type CategoryRule struct {
	Category string   `mapstructure:"category"`
	RuleID   string   `mapstructure:"rule_id"`
	Keywords []string `mapstructure:"keywords"`
}

// MatchCategories returns the rules whose keywords appear in text.
// Matching is case-insensitive and at most one hit per rule.
func MatchCategories(rules []CategoryRule, text string) []CategoryRule {
	if len(rules) == 0 || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var hits []CategoryRule
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits = append(hits, rule)
				break
			}
		}
	}
	return hits
}

// Package rules classifies messages with a priority-ordered rule set.
//
// Evaluation is short-circuit: rules run in descending priority (ties keep
// declaration order) and the first match decides the classification. When
// nothing matches, a fallback rule applies the configured catch-all label.
package rules

import (
	"sort"

	"github.com/Martian-dev/inbox-triage/internal/model"
)

// DefaultFallbackLabel is applied when no rule matches.
const DefaultFallbackLabel = "NoFit"

// Rule is a named predicate with the actions it proposes on match.
type Rule struct {
	Name       string
	Priority   int
	Category   model.Category
	Confidence float64

	// Match reports whether the rule applies, with a short reason.
	Match func(msg model.Message) (bool, string)
	// Actions proposes action specs for a matched message.
	Actions func(msg model.Message, reason string) []model.ActionSpec
}

// Options tune the built-in rules.
type Options struct {
	FallbackLabel      string
	ArchiveNewsletters bool
}

// Engine evaluates rules in priority order.
type Engine struct {
	rules    []Rule
	fallback Rule
}

// NewEngine sorts rules by descending priority and appends the fallback.
func NewEngine(opts Options, rules ...Rule) *Engine {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{rules: sorted, fallback: FallbackRule(opts.FallbackLabel)}
}

// NewDefaultEngine builds an engine over the built-in rule set.
func NewDefaultEngine(opts Options) *Engine {
	return NewEngine(opts, Builtins(opts)...)
}

// Rules returns the evaluation order, fallback last.
func (e *Engine) Rules() []Rule {
	return append(append([]Rule(nil), e.rules...), e.fallback)
}

// Classify returns the classification of the first matching rule.
func (e *Engine) Classify(msg model.Message) model.Classification {
	for _, r := range e.rules {
		if ok, reason := r.Match(msg); ok {
			return classification(r, msg, reason)
		}
	}
	_, reason := e.fallback.Match(msg)
	return classification(e.fallback, msg, reason)
}

func classification(r Rule, msg model.Message, reason string) model.Classification {
	c := model.Classification{
		Category:   r.Category,
		Reason:     reason,
		Confidence: r.Confidence,
		Rule:       r.Name,
	}
	if r.Actions == nil {
		return c
	}
	seen := make(map[string]bool)
	for _, spec := range r.Actions(msg, reason) {
		if spec.Kind == model.ActionAddLabel {
			if spec.LabelName != "" && !seen[spec.LabelName] {
				seen[spec.LabelName] = true
				c.Labels = append(c.Labels, spec.LabelName)
			}
			continue
		}
		c.FollowUps = append(c.FollowUps, spec)
	}
	return c
}

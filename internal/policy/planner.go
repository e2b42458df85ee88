// Package policy turns a classification into the action list for a message.
package policy

import (
	"strings"

	"github.com/Martian-dev/inbox-triage/internal/model"
)

// Plan returns the deduplicated, ordered actions for one message: one
// add_label per most-specific label, then follow-up specs, then a single
// analyze_application for job mail.
func Plan(c model.Classification, messageID string) []model.Action {
	var actions []model.Action

	reason := c.Reason
	if reason == "" {
		reason = string(c.Category)
	}
	for _, label := range MostSpecific(c.Labels) {
		actions = append(actions, model.Action{
			Kind:      model.ActionAddLabel,
			MessageID: messageID,
			LabelName: label,
			Reason:    reason,
		})
	}

	type key struct {
		kind  model.ActionKind
		label string
	}
	seen := make(map[key]bool)
	for _, spec := range c.FollowUps {
		switch spec.Kind {
		case model.ActionAddLabel, model.ActionAnalyzeApplication:
			continue
		}
		k := key{spec.Kind, strings.TrimSpace(spec.LabelName)}
		if seen[k] {
			continue
		}
		seen[k] = true
		actions = append(actions, model.Action{
			Kind:      spec.Kind,
			MessageID: messageID,
			LabelName: k.label,
			Reason:    spec.Reason,
		})
	}

	if c.Category == model.CategoryJobApplication {
		actions = append(actions, model.Action{
			Kind:      model.ActionAnalyzeApplication,
			MessageID: messageID,
			Reason:    reason,
		})
	}
	return actions
}

// MostSpecific drops blanks and duplicates, and any label that is the
// parent of another label in the set. Both "/" and "." separate levels.
// Order of first appearance is kept.
func MostSpecific(labels []string) []string {
	set := make(map[string]bool, len(labels))
	var unique []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || set[l] {
			continue
		}
		set[l] = true
		unique = append(unique, l)
	}

	out := make([]string, 0, len(unique))
	for _, l := range unique {
		hasChild := false
		for other := range set {
			if strings.HasPrefix(other, l+"/") || strings.HasPrefix(other, l+".") {
				hasChild = true
				break
			}
		}
		if !hasChild {
			out = append(out, l)
		}
	}
	return out
}

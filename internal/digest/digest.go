// Package digest derives summary bullets and action items from message text.
package digest

import (
	"regexp"
	"slices"
	"strings"
)

// MaxBullets bounds the summary of one message.
const MaxBullets = 3

// NoteActionItems is attached when a message has todo lines.
const NoteActionItems = "Detected potential action items"

var (
	todoPrefixRe = regexp.MustCompile(`(?i)^(todo:|to do:)`)
	checkboxRe   = regexp.MustCompile(`^[-*]\s*\[ \]`)
	requestRe    = regexp.MustCompile(`(?i)^(please|bitte)\b`)

	spaceRe    = regexp.MustCompile(`\s+`)
	sentenceRe = regexp.MustCompile(`[.!?]\s+`)
)

// Digest is the lightweight reading aid stored with each processed message.
type Digest struct {
	Summary []string `json:"summary,omitempty"`
	Todos   []string `json:"todos,omitempty"`
	Notes   []string `json:"notes,omitempty"`
}

// Of builds the digest of a message from its subject, snippet and body.
func Of(subject, snippet, body string) Digest {
	d := Digest{
		Summary: Summarize(snippet, body, MaxBullets),
		Todos:   Todos(subject, body),
	}
	if len(d.Todos) > 0 {
		d.Notes = append(d.Notes, NoteActionItems)
	}
	return d
}

// Todos returns lines that read like action items: "todo:" prefixes,
// unchecked markdown boxes, and lines opening with a polite request.
func Todos(subject, body string) []string {
	var todos []string
	for _, line := range strings.Split(subject+"\n"+body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if todoPrefixRe.MatchString(line) || checkboxRe.MatchString(line) || requestRe.MatchString(line) {
			todos = append(todos, line)
		}
	}
	return todos
}

// Summarize prefers the snippet, then fills up with the body's first
// distinct sentences, returning at most limit bullets.
func Summarize(snippet, body string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	var bullets []string
	if s := clean(snippet); s != "" {
		bullets = append(bullets, s)
	}

	text := clean(body)
	if text == "" {
		return bullets
	}
	for _, sent := range sentenceRe.Split(text, -1) {
		if len(bullets) >= limit {
			break
		}
		sent = strings.TrimSpace(sent)
		if sent != "" && !slices.Contains(bullets, sent) {
			bullets = append(bullets, sent)
		}
	}
	return bullets
}

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

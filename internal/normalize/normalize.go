// Package normalize turns raw provider messages into model.Message values.
package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/model"
)

// Message converts a raw provider message. It never fails: a message with
// no usable body gets an empty BodyText.
func Message(raw *mailbox.RawMessage) model.Message {
	headers := make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		// First occurrence wins for repeated headers.
		if _, ok := headers[h.Name]; !ok {
			headers[h.Name] = h.Value
		}
	}

	return model.Message{
		ID:        raw.ID,
		Subject:   headers["Subject"],
		Sender:    headers["From"],
		Snippet:   raw.Snippet,
		BodyText:  BodyText(raw.Body),
		Timestamp: raw.InternalDate,
		Headers:   headers,
		LabelIDs:  append([]string(nil), raw.LabelIDs...),
	}
}

// BodyText extracts readable text from a body tree. A top-level body with
// data is used directly; otherwise the first text/plain leaf found
// depth-first wins, then the first text/html leaf converted to text.
func BodyText(root mailbox.Part) string {
	if len(root.Parts) == 0 && len(root.Data) > 0 {
		if isHTML(root.MimeType) {
			return HTMLToText(string(root.Data))
		}
		return string(root.Data)
	}

	if p := findLeaf(root, "text/plain"); p != nil {
		return string(p.Data)
	}
	if p := findLeaf(root, "text/html"); p != nil {
		return HTMLToText(string(p.Data))
	}
	return ""
}

func findLeaf(p mailbox.Part, mimeType string) *mailbox.Part {
	if len(p.Parts) == 0 {
		if strings.EqualFold(baseType(p.MimeType), mimeType) && len(p.Data) > 0 {
			return &p
		}
		return nil
	}
	for _, child := range p.Parts {
		if found := findLeaf(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func baseType(mimeType string) string {
	t, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(t)
}

func isHTML(mimeType string) bool {
	return strings.EqualFold(baseType(mimeType), "text/html")
}

// HTMLToText drops script and style elements and collapses whitespace in
// the remaining document text.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, li, tr, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

package model

import (
	"net/mail"
	"strings"
)

// LabelDraft is the provider label carried by unsent drafts.
const LabelDraft = "DRAFT"

// Message is the canonical, read-only view of one mailbox message.
type Message struct {
	ID        string
	Subject   string
	Sender    string // raw "Display <addr>" value
	Snippet   string
	BodyText  string
	Timestamp int64 // provider internal date, ms since epoch
	Headers   map[string]string
	LabelIDs  []string
}

// Header returns the header value stored under the exact provider name,
// or "" when absent.
func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// HasLabel reports whether the message carries the given label id,
// compared case-insensitively.
func (m Message) HasLabel(id string) bool {
	for _, l := range m.LabelIDs {
		if strings.EqualFold(l, id) {
			return true
		}
	}
	return false
}

// IsDraft reports whether the provider marks the message as a draft.
func (m Message) IsDraft() bool {
	return m.HasLabel(LabelDraft)
}

// SenderAddress returns the bare, lower-cased address of the sender.
func (m Message) SenderAddress() string {
	return NormalizeAddress(m.Sender)
}

// NormalizeAddress strips the display name from an RFC 5322 address and
// folds it to lower case. Values that do not parse are trimmed and
// lower-cased as-is, minus any angle brackets.
func NormalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		return strings.ToLower(strings.TrimSpace(addr.Address))
	}
	if i := strings.LastIndex(value, "<"); i >= 0 {
		value = value[i+1:]
		value = strings.TrimSuffix(strings.TrimSpace(value), ">")
	}
	return strings.ToLower(strings.TrimSpace(value))
}

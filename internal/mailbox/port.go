package mailbox

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned by GetMessage when the provider no longer
// knows the id, typically because the message was deleted between listing
// and fetching.
var ErrMessageNotFound = errors.New("mailbox: message not found")

// Header is a single provider header, name kept in provider case.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a multipart body tree. Data holds the decoded bytes.
type Part struct {
	MimeType string
	Data     []byte
	Parts    []Part
}

// RawMessage is a provider message before normalization.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate int64 // ms since epoch
	LabelIDs     []string
	Headers      []Header
	Body         Part
}

// Port is the capability set the pipeline needs from a mailbox provider.
type Port interface {
	// ListMessageIDs returns up to limit ids matching a provider search query.
	ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error)
	// GetMessage fetches one message in full, or ErrMessageNotFound.
	GetMessage(ctx context.Context, id string) (*RawMessage, error)
	// OwnAddress returns the authenticated account's address.
	OwnAddress(ctx context.Context) (string, error)
	// EnsureLabel resolves a label name to its id, creating it if needed.
	EnsureLabel(ctx context.Context, name string) (string, error)
	ApplyLabel(ctx context.Context, messageID, labelID string) error
	RemoveLabel(ctx context.Context, messageID, labelID string) error
	Archive(ctx context.Context, messageID string) error
}

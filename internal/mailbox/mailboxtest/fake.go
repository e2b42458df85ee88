// Package mailboxtest provides an in-memory mailbox.Port for tests.
package mailboxtest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Martian-dev/inbox-triage/internal/mailbox"
)

// Call records one mutating call against the fake.
type Call struct {
	Op        string
	MessageID string
	LabelID   string
}

// Mailbox is a goroutine-safe fake mailbox.
type Mailbox struct {
	mu sync.Mutex

	Own      string
	Messages map[string]*mailbox.RawMessage
	// Order, when set, is the id order ListMessageIDs returns.
	Order []string
	// Missing ids are listed but fail GetMessage with ErrMessageNotFound.
	Missing map[string]bool
	// FailGet ids fail GetMessage with the mapped error.
	FailGet map[string]error
	// FailLabel label names fail ApplyLabel with the mapped error.
	FailLabel map[string]error
	ListErr   error
	OwnErr    error

	Labels      map[string]string // name -> id
	Queries     []string
	Calls       []Call
	EnsureCalls int
	GetCalls    int
}

// New returns an empty fake owned by the given address.
func New(own string) *Mailbox {
	return &Mailbox{
		Own:       own,
		Messages:  make(map[string]*mailbox.RawMessage),
		Missing:   make(map[string]bool),
		FailGet:   make(map[string]error),
		FailLabel: make(map[string]error),
		Labels:    make(map[string]string),
	}
}

// Add stores a message and appends it to the listing order.
func (m *Mailbox) Add(msg *mailbox.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[msg.ID] = msg
	m.Order = append(m.Order, msg.ID)
}

// ListMessageIDs ignores the query beyond recording it.
func (m *Mailbox) ListMessageIDs(_ context.Context, query string, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	ids := append([]string(nil), m.Order...)
	if len(ids) == 0 {
		for id := range m.Messages {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Mailbox) GetMessage(_ context.Context, id string) (*mailbox.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.Missing[id] {
		return nil, mailbox.ErrMessageNotFound
	}
	if err := m.FailGet[id]; err != nil {
		return nil, err
	}
	msg, ok := m.Messages[id]
	if !ok {
		return nil, mailbox.ErrMessageNotFound
	}
	return msg, nil
}

func (m *Mailbox) OwnAddress(context.Context) (string, error) {
	if m.OwnErr != nil {
		return "", m.OwnErr
	}
	return m.Own, nil
}

func (m *Mailbox) EnsureLabel(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnsureCalls++
	if name == "" {
		return "", errors.New("empty label name")
	}
	if id, ok := m.Labels[name]; ok {
		return id, nil
	}
	id := "Label_" + name
	m.Labels[name] = id
	return id, nil
}

func (m *Mailbox) ApplyLabel(_ context.Context, messageID, labelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, id := range m.Labels {
		if id == labelID {
			if err := m.FailLabel[name]; err != nil {
				return err
			}
		}
	}
	m.Calls = append(m.Calls, Call{Op: "apply", MessageID: messageID, LabelID: labelID})
	return nil
}

func (m *Mailbox) RemoveLabel(_ context.Context, messageID, labelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: "remove", MessageID: messageID, LabelID: labelID})
	return nil
}

func (m *Mailbox) Archive(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: "archive", MessageID: messageID})
	return nil
}

// Applied returns the message ids that received the named label.
func (m *Mailbox) Applied(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.Labels[name]
	var out []string
	for _, c := range m.Calls {
		if c.Op == "apply" && c.LabelID == id {
			out = append(out, c.MessageID)
		}
	}
	return out
}

// Mutations returns a copy of the recorded mutating calls.
func (m *Mailbox) Mutations() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.Calls...)
}

var _ mailbox.Port = (*Mailbox)(nil)

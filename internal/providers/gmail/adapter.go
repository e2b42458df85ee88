package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/inbox-triage/internal/mailbox"
)

const (
	// DefaultUser addresses the authenticated account.
	DefaultUser        = "me"
	DefaultCallTimeout = 30 * time.Second

	labelInbox = "INBOX"
	pageSize   = 500
)

// Scopes required by the adapter.
var Scopes = []string{gmail.GmailModifyScope, gmail.GmailLabelsScope}

// Adapter implements mailbox.Port for Gmail. Each Adapter is one connection
// and owns its label cache; build a new one to reconnect.
type Adapter struct {
	svc         *gmail.Service
	user        string
	callTimeout time.Duration

	labelsMu sync.Mutex
	labels   map[string]string // name -> id, nil until first lookup
}

// New creates a Gmail adapter for user authorized by ts
func New(ctx context.Context, ts oauth2.TokenSource, user string, opts ...option.ClientOption) (*Adapter, error) {
	httpClient := oauth2.NewClient(ctx, ts)

	svc, err := gmail.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return NewWithService(svc, user), nil
}

// NewWithService wraps an existing Gmail service
func NewWithService(svc *gmail.Service, user string) *Adapter {
	if user == "" {
		user = DefaultUser
	}
	return &Adapter{svc: svc, user: user, callTimeout: DefaultCallTimeout}
}

// SetCallTimeout bounds every API call. Zero disables the bound.
func (a *Adapter) SetCallTimeout(d time.Duration) {
	a.callTimeout = d
}

func (a *Adapter) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.callTimeout)
}

// ListMessageIDs pages through search results until limit ids are collected
func (a *Adapter) ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		size := int64(pageSize)
		if limit > 0 && limit-int64(len(ids)) < size {
			size = limit - int64(len(ids))
		}

		call := a.svc.Users.Messages.List(a.user).Q(query).IncludeSpamTrash(false).MaxResults(size)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		cctx, cancel := a.callCtx(ctx)
		page, err := call.Context(cctx).Do()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range page.Messages {
			ids = append(ids, m.Id)
		}

		if page.NextPageToken == "" || (limit > 0 && int64(len(ids)) >= limit) {
			break
		}
		pageToken = page.NextPageToken
	}

	return ids, nil
}

// GetMessage fetches a message in full format
func (a *Adapter) GetMessage(ctx context.Context, id string) (*mailbox.RawMessage, error) {
	cctx, cancel := a.callCtx(ctx)
	defer cancel()

	m, err := a.svc.Users.Messages.Get(a.user, id).Format("full").Context(cctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("message %s: %w", id, mailbox.ErrMessageNotFound)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	return convert(m)
}

// OwnAddress returns the profile address of the authenticated user
func (a *Adapter) OwnAddress(ctx context.Context) (string, error) {
	cctx, cancel := a.callCtx(ctx)
	defer cancel()

	profile, err := a.svc.Users.GetProfile(a.user).Context(cctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// EnsureLabel resolves name to a label id, creating the label with its
// configured color when it does not exist yet
func (a *Adapter) EnsureLabel(ctx context.Context, name string) (string, error) {
	a.labelsMu.Lock()
	defer a.labelsMu.Unlock()

	if a.labels == nil {
		if err := a.loadLabels(ctx); err != nil {
			return "", err
		}
	}
	if id, ok := a.labels[name]; ok {
		return id, nil
	}

	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	if c, ok := mailbox.ColorFor(name); ok {
		label.Color = &gmail.LabelColor{BackgroundColor: c.Background, TextColor: c.Text}
	}

	cctx, cancel := a.callCtx(ctx)
	created, err := a.svc.Users.Labels.Create(a.user, label).Context(cctx).Do()
	cancel()
	if err != nil {
		// Created concurrently elsewhere: reload and retry the lookup.
		if isConflict(err) {
			if err := a.loadLabels(ctx); err != nil {
				return "", err
			}
			if id, ok := a.labels[name]; ok {
				return id, nil
			}
		}
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}

	a.labels[name] = created.Id
	return created.Id, nil
}

// loadLabels must be called with labelsMu held
func (a *Adapter) loadLabels(ctx context.Context) error {
	cctx, cancel := a.callCtx(ctx)
	defer cancel()

	resp, err := a.svc.Users.Labels.List(a.user).Context(cctx).Do()
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}

	a.labels = make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		a.labels[l.Name] = l.Id
	}
	return nil
}

// ResetLabelCache drops cached label ids
func (a *Adapter) ResetLabelCache() {
	a.labelsMu.Lock()
	a.labels = nil
	a.labelsMu.Unlock()
}

// ApplyLabel adds a label to a message
func (a *Adapter) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return a.modify(ctx, messageID, &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

// RemoveLabel removes a label from a message
func (a *Adapter) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	return a.modify(ctx, messageID, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelID}})
}

// Archive removes a message from the inbox
func (a *Adapter) Archive(ctx context.Context, messageID string) error {
	return a.modify(ctx, messageID, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelInbox}})
}

func (a *Adapter) modify(ctx context.Context, messageID string, req *gmail.ModifyMessageRequest) error {
	cctx, cancel := a.callCtx(ctx)
	defer cancel()

	if _, err := a.svc.Users.Messages.Modify(a.user, messageID, req).Context(cctx).Do(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("message %s: %w", messageID, mailbox.ErrMessageNotFound)
		}
		return fmt.Errorf("failed to modify message %s: %w", messageID, err)
	}
	return nil
}

// convert maps a Gmail message to the provider-neutral raw shape
func convert(m *gmail.Message) (*mailbox.RawMessage, error) {
	raw := &mailbox.RawMessage{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
		LabelIDs:     m.LabelIds,
	}
	if m.Payload == nil {
		return raw, nil
	}

	for _, h := range m.Payload.Headers {
		raw.Headers = append(raw.Headers, mailbox.Header{Name: h.Name, Value: h.Value})
	}

	body, err := convertPart(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.Id, err)
	}
	raw.Body = body
	return raw, nil
}

func convertPart(p *gmail.MessagePart) (mailbox.Part, error) {
	part := mailbox.Part{MimeType: p.MimeType}

	if p.Body != nil && p.Body.Data != "" {
		data, err := decodeData(p.Body.Data)
		if err != nil {
			return part, fmt.Errorf("decode %s part: %w", p.MimeType, err)
		}
		part.Data = data
	}

	for _, child := range p.Parts {
		c, err := convertPart(child)
		if err != nil {
			return part, err
		}
		part.Parts = append(part.Parts, c)
	}
	return part, nil
}

// decodeData accepts padded and unpadded base64url
func decodeData(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

func isNotFound(err error) bool {
	return apiCode(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiCode(err) == http.StatusConflict
}

func apiCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

var _ mailbox.Port = (*Adapter)(nil)

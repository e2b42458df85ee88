package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Provider names an OAuth account kind held by the broker.
type Provider string

const ProviderGoogle Provider = "google"

// TokenBroker fetches mailbox OAuth tokens from an auth server that owns
// storage and refresh of the account credentials.
type TokenBroker struct {
	baseURL string
	client  *http.Client
}

// NewTokenBroker creates a client for the auth server at authServerURL
func NewTokenBroker(authServerURL string) *TokenBroker {
	return &TokenBroker{
		baseURL: strings.TrimRight(authServerURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the provider token for the caller identified by bearer
func (c *TokenBroker) GetToken(ctx context.Context, bearer string, provider Provider) (*oauth2.Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no %s account connected", provider)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("broker returned an empty %s access token", provider)
	}

	tok := &oauth2.Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
	}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}

// TokenSource returns a source that asks the broker again once the cached
// token expires.
func (c *TokenBroker) TokenSource(ctx context.Context, bearer string, provider Provider) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, brokerSource{ctx: ctx, broker: c, bearer: bearer, provider: provider})
}

type brokerSource struct {
	ctx      context.Context
	broker   *TokenBroker
	bearer   string
	provider Provider
}

func (s brokerSource) Token() (*oauth2.Token, error) {
	return s.broker.GetToken(s.ctx, s.bearer, s.provider)
}

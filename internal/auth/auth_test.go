package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signingKey(t *testing.T) (jwk.Key, jwk.Set) {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	return priv, set
}

func bearerRequest(t *testing.T, priv jwk.Key, build func(*jwt.Builder) *jwt.Builder) *http.Request {
	t.Helper()
	tok, err := build(jwt.NewBuilder()).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	r.Header.Set("Authorization", "Bearer "+string(signed))
	return r
}

func TestUserFromRequest(t *testing.T) {
	priv, set := signingKey(t)
	v := NewStaticVerifier(set)

	r := bearerRequest(t, priv, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("user-1").Claim("email", "me@example.com").Expiration(time.Now().Add(time.Hour))
	})
	u, err := v.UserFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "user-1", Email: "me@example.com"}, u)
}

func TestUserFromRequestRejects(t *testing.T) {
	priv, set := signingKey(t)
	v := NewStaticVerifier(set)

	expired := bearerRequest(t, priv, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("user-1").Expiration(time.Now().Add(-time.Hour))
	})
	_, err := v.UserFromRequest(expired)
	assert.Error(t, err)

	noSubject := bearerRequest(t, priv, func(b *jwt.Builder) *jwt.Builder {
		return b.Expiration(time.Now().Add(time.Hour))
	})
	_, err = v.UserFromRequest(noSubject)
	assert.ErrorIs(t, err, ErrMissingSubject)

	otherKey, _ := signingKey(t)
	forged := bearerRequest(t, otherKey, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("user-1").Expiration(time.Now().Add(time.Hour))
	})
	_, err = v.UserFromRequest(forged)
	assert.Error(t, err)

	_, err = v.UserFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestTokenBroker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/auth/accounts/google/token", r.URL.Path)
		assert.Equal(t, "Bearer session-jwt", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":4102444800}`))
	}))
	defer srv.Close()

	ts := NewTokenBroker(srv.URL+"/").TokenSource(context.Background(), "session-jwt", ProviderGoogle)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, int64(4102444800), tok.Expiry.Unix())

	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "valid token is reused")
}

func TestTokenBrokerNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewTokenBroker(srv.URL).GetToken(context.Background(), "x", ProviderGoogle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no google account connected")
}

const testCredentials = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

func TestFileTokenSource(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	tokenPath := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(creds, []byte(testCredentials), 0600))

	_, err := FileTokenSource(context.Background(), creds, tokenPath)
	require.ErrorIs(t, err, ErrTokenMissing)

	want := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, SaveToken(tokenPath, want))

	ts, err := FileTokenSource(context.Background(), creds, tokenPath)
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)

	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

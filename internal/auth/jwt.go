package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

// ErrMissingSubject is returned for tokens without a sub claim.
var ErrMissingSubject = errors.New("auth: token missing subject")

// User represents an authenticated API caller from a JWT token
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTVerifier handles JWT token verification with cached JWKS
type JWTVerifier struct {
	jwksURL     string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	lastFetch   time.Time
	refreshTTL  time.Duration
	log         *zap.Logger
}

// NewJWTVerifier creates a verifier backed by a refreshed JWKS cache.
// Keys are refreshed in the background until ctx is done, so token checks
// never wait on the network.
func NewJWTVerifier(ctx context.Context, jwksURL string, log *zap.Logger) (*JWTVerifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	verifier := &JWTVerifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
		log:        log,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(verifier.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	verifier.cache = cache

	// Warm up the cache
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keySet, err := verifier.fetchKeySet(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	verifier.keySet = keySet
	verifier.lastFetch = time.Now()

	go verifier.backgroundRefresh(ctx)

	return verifier, nil
}

// NewStaticVerifier verifies against a fixed key set.
func NewStaticVerifier(set jwk.Set) *JWTVerifier {
	return &JWTVerifier{keySet: set, lastFetch: time.Now(), log: zap.NewNop()}
}

// fetchKeySet retrieves the JWKS from the cache (or fetches if needed)
func (v *JWTVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *JWTVerifier) backgroundRefresh(ctx context.Context) {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keySet, err := v.fetchKeySet(fetchCtx)
		cancel()

		if err != nil {
			v.log.Warn("JWKS refresh failed", zap.String("jwks_url", v.jwksURL), zap.Error(err))
			continue
		}
		v.keySetMutex.Lock()
		v.keySet = keySet
		v.lastFetch = time.Now()
		v.keySetMutex.Unlock()
	}
}

func (v *JWTVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// UserFromRequest extracts and validates the bearer token from the request
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.getKeySet(), jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, ErrMissingSubject
	}

	var email, name string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}
	if nameClaim, ok := token.Get("name"); ok {
		name, _ = nameClaim.(string)
	}

	return &User{
		ID:    userID,
		Email: email,
		Name:  name,
	}, nil
}

// CacheStats describes the cached key set
func (v *JWTVerifier) CacheStats() map[string]any {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()

	keyCount := 0
	if v.keySet != nil {
		keyCount = v.keySet.Len()
	}

	return map[string]any{
		"keys_cached": keyCount,
		"last_fetch":  v.lastFetch,
		"refresh_ttl": v.refreshTTL.String(),
		"age_seconds": time.Since(v.lastFetch).Seconds(),
		"jwks_url":    v.jwksURL,
	}
}

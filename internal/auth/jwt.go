package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

// JWKSURL is the signing-key endpoint of a Microsoft identity platform tenant.
func JWKSURL(tenant string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenant)
}

// IDTokenVerifier checks id_tokens against a cached JWKS.
type IDTokenVerifier struct {
	jwksURL    string
	audience   string
	cache      *jwk.Cache
	refreshTTL time.Duration
}

// NewIDTokenVerifier registers jwksURL with a background-refreshing key cache
// and fetches the keys once, so a bad URL fails at startup. Tokens must be
// issued for audience.
func NewIDTokenVerifier(ctx context.Context, jwksURL, audience string) (*IDTokenVerifier, error) {
	v := &IDTokenVerifier{
		jwksURL:    jwksURL,
		audience:   audience,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.cache = cache

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(warmCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	return v, nil
}

// Verify parses raw, checks its signature, lifetime and audience and returns
// its identity claims.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, apperrors.Auth("id_token", fmt.Errorf("load signing keys: %w", err))
	}

	token, err := jwt.ParseString(raw,
		// Microsoft's JWKS entries carry no "alg".
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAudience(v.audience),
		jwt.WithAcceptableSkew(time.Minute),
	)
	if err != nil {
		return nil, apperrors.Auth("id_token", err)
	}

	if token.Subject() == "" {
		return nil, apperrors.Auth("id_token", fmt.Errorf("token missing subject"))
	}

	return &Claims{
		Subject:  token.Subject(),
		Name:     stringClaim(token, "name"),
		Username: stringClaim(token, "preferred_username"),
		Email:    stringClaim(token, "email"),
		TenantID: stringClaim(token, "tid"),
	}, nil
}

func stringClaim(token jwt.Token, name string) string {
	v, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

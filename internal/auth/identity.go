package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

// Scopes requested for the signed-in user.
var Scopes = []string{
	"openid",
	"profile",
	"offline_access",
	"User.Read",
	"Mail.ReadWrite",
	"Chat.Read",
	"Chat.ReadWrite",
	"ChatMessage.Read",
}

const graphDefaultScope = "https://graph.microsoft.com/.default"

// Endpoint returns the Microsoft identity platform endpoint of a tenant
// ("common", "organizations", or a tenant id).
func Endpoint(tenant string) oauth2.Endpoint {
	return microsoft.AzureADEndpoint(tenant)
}

// Identity runs the authorization-code flow against the identity provider.
type Identity struct {
	oauth    *oauth2.Config
	verifier *IDTokenVerifier
}

// NewIdentity creates the flow adapter. verifier may be nil, in which case
// id_tokens are passed through unverified.
func NewIdentity(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, verifier *IDTokenVerifier) *Identity {
	return &Identity{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		verifier: verifier,
	}
}

// NewState returns a fresh anti-forgery state value.
func NewState() string {
	return uuid.NewString()
}

// AuthCodeURL is the provider URL the browser is sent to.
func (i *Identity) AuthCodeURL(state string) string {
	return i.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
}

// Exchange trades an authorization code for tokens. Every failure is an
// AuthError.
func (i *Identity) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, apperrors.Auth("exchange", apperrors.ErrMissingCode)
	}

	tok, err := i.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.Auth("exchange", err)
	}
	if tok.AccessToken == "" {
		return nil, apperrors.Auth("exchange", errors.New("no access token in response"))
	}

	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}

	if i.verifier != nil {
		if out.IDToken == "" {
			return nil, apperrors.Auth("exchange", errors.New("no id_token in response"))
		}
		claims, err := i.verifier.Verify(ctx, out.IDToken)
		if err != nil {
			return nil, err
		}
		out.Claims = claims
	}
	return out, nil
}

// AppTokenSource returns an app-only token source for Graph using the
// client-credentials grant. Tokens are cached until they expire.
func AppTokenSource(ctx context.Context, clientID, clientSecret string, endpoint oauth2.Endpoint) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     endpoint.TokenURL,
		Scopes:       []string{graphDefaultScope},
		AuthStyle:    endpoint.AuthStyle,
	}
	return cfg.TokenSource(ctx)
}

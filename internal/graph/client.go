package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/microsoft/kiota-abstractions-go/authentication"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the v1.0 Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client wraps a Graph service client bound to one credential.
type Client struct {
	client *msgraphsdk.GraphServiceClient
}

// Factory builds clients against one Graph base URL. Pointing the base URL at a
// local server is how tests exercise the adapter.
type Factory struct {
	baseURL string
}

// NewFactory creates a factory. An empty base URL means DefaultBaseURL.
func NewFactory(baseURL string) *Factory {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Factory{baseURL: strings.TrimRight(baseURL, "/")}
}

// ForToken returns a client that sends a fixed delegated access token.
func (f *Factory) ForToken(accessToken string) (*Client, error) {
	return f.ForTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// ForTokenSource returns a client that asks src for a token on every request.
// src is usually a client-credentials source, which caches until expiry.
func (f *Factory) ForTokenSource(src oauth2.TokenSource) (*Client, error) {
	auth := authentication.NewBaseBearerTokenAuthenticationProvider(&tokenSourceProvider{source: src})

	adapter, err := msgraphsdk.NewGraphRequestAdapter(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph request adapter: %w", err)
	}
	adapter.SetBaseUrl(f.baseURL)

	return &Client{client: msgraphsdk.NewGraphServiceClient(adapter)}, nil
}

// tokenSourceProvider adapts an oauth2.TokenSource to kiota's AccessTokenProvider.
type tokenSourceProvider struct {
	source oauth2.TokenSource
}

func (p *tokenSourceProvider) GetAuthorizationToken(ctx context.Context, _ *url.URL, _ map[string]interface{}) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("acquire access token: %w", err)
	}
	return tok.AccessToken, nil
}

func (p *tokenSourceProvider) GetAllowedHostsValidator() *authentication.AllowedHostsValidator {
	// Zero value allows every host; the base URL is operator-controlled.
	return &authentication.AllowedHostsValidator{}
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

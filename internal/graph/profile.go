package graph

import (
	"context"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/session"
)

// Profile reads the signed-in user.
func (c *Client) Profile(ctx context.Context) (session.Profile, error) {
	me, err := c.client.Me().Get(ctx, nil)
	if err != nil {
		return session.Profile{}, providerError("get profile", err)
	}
	return session.Profile{
		DisplayName:   deref(me.GetDisplayName()),
		Mail:          deref(me.GetMail()),
		PrincipalName: deref(me.GetUserPrincipalName()),
	}, nil
}

// FetchProfile reads /me with a delegated token. It satisfies session.ProfileFetcher.
func (f *Factory) FetchProfile(ctx context.Context, accessToken string) (session.Profile, error) {
	c, err := f.ForToken(accessToken)
	if err != nil {
		return session.Profile{}, err
	}
	return c.Profile(ctx)
}

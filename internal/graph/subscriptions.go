package graph

import (
	"context"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

// Subscription is a provider-side change-notification registration.
type Subscription struct {
	ID                        string     `json:"id"`
	Resource                  string     `json:"resource"`
	ChangeType                string     `json:"changeType"`
	ExpirationDateTime        *time.Time `json:"expirationDateTime,omitempty"`
	ClientState               string     `json:"clientState,omitempty"`
	NotificationURL           string     `json:"notificationUrl"`
	LifecycleNotificationURL  string     `json:"lifecycleNotificationUrl,omitempty"`
	LatestSupportedTLSVersion string     `json:"latestSupportedTlsVersion,omitempty"`
}

// ExpiresAt is the expiration, or the zero time when the provider sent none.
func (s Subscription) ExpiresAt() time.Time {
	if s.ExpirationDateTime == nil {
		return time.Time{}
	}
	return *s.ExpirationDateTime
}

// ListSubscriptions returns every subscription visible to the credential,
// following next links.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	resp, err := c.client.Subscriptions().Get(ctx, nil)
	if err != nil {
		return nil, providerError("list subscriptions", err)
	}

	var subs []Subscription
	for {
		for _, s := range resp.GetValue() {
			subs = append(subs, fromModel(s))
		}
		next := deref(resp.GetOdataNextLink())
		if next == "" {
			return subs, nil
		}
		resp, err = c.client.Subscriptions().WithUrl(next).Get(ctx, nil)
		if err != nil {
			return nil, providerError("list subscriptions", err)
		}
	}
}

// CreateSubscription registers sub with the provider and returns what it stored.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	body := models.NewSubscription()
	body.SetChangeType(strPtr(sub.ChangeType))
	body.SetResource(strPtr(sub.Resource))
	body.SetNotificationUrl(strPtr(sub.NotificationURL))
	if sub.LifecycleNotificationURL != "" {
		body.SetLifecycleNotificationUrl(strPtr(sub.LifecycleNotificationURL))
	}
	if sub.ClientState != "" {
		body.SetClientState(strPtr(sub.ClientState))
	}
	if sub.LatestSupportedTLSVersion != "" {
		body.SetLatestSupportedTlsVersion(strPtr(sub.LatestSupportedTLSVersion))
	}
	if sub.ExpirationDateTime != nil {
		expires := sub.ExpirationDateTime.UTC()
		body.SetExpirationDateTime(&expires)
	}

	created, err := c.client.Subscriptions().Post(ctx, body, nil)
	if err != nil {
		return Subscription{}, providerError("create subscription", err)
	}
	return fromModel(created), nil
}

// GetSubscription reads one subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	s, err := c.client.Subscriptions().BySubscriptionId(id).Get(ctx, nil)
	if err != nil {
		return Subscription{}, providerError("get subscription", err)
	}
	return fromModel(s), nil
}

// DeleteSubscription removes one subscription by id.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	if err := c.client.Subscriptions().BySubscriptionId(id).Delete(ctx, nil); err != nil {
		return providerError("delete subscription", err)
	}
	return nil
}

// ExtendSubscription moves a subscription's expiration to expires.
func (c *Client) ExtendSubscription(ctx context.Context, id string, expires time.Time) (Subscription, error) {
	body := models.NewSubscription()
	at := expires.UTC()
	body.SetExpirationDateTime(&at)

	updated, err := c.client.Subscriptions().BySubscriptionId(id).Patch(ctx, body, nil)
	if err != nil {
		return Subscription{}, providerError("renew subscription", err)
	}
	return fromModel(updated), nil
}

func fromModel(s models.Subscriptionable) Subscription {
	if s == nil {
		return Subscription{}
	}
	sub := Subscription{
		ID:                        deref(s.GetId()),
		Resource:                  deref(s.GetResource()),
		ChangeType:                deref(s.GetChangeType()),
		ClientState:               deref(s.GetClientState()),
		NotificationURL:           deref(s.GetNotificationUrl()),
		LifecycleNotificationURL:  deref(s.GetLifecycleNotificationUrl()),
		LatestSupportedTLSVersion: deref(s.GetLatestSupportedTlsVersion()),
	}
	if exp := s.GetExpirationDateTime(); exp != nil {
		at := *exp
		sub.ExpirationDateTime = &at
	}
	return sub
}

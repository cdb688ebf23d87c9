package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
)

const (
	changeTypes = "created,updated"
	tlsVersion  = "v1_2"

	mailResource  = "/me/mailFolders/Inbox/messages"
	teamsResource = "/me/chats/getAllMessages"
)

// Subscription status values reported after a create.
const (
	StatusActive     = "active"
	StatusExpired    = "expired"
	StatusUnverified = "unverified"
)

// Client is the slice of the Graph adapter the manager uses.
type Client interface {
	ListSubscriptions(ctx context.Context) ([]graph.Subscription, error)
	CreateSubscription(ctx context.Context, sub graph.Subscription) (graph.Subscription, error)
	GetSubscription(ctx context.Context, id string) (graph.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	ExtendSubscription(ctx context.Context, id string, expires time.Time) (graph.Subscription, error)
}

// Dial returns a Client acting with a user's delegated token.
type Dial func(accessToken string) (Client, error)

// Details describes what CreateOrReplace did besides creating.
type Details struct {
	Resource    string     `json:"resource"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Replaced    []string   `json:"replaced"`
	VerifyError string     `json:"verifyError,omitempty"`
}

// Result is the outcome of CreateOrReplace.
type Result struct {
	Subscription graph.Subscription `json:"subscription"`
	Status       string             `json:"status"`
	Details      Details            `json:"details"`
}

// Manager keeps at most one subscription per resource kind for a user.
type Manager struct {
	cfg  *config.Config
	dial Dial
	now  func() time.Time
	log  zerolog.Logger
}

// NewManager creates a subscription manager.
func NewManager(cfg *config.Config, dial Dial, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		dial: dial,
		now:  time.Now,
		log:  log.With().Str("component", "subscriptions").Logger(),
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// ResourceFor returns the subscription resource for a kind.
func ResourceFor(kind resource.Kind) (string, error) {
	switch kind {
	case resource.KindEmail:
		return mailResource, nil
	case resource.KindTeams:
		return teamsResource, nil
	default:
		return "", &apperrors.ValidationError{Field: "kind", Err: fmt.Errorf("unsupported subscription kind %q", kind)}
	}
}

// List returns the user's subscriptions.
func (m *Manager) List(ctx context.Context, accessToken string) ([]graph.Subscription, error) {
	client, err := m.dial(accessToken)
	if err != nil {
		return nil, err
	}
	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []graph.Subscription{}
	}
	return subs, nil
}

// CreateOrReplace deletes every subscription of kind and creates a fresh one.
// It is not transactional: if the create fails after the deletes succeeded the
// user is left with no subscription of that kind.
func (m *Manager) CreateOrReplace(ctx context.Context, accessToken string, kind resource.Kind) (Result, error) {
	res, err := ResourceFor(kind)
	if err != nil {
		return Result{}, err
	}
	if err := m.cfg.RequireSubscriptions(); err != nil {
		return Result{}, err
	}

	client, err := m.dial(accessToken)
	if err != nil {
		return Result{}, err
	}

	existing, err := client.ListSubscriptions(ctx)
	if err != nil {
		return Result{}, err
	}

	log := m.log.With().Str("kind", string(kind)).Logger()

	replaced := []string{}
	for _, sub := range existing {
		if resource.Classify(sub.Resource) != kind {
			continue
		}
		if err := deleteIgnoringNotFound(ctx, client, sub.ID); err != nil {
			return Result{}, err
		}
		log.Info().Str("subscription", sub.ID).Str("resource", sub.Resource).Msg("replaced subscription deleted")
		replaced = append(replaced, sub.ID)
	}

	notificationURL := m.cfg.NotificationURL()
	expires := m.now().Add(m.cfg.SubscriptionTTL).UTC()
	created, err := client.CreateSubscription(ctx, graph.Subscription{
		Resource:                  res,
		ChangeType:                changeTypes,
		NotificationURL:           notificationURL,
		LifecycleNotificationURL:  notificationURL,
		ClientState:               m.cfg.SubscriptionSecret,
		LatestSupportedTLSVersion: tlsVersion,
		ExpirationDateTime:        &expires,
	})
	if err != nil {
		if len(replaced) > 0 {
			log.Error().Err(err).Strs("deleted", replaced).Msg("create failed after deleting existing subscriptions; none of this kind remain")
		}
		return Result{}, err
	}

	result := Result{
		Subscription: created,
		Details:      Details{Resource: res, ExpiresAt: created.ExpirationDateTime, Replaced: replaced},
	}

	verified, err := client.GetSubscription(ctx, created.ID)
	switch {
	case err != nil:
		result.Status = StatusUnverified
		result.Details.VerifyError = err.Error()
		log.Warn().Err(err).Str("subscription", created.ID).Msg("created subscription could not be re-read")
	case verified.ExpiresAt().After(m.now()):
		result.Status = StatusActive
		result.Details.ExpiresAt = verified.ExpirationDateTime
	default:
		result.Status = StatusExpired
		result.Details.ExpiresAt = verified.ExpirationDateTime
	}

	log.Info().Str("subscription", created.ID).Str("status", result.Status).Time("expires_at", result.Subscription.ExpiresAt()).Msg("subscription created")
	return result, nil
}

// Delete removes one subscription. An id the provider no longer knows counts
// as deleted.
func (m *Manager) Delete(ctx context.Context, accessToken, id string) error {
	client, err := m.dial(accessToken)
	if err != nil {
		return err
	}
	if err := deleteIgnoringNotFound(ctx, client, id); err != nil {
		return err
	}
	m.log.Info().Str("subscription", id).Msg("subscription deleted")
	return nil
}

// Renew pushes a subscription's expiration out to now plus the configured TTL.
func (m *Manager) Renew(ctx context.Context, accessToken, id string) (graph.Subscription, error) {
	client, err := m.dial(accessToken)
	if err != nil {
		return graph.Subscription{}, err
	}
	sub, err := client.ExtendSubscription(ctx, id, m.now().Add(m.cfg.SubscriptionTTL))
	if err != nil {
		return graph.Subscription{}, err
	}
	m.log.Info().Str("subscription", id).Time("expires_at", sub.ExpiresAt()).Msg("subscription renewed")
	return sub, nil
}

func deleteIgnoringNotFound(ctx context.Context, client Client, id string) error {
	err := client.DeleteSubscription(ctx, id)
	var pe *apperrors.ProviderError
	if errors.As(err, &pe) && pe.NotFound() {
		return nil
	}
	return err
}

package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
)

// ErrEnrichmentUnavailable is the degrade reason when no fetcher is configured.
var ErrEnrichmentUnavailable = errors.New("message enrichment is not configured")

// MessageFetcher reads the message a notification points at.
type MessageFetcher interface {
	FetchMail(ctx context.Context, ref resource.Ref) (graph.MailMessage, error)
	FetchChatMessage(ctx context.Context, ref resource.Ref) (graph.ChatMessage, error)
}

// Broadcaster delivers events to connected clients.
type Broadcaster interface {
	Broadcast(evt push.Event) int
}

// Options configures an Ingestor.
type Options struct {
	// Secret is the clientState every subscription was created with.
	Secret string
	// Policy is config.ClientStateWarn or config.ClientStateReject.
	Policy string
	// Timeout bounds each enrichment call.
	Timeout time.Duration
}

// Ingestor turns webhook batches into push events.
type Ingestor struct {
	ctx     context.Context
	fetcher MessageFetcher
	out     Broadcaster
	opts    Options
	dedup   *Dedup
	now     func() time.Time
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewIngestor creates an ingestor. Accepted batches run on ctx, not on the
// request that delivered them. fetcher may be nil, in which case every mail
// and teams event is degraded.
func NewIngestor(ctx context.Context, fetcher MessageFetcher, out Broadcaster, opts Options, log zerolog.Logger) *Ingestor {
	if opts.Policy == "" {
		opts.Policy = config.ClientStateWarn
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Ingestor{
		ctx:     ctx,
		fetcher: fetcher,
		out:     out,
		opts:    opts,
		dedup:   NewDedup(),
		now:     time.Now,
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// SetClock replaces the time source of the ingestor and its dedup table.
func (i *Ingestor) SetClock(now func() time.Time) {
	i.now = now
	i.dedup.SetClock(now)
}

// Dedup exposes the dedup table so it can be pruned periodically.
func (i *Ingestor) Dedup() *Dedup {
	return i.dedup
}

// Accept processes body in the background. The caller has already answered
// the provider.
func (i *Ingestor) Accept(body []byte) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := i.ProcessBatch(i.ctx, body); err != nil {
			i.log.Warn().Err(err).Int("bytes", len(body)).Msg("webhook payload dropped")
		}
	}()
}

// Wait blocks until every accepted batch has finished.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// ProcessBatch decodes body and processes its notifications in order. One
// notification failing does not stop the rest.
func (i *Ingestor) ProcessBatch(ctx context.Context, body []byte) error {
	batch, err := DecodeBatch(body)
	if err != nil {
		return err
	}

	i.log.Debug().Int("notifications", len(batch)).Msg("webhook batch received")
	for idx, n := range batch {
		i.processSafely(ctx, idx, n)
	}
	return nil
}

func (i *Ingestor) processSafely(ctx context.Context, idx int, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error().
				Interface("panic", r).
				Int("index", idx).
				Str("subscription", n.SubscriptionID).
				Msg("notification processing panicked")
		}
	}()
	i.Process(ctx, n)
}

// Process handles one notification. It reports whether an event was emitted.
func (i *Ingestor) Process(ctx context.Context, n Notification) bool {
	log := i.log.With().
		Str("subscription", n.SubscriptionID).
		Str("change_type", n.ChangeType).
		Str("resource", n.Resource).
		Logger()

	// Rejected notifications must not occupy a dedup slot.
	if !i.authentic(n) {
		log.Warn().Bool("security", true).Str("policy", i.opts.Policy).Msg("clientState mismatch")
		if i.opts.Policy == config.ClientStateReject {
			return false
		}
	}

	if n.LifecycleEvent == "" && i.dedup.Duplicate(n) {
		log.Debug().Msg("duplicate notification skipped")
		return false
	}

	if n.LifecycleEvent != "" {
		i.lifecycle(log, n)
		return false
	}

	receivedAt := i.now()
	evt := push.Event{
		ChangeType:     n.ChangeType,
		SubscriptionID: n.SubscriptionID,
		ResourcePath:   n.Resource,
		ReceivedAt:     push.Timestamp(receivedAt),
	}

	kind := resource.Classify(n.Resource)
	evt.Type = string(kind)

	switch kind {
	case resource.KindEmail:
		evt.Data = i.email(ctx, log, n)
	case resource.KindTeams:
		evt.Data = i.teams(ctx, log, n)
	default:
		log.Info().Msg("unrecognised resource forwarded as-is")
		evt.Data = UnknownData{
			Resource:             n.Resource,
			ChangeType:           n.ChangeType,
			ReceivedAt:           push.Timestamp(receivedAt),
			ProcessedAt:          push.Timestamp(i.now()),
			Message:              "Notification for an unrecognised resource type",
			OriginalNotification: n.Raw,
		}
	}

	delivered := i.out.Broadcast(evt)
	log.Info().Str("type", evt.Type).Int("delivered", delivered).Msg("notification relayed")
	return true
}

func (i *Ingestor) authentic(n Notification) bool {
	if n.ClientState == "" || i.opts.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(n.ClientState), []byte(i.opts.Secret)) == 1
}

func (i *Ingestor) lifecycle(log zerolog.Logger, n Notification) {
	e := log.Warn().Str("lifecycle_event", n.LifecycleEvent)
	if n.SubscriptionExpirationDateTime != "" {
		e = e.Str("expires_at", n.SubscriptionExpirationDateTime)
	}
	switch n.LifecycleEvent {
	case LifecycleReauthorizationRequired:
		e.Msg("subscription needs reauthorization; renew it from the client")
	case LifecycleSubscriptionRemoved:
		e.Msg("subscription removed by the provider")
	case LifecycleMissed:
		e.Msg("provider reports missed notifications")
	default:
		e.Msg("unrecognised lifecycle event")
	}
}

func (i *Ingestor) email(ctx context.Context, log zerolog.Logger, n Notification) EmailData {
	ref := mailRef(n)
	if i.fetcher == nil {
		return degradedEmail(ref.MessageID, ErrEnrichmentUnavailable)
	}
	if !ref.MailMessage() {
		return degradedEmail(ref.MessageID, fmt.Errorf("no message id in notification for %s", n.Resource))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	msg, err := i.fetcher.FetchMail(fetchCtx, ref)
	if err != nil {
		log.Warn().Err(err).Str("message", ref.MessageID).Msg("mail enrichment failed, sending degraded event")
		return degradedEmail(ref.MessageID, err)
	}
	return emailData(msg)
}

func (i *Ingestor) teams(ctx context.Context, log zerolog.Logger, n Notification) TeamsData {
	ref := chatRef(n)
	if i.fetcher == nil {
		return degradedTeams(ref.MessageID, ref.ChatID, ErrEnrichmentUnavailable)
	}
	if !ref.ChatMessage() {
		return degradedTeams(ref.MessageID, ref.ChatID, fmt.Errorf("no chat message in notification for %s", n.Resource))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	msg, err := i.fetcher.FetchChatMessage(fetchCtx, ref)
	if err != nil {
		log.Warn().Err(err).Str("chat", ref.ChatID).Str("message", ref.MessageID).Msg("chat enrichment failed, sending degraded event")
		return degradedTeams(ref.MessageID, ref.ChatID, err)
	}
	return teamsData(msg)
}

// mailRef locates the message of a mail notification: resourceData.id with the
// user from the resource path, then resourceData's @odata.id, then the
// resource path itself.
func mailRef(n Notification) resource.Ref {
	fromResource := resource.Parse(n.Resource)
	if id := n.ResourceDataString("id"); id != "" {
		return resource.Ref{Kind: resource.KindEmail, UserID: fromResource.UserID, MessageID: id}
	}
	if odataID := n.ResourceDataString("@odata.id"); odataID != "" {
		if ref := resource.Parse(odataID); ref.MessageID != "" {
			return ref
		}
	}
	return fromResource
}

// chatRef locates the message of a teams notification: resourceData's
// @odata.id, else the resource path joined with resourceData.id.
func chatRef(n Notification) resource.Ref {
	if odataID := n.ResourceDataString("@odata.id"); odataID != "" {
		if ref := resource.Parse(odataID); ref.ChatMessage() {
			return ref
		}
	}
	ref := resource.Parse(n.Resource)
	if ref.MessageID == "" {
		if id := n.ResourceDataString("id"); id != "" {
			ref = resource.Parse(n.Resource + "/" + id)
		}
	}
	return ref
}

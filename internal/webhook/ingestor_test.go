package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/webhook"
)

const secret = "s3cret"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu       sync.Mutex
	mailRefs []resource.Ref
	chatRefs []resource.Ref
	mailErr  error
	chatErr  error
	panicOn  string
}

func (f *fakeFetcher) FetchMail(_ context.Context, ref resource.Ref) (graph.MailMessage, error) {
	f.mu.Lock()
	f.mailRefs = append(f.mailRefs, ref)
	f.mu.Unlock()
	if ref.MessageID == f.panicOn {
		panic("fetch exploded")
	}
	if f.mailErr != nil {
		return graph.MailMessage{}, f.mailErr
	}
	return graph.MailMessage{
		ID:               ref.MessageID,
		Subject:          "Hello " + ref.MessageID,
		From:             graph.Address{Name: "Grace Hopper", Address: "grace@example.com"},
		To:               []graph.Address{{Name: "Ada", Address: "ada@example.com"}},
		ReceivedDateTime: time.Date(2026, 10, 19, 11, 59, 0, 0, time.UTC),
		BodyContent:      "body",
		BodyType:         "text",
		Importance:       "normal",
	}, nil
}

func (f *fakeFetcher) FetchChatMessage(_ context.Context, ref resource.Ref) (graph.ChatMessage, error) {
	f.mu.Lock()
	f.chatRefs = append(f.chatRefs, ref)
	f.mu.Unlock()
	if f.chatErr != nil {
		return graph.ChatMessage{}, f.chatErr
	}
	return graph.ChatMessage{ID: ref.MessageID, ChatID: ref.ChatID, Content: "standup?", ContentType: "text", From: "Linus"}, nil
}

type collector struct {
	mu     sync.Mutex
	events []push.Event
}

func (c *collector) Broadcast(evt push.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return 1
}

func (c *collector) all() []push.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]push.Event(nil), c.events...)
}

func newIngestor(t *testing.T, fetcher webhook.MessageFetcher, policy string) (*webhook.Ingestor, *collector, *clock) {
	t.Helper()
	out := &collector{}
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	ing := webhook.NewIngestor(context.Background(), fetcher, out, webhook.Options{
		Secret:  secret,
		Policy:  policy,
		Timeout: time.Second,
	}, zerolog.Nop())
	ing.SetClock(clk.Now)
	return ing, out, clk
}

func mailNotification(sub, msgID string) webhook.Notification {
	return webhook.Notification{
		SubscriptionID: sub,
		ChangeType:     "created",
		Resource:       "Users/u1/Messages/" + msgID,
		ClientState:    secret,
		ResourceData:   map[string]any{"id": msgID, "@odata.type": "#Microsoft.Graph.Message"},
	}
}

func batch(t *testing.T, ns ...webhook.Notification) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"value": ns})
	require.NoError(t, err)
	return b
}

func TestIngestor_EmailEnriched(t *testing.T) {
	f := &fakeFetcher{}
	ing, out, _ := newIngestor(t, f, config.ClientStateWarn)

	require.True(t, ing.Process(context.Background(), mailNotification("sub-1", "m1")))

	events := out.all()
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, "email", evt.Type)
	assert.Equal(t, "created", evt.ChangeType)
	assert.Equal(t, "sub-1", evt.SubscriptionID)
	assert.Equal(t, "Users/u1/Messages/m1", evt.ResourcePath)
	assert.Equal(t, "2026-10-19T12:00:00Z", evt.ReceivedAt)

	data, ok := evt.Data.(webhook.EmailData)
	require.True(t, ok)
	assert.Equal(t, "Hello m1", data.Subject)
	assert.Equal(t, "Grace Hopper <grace@example.com>", data.From)
	assert.Equal(t, "Ada <ada@example.com>", data.To)
	assert.Equal(t, "2026-10-19T11:59:00Z", data.ReceivedDateTime)
	assert.Empty(t, data.Error)

	require.Len(t, f.mailRefs, 1)
	assert.Equal(t, "u1", f.mailRefs[0].UserID)
	assert.Equal(t, "m1", f.mailRefs[0].MessageID)
}

func TestIngestor_EmailRefFallbacks(t *testing.T) {
	f := &fakeFetcher{}
	ing, _, _ := newIngestor(t, f, config.ClientStateWarn)

	ing.Process(context.Background(), webhook.Notification{
		SubscriptionID: "s", ChangeType: "created", ClientState: secret,
		Resource:     "/me/mailFolders('Inbox')/messages",
		ResourceData: map[string]any{"@odata.id": "Users('u9')/Messages('m9')"},
	})
	ing.Process(context.Background(), webhook.Notification{
		SubscriptionID: "s", ChangeType: "updated", ClientState: secret,
		Resource: "/users/u7/messages/m7",
	})

	require.Len(t, f.mailRefs, 2)
	assert.Equal(t, resource.Ref{Kind: resource.KindEmail, UserID: "u9", MessageID: "m9"}, f.mailRefs[0])
	assert.Equal(t, "u7", f.mailRefs[1].UserID)
	assert.Equal(t, "m7", f.mailRefs[1].MessageID)
}

func TestIngestor_EmailDegraded(t *testing.T) {
	f := &fakeFetcher{mailErr: &apperrors.ProviderError{Op: "fetch mail", Status: 403, Code: "ErrorAccessDenied", Message: "Access is denied."}}
	ing, out, _ := newIngestor(t, f, config.ClientStateWarn)

	ing.Process(context.Background(), mailNotification("sub-1", "m1"))

	events := out.all()
	require.Len(t, events, 1)
	data := events[0].Data.(webhook.EmailData)
	assert.Equal(t, "Mail notification (details unavailable)", data.Subject)
	assert.Equal(t, "Unknown sender", data.From)
	assert.Equal(t, "Unknown recipient", data.To)
	assert.Equal(t, "m1", data.MessageID)
	assert.Contains(t, data.Error, "Access is denied.")
}

func TestIngestor_NoFetcherDegrades(t *testing.T) {
	ing, out, _ := newIngestor(t, nil, config.ClientStateWarn)
	ing.Process(context.Background(), mailNotification("sub-1", "m1"))

	data := out.all()[0].Data.(webhook.EmailData)
	assert.Equal(t, webhook.ErrEnrichmentUnavailable.Error(), data.Error)
}

func TestIngestor_Teams(t *testing.T) {
	f := &fakeFetcher{}
	ing, out, _ := newIngestor(t, f, config.ClientStateWarn)

	ing.Process(context.Background(), webhook.Notification{
		SubscriptionID: "sub-2", ChangeType: "created", ClientState: secret,
		Resource:     "chats('19:abc@thread.v2')/messages('171')",
		ResourceData: map[string]any{"id": "171"},
	})
	ing.Process(context.Background(), webhook.Notification{
		SubscriptionID: "sub-2", ChangeType: "created", ClientState: secret,
		Resource:     "/chats/19:def@thread.v2/messages",
		ResourceData: map[string]any{"id": "172"},
	})

	events := out.all()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "teams", e.Type)
	}
	first := events[0].Data.(webhook.TeamsData)
	assert.Equal(t, "standup?", first.Content)
	assert.Equal(t, "Linus", first.From)
	assert.Equal(t, "19:abc@thread.v2", first.ChatID)

	require.Len(t, f.chatRefs, 2)
	assert.Equal(t, "19:def@thread.v2", f.chatRefs[1].ChatID)
	assert.Equal(t, "172", f.chatRefs[1].MessageID)

	f.chatErr = errors.New("timeout")
	ing.Process(context.Background(), webhook.Notification{
		SubscriptionID: "sub-2", ChangeType: "updated", ClientState: secret,
		Resource: "chats('19:abc@thread.v2')/messages('173')",
	})
	degraded := out.all()[2].Data.(webhook.TeamsData)
	assert.Equal(t, "timeout", degraded.Error)
	assert.Equal(t, "173", degraded.MessageID)
}

func TestIngestor_UnknownForwarded(t *testing.T) {
	f := &fakeFetcher{}
	ing, out, _ := newIngestor(t, f, config.ClientStateWarn)

	raw := batch(t, webhook.Notification{SubscriptionID: "s", ChangeType: "updated", Resource: "/me/events/e1", ClientState: secret})
	require.NoError(t, ing.ProcessBatch(context.Background(), raw))

	events := out.all()
	require.Len(t, events, 1)
	assert.Equal(t, "unknown", events[0].Type)
	data := events[0].Data.(webhook.UnknownData)
	assert.Equal(t, "/me/events/e1", data.Resource)
	assert.Contains(t, string(data.OriginalNotification), `"/me/events/e1"`)
	assert.Empty(t, f.mailRefs)
	assert.Empty(t, f.chatRefs)
}

func TestIngestor_DedupWindow(t *testing.T) {
	f := &fakeFetcher{}
	ing, out, clk := newIngestor(t, f, config.ClientStateWarn)
	n := mailNotification("sub-1", "m1")

	require.True(t, ing.Process(context.Background(), n))
	clk.Advance(10 * time.Second)
	require.False(t, ing.Process(context.Background(), n))
	clk.Advance(20 * time.Second)
	require.True(t, ing.Process(context.Background(), n), "30s after the first, the change is new again")

	assert.Len(t, out.all(), 2)

	other := n
	other.ChangeType = "updated"
	require.True(t, ing.Process(context.Background(), other), "a different change type is a different key")
}

func TestIngestor_ClientStatePolicy(t *testing.T) {
	bad := mailNotification("sub-1", "m1")
	bad.ClientState = "wrong"
	missing := mailNotification("sub-1", "m2")
	missing.ClientState = ""

	t.Run("warn continues", func(t *testing.T) {
		ing, out, _ := newIngestor(t, &fakeFetcher{}, config.ClientStateWarn)
		assert.True(t, ing.Process(context.Background(), bad))
		assert.True(t, ing.Process(context.Background(), missing))
		assert.Len(t, out.all(), 2)
	})

	t.Run("reject drops", func(t *testing.T) {
		f := &fakeFetcher{}
		ing, out, _ := newIngestor(t, f, config.ClientStateReject)
		assert.False(t, ing.Process(context.Background(), bad))
		assert.False(t, ing.Process(context.Background(), missing))
		assert.True(t, ing.Process(context.Background(), mailNotification("sub-1", "m3")))
		assert.Len(t, out.all(), 1)
		assert.Len(t, f.mailRefs, 1)
	})

	t.Run("rejected forgery does not shadow the genuine notification", func(t *testing.T) {
		ing, out, _ := newIngestor(t, &fakeFetcher{}, config.ClientStateReject)
		genuine := mailNotification("sub-1", "m4")
		forged := genuine
		forged.ClientState = "attacker"

		assert.False(t, ing.Process(context.Background(), forged))
		assert.True(t, ing.Process(context.Background(), genuine))
		assert.Len(t, out.all(), 1)
		assert.Equal(t, 1, ing.Dedup().Len())
	})
}

func TestIngestor_LifecycleNotEmitted(t *testing.T) {
	ing, out, _ := newIngestor(t, &fakeFetcher{}, config.ClientStateWarn)
	for _, ev := range []string{webhook.LifecycleReauthorizationRequired, webhook.LifecycleSubscriptionRemoved, webhook.LifecycleMissed} {
		assert.False(t, ing.Process(context.Background(), webhook.Notification{
			SubscriptionID: "sub-1", ClientState: secret, LifecycleEvent: ev,
			Resource: "/me/mailFolders/Inbox/messages",
		}))
	}
	assert.Empty(t, out.all())
}

func TestIngestor_BatchIsolation(t *testing.T) {
	f := &fakeFetcher{panicOn: "boom"}
	ing, out, _ := newIngestor(t, f, config.ClientStateWarn)

	body := batch(t,
		mailNotification("sub-1", "m1"),
		mailNotification("sub-1", "boom"),
		mailNotification("sub-1", "m3"),
	)
	require.NoError(t, ing.ProcessBatch(context.Background(), body))

	events := out.all()
	require.Len(t, events, 2)
	assert.Equal(t, "Hello m1", events[0].Data.(webhook.EmailData).Subject)
	assert.Equal(t, "Hello m3", events[1].Data.(webhook.EmailData).Subject)
}

func TestIngestor_MalformedBatch(t *testing.T) {
	ing, out, _ := newIngestor(t, &fakeFetcher{}, config.ClientStateWarn)

	for _, body := range []string{"", "not json", `{"other":1}`, `{"value":[1,2]}`} {
		err := ing.ProcessBatch(context.Background(), []byte(body))
		var ve *apperrors.ValidationError
		assert.True(t, errors.As(err, &ve), "body %q", body)
	}
	require.NoError(t, ing.ProcessBatch(context.Background(), []byte(`{"value":[]}`)))
	assert.Empty(t, out.all())
}

func TestIngestor_AcceptRunsInBackground(t *testing.T) {
	ing, out, _ := newIngestor(t, &fakeFetcher{}, config.ClientStateWarn)

	for i := 0; i < 3; i++ {
		ing.Accept(batch(t, mailNotification(fmt.Sprintf("sub-%d", i), "m1")))
	}
	ing.Accept([]byte("garbage"))
	ing.Wait()

	assert.Len(t, out.all(), 3)
}

func TestDedup_PruneAboveLimit(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	d := webhook.NewDedup()
	d.SetClock(clk.Now)

	for i := 0; i < webhook.DedupMaxEntries; i++ {
		require.False(t, d.Duplicate(webhook.Notification{SubscriptionID: fmt.Sprintf("old-%d", i)}))
	}
	require.Equal(t, webhook.DedupMaxEntries, d.Len())

	clk.Advance(webhook.DedupRetention + time.Second)
	require.False(t, d.Duplicate(webhook.Notification{SubscriptionID: "fresh"}))
	assert.Equal(t, 1, d.Len(), "the write that crosses the limit evicts stale entries")

	clk.Advance(webhook.DedupRetention + time.Second)
	assert.Equal(t, 1, d.Prune())
	assert.Equal(t, 0, d.Len())
}

package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/webhook"
)

const defaultKeepAlive = 25 * time.Second

// events is the push channel. Each connection gets the connected sentinel and
// then every event broadcast while it stays open.
func (s *Server) events(c *gin.Context) {
	stream := push.NewStream(s.cfg.StreamBuffer)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if err := s.registry.Subscribe(stream); err != nil {
		s.log.Warn().Err(err).Msg("push connection rejected")
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer s.registry.Unsubscribe(stream.ID())

	every := s.cfg.StreamKeepAlive
	if every <= 0 {
		every = defaultKeepAlive
	}
	keepAlive := time.NewTicker(every)
	defer keepAlive.Stop()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case <-stream.Done():
			return false
		case payload := <-stream.Messages():
			if err := sse.Encode(w, sse.Event{Data: string(payload)}); err != nil {
				return false
			}
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

// testEvent broadcasts one sample event of each enriched type.
func (s *Server) testEvent(c *gin.Context) {
	now := push.Timestamp(s.now())

	delivered := s.registry.Broadcast(push.Event{
		Type:           "email",
		ChangeType:     "created",
		SubscriptionID: "test-subscription",
		ResourcePath:   "/me/messages/test-message",
		ReceivedAt:     now,
		Data: webhook.EmailData{
			MessageID:        "test-message",
			Subject:          "Test email event",
			From:             "Graph Relay <relay@example.com>",
			To:               "You <you@example.com>",
			ReceivedDateTime: now,
			BodyPreview:      "This is a test event.",
			BodyContent:      "This is a test event.",
			BodyType:         "text",
			Importance:       "normal",
		},
	})
	delivered += s.registry.Broadcast(push.Event{
		Type:           "teams",
		ChangeType:     "created",
		SubscriptionID: "test-subscription",
		ResourcePath:   "/chats/test-chat/messages/test-message",
		ReceivedAt:     now,
		Data: webhook.TeamsData{
			MessageID:       "test-message",
			Content:         "This is a test event.",
			ContentType:     "text",
			From:            "Graph Relay",
			ChatID:          "test-chat",
			CreatedDateTime: now,
		},
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "delivered": delivered})
}

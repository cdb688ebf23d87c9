package webhook

import (
	"encoding/json"
	"time"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
)

// EmailData is the payload of an email event.
type EmailData struct {
	MessageID        string `json:"messageId"`
	Subject          string `json:"subject"`
	From             string `json:"from"`
	To               string `json:"to"`
	ReceivedDateTime string `json:"receivedDateTime,omitempty"`
	BodyPreview      string `json:"bodyPreview,omitempty"`
	BodyContent      string `json:"bodyContent,omitempty"`
	BodyType         string `json:"bodyType,omitempty"`
	Importance       string `json:"importance,omitempty"`
	HasAttachments   bool   `json:"hasAttachments"`
	Error            string `json:"error,omitempty"`
}

// TeamsData is the payload of a teams event.
type TeamsData struct {
	MessageID            string `json:"messageId"`
	Content              string `json:"content"`
	ContentType          string `json:"contentType,omitempty"`
	From                 string `json:"from"`
	ChatID               string `json:"chatId,omitempty"`
	CreatedDateTime      string `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string `json:"lastModifiedDateTime,omitempty"`
	Error                string `json:"error,omitempty"`
}

// UnknownData is the payload of an event whose resource was not recognised.
type UnknownData struct {
	Resource             string          `json:"resource"`
	ChangeType           string          `json:"changeType"`
	ReceivedAt           string          `json:"receivedAt"`
	ProcessedAt          string          `json:"processedAt"`
	Message              string          `json:"message"`
	OriginalNotification json.RawMessage `json:"originalNotification,omitempty"`
}

const (
	degradedSubject   = "Mail notification (details unavailable)"
	degradedSender    = "Unknown sender"
	degradedRecipient = "Unknown recipient"
	degradedContent   = "Teams message (details unavailable)"
)

func emailData(m graph.MailMessage) EmailData {
	return EmailData{
		MessageID:        m.ID,
		Subject:          m.Subject,
		From:             m.From.String(),
		To:               m.Recipients(),
		ReceivedDateTime: stamp(m.ReceivedDateTime),
		BodyPreview:      m.BodyPreview,
		BodyContent:      m.BodyContent,
		BodyType:         m.BodyType,
		Importance:       m.Importance,
		HasAttachments:   m.HasAttachments,
	}
}

func degradedEmail(messageID string, err error) EmailData {
	return EmailData{
		MessageID: messageID,
		Subject:   degradedSubject,
		From:      degradedSender,
		To:        degradedRecipient,
		Error:     err.Error(),
	}
}

func teamsData(m graph.ChatMessage) TeamsData {
	return TeamsData{
		MessageID:            m.ID,
		Content:              m.Content,
		ContentType:          m.ContentType,
		From:                 m.From,
		ChatID:               m.ChatID,
		CreatedDateTime:      stamp(m.CreatedDateTime),
		LastModifiedDateTime: stamp(m.LastModifiedDateTime),
	}
}

func degradedTeams(messageID, chatID string, err error) TeamsData {
	return TeamsData{
		MessageID: messageID,
		Content:   degradedContent,
		From:      degradedSender,
		ChatID:    chatID,
		Error:     err.Error(),
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return push.Timestamp(t)
}

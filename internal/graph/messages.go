package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
)

var mailFields = []string{
	"id", "subject", "from", "toRecipients", "receivedDateTime",
	"bodyPreview", "body", "importance", "hasAttachments",
}

// Address is a mail participant.
type Address struct {
	Name    string
	Address string
}

// String renders "Name <address>", or whichever half is present.
func (a Address) String() string {
	switch {
	case a.Name != "" && a.Address != "":
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	case a.Address != "":
		return a.Address
	default:
		return a.Name
	}
}

// MailMessage is a normalized Outlook message.
type MailMessage struct {
	ID               string
	Subject          string
	From             Address
	To               []Address
	ReceivedDateTime time.Time
	BodyPreview      string
	BodyContent      string
	BodyType         string
	Importance       string
	HasAttachments   bool
}

// Recipients joins the To list with ", ".
func (m MailMessage) Recipients() string {
	parts := make([]string, 0, len(m.To))
	for _, a := range m.To {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// ChatMessage is a normalized Teams chat message.
type ChatMessage struct {
	ID                   string
	ChatID               string
	Content              string
	ContentType          string
	From                 string
	CreatedDateTime      time.Time
	LastModifiedDateTime time.Time
}

func (c *Client) user(id string) *users.UserItemRequestBuilder {
	if id == "" || id == "me" {
		return c.client.Me()
	}
	return c.client.Users().ByUserId(id)
}

// FetchMail reads one mail message as plain text. When the text body comes
// back empty the body is fetched again as HTML.
func (c *Client) FetchMail(ctx context.Context, ref resource.Ref) (MailMessage, error) {
	if ref.MessageID == "" {
		return MailMessage{}, &apperrors.ValidationError{Field: "messageId", Err: errors.New("empty")}
	}

	item := c.user(ref.UserOrMe()).Messages().ByMessageId(ref.MessageID)
	msg, err := item.Get(ctx, messageRequest(mailFields, "text"))
	if err != nil {
		return MailMessage{}, providerError("fetch mail", err)
	}

	out := normalizeMail(msg)
	if out.BodyContent != "" {
		return out, nil
	}

	html, err := item.Get(ctx, messageRequest([]string{"body"}, "html"))
	if err != nil {
		// The text fetch succeeded; an empty body is still a usable message.
		return out, nil
	}
	if body := html.GetBody(); body != nil {
		out.BodyContent = deref(body.GetContent())
		out.BodyType = bodyType(body.GetContentType())
	}
	return out, nil
}

// FetchChatMessage reads one message of a Teams chat.
func (c *Client) FetchChatMessage(ctx context.Context, ref resource.Ref) (ChatMessage, error) {
	if ref.ChatID == "" || ref.MessageID == "" {
		return ChatMessage{}, &apperrors.ValidationError{Field: "chatMessage", Err: errors.New("chat id and message id are required")}
	}

	msg, err := c.client.Chats().ByChatId(ref.ChatID).Messages().ByChatMessageId(ref.MessageID).Get(ctx, nil)
	if err != nil {
		return ChatMessage{}, providerError("fetch chat message", err)
	}

	out := normalizeChat(msg)
	if out.ChatID == "" {
		out.ChatID = ref.ChatID
	}
	return out, nil
}

func messageRequest(fields []string, contentType string) *users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration {
	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", fmt.Sprintf("outlook.body-content-type=%q", contentType))
	return &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		Headers: headers,
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: fields,
		},
	}
}

func normalizeMail(m models.Messageable) MailMessage {
	out := MailMessage{
		ID:          deref(m.GetId()),
		Subject:     deref(m.GetSubject()),
		BodyPreview: deref(m.GetBodyPreview()),
	}

	if from := m.GetFrom(); from != nil {
		out.From = address(from.GetEmailAddress())
	}
	for _, r := range m.GetToRecipients() {
		if r != nil {
			out.To = append(out.To, address(r.GetEmailAddress()))
		}
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		out.ReceivedDateTime = *rcvd
	}
	if body := m.GetBody(); body != nil {
		out.BodyContent = deref(body.GetContent())
		out.BodyType = bodyType(body.GetContentType())
	}
	if imp := m.GetImportance(); imp != nil {
		out.Importance = imp.String()
	}
	if has := m.GetHasAttachments(); has != nil {
		out.HasAttachments = *has
	}
	return out
}

func normalizeChat(m models.ChatMessageable) ChatMessage {
	out := ChatMessage{
		ID:     deref(m.GetId()),
		ChatID: deref(m.GetChatId()),
	}

	if body := m.GetBody(); body != nil {
		out.Content = deref(body.GetContent())
		out.ContentType = bodyType(body.GetContentType())
	}
	if from := m.GetFrom(); from != nil {
		if u := from.GetUser(); u != nil {
			out.From = deref(u.GetDisplayName())
		} else if app := from.GetApplication(); app != nil {
			out.From = deref(app.GetDisplayName())
		}
	}
	if created := m.GetCreatedDateTime(); created != nil {
		out.CreatedDateTime = *created
	}
	if modified := m.GetLastModifiedDateTime(); modified != nil {
		out.LastModifiedDateTime = *modified
	}
	return out
}

func address(e models.EmailAddressable) Address {
	if e == nil {
		return Address{}
	}
	return Address{Name: deref(e.GetName()), Address: deref(e.GetAddress())}
}

func bodyType(t *models.BodyType) string {
	if t == nil {
		return ""
	}
	return t.String()
}

// Package resource parses Graph resource paths and classifies them by kind.
//
// Notification resources, @odata.id values and subscription resources all come
// in slightly different shapes:
//
//	/users/{user}/messages/{message}
//	Users/{user}/Messages/{message}
//	users('{user}')/messages('{message}')
//	chats('{chat}')/messages('{message}')
//	/me/chats/getAllMessages
//
// Parse accepts all of them.
package resource

import (
	"net/url"
	"strings"
)

// Kind is the resource family of a path. Its values double as push event types.
type Kind string

const (
	KindEmail   Kind = "email"
	KindTeams   Kind = "teams"
	KindUnknown Kind = "unknown"
)

// Ref is a parsed resource path.
type Ref struct {
	Kind      Kind
	UserID    string
	ChatID    string
	MessageID string
}

// Classify reports the kind of a resource path. The chat test runs first:
// chat paths contain message-like segments too.
func Classify(path string) Kind {
	if strings.Contains(path, "/chats") || strings.Contains(path, "chats(") {
		return KindTeams
	}
	if strings.Contains(strings.ToLower(path), "/messages") {
		return KindEmail
	}
	return KindUnknown
}

// Parse extracts user, chat and message ids from path. Missing parts are empty.
func Parse(path string) Ref {
	ref := Ref{Kind: Classify(path)}

	segs := segments(trimHost(path))
	for i := 0; i < len(segs); i++ {
		next := ""
		if i+1 < len(segs) {
			next = segs[i+1]
		}
		switch strings.ToLower(segs[i]) {
		case "me":
			ref.UserID = "me"
		case "users":
			if next != "" {
				ref.UserID = next
				i++
			}
		case "chats":
			if next != "" && !strings.EqualFold(next, "getAllMessages") {
				ref.ChatID = next
				i++
			}
		case "messages":
			if next != "" {
				ref.MessageID = next
				i++
			}
		}
	}
	return ref
}

// UserOrMe returns the user id, defaulting to the signed-in user.
func (r Ref) UserOrMe() string {
	if r.UserID == "" {
		return "me"
	}
	return r.UserID
}

// Path renders the canonical path for the message the ref points at.
func (r Ref) Path() string {
	switch {
	case r.ChatID != "":
		return "/chats/" + r.ChatID + "/messages/" + r.MessageID
	case r.UserOrMe() == "me":
		return "/me/messages/" + r.MessageID
	default:
		return "/users/" + r.UserID + "/messages/" + r.MessageID
	}
}

// MailMessage reports whether the ref identifies one mail message.
func (r Ref) MailMessage() bool {
	return r.MessageID != "" && r.ChatID == ""
}

// ChatMessage reports whether the ref identifies one chat message.
func (r Ref) ChatMessage() bool {
	return r.ChatID != "" && r.MessageID != ""
}

func trimHost(path string) string {
	if !strings.Contains(path, "://") {
		return path
	}
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	p := u.Path
	for _, version := range []string{"/v1.0", "/beta"} {
		p = strings.TrimPrefix(p, version)
	}
	return p
}

// segments splits on '/' outside quotes and expands name('value') into two segments.
func segments(path string) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, r := range path {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '/':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		open := strings.IndexByte(part, '(')
		if open > 0 && strings.HasSuffix(part, ")") {
			out = append(out, part[:open], strings.Trim(part[open+1:len(part)-1], `'"`))
			continue
		}
		out = append(out, part)
	}
	return out
}

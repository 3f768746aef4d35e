package meta

import (
	"encoding/json"
	"time"

	"reputation_hub/internal/domain"
)

// PlatformFor maps the webhook object to a platform; ok is false for objects
// this service does not subscribe to.
func PlatformFor(object string) (domain.Platform, bool) {
	switch object {
	case "instagram":
		return domain.PlatformInstagram, true
	case "page":
		return domain.PlatformFacebook, true
	}
	return "", false
}

// Normalize flattens a delivery into message and comment events. Both the
// legacy entry[].messaging[] shape and entry[].changes[] with field
// "messages" yield messages; "comments" (instagram) and "feed" items of type
// "comment" (page) yield comments.
func Normalize(p Payload, now time.Time) domain.WebhookBatch {
	var b domain.WebhookBatch
	platform, ok := PlatformFor(p.Object)
	if !ok {
		for _, e := range p.Entry {
			b.Ignored += len(e.Messaging) + len(e.Changes)
		}
		return b
	}

	for _, e := range p.Entry {
		fallback := epochTime(e.Time, now)

		for _, m := range e.Messaging {
			if ev, ok := messageEvent(platform, e.ID, m, fallback); ok {
				b.Messages = append(b.Messages, ev)
			} else {
				b.Ignored++
			}
		}

		for _, ch := range e.Changes {
			switch {
			case ch.Field == "messages":
				var m Messaging
				if err := json.Unmarshal(ch.Value, &m); err != nil {
					b.Ignored++
					continue
				}
				if ev, ok := messageEvent(platform, e.ID, m, fallback); ok {
					b.Messages = append(b.Messages, ev)
				} else {
					b.Ignored++
				}

			case ch.Field == "comments" && platform == domain.PlatformInstagram,
				ch.Field == "feed" && platform == domain.PlatformFacebook:
				if ev, ok := commentEvent(platform, e.ID, ch.Value, fallback); ok {
					b.Comments = append(b.Comments, ev)
				} else {
					b.Ignored++
				}

			default:
				b.Ignored++
			}
		}
	}
	return b
}

func messageEvent(platform domain.Platform, accountID string, m Messaging, fallback time.Time) (domain.MessageEvent, bool) {
	if m.Message == nil || m.Message.MID == "" || m.Message.IsDeleted {
		return domain.MessageEvent{}, false
	}
	ev := domain.MessageEvent{
		Platform:    platform,
		AccountID:   accountID,
		SenderID:    m.Sender.ID,
		RecipientID: m.Recipient.ID,
		MID:         m.Message.MID,
		Text:        m.Message.Text,
		IsEcho:      m.Message.IsEcho,
		Timestamp:   epochTime(int64(m.Timestamp), fallback),
	}
	for _, a := range m.Message.Attachments {
		ev.Attachments = append(ev.Attachments, domain.Attachment{Type: a.Type, URL: a.Payload.URL})
	}
	if raw, err := json.Marshal(m); err == nil {
		ev.Raw = raw
	}
	if ev.SenderID == "" || ev.ParticipantID() == "" {
		return domain.MessageEvent{}, false
	}
	return ev, true
}

func commentEvent(platform domain.Platform, accountID string, raw json.RawMessage, fallback time.Time) (domain.CommentEvent, bool) {
	var v CommentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.CommentEvent{}, false
	}
	ev := domain.CommentEvent{
		Platform:  platform,
		AccountID: accountID,
		AuthorID:  v.From.ID,
		CreatedAt: fallback,
		Raw:       append([]byte(nil), raw...),
	}
	if platform == domain.PlatformInstagram {
		ev.CommentID = v.ID
		ev.MediaID = v.Media.ID
		ev.ParentID = v.ParentID
		ev.AuthorUsername = v.From.Username
		ev.Text = v.Text
	} else {
		if v.Item != "comment" || (v.Verb != "" && v.Verb != "add") {
			return domain.CommentEvent{}, false
		}
		ev.CommentID = v.CommentID
		ev.MediaID = v.PostID
		if v.ParentID != v.PostID {
			ev.ParentID = v.ParentID
		}
		ev.AuthorUsername = v.From.Name
		ev.Text = v.Message
		ev.CreatedAt = epochTime(int64(v.CreatedTime), fallback)
	}
	// the account's own replies come back through the same subscription
	if ev.CommentID == "" || ev.MediaID == "" || ev.AuthorID == accountID {
		return domain.CommentEvent{}, false
	}
	return ev, true
}

// epochTime accepts seconds or milliseconds since the epoch.
func epochTime(n int64, fallback time.Time) time.Time {
	switch {
	case n <= 0:
		return fallback.UTC()
	case n > 1e12:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

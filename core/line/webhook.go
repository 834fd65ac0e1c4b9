package line

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/m3rciful/paygate/core/chat"
)

// ErrInvalidSignature is returned when the X-Line-Signature header does not match the body.
var ErrInvalidSignature = errors.New("line: invalid webhook signature")

// ParseEvents verifies the request signature and converts the batch into chat events,
// preserving batch order.
func ParseEvents(channelSecret string, r *http.Request) ([]chat.Event, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("line: parse webhook: %w", err)
	}
	events := make([]chat.Event, 0, len(cb.Events))
	for _, ev := range cb.Events {
		events = append(events, convertEvent(ev))
	}
	return events, nil
}

func convertEvent(ev webhook.EventInterface) chat.Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return chat.Event{
			ID:         e.WebhookEventId,
			Type:       chat.EventMessage,
			UserID:     userIDOf(e.Source),
			ReplyToken: e.ReplyToken,
			Message:    relayable(e.Message),
			RawType:    ev.GetType(),
		}
	case webhook.PostbackEvent:
		out := chat.Event{
			ID:         e.WebhookEventId,
			Type:       chat.EventPostback,
			UserID:     userIDOf(e.Source),
			ReplyToken: e.ReplyToken,
			RawType:    ev.GetType(),
		}
		if e.Postback != nil {
			out.PostbackData = e.Postback.Data
		}
		return out
	default:
		return otherEvent(ev)
	}
}

// envelope holds the fields shared by every event type. Events without a
// reply token (unfollow, leave, unsend) leave it empty.
type envelope struct {
	WebhookEventID string `json:"webhookEventId"`
	ReplyToken     string `json:"replyToken"`
	Source         struct {
		UserID string `json:"userId"`
	} `json:"source"`
}

// otherEvent reads source and reply token off any event the adapter has no
// dedicated case for (follow, join, beacon, accountLink and the rest).
func otherEvent(ev webhook.EventInterface) chat.Event {
	out := chat.Event{Type: chat.EventOther, RawType: ev.GetType()}
	raw, err := json.Marshal(ev)
	if err != nil {
		return out
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return out
	}
	out.ID = env.WebhookEventID
	out.UserID = env.Source.UserID
	out.ReplyToken = env.ReplyToken
	return out
}

// relayable returns the message body without the platform message id, or nil
// when the content type cannot be echoed back. Image, video, audio and file
// bodies live on the content server and cannot be re-sent by reference.
func relayable(content webhook.MessageContentInterface) *chat.Message {
	switch m := content.(type) {
	case webhook.TextMessageContent:
		emojis := make([]chat.Emoji, 0, len(m.Emojis))
		for _, e := range m.Emojis {
			emojis = append(emojis, chat.Emoji{Index: int(e.Index), ProductID: e.ProductId, EmojiID: e.EmojiId})
		}
		msg := chat.TextWithEmojis(m.Text, emojis...)
		if len(emojis) == 0 {
			msg = chat.Text(m.Text)
		}
		return &msg
	case webhook.StickerMessageContent:
		msg := chat.Sticker(m.PackageId, m.StickerId)
		return &msg
	case webhook.LocationMessageContent:
		msg := chat.Pin(chat.Location{
			Title:     m.Title,
			Address:   m.Address,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		})
		return &msg
	default:
		return nil
	}
}

func userIDOf(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}

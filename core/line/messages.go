package line

import (
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/m3rciful/paygate/core/chat"
)

// maxMessagesPerCall is the platform limit for one reply or push.
const maxMessagesPerCall = 5

func toSDKMessages(msgs []chat.Message) ([]messaging_api.MessageInterface, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("line: no messages")
	}
	if len(msgs) > maxMessagesPerCall {
		return nil, fmt.Errorf("line: %d messages exceed the limit of %d", len(msgs), maxMessagesPerCall)
	}
	out := make([]messaging_api.MessageInterface, 0, len(msgs))
	for i, m := range msgs {
		converted, err := toSDKMessage(m)
		if err != nil {
			return nil, fmt.Errorf("line: message %d: %w", i, err)
		}
		out = append(out, converted)
	}
	return out, nil
}

func toSDKMessage(m chat.Message) (messaging_api.MessageInterface, error) {
	switch m.Kind {
	case chat.KindText:
		msg := &messaging_api.TextMessage{Text: m.Text}
		for _, e := range m.Emojis {
			msg.Emojis = append(msg.Emojis, messaging_api.Emoji{
				Index:     int32(e.Index),
				ProductId: e.ProductID,
				EmojiId:   e.EmojiID,
			})
		}
		return msg, nil
	case chat.KindSticker:
		return &messaging_api.StickerMessage{PackageId: m.PackageID, StickerId: m.StickerID}, nil
	case chat.KindLocation:
		if m.Location == nil {
			return nil, fmt.Errorf("location message without location")
		}
		return &messaging_api.LocationMessage{
			Title:     m.Location.Title,
			Address:   m.Location.Address,
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
		}, nil
	case chat.KindTemplate:
		if m.Template == nil {
			return nil, fmt.Errorf("template message without template")
		}
		tpl, err := toSDKTemplate(*m.Template)
		if err != nil {
			return nil, err
		}
		return &messaging_api.TemplateMessage{AltText: m.Template.AltText, Template: tpl}, nil
	default:
		return nil, fmt.Errorf("unsupported message kind %q", m.Kind)
	}
}

func toSDKTemplate(t chat.Template) (messaging_api.TemplateInterface, error) {
	actions := make([]messaging_api.ActionInterface, 0, len(t.Actions))
	for _, a := range t.Actions {
		converted, err := toSDKAction(a)
		if err != nil {
			return nil, err
		}
		actions = append(actions, converted)
	}
	switch t.Kind {
	case chat.TemplateConfirm:
		if len(actions) != 2 {
			return nil, fmt.Errorf("confirm template needs 2 actions, got %d", len(actions))
		}
		return &messaging_api.ConfirmTemplate{Text: t.Text, Actions: actions}, nil
	case chat.TemplateButtons:
		return &messaging_api.ButtonsTemplate{Text: t.Text, Actions: actions}, nil
	default:
		return nil, fmt.Errorf("unsupported template kind %q", t.Kind)
	}
}

func toSDKAction(a chat.Action) (messaging_api.ActionInterface, error) {
	switch a.Kind {
	case chat.ActionPostback:
		return &messaging_api.PostbackAction{Label: a.Label, Data: a.Data}, nil
	case chat.ActionURI:
		return &messaging_api.UriAction{Label: a.Label, Uri: a.URI}, nil
	default:
		return nil, fmt.Errorf("unsupported action kind %q", a.Kind)
	}
}

package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paygate/core/chat"
)

const testSecret = "channel-secret"

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("X-Line-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

const batch = `{"destination":"Ubot","events":[
{"type":"message","mode":"active","timestamp":1760486400000,"webhookEventId":"01EV1","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"U1"},"replyToken":"r1","message":{"type":"text","id":"468789577898262530","quoteToken":"q1","text":"hello"}},
{"type":"message","mode":"active","timestamp":1760486400001,"webhookEventId":"01EV2","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"U1"},"replyToken":"r2","message":{"type":"sticker","id":"2","quoteToken":"q2","packageId":"446","stickerId":"1988","stickerResourceType":"STATIC"}},
{"type":"postback","mode":"active","timestamp":1760486400002,"webhookEventId":"01EV3","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"U2"},"replyToken":"r3","postback":{"data":"yes"}},
{"type":"message","mode":"active","timestamp":1760486400003,"webhookEventId":"01EV4","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"U3"},"replyToken":"r4","message":{"type":"location","id":"3","title":"t","address":"a","latitude":35.0,"longitude":139.0}},
{"type":"follow","mode":"active","timestamp":1760486400004,"webhookEventId":"01EV5","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"U4"},"replyToken":"r5","follow":{"isUnblocked":false}}
]}`

func TestParseEventsConvertsBatchInOrder(t *testing.T) {
	events, err := ParseEvents(testSecret, signedRequest(t, batch))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, chat.EventMessage, events[0].Type)
	assert.Equal(t, "U1", events[0].UserID)
	assert.Equal(t, "r1", events[0].ReplyToken)
	assert.Equal(t, "01EV1", events[0].ID)
	require.NotNil(t, events[0].Message)
	assert.Equal(t, chat.Text("hello"), *events[0].Message)

	require.NotNil(t, events[1].Message)
	assert.Equal(t, chat.Sticker("446", "1988"), *events[1].Message)

	assert.Equal(t, chat.EventPostback, events[2].Type)
	assert.Equal(t, "yes", events[2].PostbackData)
	assert.Equal(t, "U2", events[2].UserID)

	assert.Equal(t, chat.EventMessage, events[3].Type)
	require.NotNil(t, events[3].Message)
	assert.Equal(t, chat.Pin(chat.Location{Title: "t", Address: "a", Latitude: 35.0, Longitude: 139.0}), *events[3].Message)

	assert.Equal(t, chat.EventOther, events[4].Type)
	assert.Equal(t, "U4", events[4].UserID)
	assert.Equal(t, "r5", events[4].ReplyToken)
}

const otherBatch = `{"destination":"Ubot","events":[
{"type":"beacon","mode":"active","timestamp":1760486400010,"webhookEventId":"01EVB","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"UB"},"replyToken":"rb","beacon":{"hwid":"d41d8cd98f","type":"enter"}},
{"type":"join","mode":"active","timestamp":1760486400011,"webhookEventId":"01EVJ","deliveryContext":{"isRedelivery":false},
 "source":{"type":"group","groupId":"G1","userId":"UJ"},"replyToken":"rj"},
{"type":"unfollow","mode":"active","timestamp":1760486400012,"webhookEventId":"01EVU","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"UU"}},
{"type":"message","mode":"active","timestamp":1760486400013,"webhookEventId":"01EVE","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"UE"},"replyToken":"re","message":{"type":"text","id":"9","quoteToken":"q9","text":"$ hi",
 "emojis":[{"index":0,"length":1,"productId":"5ac1bfd5040ab15980c9b435","emojiId":"001"}]}},
{"type":"message","mode":"active","timestamp":1760486400014,"webhookEventId":"01EVI","deliveryContext":{"isRedelivery":false},
 "source":{"type":"user","userId":"UI"},"replyToken":"ri","message":{"type":"image","id":"10","quoteToken":"q10","contentProvider":{"type":"line"}}}
]}`

func TestParseEventsKeepsSourceForEveryEventType(t *testing.T) {
	events, err := ParseEvents(testSecret, signedRequest(t, otherBatch))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, chat.Event{ID: "01EVB", Type: chat.EventOther, UserID: "UB", ReplyToken: "rb", RawType: "beacon"}, events[0])
	assert.Equal(t, chat.Event{ID: "01EVJ", Type: chat.EventOther, UserID: "UJ", ReplyToken: "rj", RawType: "join"}, events[1])
	assert.Equal(t, "UU", events[2].UserID)
	assert.Empty(t, events[2].ReplyToken)

	require.NotNil(t, events[3].Message)
	assert.Equal(t, chat.TextWithEmojis("$ hi", chat.Emoji{Index: 0, ProductID: "5ac1bfd5040ab15980c9b435", EmojiID: "001"}), *events[3].Message)

	assert.Equal(t, "UI", events[4].UserID)
	assert.Nil(t, events[4].Message)
}

func TestParseEventsRejectsBadSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(batch))
	req.Header.Set("X-Line-Signature", "bm9wZQ==")
	_, err := ParseEvents(testSecret, req)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

type captured struct {
	path     string
	retryKey string
	auth     string
	body     map[string]any
}

func newTestMessenger(t *testing.T, status int) (*Messenger, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c := captured{path: r.URL.Path, retryKey: r.Header.Get("X-Line-Retry-Key"), auth: r.Header.Get("Authorization")}
		_ = json.Unmarshal(raw, &c.body)
		calls = append(calls, c)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, `{"sentMessages":[{"id":"1","quoteToken":"q"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"message":"Invalid reply token"}`)
	}))
	t.Cleanup(srv.Close)

	m, err := NewMessenger(Options{ChannelToken: "token", Endpoint: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return m, &calls
}

func TestReplySendsConfirmTemplate(t *testing.T) {
	m, calls := newTestMessenger(t, http.StatusOK)

	msg := chat.Confirm("Subscribe?", chat.Postback("はい", "yes"), chat.Postback("いいえ", "no"))
	require.NoError(t, m.Reply(context.Background(), "r1", msg))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/v2/bot/message/reply", call.path)
	assert.Equal(t, "Bearer token", call.auth)
	assert.Equal(t, "r1", call.body["replyToken"])

	messages := call.body["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "template", first["type"])
	assert.Equal(t, "Subscribe?", first["altText"])
	tpl := first["template"].(map[string]any)
	assert.Equal(t, "confirm", tpl["type"])
	actions := tpl["actions"].([]any)
	require.Len(t, actions, 2)
	assert.Equal(t, "postback", actions[0].(map[string]any)["type"])
	assert.Equal(t, "yes", actions[0].(map[string]any)["data"])
	assert.Equal(t, "no", actions[1].(map[string]any)["data"])
}

func TestPushReusesRetryKeyFromContext(t *testing.T) {
	m, calls := newTestMessenger(t, http.StatusOK)
	ctx := chat.WithRetryKey(context.Background(), "6f1c3c1e-0d7a-4a57-9a53-4f2b7f1f2d10")

	require.NoError(t, m.Push(ctx, "U1", chat.Sticker("2", "144"), chat.Text("paid")))
	require.NoError(t, m.Push(ctx, "U1", chat.Text("again")))

	require.Len(t, *calls, 2)
	assert.Equal(t, "/v2/bot/message/push", (*calls)[0].path)
	assert.Equal(t, "U1", (*calls)[0].body["to"])
	assert.Equal(t, "6f1c3c1e-0d7a-4a57-9a53-4f2b7f1f2d10", (*calls)[0].retryKey)
	assert.Equal(t, (*calls)[0].retryKey, (*calls)[1].retryKey)

	messages := (*calls)[0].body["messages"].([]any)
	require.Len(t, messages, 2)
	sticker := messages[0].(map[string]any)
	assert.Equal(t, "sticker", sticker["type"])
	assert.Equal(t, "2", sticker["packageId"])
	assert.Equal(t, "144", sticker["stickerId"])
}

func TestPushGeneratesRetryKey(t *testing.T) {
	m, calls := newTestMessenger(t, http.StatusOK)
	require.NoError(t, m.Push(context.Background(), "U1", chat.Text("hi")))
	require.Len(t, *calls, 1)
	assert.Len(t, (*calls)[0].retryKey, 36)
}

func TestReplyRelaysEmojisAndLocation(t *testing.T) {
	m, calls := newTestMessenger(t, http.StatusOK)

	text := chat.TextWithEmojis("$ hi", chat.Emoji{Index: 0, ProductID: "5ac1bfd5040ab15980c9b435", EmojiID: "001"})
	pin := chat.Pin(chat.Location{Title: "Tower", Address: "Tokyo", Latitude: 35.6586, Longitude: 139.7454})
	require.NoError(t, m.Reply(context.Background(), "r1", text, pin))

	require.Len(t, *calls, 1)
	messages := (*calls)[0].body["messages"].([]any)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	emojis := first["emojis"].([]any)
	require.Len(t, emojis, 1)
	assert.Equal(t, "001", emojis[0].(map[string]any)["emojiId"])
	assert.Equal(t, "5ac1bfd5040ab15980c9b435", emojis[0].(map[string]any)["productId"])

	second := messages[1].(map[string]any)
	assert.Equal(t, "location", second["type"])
	assert.Equal(t, "Tower", second["title"])
	assert.Equal(t, "Tokyo", second["address"])
	assert.InDelta(t, 35.6586, second["latitude"], 1e-9)
	assert.InDelta(t, 139.7454, second["longitude"], 1e-9)
}

func TestReplyErrorIsReturned(t *testing.T) {
	m, _ := newTestMessenger(t, http.StatusBadRequest)
	assert.Error(t, m.Reply(context.Background(), "r1", chat.Text("x")))
}

func TestConversionRejectsInvalidMessages(t *testing.T) {
	_, err := toSDKMessages(nil)
	assert.Error(t, err)

	_, err = toSDKMessages([]chat.Message{chat.Confirm("only one", chat.Postback("a", "a"))})
	assert.Error(t, err)

	_, err = toSDKMessages([]chat.Message{{Kind: chat.KindLocation}})
	assert.Error(t, err)

	_, err = toSDKMessages([]chat.Message{{Kind: "video"}})
	assert.Error(t, err)

	six := make([]chat.Message, 6)
	for i := range six {
		six[i] = chat.Text("x")
	}
	_, err = toSDKMessages(six)
	assert.Error(t, err)
}

// Package chat holds the platform-neutral shapes of inbound chat events and
// outbound messages exchanged with the Messaging Gateway.
package chat

// MessageKind discriminates the outbound message variants.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindTemplate MessageKind = "template"
)

// TemplateKind discriminates template layouts.
type TemplateKind string

const (
	TemplateConfirm TemplateKind = "confirm"
	TemplateButtons TemplateKind = "buttons"
)

// ActionKind discriminates template actions.
type ActionKind string

const (
	ActionPostback ActionKind = "postback"
	ActionURI      ActionKind = "uri"
)

// Action is one tappable element of a template.
type Action struct {
	Kind  ActionKind
	Label string
	// Data is the opaque postback payload; set for ActionPostback.
	Data string
	// URI is the link target; set for ActionURI.
	URI string
}

// Template is a confirm or buttons layout with an ordered list of actions.
type Template struct {
	Kind    TemplateKind
	AltText string
	Text    string
	Actions []Action
}

// Emoji is a LINE emoji embedded in a text message at a character index.
type Emoji struct {
	Index     int
	ProductID string
	EmojiID   string
}

// Location is a pinned map position.
type Location struct {
	Title     string
	Address   string
	Latitude  float64
	Longitude float64
}

// Message is an outbound message. Exactly one variant is populated, selected by Kind.
type Message struct {
	Kind MessageKind

	Text   string
	Emojis []Emoji

	PackageID string
	StickerID string

	Location *Location

	Template *Template
}

// Text builds a plain text message.
func Text(text string) Message {
	return Message{Kind: KindText, Text: text}
}

// TextWithEmojis builds a text message carrying LINE emojis.
func TextWithEmojis(text string, emojis ...Emoji) Message {
	return Message{Kind: KindText, Text: text, Emojis: emojis}
}

// Pin builds a location message.
func Pin(loc Location) Message {
	return Message{Kind: KindLocation, Location: &loc}
}

// Sticker builds a sticker message.
func Sticker(packageID, stickerID string) Message {
	return Message{Kind: KindSticker, PackageID: packageID, StickerID: stickerID}
}

// Confirm builds a two-choice confirm template. The text doubles as alt text.
func Confirm(text string, actions ...Action) Message {
	return Message{Kind: KindTemplate, Template: &Template{
		Kind:    TemplateConfirm,
		AltText: text,
		Text:    text,
		Actions: actions,
	}}
}

// Buttons builds a buttons template. The text doubles as alt text.
func Buttons(text string, actions ...Action) Message {
	return Message{Kind: KindTemplate, Template: &Template{
		Kind:    TemplateButtons,
		AltText: text,
		Text:    text,
		Actions: actions,
	}}
}

// Postback builds a postback action carrying data.
func Postback(label, data string) Action {
	return Action{Kind: ActionPostback, Label: label, Data: data}
}

// URI builds a link action.
func URI(label, uri string) Action {
	return Action{Kind: ActionURI, Label: label, URI: uri}
}

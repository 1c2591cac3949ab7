package engine

// Kind classifies a normalized inbound message.
type Kind string

// Service kinds describe lifecycle events rather than user content.
const (
	KindStart        Kind = "start"
	KindSubscribed   Kind = "subscribed"
	KindUnsubscribed Kind = "unsubscribed"
	KindDelivered    Kind = "delivered"
	KindSeen         Kind = "seen"
	KindWebhook      Kind = "webhook"
	KindFailed       Kind = "failed"
	KindUndefined    Kind = "undefined"
)

// Common kinds carry user content.
const (
	KindText      Kind = "text"
	KindSticker   Kind = "sticker"
	KindPicture   Kind = "picture"
	KindAudio     Kind = "audio"
	KindVideo     Kind = "video"
	KindFile      Kind = "file"
	KindContact   Kind = "contact"
	KindURL       Kind = "url"
	KindLocation  Kind = "location"
	KindRichMedia Kind = "rich_media"
	KindButton    Kind = "button"
	KindKeyboard  Kind = "keyboard"
)

// Keys used in Message.Extra.
const (
	ExtraUserName   = "user_name"
	ExtraImageURL   = "image_url"
	ExtraVideoURL   = "video_url"
	ExtraSize       = "size"
	ExtraError      = "error"
	ExtraContext    = "context"
	ExtraEventType  = "event_type"
	ExtraCallbackID = "callback_id"
	ExtraChatID     = "chat_id"
	ExtraFileID     = "file_id"
	ExtraFileName   = "file_name"
	ExtraLatitude   = "latitude"
	ExtraLongitude  = "longitude"
	// ExtraCommand names the selected button when the text alone does not.
	ExtraCommand = "command"
)

var serviceKinds = map[Kind]struct{}{
	KindStart: {}, KindSubscribed: {}, KindUnsubscribed: {}, KindDelivered: {},
	KindSeen: {}, KindWebhook: {}, KindFailed: {}, KindUndefined: {},
}

// IsService reports whether k is a lifecycle event.
// Unknown kinds are treated as undefined and therefore as service kinds.
func (k Kind) IsService() bool {
	if _, ok := serviceKinds[k]; ok {
		return true
	}
	return !k.known()
}

// IsCommon reports whether k carries user content.
func (k Kind) IsCommon() bool { return !k.IsService() }

// IsText reports whether k is free text.
func (k Kind) IsText() bool { return k == KindText || k == KindURL }

// IsButton reports whether k is a button or keyboard selection.
func (k Kind) IsButton() bool { return k == KindButton || k == KindKeyboard }

func (k Kind) known() bool {
	switch k {
	case KindText, KindSticker, KindPicture, KindAudio, KindVideo, KindFile,
		KindContact, KindURL, KindLocation, KindRichMedia, KindButton, KindKeyboard:
		return true
	}
	_, ok := serviceKinds[k]
	return ok
}

// Message is a backend independent inbound or outbound message.
type Message struct {
	Kind      Kind
	ID        string
	SenderID  string
	Timestamp int64
	Text      string
	Buttons   []Button
	Extra     map[string]any
}

// TextMessage builds a plain text message.
func TextMessage(text string) *Message {
	return &Message{Kind: KindText, Text: text}
}

// KeyboardMessage builds a keyboard-only message.
func KeyboardMessage(buttons []Button) *Message {
	return &Message{Kind: KindKeyboard, Buttons: buttons}
}

// IsService reports whether the message is a lifecycle event.
func (m *Message) IsService() bool { return m.Kind.IsService() }

// IsCommon reports whether the message carries user content.
func (m *Message) IsCommon() bool { return m.Kind.IsCommon() }

// IsText reports whether the message is free text.
func (m *Message) IsText() bool { return m.Kind.IsText() }

// IsButton reports whether the message selects a button.
func (m *Message) IsButton() bool { return m.Kind.IsButton() }

// ExtraString returns Extra[key] when it holds a string.
func (m *Message) ExtraString(key string) string {
	if m == nil || m.Extra == nil {
		return ""
	}
	s, _ := m.Extra[key].(string)
	return s
}

// SetExtra stores value under key, allocating Extra on demand.
func (m *Message) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}
